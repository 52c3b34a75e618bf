// Package notify turns domain events into realtime frames and delivers them to
// the connection registry. Delivery is best effort: nothing is queued for
// offline users and failures never reach the caller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/observability"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/ws"
)

var (
	deliveries = observability.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicas",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Realtime frames handed to subscribers by outcome",
	}, []string{"event", "outcome"}))

	dropped = observability.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicas",
		Subsystem: "notify",
		Name:      "dropped_events_total",
		Help:      "Domain events discarded because the dispatch queue was full",
	}, []string{"event"}))
)

// PendingCounter reports how many requests await review.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// PendingCounterFunc adapts a function to PendingCounter.
type PendingCounterFunc func(ctx context.Context) (int, error)

// PendingCount calls f.
func (f PendingCounterFunc) PendingCount(ctx context.Context) (int, error) { return f(ctx) }

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize sets the dispatch queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

// WithPendingCounter enables pendingRequests in admin_stats.
func WithPendingCounter(p PendingCounter) Option {
	return func(d *Dispatcher) { d.pending = p }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher fans events out to registry members from a single goroutine,
// which keeps per-request delivery in dispatch order.
type Dispatcher struct {
	registry *ws.Registry
	log      *slog.Logger
	queue    chan Event
	pending  PendingCounter
	now      func() time.Time
}

// NewDispatcher constructs a Dispatcher. Call Run to start delivering.
func NewDispatcher(registry *ws.Registry, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		registry: registry,
		log:      logger.With("component", "notify"),
		queue:    make(chan Event, 256),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch enqueues ev without blocking. A full queue drops the event.
func (d *Dispatcher) Dispatch(ev Event) {
	select {
	case d.queue <- ev:
	default:
		dropped.WithLabelValues(ev.name()).Inc()
		d.log.Warn("dispatch queue full, event dropped", "event", ev.name(), "request_id", ev.request().ID, "delivery", "best_effort")
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info("notification dispatcher stopped")
			return nil
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

type audience struct {
	segment ws.Segment
	userID  int64
}

type delivery struct {
	event   string
	payload any
	to      audience
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	req := ev.request()
	_, span := observability.StartSpan(ctx, "notify.deliver",
		attribute.String("event", ev.name()),
		attribute.Int64("request.id", req.ID),
	)
	defer span.End()

	for _, item := range d.plan(ev) {
		frame, err := ws.Encode(item.event, item.payload)
		if err != nil {
			d.log.Error("encode notification failed", "error", err, "event", item.event)
			continue
		}
		var members []ws.Member
		if item.to.userID != 0 {
			members = d.registry.ChannelsOfUser(item.to.userID)
		} else {
			members = d.registry.MembersOf(item.to.segment)
		}
		for _, m := range members {
			d.send(m, item.event, frame, req.ID)
		}
	}
}

func (d *Dispatcher) send(m ws.Member, event string, frame []byte, requestID int64) {
	if err := m.Subscriber.Send(frame); err != nil {
		deliveries.WithLabelValues(event, "failed").Inc()
		d.log.Warn("notification delivery failed",
			"error", err,
			"event", event,
			"connection_id", m.ID,
			"user_id", m.Identity.UserID,
			"request_id", requestID,
			"delivery", "best_effort",
		)
		m.Subscriber.Close()
		d.registry.Unregister(m.ID)
		return
	}
	deliveries.WithLabelValues(event, "delivered").Inc()
}

func (d *Dispatcher) plan(ev Event) []delivery {
	now := d.now().UTC()
	req := ev.request()
	owner := audience{userID: req.UserID}
	admins := audience{segment: ws.SegmentAdmins}
	base := map[string]any{
		"requestId":       req.ID,
		"fileName":        req.FileName,
		"applicationName": req.ApplicationName,
		"username":        req.Username,
		"status":          req.Status,
	}

	switch e := ev.(type) {
	case RequestCreated:
		base["priority"] = req.Priority
		base["targetServer"] = req.TargetServer
		return []delivery{
			{event: ws.EventNewRequest, payload: newRequestMessage(req, now), to: admins},
			{event: ws.EventSystemActivity, to: admins, payload: activityMessage(string(domain.EventWarUpload),
				fmt.Sprintf("%s uploaded %s", req.Username, req.FileName), base, now)},
		}
	case ReviewStarted:
		base["reviewer"] = e.Actor.Username
		return []delivery{
			{event: ws.EventRequestStatusUpdate, payload: statusUpdateMessage(req, "", now), to: owner},
			{event: ws.EventSystemActivity, to: admins, payload: activityMessage(string(domain.EventReviewStarted),
				fmt.Sprintf("%s started reviewing %s", e.Actor.Username, req.FileName), base, now)},
		}
	case RequestDecided:
		eventType := domain.EventRequestApproved
		verb := "approved"
		if req.Status == domain.StatusRejected {
			eventType = domain.EventRequestRejected
			verb = "rejected"
		}
		base["reviewer"] = e.Actor.Username
		base["comments"] = req.ReviewComments
		return []delivery{
			{event: ws.EventRequestStatusUpdate, payload: statusUpdateMessage(req, req.ReviewComments, now), to: owner},
			{event: ws.EventSystemActivity, to: admins, payload: activityMessage(string(eventType),
				fmt.Sprintf("%s %s %s", e.Actor.Username, verb, req.FileName), base, now)},
		}
	case DeploymentStarted:
		return []delivery{
			{event: ws.EventRequestStatusUpdate, payload: statusUpdateMessage(req, "", now), to: owner},
			{event: ws.EventSystemActivity, to: admins, payload: activityMessage(string(domain.EventDeploymentStarted),
				fmt.Sprintf("Deployment of %s started on %s", req.FileName, req.TargetServer), base, now)},
		}
	case DeploymentCompleted:
		return []delivery{
			{event: ws.EventRequestStatusUpdate, payload: statusUpdateMessage(req, "", now), to: owner},
			{event: ws.EventSystemActivity, to: admins, payload: activityMessage(string(domain.EventDeploymentCompleted),
				fmt.Sprintf("%s deployed on %s", req.FileName, req.TargetServer), base, now)},
		}
	case DeploymentFailed:
		base["error"] = e.Reason
		update := statusUpdateMessage(req, "", now)
		update.Data.Error = e.Reason
		return []delivery{
			{event: ws.EventRequestStatusUpdate, payload: update, to: owner},
			{event: ws.EventSystemActivity, to: admins, payload: activityMessage(string(domain.EventDeploymentFailed),
				fmt.Sprintf("Deployment of %s failed: %s", req.FileName, e.Reason), base, now)},
		}
	case DeploymentStuck:
		base["deployingFor"] = e.Age.Round(time.Second).String()
		return []delivery{
			{event: ws.EventSystemActivity, to: admins, payload: activityMessage("deployment_stuck",
				fmt.Sprintf("%s has been deploying for %s", req.FileName, e.Age.Round(time.Second)), base, now)},
		}
	default:
		d.log.Error("unhandled event type", "event", fmt.Sprintf("%T", ev))
		return nil
	}
}

// Welcome sends admin_stats to a freshly authenticated administrator.
func (d *Dispatcher) Welcome(ctx context.Context, m ws.Member) {
	if m.Segment != ws.SegmentAdmins {
		return
	}
	stats := d.registry.Stats()
	msg := AdminStatsMessage{
		ConnectedUsers:  stats.Users,
		ConnectedAdmins: stats.Admins,
		Timestamp:       d.now().UTC(),
	}
	if d.pending != nil {
		n, err := d.pending.PendingCount(ctx)
		if err != nil {
			d.log.Warn("pending count unavailable", "error", err)
		}
		msg.PendingRequests = n
	}
	frame, err := ws.Encode(ws.EventAdminStats, msg)
	if err != nil {
		d.log.Error("encode admin stats failed", "error", err)
		return
	}
	d.send(m, ws.EventAdminStats, frame, 0)
}
