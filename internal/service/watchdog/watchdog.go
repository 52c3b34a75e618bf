// Package watchdog reports deployments that have stayed in deploying for too
// long. It only observes; no request is changed.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/notify"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/observability"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository"
)

const (
	defaultInterval  = time.Minute
	defaultThreshold = 30 * time.Minute
	scanTimeout      = 15 * time.Second
)

var stuckGauge = observability.Register(prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "replicas",
	Subsystem: "watchdog",
	Name:      "stuck_deployments",
	Help:      "Requests deploying for longer than the configured threshold",
}))

// Notifier queues realtime events.
type Notifier interface {
	Dispatch(ev notify.Event)
}

// Stuck is a request that has been deploying for Age.
type Stuck struct {
	Request domain.DeploymentRequest `json:"request"`
	Age     time.Duration            `json:"-"`
	Minutes int                      `json:"minutesDeploying"`
}

// Controller scans for stuck deployments on an interval.
type Controller struct {
	requests  repository.RequestRepository
	notifier  Notifier
	logger    *slog.Logger
	interval  time.Duration
	threshold time.Duration

	mu       sync.Mutex
	reported map[int64]struct{}

	now func() time.Time
}

// New constructs a Controller. Non-positive durations fall back to defaults.
func New(requests repository.RequestRepository, notifier Notifier, logger *slog.Logger, interval, threshold time.Duration) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Controller{
		requests:  requests,
		notifier:  notifier,
		logger:    logger.With("component", "watchdog"),
		interval:  interval,
		threshold: threshold,
		reported:  make(map[int64]struct{}),
		now:       time.Now,
	}
}

// Run scans until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("watchdog started", "interval", c.interval, "threshold", c.threshold)
	c.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("watchdog stopped")
			return nil
		case <-ticker.C:
			c.runIteration(ctx)
		}
	}
}

func (c *Controller) runIteration(parent context.Context) {
	timeout := scanTimeout
	if c.interval < timeout {
		timeout = c.interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	stuck, err := c.scan(ctx)
	if err != nil {
		c.logger.Warn("scan deploying requests failed", "error", err)
		return
	}
	stuckGauge.Set(float64(len(stuck)))

	c.mu.Lock()
	defer c.mu.Unlock()
	current := make(map[int64]struct{}, len(stuck))
	for _, s := range stuck {
		current[s.Request.ID] = struct{}{}
		if _, seen := c.reported[s.Request.ID]; seen {
			continue
		}
		c.logger.Warn("deployment stuck",
			"request_id", s.Request.ID,
			"application", s.Request.ApplicationName,
			"deploying_for", s.Age.Round(time.Second),
		)
		if c.notifier != nil {
			c.notifier.Dispatch(notify.DeploymentStuck{Request: s.Request, Age: s.Age})
		}
	}
	c.reported = current
}

// Stuck lists requests deploying longer than the threshold. Administrators only.
func (c *Controller) Stuck(ctx context.Context, actor domain.Identity) ([]Stuck, error) {
	if !actor.IsAdmin() {
		return nil, domain.AuthorizationError("list stuck deployments", "administrator role required")
	}
	out, err := c.scan(ctx)
	if err != nil {
		return nil, domain.PersistenceError("list stuck deployments", err)
	}
	return out, nil
}

// Threshold returns the age after which a deployment counts as stuck.
func (c *Controller) Threshold() time.Duration {
	return c.threshold
}

func (c *Controller) scan(ctx context.Context) ([]Stuck, error) {
	now := c.now()
	reqs, err := c.requests.ListRequestsWithStatusUpdatedBefore(ctx, domain.StatusDeploying, now.Add(-c.threshold))
	if err != nil {
		return nil, err
	}
	out := make([]Stuck, 0, len(reqs))
	for _, r := range reqs {
		since := r.UpdatedAt
		if r.DeploymentStartedAt != nil {
			since = *r.DeploymentStartedAt
		}
		age := now.Sub(since)
		out = append(out, Stuck{Request: r, Age: age, Minutes: int(age / time.Minute)})
	}
	return out, nil
}
