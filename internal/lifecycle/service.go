package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/notify"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/observability"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository"
)

var transitionsTotal = observability.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "replicas",
	Subsystem: "lifecycle",
	Name:      "transitions_total",
	Help:      "Deployment request transitions by target status and outcome",
}, []string{"to", "outcome"}))

// ActivityRecorder appends audit entries. Implementations swallow failures.
type ActivityRecorder interface {
	Record(ctx context.Context, entry domain.ActivityLogEntry)
}

// Notifier hands events to the realtime layer without blocking.
type Notifier interface {
	Dispatch(ev notify.Event)
}

// Service applies state machine operations. Each operation persists first,
// then records activity, then notifies; only the persist step can fail it.
type Service struct {
	requests  repository.RequestRepository
	activity  ActivityRecorder
	notifier  Notifier
	deployer  Deployer
	scheduler *Scheduler
	locks     *keyedMutex
	log       *slog.Logger
	now       func() time.Time
}

// New constructs a Service.
func New(requests repository.RequestRepository, activity ActivityRecorder, notifier Notifier, deployer Deployer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		requests:  requests,
		activity:  activity,
		notifier:  notifier,
		deployer:  deployer,
		scheduler: NewScheduler(),
		locks:     newKeyedMutex(),
		log:       logger.With("component", "lifecycle"),
		now:       time.Now,
	}
}

// Review routes the review endpoint payload to StartReview or Decide.
func (s *Service) Review(ctx context.Context, actor domain.Identity, id int64, status domain.RequestStatus, comments string) (*domain.DeploymentRequest, error) {
	switch status {
	case domain.StatusReviewing:
		return s.StartReview(ctx, actor, id)
	case domain.StatusApproved, domain.StatusRejected:
		return s.Decide(ctx, actor, id, status, comments)
	default:
		return nil, domain.ValidationError("review", "status must be reviewing, approved or rejected")
	}
}

// StartReview marks a pending request as under review. Calling it on a
// request already in review returns the request unchanged.
func (s *Service) StartReview(ctx context.Context, actor domain.Identity, id int64) (*domain.DeploymentRequest, error) {
	const op = "start review"
	if err := requireAdmin(op, actor); err != nil {
		return nil, err
	}
	ctx, span := observability.StartSpan(ctx, "lifecycle.start_review", attribute.Int64("request.id", id))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.get(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.StatusReviewing {
		return current, nil
	}

	from, to := Edge(OpStartReview)
	updated, err := s.apply(ctx, op, domain.RequestTransition{RequestID: id, From: from, To: to})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.record(ctx, domain.EventReviewStarted, actor, updated,
		fmt.Sprintf("%s started reviewing %s", actor.Username, updated.FileName), nil)
	s.notifier.Dispatch(notify.ReviewStarted{Request: *updated, Actor: actor})
	return updated, nil
}

// Decide approves or rejects a pending or reviewing request.
func (s *Service) Decide(ctx context.Context, actor domain.Identity, id int64, decision domain.RequestStatus, comments string) (*domain.DeploymentRequest, error) {
	const op = "decide"
	if err := requireAdmin(op, actor); err != nil {
		return nil, err
	}
	var (
		edgeOp    Operation
		eventType domain.EventType
		verb      string
	)
	switch decision {
	case domain.StatusApproved:
		edgeOp, eventType, verb = OpApprove, domain.EventRequestApproved, "approved"
	case domain.StatusRejected:
		edgeOp, eventType, verb = OpReject, domain.EventRequestRejected, "rejected"
	default:
		return nil, domain.ValidationError(op, "decision must be approved or rejected")
	}
	ctx, span := observability.StartSpan(ctx, "lifecycle.decide",
		attribute.Int64("request.id", id),
		attribute.String("decision", string(decision)),
	)
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	from, to := Edge(edgeOp)
	reviewer := actor.UserID
	updated, err := s.apply(ctx, op, domain.RequestTransition{
		RequestID:        id,
		From:             from,
		To:               to,
		ReviewerID:       &reviewer,
		ReviewerUsername: actor.Username,
		ReviewComments:   &comments,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.record(ctx, eventType, actor, updated,
		fmt.Sprintf("%s %s %s", actor.Username, verb, updated.FileName),
		map[string]any{"comments": comments})
	s.notifier.Dispatch(notify.RequestDecided{Request: *updated, Actor: actor})
	return updated, nil
}

// StartDeployment moves an approved request to deploying and schedules the
// asynchronous rollout.
func (s *Service) StartDeployment(ctx context.Context, actor domain.Identity, id int64) (*domain.DeploymentRequest, error) {
	const op = "start deployment"
	if err := requireAdmin(op, actor); err != nil {
		return nil, err
	}
	ctx, span := observability.StartSpan(ctx, "lifecycle.start_deployment", attribute.Int64("request.id", id))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	started := s.now().UTC()
	from, to := Edge(OpStartDeployment)
	updated, err := s.apply(ctx, op, domain.RequestTransition{RequestID: id, From: from, To: to, At: started, StartedAt: &started})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.record(ctx, domain.EventDeploymentStarted, actor, updated,
		fmt.Sprintf("%s started deploying %s to %s", actor.Username, updated.FileName, updated.TargetServer),
		map[string]any{"targetServer": updated.TargetServer, "environment": updated.Environment})
	s.notifier.Dispatch(notify.DeploymentStarted{Request: *updated, Actor: actor})

	snapshot := *updated
	if !s.scheduler.Schedule(id, func(taskCtx context.Context) { s.runDeployment(taskCtx, snapshot) }) {
		s.log.Warn("deployment not scheduled, service shutting down", "request_id", id)
	}
	return updated, nil
}

func (s *Service) runDeployment(ctx context.Context, req domain.DeploymentRequest) {
	logs, err := s.deployer.Deploy(ctx, req)
	if ctx.Err() != nil {
		s.log.Warn("deployment task cancelled", "request_id", req.ID, "error", ctx.Err())
		return
	}
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if _, ferr := s.FailDeployment(bg, req.ID, err.Error()); ferr != nil {
			s.log.Warn("deployment failure not applied", "request_id", req.ID, "error", ferr)
		}
		return
	}
	if _, cerr := s.CompleteDeployment(bg, req.ID, logs); cerr != nil {
		s.log.Warn("deployment completion not applied", "request_id", req.ID, "error", cerr)
	}
}

// CompleteDeployment marks a deploying request as deployed. Requests that left
// deploying meanwhile are left untouched and reported as InvalidState.
func (s *Service) CompleteDeployment(ctx context.Context, id int64, logs string) (*domain.DeploymentRequest, error) {
	const op = "complete deployment"
	ctx, span := observability.StartSpan(ctx, "lifecycle.complete_deployment", attribute.Int64("request.id", id))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	done := s.now().UTC()
	from, to := Edge(OpCompleteDeploy)
	updated, err := s.apply(ctx, op, domain.RequestTransition{RequestID: id, From: from, To: to, At: done, CompletedAt: &done, AppendLog: logs})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.record(ctx, domain.EventDeploymentCompleted, systemActor, updated,
		fmt.Sprintf("%s deployed to %s", updated.FileName, updated.TargetServer), nil)
	s.notifier.Dispatch(notify.DeploymentCompleted{Request: *updated})
	return updated, nil
}

// FailDeployment marks a deploying request as failed with reason.
func (s *Service) FailDeployment(ctx context.Context, id int64, reason string) (*domain.DeploymentRequest, error) {
	const op = "fail deployment"
	ctx, span := observability.StartSpan(ctx, "lifecycle.fail_deployment", attribute.Int64("request.id", id))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	done := s.now().UTC()
	from, to := Edge(OpFailDeploy)
	updated, err := s.apply(ctx, op, domain.RequestTransition{RequestID: id, From: from, To: to, At: done, CompletedAt: &done, AppendLog: "Error: " + reason})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.record(ctx, domain.EventDeploymentFailed, systemActor, updated,
		fmt.Sprintf("Deployment of %s failed: %s", updated.FileName, reason),
		map[string]any{"error": reason})
	s.notifier.Dispatch(notify.DeploymentFailed{Request: *updated, Reason: reason})
	return updated, nil
}

// CancelDeployment stops a scheduled rollout without changing its status.
func (s *Service) CancelDeployment(id int64) bool {
	return s.scheduler.Cancel(id)
}

// PendingDeployments reports how many rollouts are in flight.
func (s *Service) PendingDeployments() int {
	return s.scheduler.Pending()
}

// Shutdown cancels in-flight rollouts and waits for them to return.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.scheduler.Shutdown(ctx)
}

var systemActor = domain.Identity{Username: "system"}

func requireAdmin(op string, actor domain.Identity) error {
	if !actor.IsAdmin() {
		return domain.AuthorizationError(op, "administrator role required")
	}
	return nil
}

func (s *Service) get(ctx context.Context, op string, id int64) (*domain.DeploymentRequest, error) {
	req, err := s.requests.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFoundError(op, "deployment request not found")
		}
		return nil, domain.PersistenceError(op, err)
	}
	return req, nil
}

func (s *Service) apply(ctx context.Context, op string, t domain.RequestTransition) (*domain.DeploymentRequest, error) {
	if t.At.IsZero() {
		t.At = s.now().UTC()
	}
	updated, err := s.requests.TransitionRequest(ctx, t)
	switch {
	case err == nil:
		transitionsTotal.WithLabelValues(string(t.To), "applied").Inc()
		s.log.Info("request transitioned", "request_id", t.RequestID, "to", t.To)
		return updated, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, domain.NotFoundError(op, "deployment request not found")
	case errors.Is(err, repository.ErrStatusConflict):
		transitionsTotal.WithLabelValues(string(t.To), "rejected").Inc()
		current, gerr := s.requests.GetRequest(ctx, t.RequestID)
		if gerr != nil {
			return nil, domain.InvalidStateError(op, "request is no longer in a state that allows this operation")
		}
		if t.To == domain.StatusDeploying && (current.Status == domain.StatusPending || current.Status == domain.StatusReviewing) {
			return nil, domain.InvalidStateError(op, "request must be approved first")
		}
		return nil, domain.InvalidStateError(op, fmt.Sprintf("request already processed (%s)", current.Status))
	default:
		transitionsTotal.WithLabelValues(string(t.To), "error").Inc()
		s.log.Error("transition persist failed", "request_id", t.RequestID, "to", t.To, "error", err)
		return nil, domain.PersistenceError(op, err)
	}
}

func (s *Service) record(ctx context.Context, eventType domain.EventType, actor domain.Identity, req *domain.DeploymentRequest, description string, metadata map[string]any) {
	if s.activity == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["fileName"] = req.FileName
	metadata["status"] = req.Status
	raw, err := json.Marshal(metadata)
	if err != nil {
		s.log.Warn("encode activity metadata failed", "error", err)
		raw = nil
	}
	entry := domain.ActivityLogEntry{
		EventType:           eventType,
		Description:         description,
		Username:            actor.Username,
		UserRole:            actor.Role,
		DeploymentRequestID: &req.ID,
		Metadata:            raw,
	}
	if actor.UserID != 0 {
		uid := actor.UserID
		entry.UserID = &uid
	}
	s.activity.Record(ctx, entry)
}

// keyedMutex serialises operations per request id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*refMutex)}
}

func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
