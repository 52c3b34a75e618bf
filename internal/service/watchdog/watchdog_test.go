package watchdog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/notify"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository/memory"
)

type testNotifier struct {
	events []notify.Event
}

func (n *testNotifier) Dispatch(ev notify.Event) { n.events = append(n.events, ev) }

func deployingSince(t *testing.T, store *memory.Store, at time.Time) domain.DeploymentRequest {
	t.Helper()
	ctx := context.Background()
	req := &domain.DeploymentRequest{UserID: 2, Username: "ana", FileName: "app.war", Status: domain.StatusPending, Priority: domain.PriorityHigh}
	if err := store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	reviewer := int64(1)
	if _, err := store.TransitionRequest(ctx, domain.RequestTransition{
		RequestID: req.ID, From: []domain.RequestStatus{domain.StatusPending}, To: domain.StatusApproved,
		At: at, ReviewerID: &reviewer, ReviewerUsername: "root",
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	out, err := store.TransitionRequest(ctx, domain.RequestTransition{
		RequestID: req.ID, From: []domain.RequestStatus{domain.StatusApproved}, To: domain.StatusDeploying,
		At: at, StartedAt: &at,
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	return *out
}

func newController(store *memory.Store, n *testNotifier, now time.Time) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	c := New(store, n, logger, time.Second, 30*time.Minute)
	c.now = func() time.Time { return now }
	return c
}

func TestWatchdogReportsStuckDeploymentOnce(t *testing.T) {
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	stuck := deployingSince(t, store, now.Add(-45*time.Minute))
	deployingSince(t, store, now.Add(-5*time.Minute))

	n := &testNotifier{}
	c := newController(store, n, now)

	c.runIteration(context.Background())
	c.runIteration(context.Background())

	if len(n.events) != 1 {
		t.Fatalf("expected exactly one stuck event, got %d", len(n.events))
	}
	ev, ok := n.events[0].(notify.DeploymentStuck)
	if !ok {
		t.Fatalf("unexpected event %T", n.events[0])
	}
	if ev.Request.ID != stuck.ID || ev.Age != 45*time.Minute {
		t.Fatalf("unexpected stuck event: id=%d age=%s", ev.Request.ID, ev.Age)
	}
}

func TestWatchdogForgetsResolvedRequests(t *testing.T) {
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	stuck := deployingSince(t, store, now.Add(-time.Hour))
	n := &testNotifier{}
	c := newController(store, n, now)

	c.runIteration(context.Background())
	if _, err := store.TransitionRequest(context.Background(), domain.RequestTransition{
		RequestID: stuck.ID, From: []domain.RequestStatus{domain.StatusDeploying}, To: domain.StatusFailed, At: now,
	}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	c.runIteration(context.Background())

	if len(c.reported) != 0 {
		t.Fatalf("expected reported set to be pruned, got %v", c.reported)
	}
}

func TestStuckRequiresAdmin(t *testing.T) {
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	deployingSince(t, store, now.Add(-31*time.Minute))
	c := newController(store, &testNotifier{}, now)

	if _, err := c.Stuck(context.Background(), domain.Identity{UserID: 2, Role: domain.RoleUser}); domain.KindOf(err) != domain.KindAuthorization {
		t.Fatalf("expected Authorization error, got %v", err)
	}
	list, err := c.Stuck(context.Background(), domain.Identity{UserID: 1, Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("stuck: %v", err)
	}
	if len(list) != 1 || list[0].Minutes != 31 {
		t.Fatalf("unexpected stuck list: %+v", list)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := memory.New()
	c := newController(store, &testNotifier{}, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watchdog did not stop")
	}
}
