package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/ws"
)

type sink struct {
	mu     sync.Mutex
	frames []ws.Frame
	fail   bool
	closed bool
}

func (s *sink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	var f ws.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *sink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func (s *sink) statuses() []domain.RequestStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RequestStatus
	for _, f := range s.frames {
		if f.Event != ws.EventRequestStatusUpdate {
			continue
		}
		var msg StatusUpdateMessage
		_ = json.Unmarshal(f.Data, &msg)
		out = append(out, msg.Data.Status)
	}
	return out
}

type pendingStub int

func (p pendingStub) PendingCount(context.Context) (int, error) { return int(p), nil }

func connect(t *testing.T, reg *ws.Registry, id string, identity domain.Identity) *sink {
	t.Helper()
	s := &sink{}
	_, err := reg.RegisterAuthenticated(id, s, identity)
	require.NoError(t, err)
	return s
}

func startDispatcher(t *testing.T, reg *ws.Registry, opts ...Option) *Dispatcher {
	t.Helper()
	d := NewDispatcher(reg, nil, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = d.Run(ctx) }()
	return d
}

var (
	owner = domain.Identity{UserID: 10, Username: "ana", Role: domain.RoleUser}
	admin = domain.Identity{UserID: 1, Username: "root", Role: domain.RoleAdmin}
)

func sampleRequest(status domain.RequestStatus) domain.DeploymentRequest {
	return domain.DeploymentRequest{
		ID: 7, UserID: owner.UserID, Username: owner.Username, FileName: "shop.war",
		ApplicationName: "shop", TargetServer: "tomcat-01", Status: status,
		Priority: domain.PriorityHigh, Environment: domain.EnvStaging, UpdatedAt: time.Now(),
	}
}

func TestNewRequestReachesEachAdminOnce(t *testing.T) {
	reg := ws.NewRegistry()
	d := startDispatcher(t, reg)
	var admins []*sink
	for i := 0; i < 3; i++ {
		admins = append(admins, connect(t, reg, fmt.Sprintf("a%d", i), domain.Identity{UserID: int64(100 + i), Username: fmt.Sprintf("admin%d", i), Role: domain.RoleAdmin}))
	}
	user := connect(t, reg, "u1", owner)

	d.Dispatch(RequestCreated{Request: sampleRequest(domain.StatusPending)})

	for _, a := range admins {
		a := a
		require.Eventually(t, func() bool { return a.count(ws.EventNewRequest) == 1 }, time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool { return a.count(ws.EventSystemActivity) == 1 }, time.Second, 5*time.Millisecond)
	}
	late := connect(t, reg, "a-late", domain.Identity{UserID: 200, Username: "late", Role: domain.RoleAdmin})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, late.count(ws.EventNewRequest))
	assert.Zero(t, user.count(ws.EventNewRequest))
}

func TestStatusUpdatesReachOnlyOwnerInOrder(t *testing.T) {
	reg := ws.NewRegistry()
	d := startDispatcher(t, reg)
	tab1 := connect(t, reg, "u1", owner)
	tab2 := connect(t, reg, "u2", owner)
	other := connect(t, reg, "x1", domain.Identity{UserID: 99, Username: "eve", Role: domain.RoleUser})
	adm := connect(t, reg, "a1", admin)

	d.Dispatch(ReviewStarted{Request: sampleRequest(domain.StatusReviewing), Actor: admin})
	approved := sampleRequest(domain.StatusApproved)
	approved.ReviewComments = "ship it"
	d.Dispatch(RequestDecided{Request: approved, Actor: admin})
	d.Dispatch(DeploymentStarted{Request: sampleRequest(domain.StatusDeploying), Actor: admin})
	d.Dispatch(DeploymentCompleted{Request: sampleRequest(domain.StatusDeployed)})

	want := []domain.RequestStatus{domain.StatusReviewing, domain.StatusApproved, domain.StatusDeploying, domain.StatusDeployed}
	for _, tab := range []*sink{tab1, tab2} {
		tab := tab
		require.Eventually(t, func() bool { return len(tab.statuses()) == 4 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, want, tab.statuses())
	}
	require.Eventually(t, func() bool { return adm.count(ws.EventSystemActivity) == 4 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, other.count(ws.EventRequestStatusUpdate))
	assert.Zero(t, adm.count(ws.EventRequestStatusUpdate))
}

func TestFailedDeploymentCarriesErrorField(t *testing.T) {
	reg := ws.NewRegistry()
	d := startDispatcher(t, reg)
	tab := connect(t, reg, "u1", owner)

	failed := sampleRequest(domain.StatusFailed)
	failed.ReviewComments = "ship it"
	d.Dispatch(DeploymentFailed{Request: failed, Reason: "tomcat unreachable"})

	require.Eventually(t, func() bool { return tab.count(ws.EventRequestStatusUpdate) == 1 }, time.Second, 5*time.Millisecond)
	tab.mu.Lock()
	var msg StatusUpdateMessage
	require.NoError(t, json.Unmarshal(tab.frames[0].Data, &msg))
	tab.mu.Unlock()
	assert.Equal(t, "tomcat unreachable", msg.Data.Error)
	assert.Empty(t, msg.Data.AdminComment)
	assert.Equal(t, "red", msg.Data.StatusColor)
}

func TestBrokenSubscriberIsClosedAndUnregistered(t *testing.T) {
	reg := ws.NewRegistry()
	d := startDispatcher(t, reg)
	broken := connect(t, reg, "a1", admin)
	broken.fail = true
	healthy := connect(t, reg, "a2", domain.Identity{UserID: 2, Username: "ops", Role: domain.RoleAdmin})

	d.Dispatch(RequestCreated{Request: sampleRequest(domain.StatusPending)})

	require.Eventually(t, func() bool { return healthy.count(ws.EventNewRequest) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := reg.Lookup("a1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	broken.mu.Lock()
	assert.True(t, broken.closed)
	broken.mu.Unlock()
}

// sluggishStream is an SSE response whose every write takes delay.
type sluggishStream struct {
	header http.Header
	delay  time.Duration
}

func (s *sluggishStream) Header() http.Header { return s.header }
func (s *sluggishStream) WriteHeader(int) {}
func (s *sluggishStream) Flush() {}

func (s *sluggishStream) Write(p []byte) (int, error) {
	time.Sleep(s.delay)
	return len(p), nil
}

func TestSlowStreamDoesNotStallOtherAdmins(t *testing.T) {
	reg := ws.NewRegistry()
	d := startDispatcher(t, reg)

	stream := &sluggishStream{header: http.Header{}, delay: 2 * time.Second}
	slow := ws.NewSSEClient(stream, stream, slog.Default(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go slow.WriteLoop(ctx, time.Hour)
	_, err := reg.RegisterAuthenticated("sse-admin", slow, admin)
	require.NoError(t, err)
	fast := connect(t, reg, "a2", domain.Identity{UserID: 2, Username: "ops", Role: domain.RoleAdmin})

	start := time.Now()
	d.Dispatch(RequestCreated{Request: sampleRequest(domain.StatusPending)})
	d.Dispatch(RequestCreated{Request: sampleRequest(domain.StatusPending)})

	require.Eventually(t, func() bool { return fast.count(ws.EventNewRequest) == 2 }, 500*time.Millisecond, 5*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
	_, stillRegistered := reg.Lookup("sse-admin")
	assert.True(t, stillRegistered)
}

func TestDispatchDropsWhenQueueFull(t *testing.T) {
	reg := ws.NewRegistry()
	d := NewDispatcher(reg, nil, WithQueueSize(1))
	d.Dispatch(RequestCreated{Request: sampleRequest(domain.StatusPending)})
	done := make(chan struct{})
	go func() {
		d.Dispatch(RequestCreated{Request: sampleRequest(domain.StatusPending)})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}

func TestWelcomeSendsAdminStats(t *testing.T) {
	reg := ws.NewRegistry()
	d := NewDispatcher(reg, nil, WithPendingCounter(pendingStub(4)))
	adm := connect(t, reg, "a1", admin)
	connect(t, reg, "u1", owner)

	m, ok := reg.Lookup("a1")
	require.True(t, ok)
	d.Welcome(context.Background(), m)

	require.Equal(t, 1, adm.count(ws.EventAdminStats))
	var msg AdminStatsMessage
	require.NoError(t, json.Unmarshal(adm.frames[0].Data, &msg))
	assert.Equal(t, 1, msg.ConnectedUsers)
	assert.Equal(t, 4, msg.PendingRequests)

	u, _ := reg.Lookup("u1")
	d.Welcome(context.Background(), u)
}
