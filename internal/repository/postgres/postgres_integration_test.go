//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/testutil/containers"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	pg := containers.NewPostgresContainer(t)
	return New(pg.Pool)
}

func seed(t *testing.T, repo *Repository) (*domain.User, *domain.DeploymentRequest) {
	t.Helper()
	ctx := context.Background()
	user := &domain.User{Username: "ana", Email: "ana@example.com", PasswordHash: []byte("x"), Role: domain.RoleUser, IsActive: true}
	require.NoError(t, repo.CreateUser(ctx, user))
	req := &domain.DeploymentRequest{
		UserID:          user.ID,
		Username:        user.Username,
		FileName:        "app.war",
		FilePath:        "app_1.war",
		FileSize:        1024,
		TargetServer:    "tomcat-01",
		ApplicationName: "app",
		Status:          domain.StatusPending,
		Priority:        domain.PriorityHigh,
		Environment:     domain.EnvStaging,
	}
	require.NoError(t, repo.CreateRequest(ctx, req))
	return user, req
}

func TestRequestLifecycleRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	user, req := seed(t, repo)

	got, err := repo.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, got.Priority)
	assert.Equal(t, domain.EnvStaging, got.Environment)

	comments := "looks good"
	reviewer := user.ID
	approved, err := repo.TransitionRequest(ctx, domain.RequestTransition{
		RequestID:        req.ID,
		From:             []domain.RequestStatus{domain.StatusPending, domain.StatusReviewing},
		To:               domain.StatusApproved,
		At:               time.Now(),
		ReviewerID:       &reviewer,
		ReviewerUsername: user.Username,
		ReviewComments:   &comments,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedAt)
	assert.Equal(t, "looks good", approved.ReviewComments)

	_, err = repo.TransitionRequest(ctx, domain.RequestTransition{
		RequestID: req.ID,
		From:      []domain.RequestStatus{domain.StatusPending},
		To:        domain.StatusRejected,
		At:        time.Now(),
	})
	assert.ErrorIs(t, err, repository.ErrStatusConflict)

	_, err = repo.TransitionRequest(ctx, domain.RequestTransition{RequestID: 999, From: []domain.RequestStatus{domain.StatusPending}, To: domain.StatusRejected, At: time.Now()})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	started := time.Now()
	_, err = repo.TransitionRequest(ctx, domain.RequestTransition{
		RequestID: req.ID, From: []domain.RequestStatus{domain.StatusApproved}, To: domain.StatusDeploying, At: started, StartedAt: &started,
	})
	require.NoError(t, err)
	done, err := repo.TransitionRequest(ctx, domain.RequestTransition{
		RequestID: req.ID, From: []domain.RequestStatus{domain.StatusDeploying}, To: domain.StatusDeployed, At: time.Now(), CompletedAt: &started, AppendLog: "done",
	})
	require.NoError(t, err)
	assert.Equal(t, "done", done.DeploymentLogs)
}

func TestConcurrentDecisionsSingleWinner(t *testing.T) {
	repo := newRepo(t)
	_, req := seed(t, repo)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.TransitionRequest(context.Background(), domain.RequestTransition{
				RequestID: req.ID,
				From:      []domain.RequestStatus{domain.StatusPending, domain.StatusReviewing},
				To:        domain.StatusRejected,
				At:        time.Now(),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestActivityAndStats(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	user, req := seed(t, repo)

	uid := user.ID
	rid := req.ID
	require.NoError(t, repo.AppendActivity(ctx, &domain.ActivityLogEntry{
		EventType: domain.EventWarUpload, Description: "upload", UserID: &uid, Username: user.Username,
		UserRole: domain.RoleUser, DeploymentRequestID: &rid, Metadata: []byte(`{"fileSize":1024}`),
	}))

	entries, total, err := repo.ListActivity(ctx, domain.ActivityFilter{DeploymentRequestID: rid, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.JSONEq(t, `{"fileSize":1024}`, string(entries[0].Metadata))

	counts, err := repo.CountActivityByType(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, counts, 1)

	stats, err := repo.RequestStats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingRequests)
	assert.Equal(t, 1, stats.ByPriority[domain.PriorityHigh])
	assert.Equal(t, 1, stats.TodayRequests)

	err = repo.CreateUser(ctx, &domain.User{Username: "ana", Email: "x@example.com", PasswordHash: []byte("x"), Role: domain.RoleUser})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}
