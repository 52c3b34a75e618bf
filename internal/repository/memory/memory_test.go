package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository"
)

func seedRequest(t *testing.T, s *Store, userID int64) *domain.DeploymentRequest {
	t.Helper()
	req := &domain.DeploymentRequest{
		UserID:          userID,
		Username:        "ana",
		FileName:        "app.war",
		TargetServer:    "tomcat-01",
		ApplicationName: "app",
		Status:          domain.StatusPending,
		Priority:        domain.PriorityMedium,
		Environment:     domain.EnvDevelopment,
	}
	require.NoError(t, s.CreateRequest(context.Background(), req))
	return req
}

func TestTransitionRequestAppliesOnlyFromAllowedStatuses(t *testing.T) {
	s := New()
	req := seedRequest(t, s, 1)
	reviewer := int64(9)
	comments := "ok"

	updated, err := s.TransitionRequest(context.Background(), domain.RequestTransition{
		RequestID:        req.ID,
		From:             []domain.RequestStatus{domain.StatusPending, domain.StatusReviewing},
		To:               domain.StatusApproved,
		At:               time.Now(),
		ReviewerID:       &reviewer,
		ReviewerUsername: "root",
		ReviewComments:   &comments,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, updated.Status)
	require.NotNil(t, updated.ReviewedBy)
	require.NotNil(t, updated.ReviewedAt)
	assert.Equal(t, "ok", updated.ReviewComments)

	_, err = s.TransitionRequest(context.Background(), domain.RequestTransition{
		RequestID: req.ID,
		From:      []domain.RequestStatus{domain.StatusPending, domain.StatusReviewing},
		To:        domain.StatusRejected,
		At:        time.Now(),
	})
	assert.ErrorIs(t, err, repository.ErrStatusConflict)

	_, err = s.TransitionRequest(context.Background(), domain.RequestTransition{RequestID: 404, From: []domain.RequestStatus{domain.StatusPending}})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConcurrentTransitionsHaveSingleWinner(t *testing.T) {
	s := New()
	req := seedRequest(t, s, 1)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionRequest(context.Background(), domain.RequestTransition{
				RequestID: req.ID,
				From:      []domain.RequestStatus{domain.StatusPending},
				To:        domain.StatusRejected,
				At:        time.Now(),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, repository.ErrStatusConflict)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestListRequestsFiltersAndPaginates(t *testing.T) {
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		s.SetClock(func() time.Time { return at })
		seedRequest(t, s, int64(1+i%2))
	}

	items, total, err := s.ListRequests(context.Background(), domain.RequestFilter{UserID: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, int64(5), items[0].ID)
	assert.Equal(t, int64(3), items[1].ID)

	items, _, err = s.ListRequests(context.Background(), domain.RequestFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestActivityCountsAndFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	uid := int64(3)
	for _, et := range []domain.EventType{domain.EventWarUpload, domain.EventWarUpload, domain.EventUserLogin} {
		require.NoError(t, s.AppendActivity(ctx, &domain.ActivityLogEntry{EventType: et, UserID: &uid, UserRole: domain.RoleUser}))
	}

	counts, err := s.CountActivityByType(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, domain.EventWarUpload, counts[0].EventType)
	assert.Equal(t, 2, counts[0].Count)

	entries, total, err := s.ListActivity(ctx, domain.ActivityFilter{EventType: domain.EventUserLogin})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, int64(3), entries[0].ID)
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &domain.User{Username: "ana", Email: "ana@example.com"}))
	err := s.CreateUser(ctx, &domain.User{Username: "ANA", Email: "other@example.com"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	u, err := s.GetUserByLogin(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ana", u.Username)
}
