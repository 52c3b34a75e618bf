package repository

import (
	"context"
	"time"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
)

// UserRepository persists accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByLogin(ctx context.Context, usernameOrEmail string) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash []byte) error
}

// RequestRepository persists deployment requests. TransitionRequest must be
// atomic: it applies the change only while the stored status is one of
// transition.From and returns ErrStatusConflict otherwise.
type RequestRepository interface {
	CreateRequest(ctx context.Context, request *domain.DeploymentRequest) error
	GetRequest(ctx context.Context, id int64) (*domain.DeploymentRequest, error)
	ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.DeploymentRequest, int, error)
	TransitionRequest(ctx context.Context, transition domain.RequestTransition) (*domain.DeploymentRequest, error)
	ListRequestsWithStatusUpdatedBefore(ctx context.Context, status domain.RequestStatus, updatedBefore time.Time) ([]domain.DeploymentRequest, error)
	RequestStats(ctx context.Context, since time.Time) (domain.RequestStats, error)
}

// ActivityRepository stores the append-only activity log.
type ActivityRepository interface {
	AppendActivity(ctx context.Context, entry *domain.ActivityLogEntry) error
	ListActivity(ctx context.Context, filter domain.ActivityFilter) ([]domain.ActivityLogEntry, int, error)
	CountActivityByType(ctx context.Context, since time.Time) ([]domain.EventCount, error)
}

// Store bundles every repository a running API needs.
type Store interface {
	UserRepository
	RequestRepository
	ActivityRepository
	Ping(ctx context.Context) error
}
