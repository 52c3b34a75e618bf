// Package memory provides an in-process Store used by tests and by the API
// when STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository"
)

// Store keeps every entity in maps guarded by a single mutex.
type Store struct {
	mu         sync.RWMutex
	now        func() time.Time
	users      map[int64]domain.User
	requests   map[int64]domain.DeploymentRequest
	activity   []domain.ActivityLogEntry
	nextUser   int64
	nextReq    int64
	nextEntry  int64
	failWrites error
}

var _ repository.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		now:      time.Now,
		users:    make(map[int64]domain.User),
		requests: make(map[int64]domain.DeploymentRequest),
	}
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailWrites makes every subsequent write return err. Pass nil to recover.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = err
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// CreateUser inserts a user, enforcing unique username and email.
func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, user.Username) || strings.EqualFold(existing.Email, user.Email) {
			return repository.ErrDuplicate
		}
	}
	s.nextUser++
	now := s.now().UTC()
	user.ID = s.nextUser
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = *user
	return nil
}

// GetUserByID returns a user by id.
func (s *Store) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// GetUserByLogin matches either the username or the email.
func (s *Store) GetUserByLogin(_ context.Context, login string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, login) || strings.EqualFold(u.Email, login) {
			out := u
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

// UpdateLastLogin stamps the last successful login.
func (s *Store) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	return s.updateUser(id, func(u *domain.User) {
		at := at.UTC()
		u.LastLogin = &at
	})
}

// UpdatePassword replaces the stored hash.
func (s *Store) UpdatePassword(_ context.Context, id int64, hash []byte) error {
	return s.updateUser(id, func(u *domain.User) { u.PasswordHash = hash })
}

// SetActive enables or disables an account.
func (s *Store) SetActive(id int64, active bool) error {
	return s.updateUser(id, func(u *domain.User) { u.IsActive = active })
}

func (s *Store) updateUser(id int64, fn func(*domain.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return nil
}

// CreateRequest inserts a request and assigns its id.
func (s *Store) CreateRequest(_ context.Context, request *domain.DeploymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	s.nextReq++
	now := s.now().UTC()
	request.ID = s.nextReq
	request.CreatedAt = now
	request.UpdatedAt = now
	s.requests[request.ID] = *request
	return nil
}

// GetRequest returns a request by id.
func (s *Store) GetRequest(_ context.Context, id int64) (*domain.DeploymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

// ListRequests returns matching requests newest first plus the unpaged total.
func (s *Store) ListRequests(_ context.Context, filter domain.RequestFilter) ([]domain.DeploymentRequest, int, error) {
	s.mu.RLock()
	matched := make([]domain.DeploymentRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if filter.UserID != 0 && r.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && r.Priority != filter.Priority {
			continue
		}
		matched = append(matched, r)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return page(matched, filter.Offset, filter.Limit), len(matched), nil
}

// TransitionRequest applies a conditional status change atomically.
func (s *Store) TransitionRequest(_ context.Context, t domain.RequestTransition) (*domain.DeploymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return nil, s.failWrites
	}
	r, ok := s.requests[t.RequestID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	allowed := false
	for _, from := range t.From {
		if r.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, repository.ErrStatusConflict
	}
	at := t.At.UTC()
	r.Status = t.To
	r.UpdatedAt = at
	if t.ReviewerID != nil {
		id := *t.ReviewerID
		r.ReviewedBy = &id
		r.ReviewedByUsername = t.ReviewerUsername
		r.ReviewedAt = &at
	}
	if t.ReviewComments != nil {
		r.ReviewComments = *t.ReviewComments
	}
	if t.StartedAt != nil {
		started := t.StartedAt.UTC()
		r.DeploymentStartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := t.CompletedAt.UTC()
		r.DeploymentCompletedAt = &completed
	}
	if t.AppendLog != "" {
		if r.DeploymentLogs != "" {
			r.DeploymentLogs += "\n"
		}
		r.DeploymentLogs += t.AppendLog
	}
	s.requests[r.ID] = r
	return &r, nil
}

// ListRequestsWithStatusUpdatedBefore returns requests idle in status since before.
func (s *Store) ListRequestsWithStatusUpdatedBefore(_ context.Context, status domain.RequestStatus, before time.Time) ([]domain.DeploymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DeploymentRequest
	for _, r := range s.requests {
		if r.Status == status && r.UpdatedAt.Before(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RequestStats aggregates requests by status and priority.
func (s *Store) RequestStats(_ context.Context, since time.Time) (domain.RequestStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := domain.RequestStats{
		ByStatus:   make(map[domain.RequestStatus]int),
		ByPriority: make(map[domain.Priority]int),
	}
	for _, r := range s.requests {
		stats.ByStatus[r.Status]++
		stats.ByPriority[r.Priority]++
		if !r.CreatedAt.Before(since) {
			stats.TodayRequests++
		}
	}
	stats.PendingRequests = stats.ByStatus[domain.StatusPending]
	return stats, nil
}

// AppendActivity adds an entry to the log.
func (s *Store) AppendActivity(_ context.Context, entry *domain.ActivityLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	s.nextEntry++
	entry.ID = s.nextEntry
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	s.activity = append(s.activity, *entry)
	return nil
}

// ListActivity returns matching entries newest first plus the unpaged total.
func (s *Store) ListActivity(_ context.Context, filter domain.ActivityFilter) ([]domain.ActivityLogEntry, int, error) {
	s.mu.RLock()
	matched := make([]domain.ActivityLogEntry, 0, len(s.activity))
	for i := len(s.activity) - 1; i >= 0; i-- {
		e := s.activity[i]
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if filter.UserID != 0 && (e.UserID == nil || *e.UserID != filter.UserID) {
			continue
		}
		if filter.UserRole != "" && e.UserRole != filter.UserRole {
			continue
		}
		if filter.DeploymentRequestID != 0 && (e.DeploymentRequestID == nil || *e.DeploymentRequestID != filter.DeploymentRequestID) {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()
	return page(matched, filter.Offset, filter.Limit), len(matched), nil
}

// CountActivityByType counts entries since the given instant, most frequent first.
func (s *Store) CountActivityByType(_ context.Context, since time.Time) ([]domain.EventCount, error) {
	s.mu.RLock()
	counts := make(map[domain.EventType]int)
	for _, e := range s.activity {
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		counts[e.EventType]++
	}
	s.mu.RUnlock()

	out := make([]domain.EventCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, domain.EventCount{EventType: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].EventType < out[j].EventType
		}
		return out[i].Count > out[j].Count
	})
	return out, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
