package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRefreshInterval = 2 * time.Minute
	syncPageSize           = 100
)

// SyncOption customises a Syncer.
type SyncOption func(*Syncer)

// WithSyncLogger sets the logger used for reconnect and refetch diagnostics.
func WithSyncLogger(l *slog.Logger) SyncOption {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRefreshInterval sets how often the full request set is refetched
// while connected. Zero disables periodic refetch.
func WithRefreshInterval(d time.Duration) SyncOption {
	return func(s *Syncer) { s.refreshInterval = d }
}

// WithBackOff sets the policy used both for reconnecting and for retrying
// failed refetches.
func WithBackOff(fn func() backoff.BackOff) SyncOption {
	return func(s *Syncer) {
		if fn != nil {
			s.reconnectPolicy = fn
			s.retryPolicy = fn
		}
	}
}

// WithEventHandler registers a callback invoked for every frame after the
// local state has been patched.
func WithEventHandler(fn func(Frame)) SyncOption {
	return func(s *Syncer) { s.onEvent = fn }
}

// Syncer keeps a local copy of the requests relevant to the token holder.
// The server state is authoritative: the full set is fetched after every
// (re)authentication, periodically and on Refresh. Realtime events only
// patch the copy between fetches.
type Syncer struct {
	client *Client
	token  string
	logger *slog.Logger

	refreshInterval time.Duration
	reconnectPolicy func() backoff.BackOff
	retryPolicy     func() backoff.BackOff
	onEvent         func(Frame)

	mu        sync.RWMutex
	requests  map[int64]Request
	identity  Authenticated
	connected bool
	synced    time.Time
	lastErr   error

	refresh chan chan error
}

// NewSyncer builds a Syncer for token.
func NewSyncer(c *Client, token string, opts ...SyncOption) *Syncer {
	s := &Syncer{
		client:          c,
		token:           token,
		logger:          slog.Default(),
		refreshInterval: defaultRefreshInterval,
		reconnectPolicy: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		retryPolicy: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
		requests: make(map[int64]Request),
		refresh:  make(chan chan error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run connects, authenticates and keeps the local copy reconciled until ctx
// ends, the server rejects the token or the reconnect policy gives up.
func (s *Syncer) Run(ctx context.Context) error {
	policy := backoff.WithContext(s.reconnectPolicy(), ctx)
	for {
		authenticated, err := s.session(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthRejected) {
			s.setErr(err)
			return err
		}
		if authenticated {
			policy.Reset()
		}
		s.setErr(err)
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		s.logger.Warn("realtime connection lost", "error", err, "retry_in", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Syncer) session(ctx context.Context) (bool, error) {
	conn, err := s.client.DialRealtime(ctx, s.token)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.mu.Lock()
	s.identity = conn.Identity()
	s.connected = true
	s.mu.Unlock()
	s.logger.Info("realtime connection authenticated", "user_id", conn.Identity().UserID, "segment", conn.Identity().Segment)

	frames := make(chan Frame, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			frame, err := conn.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	_ = s.refetch(ctx)

	var tick <-chan time.Time
	if s.refreshInterval > 0 {
		ticker := time.NewTicker(s.refreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				select {
				case err := <-readErr:
					return true, err
				default:
					return true, ctx.Err()
				}
			}
			s.apply(ctx, frame)
		case <-tick:
			_ = s.refetch(ctx)
		case reply := <-s.refresh:
			reply <- s.refetch(ctx)
		}
	}
}

// Refresh refetches the full request set. While Run is connected the fetch
// runs on the session goroutine; otherwise it runs inline.
func (s *Syncer) Refresh(ctx context.Context) error {
	reply := make(chan error, 1)
	if s.Connected() {
		select {
		case s.refresh <- reply:
			select {
			case err := <-reply:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return s.refetch(ctx)
}

// Snapshot returns the local copy, newest first.
func (s *Syncer) Snapshot() []Request {
	s.mu.RLock()
	out := make([]Request, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Lookup returns the local copy of one request.
func (s *Syncer) Lookup(id int64) (Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	return r, ok
}

// LastError reports the most recent reconnect or refetch failure. It is
// cleared by the next successful fetch.
func (s *Syncer) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Connected reports whether an authenticated channel is open.
func (s *Syncer) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Identity returns the identity acknowledged by the last handshake.
func (s *Syncer) Identity() Authenticated {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// LastSynced returns when the last full fetch completed.
func (s *Syncer) LastSynced() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

func (s *Syncer) refetch(ctx context.Context) error {
	op := func() error {
		items, err := s.fetchAll(ctx)
		if err != nil {
			var apiErr APIError
			if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
				return backoff.Permanent(err)
			}
			return err
		}
		s.replace(items)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.setErr(err)
		s.logger.Warn("request refetch failed", "error", err, "retry_in", wait)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(s.retryPolicy(), ctx), notify)
	if err != nil {
		s.logger.Error("request refetch gave up", "error", err)
	}
	s.setErr(err)
	return err
}

func (s *Syncer) fetchAll(ctx context.Context) ([]Request, error) {
	admin := s.Identity().UserRole == "admin"
	var out []Request
	for page := 1; ; page++ {
		opts := ListOptions{Page: page, Limit: syncPageSize}
		var (
			res RequestPage
			err error
		)
		if admin {
			res, err = s.client.AllRequests(ctx, s.token, opts)
		} else {
			res, err = s.client.MyRequests(ctx, s.token, opts)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, res.Requests...)
		if len(res.Requests) == 0 || page >= res.Pagination.TotalPages {
			return out, nil
		}
	}
}

// replace installs a fetched set. Entries patched by events after the
// fetch was issued keep their newer state.
func (s *Syncer) replace(items []Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[int64]Request, len(items))
	for _, r := range items {
		if cur, ok := s.requests[r.ID]; ok && cur.UpdatedAt.After(r.UpdatedAt) {
			r = cur
		}
		next[r.ID] = r
	}
	s.requests = next
	s.synced = time.Now()
}

func (s *Syncer) apply(ctx context.Context, frame Frame) {
	switch frame.Event {
	case EventRequestStatusUpdate:
		var msg StatusUpdate
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			s.logger.Warn("decode status update failed", "error", err)
			break
		}
		if !s.patchStatus(msg) {
			r, err := s.client.GetRequest(ctx, s.token, msg.Data.RequestID)
			if err != nil {
				s.setErr(err)
				s.logger.Warn("fetch unknown request failed", "request_id", msg.Data.RequestID, "error", err)
				break
			}
			s.upsert(r)
		}
	case EventNewRequest:
		var msg NewRequest
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			s.logger.Warn("decode new request failed", "error", err)
			break
		}
		s.mu.Lock()
		if _, ok := s.requests[msg.Data.ID]; !ok {
			s.requests[msg.Data.ID] = msg.Request()
		}
		s.mu.Unlock()
	}
	if s.onEvent != nil {
		s.onEvent(frame)
	}
}

func (s *Syncer) patchStatus(msg StatusUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[msg.Data.RequestID]
	if !ok {
		return false
	}
	if r.UpdatedAt.After(msg.Data.UpdatedAt) {
		return true
	}
	r.Status = msg.Data.Status
	r.UpdatedAt = msg.Data.UpdatedAt
	if msg.Data.AdminComment != "" {
		r.ReviewComments = msg.Data.AdminComment
	}
	if msg.Data.Error != "" {
		if r.DeploymentLogs != "" {
			r.DeploymentLogs += "\n"
		}
		r.DeploymentLogs += "Error: " + msg.Data.Error
	}
	s.requests[r.ID] = r
	return true
}

func (s *Syncer) upsert(r Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.requests[r.ID]; ok && cur.UpdatedAt.After(r.UpdatedAt) {
		return
	}
	s.requests[r.ID] = r
}

func (s *Syncer) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Syncer) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
