package ws

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/observability"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Segment is the broadcast audience a connection belongs to.
type Segment string

const (
	SegmentAdmins Segment = "admins"
	SegmentUsers  Segment = "users"
	// segmentPending holds connections that have not authenticated yet.
	segmentPending Segment = "unauthenticated"
)

// SegmentFor maps a role to its audience segment.
func SegmentFor(role domain.Role) Segment {
	if role == domain.RoleAdmin {
		return SegmentAdmins
	}
	return SegmentUsers
}

var (
	// ErrUnknownConnection is returned when a channel id is not registered.
	ErrUnknownConnection = errors.New("ws: unknown connection")
	// ErrDuplicateConnection is returned when a channel id is registered twice.
	ErrDuplicateConnection = errors.New("ws: connection already registered")
)

var liveConnections = observability.Register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "replicas",
	Subsystem: "realtime",
	Name:      "connections",
	Help:      "Live realtime connections by segment",
}, []string{"segment"}))

// Member is a snapshot of one live connection.
type Member struct {
	ID            string
	Identity      domain.Identity
	Segment       Segment
	Authenticated bool
	ConnectedAt   time.Time
	Subscriber    Subscriber
}

// Stats summarises the registry for administrators.
type Stats struct {
	Total           int               `json:"totalConnections"`
	Admins          int               `json:"adminConnections"`
	Users           int               `json:"userConnections"`
	Unauthenticated int               `json:"unauthenticatedConnections"`
	ConnectedAdmins []domain.Identity `json:"connectedAdmins"`
	ConnectedUsers  []domain.Identity `json:"connectedUsers"`
}

// Registry tracks live connections and their segment membership. It is safe
// for concurrent use; readers receive copies and never observe partial updates.
type Registry struct {
	mu       sync.RWMutex
	now      func() time.Time
	conns    map[string]*Member
	segments map[Segment]map[string]struct{}
	byUser   map[int64]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		now:   time.Now,
		conns: make(map[string]*Member),
		segments: map[Segment]map[string]struct{}{
			SegmentAdmins:  {},
			SegmentUsers:   {},
			segmentPending: {},
		},
		byUser: make(map[int64]map[string]struct{}),
	}
}

// Register records a newly opened, unauthenticated channel.
func (r *Registry) Register(id string, sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return ErrDuplicateConnection
	}
	r.conns[id] = &Member{ID: id, Segment: segmentPending, ConnectedAt: r.now().UTC(), Subscriber: sub}
	r.segments[segmentPending][id] = struct{}{}
	liveConnections.WithLabelValues(string(segmentPending)).Inc()
	return nil
}

// RegisterAuthenticated records a channel whose identity was verified when it
// was opened, such as a bearer-authenticated event stream.
func (r *Registry) RegisterAuthenticated(id string, sub Subscriber, identity domain.Identity) (Member, error) {
	if err := r.Register(id, sub); err != nil {
		return Member{}, err
	}
	return r.Authenticate(id, identity)
}

// Authenticate binds identity to the channel and moves it into the segment
// derived from its role. Repeating the call with the same identity is a no-op.
func (r *Registry) Authenticate(id string, identity domain.Identity) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.conns[id]
	if !ok {
		return Member{}, ErrUnknownConnection
	}
	target := SegmentFor(identity.Role)
	if m.Authenticated && m.Identity == identity {
		return *m, nil
	}
	r.detach(m)
	m.Identity = identity
	m.Segment = target
	m.Authenticated = true
	r.attach(m)
	return *m, nil
}

// Deauthenticate drops the identity bound to the channel and moves it back to
// the unauthenticated segment. It reports whether a binding was removed.
func (r *Registry) Deauthenticate(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.conns[id]
	if !ok || !m.Authenticated {
		return false
	}
	r.detach(m)
	m.Identity = domain.Identity{}
	m.Segment = segmentPending
	m.Authenticated = false
	r.attach(m)
	return true
}

// Unregister removes the channel from every index. Unknown ids are ignored.
func (r *Registry) Unregister(id string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.conns[id]
	if !ok {
		return Member{}, false
	}
	r.detach(m)
	delete(r.conns, id)
	return *m, true
}

// Lookup returns the member registered under id.
func (r *Registry) Lookup(id string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.conns[id]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// MembersOf returns a snapshot of the authenticated members of segment.
func (r *Registry) MembersOf(segment Segment) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.segments[segment]
	out := make([]Member, 0, len(ids))
	for id := range ids {
		out = append(out, *r.conns[id])
	}
	sortMembers(out)
	return out
}

// ChannelsOfUser returns a snapshot of every authenticated channel of userID.
func (r *Registry) ChannelsOfUser(userID int64) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byUser[userID]
	out := make([]Member, 0, len(ids))
	for id := range ids {
		out = append(out, *r.conns[id])
	}
	sortMembers(out)
	return out
}

// Stats reports connection counts and identities per segment.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{
		Total:           len(r.conns),
		Admins:          len(r.segments[SegmentAdmins]),
		Users:           len(r.segments[SegmentUsers]),
		Unauthenticated: len(r.segments[segmentPending]),
		ConnectedAdmins: make([]domain.Identity, 0),
		ConnectedUsers:  make([]domain.Identity, 0),
	}
	seen := make(map[int64]bool)
	for _, m := range r.conns {
		if !m.Authenticated || seen[m.Identity.UserID] {
			continue
		}
		seen[m.Identity.UserID] = true
		if m.Segment == SegmentAdmins {
			st.ConnectedAdmins = append(st.ConnectedAdmins, m.Identity)
		} else {
			st.ConnectedUsers = append(st.ConnectedUsers, m.Identity)
		}
	}
	sortIdentities(st.ConnectedAdmins)
	sortIdentities(st.ConnectedUsers)
	return st
}

func (r *Registry) attach(m *Member) {
	r.segments[m.Segment][m.ID] = struct{}{}
	liveConnections.WithLabelValues(string(m.Segment)).Inc()
	if m.Authenticated {
		set, ok := r.byUser[m.Identity.UserID]
		if !ok {
			set = make(map[string]struct{})
			r.byUser[m.Identity.UserID] = set
		}
		set[m.ID] = struct{}{}
	}
}

func (r *Registry) detach(m *Member) {
	delete(r.segments[m.Segment], m.ID)
	liveConnections.WithLabelValues(string(m.Segment)).Dec()
	if m.Authenticated {
		if set, ok := r.byUser[m.Identity.UserID]; ok {
			delete(set, m.ID)
			if len(set) == 0 {
				delete(r.byUser, m.Identity.UserID)
			}
		}
	}
}

func sortMembers(members []Member) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].ConnectedAt.Equal(members[j].ConnectedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].ConnectedAt.Before(members[j].ConnectedAt)
	})
}

func sortIdentities(ids []domain.Identity) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].UserID < ids[j].UserID })
}
