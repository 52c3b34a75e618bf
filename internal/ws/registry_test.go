package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
)

var (
	adminIdentity = domain.Identity{UserID: 1, Username: "root", Role: domain.RoleAdmin}
	userIdentity  = domain.Identity{UserID: 2, Username: "ana", Role: domain.RoleUser}
)

func TestRegistryAuthenticateMovesIntoSegment(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("c1", &recordingSubscriber{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := len(reg.MembersOf(SegmentAdmins)); got != 0 {
		t.Fatalf("unauthenticated channel must not be in admins, got %d", got)
	}

	if _, err := reg.Authenticate("c1", adminIdentity); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := reg.Authenticate("c1", adminIdentity); err != nil {
		t.Fatalf("second authenticate: %v", err)
	}
	admins := reg.MembersOf(SegmentAdmins)
	if len(admins) != 1 || admins[0].Identity != adminIdentity {
		t.Fatalf("expected single admin member, got %+v", admins)
	}
	if len(reg.MembersOf(SegmentUsers)) != 0 {
		t.Fatalf("admin leaked into users segment")
	}
}

func TestRegistryReauthenticateSwitchesSegment(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register("c1", &recordingSubscriber{})
	_, _ = reg.Authenticate("c1", userIdentity)
	_, _ = reg.Authenticate("c1", adminIdentity)

	if len(reg.MembersOf(SegmentUsers)) != 0 {
		t.Fatalf("channel still listed in users")
	}
	if len(reg.ChannelsOfUser(userIdentity.UserID)) != 0 {
		t.Fatalf("channel still indexed under previous user")
	}
	if len(reg.ChannelsOfUser(adminIdentity.UserID)) != 1 {
		t.Fatalf("channel missing under new user")
	}
}

func TestRegistryDeauthenticateReturnsToPending(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register("c1", &recordingSubscriber{})
	if reg.Deauthenticate("c1") {
		t.Fatalf("unauthenticated channel has no binding to drop")
	}
	_, _ = reg.Authenticate("c1", userIdentity)

	if !reg.Deauthenticate("c1") {
		t.Fatalf("expected binding to be dropped")
	}
	st := reg.Stats()
	if st.Users != 0 || st.Unauthenticated != 1 || len(st.ConnectedUsers) != 0 {
		t.Fatalf("unexpected stats after deauthenticate: %+v", st)
	}
	if reg.Deauthenticate("ghost") {
		t.Fatalf("unknown channel must be ignored")
	}
}

func TestRegistryUnregisterUnknownIsNoop(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Unregister("ghost"); ok {
		t.Fatalf("expected unknown channel to be ignored")
	}
	if _, err := reg.Authenticate("ghost", userIdentity); err != ErrUnknownConnection {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestRegistryDuplicateRegister(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register("c1", &recordingSubscriber{})
	if err := reg.Register("c1", &recordingSubscriber{}); err != ErrDuplicateConnection {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
}

func TestRegistrySnapshotIsDetached(t *testing.T) {
	reg := NewRegistry()
	_, _ = reg.RegisterAuthenticated("c1", &recordingSubscriber{}, userIdentity)
	snapshot := reg.MembersOf(SegmentUsers)
	reg.Unregister("c1")
	if len(snapshot) != 1 {
		t.Fatalf("snapshot changed after unregister: %d", len(snapshot))
	}
	if len(reg.MembersOf(SegmentUsers)) != 0 {
		t.Fatalf("expected empty segment after unregister")
	}
}

func TestRegistryConcurrentMutations(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			_ = reg.Register(id, &recordingSubscriber{})
			identity := userIdentity
			if i%2 == 0 {
				identity = adminIdentity
			}
			_, _ = reg.Authenticate(id, identity)
			_ = reg.MembersOf(SegmentAdmins)
			if i%5 == 0 {
				reg.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	stats := reg.Stats()
	if stats.Total != 40 {
		t.Fatalf("expected 40 live channels, got %d", stats.Total)
	}
	if stats.Admins+stats.Users != stats.Total {
		t.Fatalf("segments do not add up: %+v", stats)
	}
	if len(stats.ConnectedAdmins) != 1 || len(stats.ConnectedUsers) != 1 {
		t.Fatalf("expected distinct identities per segment, got %+v", stats)
	}
}
