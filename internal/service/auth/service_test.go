package auth

import (
	"context"
	"testing"
	"time"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository/memory"
	"github.com/CarlosSalas01/SistemaDeReplicas/pkg/config"
	jwtpkg "github.com/CarlosSalas01/SistemaDeReplicas/pkg/jwt"
)

type recorded struct {
	entries []domain.ActivityLogEntry
}

func (r *recorded) Record(_ context.Context, entry domain.ActivityLogEntry) {
	r.entries = append(r.entries, entry)
}

func newService(t *testing.T) (Service, *memory.Store, *recorded) {
	t.Helper()
	store := memory.New()
	rec := &recorded{}
	cfg := config.APIConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Hour}
	return New(store, rec, nil, cfg), store, rec
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{Username: "ana", Email: "Ana@Example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if session.User.Role != domain.RoleUser || session.User.Email != "ana@example.com" {
		t.Fatalf("unexpected user: %+v", session.User)
	}
	if session.Token == "" {
		t.Fatalf("expected token")
	}

	for _, login := range []string{"ana", "ana@example.com"} {
		s, err := svc.Login(ctx, LoginInput{Login: login, Password: "secret1"})
		if err != nil {
			t.Fatalf("login %q: %v", login, err)
		}
		if s.User.LastLogin == nil {
			t.Fatalf("last login not stamped")
		}
	}
	if len(rec.entries) != 2 || rec.entries[0].EventType != domain.EventUserLogin {
		t.Fatalf("expected two login entries, got %+v", rec.entries)
	}
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterInput{Username: "ana", Email: "ana@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Username: "ana", Email: "other@example.com", Password: "secret1"}); domain.KindOf(err) != domain.KindConflict {
		t.Fatalf("expected Conflict, got %v", err)
	}
	cases := []RegisterInput{
		{Username: "an", Email: "a@example.com", Password: "secret1"},
		{Username: "bob", Email: "not-an-email", Password: "secret1"},
		{Username: "bob", Email: "b@example.com", Password: "123"},
		{Username: "bob", Email: "b@example.com", Password: "secret1", Role: "root"},
	}
	for _, in := range cases {
		if _, err := svc.Register(ctx, in); domain.KindOf(err) != domain.KindValidation {
			t.Fatalf("expected Validation for %+v, got %v", in, err)
		}
	}
}

func TestLoginFailures(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Login(ctx, LoginInput{Login: "ghost", Password: "x"}); domain.KindOf(err) != domain.KindUnauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	session, _ := svc.Register(ctx, RegisterInput{Username: "ana", Email: "ana@example.com", Password: "secret1"})
	if _, err := svc.Login(ctx, LoginInput{Login: "ana", Password: "wrong"}); domain.KindOf(err) != domain.KindUnauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	store.SetActive(session.User.ID, false)
	if _, err := svc.Login(ctx, LoginInput{Login: "ana", Password: "secret1"}); domain.KindOf(err) != domain.KindAuthorization {
		t.Fatalf("expected Authorization for disabled account, got %v", err)
	}
	if _, err := svc.VerifyToken(ctx, session.Token); domain.KindOf(err) != domain.KindUnauthenticated {
		t.Fatalf("disabled account token should not verify, got %v", err)
	}
}

func TestVerifyTokenUsesStoredRole(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	session, _ := svc.Register(ctx, RegisterInput{Username: "ana", Email: "ana@example.com", Password: "secret1"})

	forged, err := jwtpkg.GenerateToken(session.User.ID, "ana", "admin", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id, err := svc.VerifyToken(ctx, forged)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Role != domain.RoleUser {
		t.Fatalf("expected stored role user, got %s", id.Role)
	}

	if _, err := svc.VerifyToken(ctx, "garbage"); domain.KindOf(err) != domain.KindUnauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if _, err := svc.VerifyToken(ctx, ""); domain.KindOf(err) != domain.KindUnauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestChangePasswordAndLogout(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()
	session, _ := svc.Register(ctx, RegisterInput{Username: "ana", Email: "ana@example.com", Password: "secret1"})
	actor := session.User.Identity()

	if err := svc.ChangePassword(ctx, actor, ChangePasswordInput{CurrentPassword: "nope", NewPassword: "secret2"}); domain.KindOf(err) != domain.KindUnauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if err := svc.ChangePassword(ctx, actor, ChangePasswordInput{CurrentPassword: "secret1", NewPassword: "secret2"}); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := svc.Login(ctx, LoginInput{Login: "ana", Password: "secret2"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	if err := svc.Logout(ctx, actor); err != nil {
		t.Fatalf("logout: %v", err)
	}
	last := rec.entries[len(rec.entries)-1]
	if last.EventType != domain.EventUserLogout || last.UserID == nil || *last.UserID != actor.UserID {
		t.Fatalf("unexpected logout entry: %+v", last)
	}
	if err := svc.Logout(ctx, domain.Identity{}); domain.KindOf(err) != domain.KindUnauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}
