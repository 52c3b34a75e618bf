package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/validation"
	"github.com/CarlosSalas01/SistemaDeReplicas/pkg/config"
	"github.com/CarlosSalas01/SistemaDeReplicas/pkg/crypto"
	jwtpkg "github.com/CarlosSalas01/SistemaDeReplicas/pkg/jwt"
)

// Recorder receives login and logout activity.
type Recorder interface {
	Record(ctx context.Context, entry domain.ActivityLogEntry)
}

// Service handles authentication workflows.
type Service struct {
	users    repository.UserRepository
	activity Recorder
	logger   *slog.Logger
	cfg      config.APIConfig
	now      func() time.Time
}

// New constructs a Service.
func New(users repository.UserRepository, activity Recorder, logger *slog.Logger, cfg config.APIConfig) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{users: users, activity: activity, logger: logger, cfg: cfg, now: time.Now}
}

// Session is the result of a successful register or login.
type Session struct {
	User      *domain.User  `json:"user"`
	Token     string        `json:"token"`
	ExpiresIn time.Duration `json:"-"`
}

// RegisterInput carries the fields accepted by Register.
type RegisterInput struct {
	Username string      `json:"username" validate:"required,min=3,max=50"`
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required,min=6"`
	Role     domain.Role `json:"role" validate:"omitempty,oneof=admin user"`
}

// Register creates an account and issues a token for it.
func (s Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	const op = "register"
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validation.Struct(op, in); err != nil {
		return Session{}, err
	}
	if in.Role == "" {
		in.Role = domain.RoleUser
	}
	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return Session{}, domain.ConflictError(op, "username or email already exists")
		}
		return Session{}, domain.PersistenceError(op, err)
	}
	session, err := s.issue(user)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "role", user.Role)
	return session, nil
}

// LoginInput accepts either a username or an email in Login.
type LoginInput struct {
	Login    string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login authenticates by username or email and issues a token.
func (s Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	const op = "login"
	in.Login = strings.TrimSpace(in.Login)
	if err := validation.Struct(op, in); err != nil {
		return Session{}, err
	}
	user, err := s.users.GetUserByLogin(ctx, in.Login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, domain.UnauthenticatedError(op, "invalid credentials")
		}
		return Session{}, domain.PersistenceError(op, err)
	}
	if err := crypto.ComparePassword(user.PasswordHash, in.Password); err != nil {
		if !errors.Is(err, crypto.ErrPasswordMismatch) {
			s.logger.Error("stored password hash unusable", "error", err, "user_id", user.ID)
		}
		return Session{}, domain.UnauthenticatedError(op, "invalid credentials")
	}
	if !user.IsActive {
		return Session{}, domain.AuthorizationError(op, "account is disabled")
	}
	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("update last login failed", "user_id", user.ID, "error", err)
	} else {
		user.LastLogin = &now
	}
	session, err := s.issue(user)
	if err != nil {
		return Session{}, err
	}
	s.record(ctx, user.Identity(), domain.EventUserLogin, fmt.Sprintf("%s logged in", user.Username))
	s.logger.Info("user logged in", "user_id", user.ID)
	return session, nil
}

// Logout records the end of a session. Tokens are stateless and stay valid
// until they expire.
func (s Service) Logout(ctx context.Context, actor domain.Identity) error {
	if actor.IsZero() {
		return domain.UnauthenticatedError("logout", "authentication required")
	}
	s.record(ctx, actor, domain.EventUserLogout, fmt.Sprintf("%s logged out", actor.Username))
	return nil
}

// Profile returns the account behind actor.
func (s Service) Profile(ctx context.Context, actor domain.Identity) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFoundError("profile", "user not found")
		}
		return nil, domain.PersistenceError("profile", err)
	}
	return user, nil
}

// ChangePasswordInput carries the current and replacement passwords.
type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
}

// ChangePassword replaces the password after checking the current one.
func (s Service) ChangePassword(ctx context.Context, actor domain.Identity, in ChangePasswordInput) error {
	const op = "change password"
	if err := validation.Struct(op, in); err != nil {
		return err
	}
	user, err := s.Profile(ctx, actor)
	if err != nil {
		return err
	}
	if err := crypto.ComparePassword(user.PasswordHash, in.CurrentPassword); err != nil {
		return domain.UnauthenticatedError(op, "current password is incorrect")
	}
	hash, err := crypto.HashPassword(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return domain.PersistenceError(op, err)
	}
	s.logger.Info("password changed", "user_id", user.ID)
	return nil
}

// ValidateToken checks token and returns the active account it names.
func (s Service) ValidateToken(ctx context.Context, token string) (*domain.User, error) {
	const op = "validate token"
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, domain.UnauthenticatedError(op, "token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, domain.UnauthenticatedError(op, "invalid or expired token")
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.UnauthenticatedError(op, "user no longer exists")
		}
		return nil, domain.PersistenceError(op, err)
	}
	if !user.IsActive {
		return nil, domain.UnauthenticatedError(op, "account is disabled")
	}
	return user, nil
}

// VerifyToken resolves token to the identity stored for its user. The stored
// role wins over whatever the token claims.
func (s Service) VerifyToken(ctx context.Context, token string) (domain.Identity, error) {
	user, err := s.ValidateToken(ctx, token)
	if err != nil {
		return domain.Identity{}, err
	}
	return user.Identity(), nil
}

func (s Service) issue(user *domain.User) (Session, error) {
	token, err := jwtpkg.GenerateToken(user.ID, user.Username, string(user.Role), s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{User: user, Token: token, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}

func (s Service) record(ctx context.Context, actor domain.Identity, event domain.EventType, description string) {
	if s.activity == nil {
		return
	}
	id := actor.UserID
	s.activity.Record(ctx, domain.ActivityLogEntry{
		EventType:   event,
		Description: description,
		UserID:      &id,
		Username:    actor.Username,
		UserRole:    actor.Role,
	})
}
