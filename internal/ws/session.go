package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
)

// Authenticator verifies bearer tokens presented on realtime channels.
type Authenticator interface {
	VerifyToken(ctx context.Context, token string) (domain.Identity, error)
}

// SessionConfig carries the collaborators shared by every session.
type SessionConfig struct {
	Registry          *Registry
	Auth              Authenticator
	Logger            *slog.Logger
	MessagesPerSecond int
	// OnAuthenticated runs after the authenticated acknowledgement is queued.
	OnAuthenticated func(ctx context.Context, member Member)
}

// Session handles inbound frames of one realtime channel.
type Session struct {
	id      string
	sub     Subscriber
	cfg     SessionConfig
	limiter *rate.Limiter
	log     *slog.Logger
	now     func() time.Time
}

// NewSession binds a channel id and its subscriber to the shared config.
func NewSession(cfg SessionConfig, id string, sub Subscriber) *Session {
	mps := cfg.MessagesPerSecond
	if mps <= 0 {
		mps = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:      id,
		sub:     sub,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(mps), mps*2),
		log:     logger.With("connection_id", id),
		now:     time.Now,
	}
}

// ID returns the channel id.
func (s *Session) ID() string { return s.id }

// Serve registers the channel, reads frames until the connection fails and
// unregisters on exit. The caller owns the write side (Client.WritePump).
func (s *Session) Serve(ctx context.Context, conn *websocket.Conn) {
	if err := s.cfg.Registry.Register(s.id, s.sub); err != nil {
		s.log.Error("register connection failed", "error", err)
		s.sub.Close()
		return
	}
	s.log.Info("realtime connection opened")
	defer func() {
		member, _ := s.cfg.Registry.Unregister(s.id)
		s.sub.Close()
		s.log.Info("realtime connection closed", "user_id", member.Identity.UserID, "segment", member.Segment)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.Handle(ctx, payload)
	}
}

// Handle processes one inbound frame.
func (s *Session) Handle(ctx context.Context, payload []byte) {
	if !s.limiter.Allow() {
		s.reply(EventError, ErrorPayload{Message: "rate limit exceeded"})
		return
	}
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		s.reply(EventError, ErrorPayload{Message: "malformed frame"})
		return
	}
	switch frame.Event {
	case EventAuthenticate:
		s.authenticate(ctx, frame.Data)
	case EventTest:
		s.reply(EventTestResponse, map[string]any{
			"message":   "Test event received",
			"timestamp": s.now().UTC(),
		})
	default:
		s.reply(EventError, ErrorPayload{Message: "unsupported event " + frame.Event})
	}
}

func (s *Session) authenticate(ctx context.Context, raw json.RawMessage) {
	var req AuthenticatePayload
	if err := json.Unmarshal(raw, &req); err != nil || req.Token == "" {
		s.rejectAuth("token required")
		return
	}
	identity, err := s.cfg.Auth.VerifyToken(ctx, req.Token)
	if err != nil {
		s.log.Warn("realtime authentication failed", "error", err)
		s.rejectAuth("invalid token")
		return
	}
	if err := claimsMatch(req, identity); err != nil {
		s.log.Warn("realtime identity mismatch", "error", err, "user_id", identity.UserID)
		s.rejectAuth(err.Error())
		return
	}
	member, err := s.cfg.Registry.Authenticate(s.id, identity)
	if err != nil {
		s.log.Warn("bind identity failed", "error", err)
		s.reply(EventAuthError, ErrorPayload{Message: "connection not registered"})
		return
	}
	s.log.Info("realtime connection authenticated", "user_id", identity.UserID, "segment", member.Segment)
	s.reply(EventAuthenticated, AuthenticatedPayload{
		Status:   "success",
		UserID:   identity.UserID,
		Username: identity.Username,
		UserRole: identity.Role,
		Segment:  member.Segment,
	})
	if s.cfg.OnAuthenticated != nil {
		s.cfg.OnAuthenticated(ctx, member)
	}
}

// rejectAuth answers a failed authenticate. A channel that was already bound
// loses its identity and stops receiving targeted events.
func (s *Session) rejectAuth(msg string) {
	if s.cfg.Registry.Deauthenticate(s.id) {
		s.log.Info("realtime connection unbound after failed authentication")
	}
	s.reply(EventAuthError, ErrorPayload{Message: msg})
}

func claimsMatch(req AuthenticatePayload, identity domain.Identity) error {
	if req.UserID != 0 && req.UserID != identity.UserID {
		return errors.New("userId does not match token")
	}
	if req.Username != "" && req.Username != identity.Username {
		return errors.New("username does not match token")
	}
	if req.UserRole != "" && req.UserRole != identity.Role {
		return errors.New("userRole does not match token")
	}
	return nil
}

func (s *Session) reply(event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		s.log.Error("encode frame failed", "error", err, "event", event)
		return
	}
	if err := s.sub.Send(frame); err != nil {
		s.log.Debug("reply dropped", "error", err, "event", event)
	}
}
