package httpx

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/ws"
)

// handleSocket upgrades to a WebSocket channel. The channel starts
// unauthenticated and binds an identity through the authenticate frame.
func (r *Router) handleSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	id := uuid.NewString()
	client := ws.NewClient(conn, r.logger, r.opts.WSSendBuffer)
	go client.WritePump()
	ws.NewSession(r.sessions, id, client).Serve(req.Context(), conn)
}

// handleEvents streams the same frames over Server-Sent Events. The identity
// is verified when the stream opens.
func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	ctx, identity, ok := r.ensureAuth(w, req, true)
	if !ok {
		return
	}
	if setter, ok := w.(contextSetter); ok {
		setter.SetContext(ctx)
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id := uuid.NewString()
	client := ws.NewSSEClient(w, flusher, r.logger.With("connection_id", id), r.opts.WSSendBuffer)
	member, err := r.registry.RegisterAuthenticated(id, client, identity)
	if err != nil {
		r.logger.Error("register sse stream failed", "error", err)
		return
	}
	log := r.logger.With("connection_id", id, "user_id", identity.UserID)
	log.Info("sse stream opened", "segment", member.Segment)
	defer func() {
		r.registry.Unregister(id)
		client.Close()
		log.Info("sse stream closed")
	}()

	if frame, err := ws.Encode(ws.EventAuthenticated, ws.AuthenticatedPayload{
		Status:   "success",
		UserID:   identity.UserID,
		Username: identity.Username,
		UserRole: identity.Role,
		Segment:  member.Segment,
	}); err == nil {
		_ = client.Send(frame)
	}
	if r.dispatcher != nil {
		r.dispatcher.Welcome(ctx, member)
	}

	client.WriteLoop(ctx, sseHeartbeat)
}

func (r *Router) handleConnections(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Data: r.registry.Stats()})
}
