package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
)

type recordingSubscriber struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	sendErr error
}

func (r *recordingSubscriber) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.frames = append(r.frames, payload)
	return nil
}

func (r *recordingSubscriber) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recordingSubscriber) events() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, 0, len(r.frames))
	for _, raw := range r.frames {
		var f Frame
		_ = json.Unmarshal(raw, &f)
		out = append(out, f)
	}
	return out
}

type tokenAuth map[string]domain.Identity

func (t tokenAuth) VerifyToken(_ context.Context, token string) (domain.Identity, error) {
	id, ok := t[token]
	if !ok {
		return domain.Identity{}, errors.New("invalid token")
	}
	return id, nil
}
