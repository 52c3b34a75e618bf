package ws

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// streamWriter is a concurrency-safe http.ResponseWriter. Writes wait on gate
// when it is set.
type streamWriter struct {
	mu     sync.Mutex
	header http.Header
	buf    bytes.Buffer
	gate   chan struct{}
}

func (s *streamWriter) Header() http.Header {
	if s.header == nil {
		s.header = http.Header{}
	}
	return s.header
}

func (s *streamWriter) WriteHeader(int) {}

func (s *streamWriter) Write(p []byte) (int, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *streamWriter) Flush() {}

func (s *streamWriter) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestSSEClientWritesNamedEvents(t *testing.T) {
	w := &streamWriter{}
	client := NewSSEClient(w, w, slog.Default(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.WriteLoop(ctx, 10*time.Millisecond)
	}()

	payload, err := Encode(EventTestResponse, map[string]string{"ok": "yes"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := client.Send(payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		out := w.String()
		if strings.Contains(out, "event: "+EventTestResponse+"\n") && strings.Contains(out, ": ping\n\n") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	out := w.String()
	if !strings.Contains(out, "event: "+EventTestResponse+"\ndata: "+string(payload)+"\n\n") {
		t.Fatalf("expected named event in stream, got %q", out)
	}
	if !strings.Contains(out, ": ping\n\n") {
		t.Fatalf("expected heartbeat in stream, got %q", out)
	}

	cancel()
	<-done
	if err := client.Send(payload); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed after loop exit, got %v", err)
	}
}

func TestSSEClientSendDoesNotBlockOnStalledWriter(t *testing.T) {
	w := &streamWriter{gate: make(chan struct{})}
	client := NewSSEClient(w, w, slog.Default(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.WriteLoop(ctx, time.Hour)
	defer close(w.gate)

	payload, _ := Encode(EventNewRequest, map[string]int{"requestId": 1})
	start := time.Now()
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = client.Send(payload)
		time.Sleep(5 * time.Millisecond)
	}
	if !errors.Is(err, ErrSlowConsumer) {
		t.Fatalf("expected ErrSlowConsumer once the buffer fills, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Send blocked for %s behind a stalled writer", elapsed)
	}
}
