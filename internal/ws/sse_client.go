package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient streams realtime frames as Server-Sent Events. Like Client, Send
// only queues; WriteLoop owns the response writer.
type SSEClient struct {
	writer    io.Writer
	flusher   http.Flusher
	control   *http.ResponseController
	log       *slog.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	last time.Time
}

// NewSSEClient builds an SSE client over an HTTP response with the given
// outbound buffer.
func NewSSEClient(w http.ResponseWriter, flusher http.Flusher, logger *slog.Logger, buffer int) *SSEClient {
	if buffer <= 0 {
		buffer = 32
	}
	return &SSEClient{
		writer:  w,
		flusher: flusher,
		control: http.NewResponseController(w),
		log:     logger,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		last:    time.Now().UTC(),
	}
}

// Send queues a frame for the stream.
func (c *SSEClient) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSlowConsumer
	}
}

// WriteLoop writes queued frames as named SSE events and emits a comment
// frame every heartbeat. It returns when ctx ends, the client is closed or a
// write fails, and closes the client on the way out.
func (c *SSEClient) WriteLoop(ctx context.Context, heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.write(fmt.Sprintf("event: %s\ndata: %s\n\n", eventName(payload), payload)); err != nil {
				c.log.Warn("sse send failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.write(": ping\n\n"); err != nil {
				c.log.Warn("sse heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (c *SSEClient) write(chunk string) error {
	_ = c.control.SetWriteDeadline(time.Now().Add(writeWait))
	if _, err := io.WriteString(c.writer, chunk); err != nil {
		return err
	}
	c.flusher.Flush()
	c.mu.Lock()
	c.last = time.Now().UTC()
	c.mu.Unlock()
	return nil
}

func eventName(payload []byte) string {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err == nil && frame.Event != "" {
		return frame.Event
	}
	return "message"
}

// Close marks the stream as closed. Queued frames are discarded.
func (c *SSEClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the stream has been closed.
func (c *SSEClient) Done() <-chan struct{} { return c.done }

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
