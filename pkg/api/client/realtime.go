package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Realtime event names.
const (
	EventAuthenticate        = "authenticate"
	EventAuthenticated       = "authenticated"
	EventAuthError           = "auth_error"
	EventTest                = "test_event"
	EventTestResponse        = "test_response"
	EventNewRequest          = "new_deployment_request"
	EventRequestStatusUpdate = "request_status_update"
	EventSystemActivity      = "system_activity"
	EventAdminStats          = "admin_stats"
)

// ErrAuthRejected is returned when the server answers the handshake with auth_error.
var ErrAuthRejected = errors.New("realtime authentication rejected")

// Frame is one realtime message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Authenticated acknowledges a successful handshake.
type Authenticated struct {
	Status   string `json:"status"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	UserRole string `json:"userRole"`
	Segment  string `json:"segment"`
}

// StatusUpdate is the payload of request_status_update.
type StatusUpdate struct {
	Message string `json:"message"`
	Data    struct {
		RequestID    int64     `json:"requestId"`
		FileName     string    `json:"fileName"`
		Status       string    `json:"status"`
		StatusColor  string    `json:"statusColor"`
		AdminComment string    `json:"adminComment,omitempty"`
		Error        string    `json:"error,omitempty"`
		UpdatedAt    time.Time `json:"updatedAt"`
	} `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRequest is the payload of new_deployment_request.
type NewRequest struct {
	Message string `json:"message"`
	Data    struct {
		ID              int64     `json:"id"`
		FileName        string    `json:"fileName"`
		FileSize        int64     `json:"fileSize"`
		Username        string    `json:"username"`
		TargetServer    string    `json:"targetServer"`
		ApplicationName string    `json:"applicationName"`
		Priority        string    `json:"priority"`
		Environment     string    `json:"environment"`
		CreatedAt       time.Time `json:"createdAt"`
	} `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Request converts the announcement into a pending request.
func (n NewRequest) Request() Request {
	return Request{
		ID:              n.Data.ID,
		Username:        n.Data.Username,
		FileName:        n.Data.FileName,
		FileSize:        n.Data.FileSize,
		TargetServer:    n.Data.TargetServer,
		ApplicationName: n.Data.ApplicationName,
		Status:          StatusPending,
		Priority:        n.Data.Priority,
		Environment:     n.Data.Environment,
		CreatedAt:       n.Data.CreatedAt,
		UpdatedAt:       n.Data.CreatedAt,
	}
}

// SystemActivity is the payload of system_activity.
type SystemActivity struct {
	EventType string         `json:"eventType"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// AdminStats is the payload of admin_stats.
type AdminStats struct {
	ConnectedUsers  int       `json:"connectedUsers"`
	ConnectedAdmins int       `json:"connectedAdmins"`
	PendingRequests int       `json:"pendingRequests"`
	Timestamp       time.Time `json:"timestamp"`
}

// Conn is an authenticated realtime connection.
type Conn struct {
	ws       *websocket.Conn
	identity Authenticated
	writeMu  sync.Mutex
}

// Identity returns the acknowledged identity.
func (c *Conn) Identity() Authenticated { return c.identity }

// RealtimeURL derives the websocket endpoint from the API base URL.
func (c *Client) RealtimeURL() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket"
	return u.String()
}

// DialRealtime opens the websocket channel and completes the authenticate
// handshake. Frames received before the acknowledgement are discarded.
func (c *Client) DialRealtime(ctx context.Context, token string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	ws, _, err := dialer.DialContext(ctx, c.RealtimeURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	conn := &Conn{ws: ws}
	if err := conn.Send(EventAuthenticate, map[string]string{"token": token}); err != nil {
		ws.Close()
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = ws.SetReadDeadline(time.Now()) })
	defer stop()
	for {
		frame, err := conn.Next()
		if err != nil {
			ws.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		switch frame.Event {
		case EventAuthenticated:
			if err := json.Unmarshal(frame.Data, &conn.identity); err != nil {
				ws.Close()
				return nil, fmt.Errorf("decode authenticated: %w", err)
			}
			return conn, nil
		case EventAuthError:
			ws.Close()
			var payload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(frame.Data, &payload)
			return nil, fmt.Errorf("%w: %s", ErrAuthRejected, payload.Message)
		}
	}
}

// Send writes one frame.
func (c *Conn) Send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteJSON(Frame{Event: event, Data: raw}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Next blocks until the next frame arrives or the connection fails.
func (c *Conn) Next() (Frame, error) {
	var frame Frame
	if err := c.ws.ReadJSON(&frame); err != nil {
		return Frame{}, fmt.Errorf("read frame: %w", err)
	}
	return frame, nil
}

// Close terminates the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
