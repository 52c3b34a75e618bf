package ws

import (
	"encoding/json"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
)

// Event names carried in Frame.Event.
const (
	EventAuthenticate        = "authenticate"
	EventAuthenticated       = "authenticated"
	EventAuthError           = "auth_error"
	EventTest                = "test_event"
	EventTestResponse        = "test_response"
	EventError               = "error"
	EventNewRequest          = "new_deployment_request"
	EventRequestStatusUpdate = "request_status_update"
	EventSystemActivity      = "system_activity"
	EventAdminStats          = "admin_stats"
)

// Frame is the JSON envelope exchanged over realtime channels.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthenticatePayload is sent by clients after the channel opens. Only Token
// is trusted; the remaining fields must agree with the verified token.
type AuthenticatePayload struct {
	Token    string      `json:"token"`
	UserID   int64       `json:"userId,omitempty"`
	Username string      `json:"username,omitempty"`
	UserRole domain.Role `json:"userRole,omitempty"`
}

// AuthenticatedPayload acknowledges a bound identity.
type AuthenticatedPayload struct {
	Status   string      `json:"status"`
	UserID   int64       `json:"userId"`
	Username string      `json:"username"`
	UserRole domain.Role `json:"userRole"`
	Segment  Segment     `json:"segment"`
}

// ErrorPayload reports a rejected client message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode marshals an event and its data into a frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
