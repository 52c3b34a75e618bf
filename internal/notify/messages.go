package notify

import (
	"fmt"
	"time"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
)

// NewRequestMessage is the payload of new_deployment_request.
type NewRequestMessage struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Data      NewRequestData `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewRequestData summarises a freshly uploaded request for reviewers.
type NewRequestData struct {
	ID              int64              `json:"id"`
	FileName        string             `json:"fileName"`
	FileSize        int64              `json:"fileSize"`
	Username        string             `json:"username"`
	TargetServer    string             `json:"targetServer"`
	ApplicationName string             `json:"applicationName"`
	Priority        domain.Priority    `json:"priority"`
	Environment     domain.Environment `json:"environment"`
	CreatedAt       time.Time          `json:"createdAt"`
}

// StatusUpdateMessage is the payload of request_status_update.
type StatusUpdateMessage struct {
	Type      string           `json:"type"`
	Message   string           `json:"message"`
	Data      StatusUpdateData `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// StatusUpdateData carries the new state of one request.
type StatusUpdateData struct {
	RequestID    int64                `json:"requestId"`
	FileName     string               `json:"fileName"`
	Status       domain.RequestStatus `json:"status"`
	StatusColor  string               `json:"statusColor"`
	AdminComment string               `json:"adminComment,omitempty"`
	Error        string               `json:"error,omitempty"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// ActivityMessage is the payload of system_activity.
type ActivityMessage struct {
	Type      string         `json:"type"`
	EventType string         `json:"eventType"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// AdminStatsMessage is the payload of admin_stats.
type AdminStatsMessage struct {
	ConnectedUsers  int       `json:"connectedUsers"`
	ConnectedAdmins int       `json:"connectedAdmins"`
	PendingRequests int       `json:"pendingRequests"`
	Timestamp       time.Time `json:"timestamp"`
}

func newRequestMessage(r domain.DeploymentRequest, now time.Time) NewRequestMessage {
	return NewRequestMessage{
		Type:    "new_request",
		Message: fmt.Sprintf("New deployment request from %s: %s", r.Username, r.ApplicationName),
		Data: NewRequestData{
			ID:              r.ID,
			FileName:        r.FileName,
			FileSize:        r.FileSize,
			Username:        r.Username,
			TargetServer:    r.TargetServer,
			ApplicationName: r.ApplicationName,
			Priority:        r.Priority,
			Environment:     r.Environment,
			CreatedAt:       r.CreatedAt,
		},
		Timestamp: now,
	}
}

func statusUpdateMessage(r domain.DeploymentRequest, comment string, now time.Time) StatusUpdateMessage {
	return StatusUpdateMessage{
		Type:    "status_update",
		Message: statusText(r),
		Data: StatusUpdateData{
			RequestID:    r.ID,
			FileName:     r.FileName,
			Status:       r.Status,
			StatusColor:  r.Status.Color(),
			AdminComment: comment,
			UpdatedAt:    r.UpdatedAt,
		},
		Timestamp: now,
	}
}

func statusText(r domain.DeploymentRequest) string {
	switch r.Status {
	case domain.StatusReviewing:
		return fmt.Sprintf("Your request for %s is under review", r.FileName)
	case domain.StatusApproved:
		return fmt.Sprintf("Your request for %s was approved", r.FileName)
	case domain.StatusRejected:
		return fmt.Sprintf("Your request for %s was rejected", r.FileName)
	case domain.StatusDeploying:
		return fmt.Sprintf("Deployment of %s has started", r.FileName)
	case domain.StatusDeployed:
		return fmt.Sprintf("%s was deployed successfully", r.FileName)
	case domain.StatusFailed:
		return fmt.Sprintf("Deployment of %s failed", r.FileName)
	default:
		return fmt.Sprintf("Your request for %s is %s", r.FileName, r.Status)
	}
}

func activityMessage(eventType, message string, data map[string]any, now time.Time) ActivityMessage {
	return ActivityMessage{Type: "activity", EventType: eventType, Message: message, Data: data, Timestamp: now}
}
