package domain

import (
	"encoding/json"
	"time"
)

// EventType classifies activity log entries.
type EventType string

const (
	EventWarUpload           EventType = "war_upload"
	EventReviewStarted       EventType = "review_started"
	EventRequestApproved     EventType = "request_approved"
	EventRequestRejected     EventType = "request_rejected"
	EventDeploymentStarted   EventType = "deployment_started"
	EventDeploymentCompleted EventType = "deployment_completed"
	EventDeploymentFailed    EventType = "deployment_failed"
	EventUserLogin           EventType = "user_login"
	EventUserLogout          EventType = "user_logout"
	EventFileDownloaded      EventType = "file_downloaded"
)

// EventTypes is the closed set of activity event types.
var EventTypes = []EventType{
	EventWarUpload,
	EventReviewStarted,
	EventRequestApproved,
	EventRequestRejected,
	EventDeploymentStarted,
	EventDeploymentCompleted,
	EventDeploymentFailed,
	EventUserLogin,
	EventUserLogout,
	EventFileDownloaded,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ActivityLogEntry is an append-only audit record.
type ActivityLogEntry struct {
	ID                  int64           `json:"id"`
	EventType           EventType       `json:"eventType"`
	Description         string          `json:"description"`
	UserID              *int64          `json:"userId,omitempty"`
	Username            string          `json:"username,omitempty"`
	UserRole            Role            `json:"userRole,omitempty"`
	DeploymentRequestID *int64          `json:"deploymentRequestId,omitempty"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
	IPAddress           string          `json:"ipAddress,omitempty"`
	UserAgent           string          `json:"userAgent,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// ActivityFilter narrows activity listings.
type ActivityFilter struct {
	EventType           EventType
	UserID              int64
	UserRole            Role
	DeploymentRequestID int64
	Since               time.Time
	Limit               int
	Offset              int
}

// EventCount pairs an event type with its occurrences.
type EventCount struct {
	EventType EventType `json:"eventType"`
	Count     int       `json:"count"`
}
