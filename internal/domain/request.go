package domain

import "time"

// RequestStatus is the lifecycle state of a deployment request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusReviewing RequestStatus = "reviewing"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusDeploying RequestStatus = "deploying"
	StatusDeployed  RequestStatus = "deployed"
	StatusFailed    RequestStatus = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []RequestStatus{
	StatusPending,
	StatusReviewing,
	StatusApproved,
	StatusRejected,
	StatusDeploying,
	StatusDeployed,
	StatusFailed,
}

// Valid reports whether s belongs to the closed status set.
func (s RequestStatus) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s RequestStatus) Terminal() bool {
	return s == StatusRejected || s == StatusDeployed || s == StatusFailed
}

// Color is the display hint sent with status notifications.
func (s RequestStatus) Color() string {
	switch s {
	case StatusReviewing:
		return "blue"
	case StatusApproved, StatusDeployed:
		return "green"
	case StatusRejected, StatusFailed:
		return "red"
	case StatusDeploying:
		return "yellow"
	default:
		return "gray"
	}
}

// Priority ranks requests for reviewers.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists accepted priorities.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

// Environment is the target stage of a deployment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
)

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	return e == EnvDevelopment || e == EnvTesting || e == EnvStaging
}

// DeploymentRequest is a user submission asking for a WAR to be deployed.
type DeploymentRequest struct {
	ID                    int64         `json:"id"`
	UserID                int64         `json:"userId"`
	Username              string        `json:"username"`
	FileName              string        `json:"fileName"`
	FilePath              string        `json:"-"`
	FileSize              int64         `json:"fileSize"`
	TargetServer          string        `json:"targetServer"`
	ApplicationName       string        `json:"applicationName"`
	Description           string        `json:"description,omitempty"`
	Status                RequestStatus `json:"status"`
	Priority              Priority      `json:"priority"`
	Environment           Environment   `json:"environment"`
	ReviewedBy            *int64        `json:"reviewedBy,omitempty"`
	ReviewedByUsername    string        `json:"reviewedByUsername,omitempty"`
	ReviewedAt            *time.Time    `json:"reviewedAt,omitempty"`
	ReviewComments        string        `json:"reviewComments,omitempty"`
	DeploymentStartedAt   *time.Time    `json:"deploymentStartedAt,omitempty"`
	DeploymentCompletedAt *time.Time    `json:"deploymentCompletedAt,omitempty"`
	DeploymentLogs        string        `json:"deploymentLogs,omitempty"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

// OwnedBy reports whether the identity submitted the request.
func (r DeploymentRequest) OwnedBy(id Identity) bool {
	return r.UserID == id.UserID
}

// RequestTransition describes a conditional status change. The store applies
// it only while the current status is one of From.
type RequestTransition struct {
	RequestID        int64
	From             []RequestStatus
	To               RequestStatus
	At               time.Time
	ReviewerID       *int64
	ReviewerUsername string
	ReviewComments   *string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	AppendLog        string
}

// RequestFilter narrows request listings. Zero values mean no constraint.
type RequestFilter struct {
	UserID   int64
	Status   RequestStatus
	Priority Priority
	Limit    int
	Offset   int
}

// RequestStats summarises the request table for administrators.
type RequestStats struct {
	ByStatus        map[RequestStatus]int `json:"byStatus"`
	ByPriority      map[Priority]int      `json:"byPriority"`
	TodayRequests   int                   `json:"todayRequests"`
	PendingRequests int                   `json:"pendingRequests"`
}
