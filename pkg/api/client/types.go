package client

import (
	"encoding/json"
	"time"
)

// Request lifecycle states as reported by the API.
const (
	StatusPending   = "pending"
	StatusReviewing = "reviewing"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusDeploying = "deploying"
	StatusDeployed  = "deployed"
	StatusFailed    = "failed"
)

// User is an account as returned by the API.
type User struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	IsActive  bool       `json:"isActive"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// IsAdmin reports whether the account holds the administrator role.
func (u User) IsAdmin() bool { return u.Role == "admin" }

// Identity is the subject a token resolves to.
type Identity struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"userRole"`
}

// Request is a deployment request.
type Request struct {
	ID                    int64      `json:"id"`
	UserID                int64      `json:"userId"`
	Username              string     `json:"username"`
	FileName              string     `json:"fileName"`
	FileSize              int64      `json:"fileSize"`
	TargetServer          string     `json:"targetServer"`
	ApplicationName       string     `json:"applicationName"`
	Description           string     `json:"description,omitempty"`
	Status                string     `json:"status"`
	Priority              string     `json:"priority"`
	Environment           string     `json:"environment"`
	ReviewedBy            *int64     `json:"reviewedBy,omitempty"`
	ReviewedByUsername    string     `json:"reviewedByUsername,omitempty"`
	ReviewedAt            *time.Time `json:"reviewedAt,omitempty"`
	ReviewComments        string     `json:"reviewComments,omitempty"`
	DeploymentStartedAt   *time.Time `json:"deploymentStartedAt,omitempty"`
	DeploymentCompletedAt *time.Time `json:"deploymentCompletedAt,omitempty"`
	DeploymentLogs        string     `json:"deploymentLogs,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Pagination describes the position of a page in a listing.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// RequestStats aggregates request counts.
type RequestStats struct {
	ByStatus        map[string]int `json:"byStatus"`
	ByPriority      map[string]int `json:"byPriority"`
	TodayRequests   int            `json:"todayRequests"`
	PendingRequests int            `json:"pendingRequests"`
}

// StuckDeployment is a request that has been deploying for too long.
type StuckDeployment struct {
	Request Request `json:"request"`
	Minutes int     `json:"minutesDeploying"`
}

// ActivityEntry is one audit log record.
type ActivityEntry struct {
	ID                  int64           `json:"id"`
	EventType           string          `json:"eventType"`
	Description         string          `json:"description"`
	UserID              *int64          `json:"userId,omitempty"`
	Username            string          `json:"username,omitempty"`
	UserRole            string          `json:"userRole,omitempty"`
	DeploymentRequestID *int64          `json:"deploymentRequestId,omitempty"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
	IPAddress           string          `json:"ipAddress,omitempty"`
	UserAgent           string          `json:"userAgent,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// EventCount is the number of entries of one event type.
type EventCount struct {
	EventType string `json:"eventType"`
	Count     int    `json:"count"`
}

// ActivityStats summarises the activity log over a period.
type ActivityStats struct {
	Period string       `json:"period"`
	Since  *time.Time   `json:"since,omitempty"`
	Total  int          `json:"total"`
	ByType []EventCount `json:"byEventType"`
}

// ConnectionStats reports realtime connection counts.
type ConnectionStats struct {
	Total           int        `json:"totalConnections"`
	Admins          int        `json:"adminConnections"`
	Users           int        `json:"userConnections"`
	Unauthenticated int        `json:"unauthenticatedConnections"`
	ConnectedAdmins []Identity `json:"connectedAdmins"`
	ConnectedUsers  []Identity `json:"connectedUsers"`
}
