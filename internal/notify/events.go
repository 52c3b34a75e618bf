package notify

import (
	"time"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
)

// Event is a domain occurrence that may produce realtime notifications.
// The set is closed: only types in this package implement it.
type Event interface {
	request() domain.DeploymentRequest
	name() string
}

// RequestCreated fires after an upload is persisted.
type RequestCreated struct {
	Request domain.DeploymentRequest
}

// ReviewStarted fires when an administrator marks a request as reviewing.
type ReviewStarted struct {
	Request domain.DeploymentRequest
	Actor   domain.Identity
}

// RequestDecided fires when a request is approved or rejected.
type RequestDecided struct {
	Request domain.DeploymentRequest
	Actor   domain.Identity
}

// DeploymentStarted fires when an approved request enters deploying.
type DeploymentStarted struct {
	Request domain.DeploymentRequest
	Actor   domain.Identity
}

// DeploymentCompleted fires when a deployment finishes successfully.
type DeploymentCompleted struct {
	Request domain.DeploymentRequest
}

// DeploymentFailed fires when a deployment ends in failure.
type DeploymentFailed struct {
	Request domain.DeploymentRequest
	Reason  string
}

// DeploymentStuck fires when a request has been deploying for too long.
type DeploymentStuck struct {
	Request domain.DeploymentRequest
	Age     time.Duration
}

func (e RequestCreated) request() domain.DeploymentRequest      { return e.Request }
func (e ReviewStarted) request() domain.DeploymentRequest       { return e.Request }
func (e RequestDecided) request() domain.DeploymentRequest      { return e.Request }
func (e DeploymentStarted) request() domain.DeploymentRequest   { return e.Request }
func (e DeploymentCompleted) request() domain.DeploymentRequest { return e.Request }
func (e DeploymentFailed) request() domain.DeploymentRequest    { return e.Request }
func (e DeploymentStuck) request() domain.DeploymentRequest     { return e.Request }

func (RequestCreated) name() string      { return "request_created" }
func (ReviewStarted) name() string       { return "review_started" }
func (RequestDecided) name() string      { return "request_decided" }
func (DeploymentStarted) name() string   { return "deployment_started" }
func (DeploymentCompleted) name() string { return "deployment_completed" }
func (DeploymentFailed) name() string    { return "deployment_failed" }
func (DeploymentStuck) name() string     { return "deployment_stuck" }
