// Package lifecycle owns the deployment request state machine and the
// operations that move requests through it.
package lifecycle

import "github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"

// Operation names a state machine edge group.
type Operation string

const (
	OpStartReview     Operation = "start_review"
	OpApprove         Operation = "approve"
	OpReject          Operation = "reject"
	OpStartDeployment Operation = "start_deployment"
	OpCompleteDeploy  Operation = "complete_deployment"
	OpFailDeploy      Operation = "fail_deployment"
)

type edge struct {
	from []domain.RequestStatus
	to   domain.RequestStatus
}

var edges = map[Operation]edge{
	OpStartReview:     {from: []domain.RequestStatus{domain.StatusPending}, to: domain.StatusReviewing},
	OpApprove:         {from: []domain.RequestStatus{domain.StatusPending, domain.StatusReviewing}, to: domain.StatusApproved},
	OpReject:          {from: []domain.RequestStatus{domain.StatusPending, domain.StatusReviewing}, to: domain.StatusRejected},
	OpStartDeployment: {from: []domain.RequestStatus{domain.StatusApproved}, to: domain.StatusDeploying},
	OpCompleteDeploy:  {from: []domain.RequestStatus{domain.StatusDeploying}, to: domain.StatusDeployed},
	OpFailDeploy:      {from: []domain.RequestStatus{domain.StatusDeploying}, to: domain.StatusFailed},
}

// Edge returns the source statuses and target of op.
func Edge(op Operation) ([]domain.RequestStatus, domain.RequestStatus) {
	e := edges[op]
	from := make([]domain.RequestStatus, len(e.from))
	copy(from, e.from)
	return from, e.to
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to domain.RequestStatus) bool {
	for _, e := range edges {
		if e.to != to {
			continue
		}
		for _, f := range e.from {
			if f == from {
				return true
			}
		}
	}
	return false
}

// Reachable lists the statuses reachable in one step from s.
func Reachable(s domain.RequestStatus) []domain.RequestStatus {
	var out []domain.RequestStatus
	for _, to := range domain.Statuses {
		if CanTransition(s, to) {
			out = append(out, to)
		}
	}
	return out
}
