package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
)

// Deployer performs the actual rollout of an approved request.
type Deployer interface {
	Deploy(ctx context.Context, req domain.DeploymentRequest) (string, error)
}

// SimulatedDeployer waits for Delay and reports success.
type SimulatedDeployer struct {
	Delay time.Duration
}

// Deploy blocks for the configured delay unless ctx ends first.
func (s SimulatedDeployer) Deploy(ctx context.Context, req domain.DeploymentRequest) (string, error) {
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
	}
	return fmt.Sprintf("Deployment of %s to %s (%s) completed successfully", req.FileName, req.TargetServer, req.Environment), nil
}

// DeployerFunc adapts a function to Deployer.
type DeployerFunc func(ctx context.Context, req domain.DeploymentRequest) (string, error)

// Deploy calls f.
func (f DeployerFunc) Deploy(ctx context.Context, req domain.DeploymentRequest) (string, error) {
	return f(ctx, req)
}
