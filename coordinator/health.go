package coordinator

import (
	"context"
	"time"

	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/lightningnetwork/lnd/healthcheck"
)

// defaultHealthCheckInterval is how often each observation runs.
const defaultHealthCheckInterval = time.Minute

// NewHealthMonitor builds the set of background observations that
// watch this actor's load-bearing collaborators (repository and chain
// monitor) and shut the actor down if one of them stays unhealthy,
// grounded on server.go's use of healthcheck.Observation/Monitor to
// watch chain backend and wallet liveness.
func NewHealthMonitor(repo Repository, monitor ChainMonitor, shutdown func(reason string)) *healthcheck.Monitor {
	repoCheck := healthcheck.NewObservation(
		"repository",
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := repo.LoadAllContracts(ctx)
			return err
		},
		defaultHealthCheckInterval,
		10*time.Second,
		time.Second,
		2,
	)

	chainCheck := healthcheck.NewObservation(
		"chain monitor",
		func() error {
			if !monitor.Started() {
				return cfderr.Newf(cfderr.KindIO, "chain monitor is not running")
			}
			return nil
		},
		defaultHealthCheckInterval,
		10*time.Second,
		time.Second,
		2,
	)

	return healthcheck.NewMonitor(&healthcheck.Config{
		Checks: []*healthcheck.Observation{repoCheck, chainCheck},
		Shutdown: func(format string, args ...interface{}) {
			shutdown(format)
		},
	})
}
