package daemon

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/cfdlabs/cfd-core/cfddb"
	"github.com/cfdlabs/cfd-core/chainntfs"
	"github.com/cfdlabs/cfd-core/coordinator"
	"github.com/cfdlabs/cfd-core/oracle"
	"github.com/cfdlabs/cfd-core/protocol"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/healthcheck"
)

// Deps are the collaborators a deployment supplies that this module
// deliberately leaves as narrow interfaces rather than implementing
// (spec §1: wallet, electrum chain access, and secret/seed storage are
// out of scope of the protocol core). A production deployment wires a
// real Bitcoin wallet and chain-data source here; a development build
// may wire in-memory test doubles.
type Deps struct {
	Wallet   coordinator.Wallet
	ChainSrc chainntfs.ChainSource
}

// Daemon bundles the concrete subsystems a cfdmakerd/cfdtakerd process
// wires on startup (spec §6 operator surface), grounded on lnd.go's
// lndMain subsystem construction and shutdown-ordering.
type Daemon struct {
	Cfg     *Config
	Repo    *cfddb.DB
	Oracle  *oracle.Client
	Monitor *chainntfs.Monitor
	Actor   *coordinator.CFDActor
	Health  *healthcheck.Monitor

	quit chan struct{}
}

// New constructs every subsystem in dependency order (repository, then
// oracle client, then chain monitor, then the actor that ties them
// together) but starts none of them; call Start once logging and
// config are both ready.
func New(cfg *Config, deps Deps, isMaker bool) (*Daemon, error) {
	repo, err := cfddb.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	oracleClient, err := oracle.NewClient(cfg.OracleBaseURL, cfg.OraclePublicKey, 10*time.Second)
	if err != nil {
		repo.Close()
		return nil, err
	}

	monitor := chainntfs.NewMonitor(deps.ChainSrc, 10*time.Second)

	feeEst := protocol.StaticFeeEstimator{SatPerVByte: btcutil.Amount(cfg.MinRelayFeeSatPerVByte)}

	actor := coordinator.NewCFDActor(isMaker, repo, deps.Wallet, oracleClient, monitor,
		feeEst, clock.NewDefaultClock())

	d := &Daemon{
		Cfg:     cfg,
		Repo:    repo,
		Oracle:  oracleClient,
		Monitor: monitor,
		Actor:   actor,
		quit:    make(chan struct{}),
	}
	d.Health = coordinator.NewHealthMonitor(repo, monitor, func(reason string) {
		log.Criticalf("health check failed, shutting down: %s", reason)
		d.Stop()
	})
	return d, nil
}

// Start brings up the chain monitor, the actor's command loop, and the
// background health checks watching them.
func (d *Daemon) Start() error {
	if err := d.Monitor.Start(); err != nil {
		return err
	}
	go d.Actor.Run()
	d.Actor.Start()
	if err := d.Health.Start(); err != nil {
		return err
	}
	return nil
}

// Stop shuts every subsystem down in reverse startup order.
func (d *Daemon) Stop() {
	d.Health.Stop()
	d.Actor.Stop()
	d.Monitor.Stop()
	d.Repo.Close()
	close(d.quit)
}
