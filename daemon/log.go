package daemon

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog"
	rotator "github.com/jrick/logrotate/rotator"

	"github.com/cfdlabs/cfd-core/cfddb"
	"github.com/cfdlabs/cfd-core/cfdwire"
	"github.com/cfdlabs/cfd-core/chainntfs"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/cfdlabs/cfd-core/coordinator"
	"github.com/cfdlabs/cfd-core/coordinator/peerlink"
	"github.com/cfdlabs/cfd-core/dlcproto"
	"github.com/cfdlabs/cfd-core/oracle"
	"github.com/cfdlabs/cfd-core/protocol"
)

var logRotator *rotator.Rotator

// log is the daemon package's own subsystem logger, covering process
// lifecycle events (startup, health-triggered shutdown) rather than
// any one protocol/storage/transport subsystem.
var log btclog.Logger = btclog.Disabled

// backend is the single logging backend every subsystem's logger
// writes through (spec's ambient logging stack, grounded on lnd.go's
// backendLog/subsystem loggers split).
var backend *btclog.Backend

// initLogRotator opens logFile for writing, rotating at maxRollMiB,
// and installs it as both stdout and file sink for every subsystem
// logger (lnd.go "defer backendLog.Flush()" grounds the rotate-on-
// shutdown contract this mirrors via Close).
func initLogRotator(logFile string, maxRollMiB int64) error {
	r, err := rotator.New(logFile, maxRollMiB*1024, false, 3)
	if err != nil {
		return fmt.Errorf("open log rotator for %s: %w", logFile, err)
	}
	logRotator = r

	backend = btclog.NewBackend(logWriter{})
	return nil
}

// logWriter fans every write out to both stdout and the rotator, the
// way lnd.go's backendLog writes to both the console and the rotating
// file.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// InitLogging wires every subsystem package's UseLogger to a named
// subsystem logger sharing the single rotating backend, then applies
// level to all of them (lnd.go's subsystemLoggers map, adapted to this
// module's package set).
func InitLogging(logFile string, level string) error {
	if err := initLogRotator(logFile, 10); err != nil {
		return err
	}

	subsystems := map[string]func(btclog.Logger){
		"PROT": protocol.UseLogger,
		"CCRT": contractcourt.UseLogger,
		"CNTF": chainntfs.UseLogger,
		"DLCP": dlcproto.UseLogger,
		"CDDB": cfddb.UseLogger,
		"WIRE": cfdwire.UseLogger,
		"CORD": coordinator.UseLogger,
		"PEER": peerlink.UseLogger,
		"ORCL": oracle.UseLogger,
	}

	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}

	for tag, use := range subsystems {
		logger := backend.Logger(tag)
		logger.SetLevel(lvl)
		use(logger)
	}

	log = backend.Logger("DAEM")
	log.SetLevel(lvl)
	return nil
}

// StopLogging flushes and closes the rotator. Call on shutdown.
func StopLogging() {
	if logRotator != nil {
		logRotator.Close()
	}
}
