package protocol

import "github.com/btcsuite/btclog"

// log is the package-level logger, wired up by the daemon's UseLogger
// call. Disabled until then, matching the rest of the tree.
var log btclog.Logger = btclog.Disabled

// UseLogger installs a given logger to be used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
