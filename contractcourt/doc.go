// Package contractcourt implements the per-CFD state machine (spec
// §4.3): the lifecycle from offer through open, rollover, settlement,
// force-close, refund, or punish, together with persistence of every
// transition and derivation of which Bitcoin transaction (if any) to
// broadcast next.
//
// The punish path is grounded on the teacher's breachArbiter: both
// watch for a counterparty publishing a stale state (there, a revoked
// commitment; here, a revoked commit transaction) and react by sweeping
// the output using a disclosed revocation secret.
package contractcourt

import "github.com/btcsuite/btclog"

var log btclog.Logger = btclog.Disabled

// UseLogger installs a given logger to be used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
