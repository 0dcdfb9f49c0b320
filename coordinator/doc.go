// Package coordinator wires the peer connection, oracle client, chain
// monitor, wallet, and repository collaborators to the CFD state
// machine (spec §4.4). One CFDActor owns the set of contracts for a
// role (maker or taker) and processes commands and events against them
// one at a time, in FIFO order (spec §5 "each actor processes one
// message at a time ... so its internal state needs no locking").
//
// Grounded on server.go + peer.go (actor construction, late-bound
// collaborator setters resolving the cyclic CFD/connection/oracle/
// monitor reference graph per spec §9) and htlcswitch/switch.go
// (routing an incoming message to a per-circuit handler, adapted here
// to route by contract id to a short-lived setup/rollover task).
package coordinator

import "github.com/btcsuite/btclog"

var log btclog.Logger = btclog.Disabled

// UseLogger installs a given logger to be used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
