// Package cfdwire is the peer wire protocol (spec §6): a length-framed
// JSON message stream secured by a Noise_IK handshake between a maker
// and a taker. Framing and the read/write/queue goroutine split are
// grounded on peer.go's readHandler/writeHandler/queueHandler; the
// handshake is built on github.com/flynn/noise since the teacher's own
// brontide package isn't part of the retrieved pack (see DESIGN.md).
package cfdwire

import "github.com/btcsuite/btclog"

var log btclog.Logger = btclog.Disabled

// UseLogger installs a given logger to be used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
