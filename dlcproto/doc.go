// Package dlcproto drives the interactive DLC setup and rollover
// protocol (spec §4.2): the bounded, ordered message exchange by which
// maker and taker jointly build a DLC bundle without either side ever
// holding the other's private keys. Grounded on the coroutine-shaped,
// multi-round negotiation in the teacher's lnwallet/reservation.go
// (ChannelReservation) and the channel-opening exchange driven from
// peer.go, adapted from channel funding to CFD setup/rollover.
package dlcproto

import "github.com/btcsuite/btclog"

var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
