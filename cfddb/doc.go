// Package cfddb is the embedded SQL repository (spec §4.5, §6): offers,
// contracts, and the append-only state-transition log that backs the
// CFD state machine in contractcourt.
//
// Grounded on channeldb/db.go's Open/migrate/Wipe shape, adapted from
// boltdb buckets onto modernc.org/sqlite + golang-migrate/migrate/v4,
// the store the teacher's own go.mod already carries for its
// schema-migrated tables. Every write that must be observed before a
// dependent network or chain action (spec §8 "append_state is observed
// before any dependent network or chain action") goes through a
// synchronous, committed SQL transaction; there is no write-behind
// cache.
package cfddb

import "github.com/btcsuite/btclog"

var log btclog.Logger = btclog.Disabled

// UseLogger installs a given logger to be used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
