// Package oracle is a client for the Olivia-style price oracle HTTP
// interface (spec §6): `GET {base}/{event_id}` returning an
// announcement envelope and, once the event time has passed, an
// attestation. Grounded on the on-demand fetch model spec §9 prefers
// over the source's alternative fixed 24-event announcement cache (a
// legacy artefact per that design note), using
// github.com/go-resty/resty/v2 for the HTTP client the way the
// teacher's sibling manifests in the retrieval pack use it for REST
// calls to external services.
package oracle

import "github.com/btcsuite/btclog"

var log btclog.Logger = btclog.Disabled

// UseLogger installs a given logger to be used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
