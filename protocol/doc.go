// Package protocol implements the CFD transaction family and the
// adaptor-signature primitives used to build it: lock, commit, refund,
// CET, close and punish transactions, plus the payout-interval-to-
// digit-prefix encoding that binds a CET to an oracle attestation.
//
// Everything here is deterministic and side-effect free; no network or
// disk I/O happens in this package.
package protocol
