package contractcourt

import (
	"time"

	"github.com/cfdlabs/cfd-core/protocol"
)

// StateKind is the explicit discriminator tag for the persisted state
// sum type (spec §3 "State"). Per design note §9, the kind is never
// inferred from which optional fields happen to be set.
type StateKind string

const (
	KindOutgoingRequest StateKind = "outgoing_request"
	KindIncomingRequest StateKind = "incoming_request"
	KindAccepted        StateKind = "accepted"
	KindRejected        StateKind = "rejected"
	KindContractSetup   StateKind = "contract_setup"
	KindSetupFailed     StateKind = "setup_failed"
	KindPendingOpen     StateKind = "pending_open"
	KindOpen            StateKind = "open"
	KindPendingCommit   StateKind = "pending_commit"
	KindOpenCommitted   StateKind = "open_committed"
	KindPendingCet      StateKind = "pending_cet"
	KindMustRefund      StateKind = "must_refund"
	KindRefunded        StateKind = "refunded"
	KindClosed          StateKind = "closed"
)

// terminalKinds are states from which no further transition is legal
// (spec §3 "Terminal").
var terminalKinds = map[StateKind]bool{
	KindRejected:    true,
	KindSetupFailed: true,
	KindRefunded:    true,
	KindClosed:      true,
}

// Attestation is the oracle's disclosed price and per-digit scalars for
// a contract's oracle event, once published.
type Attestation struct {
	Price   uint64
	Scalars [][]byte // big.Int bytes, one per attested digit
}

// CloseInfo records an agreed collaborative close (spec §3 "Open{...,
// close?}").
type CloseInfo struct {
	MakerAmount int64
	TakerAmount int64
	Tx          []byte // serialized wire.MsgTx
	Confirmed   bool
}

// State is the tagged variant carried by every row in the cfd_states
// table (spec §3, §4.3, §4.5). Exactly one State is active per
// contract at a time; the active state is the most recently appended
// row.
type State struct {
	Kind      StateKind
	Timestamp time.Time

	// Peer identifies the counterparty who sent a TakeOrder, set only
	// on IncomingRequest.
	Peer string

	// Reason carries the abort reason of SetupFailed.
	Reason string

	// DLC is the signed bundle produced by setup/rollover, present from
	// PendingOpen onward (nil before, until replaced by the next
	// rollover's DLC).
	DLC *protocol.DLC

	Attestation *Attestation
	Close       *CloseInfo
}

// IsTerminal reports whether no further transition is legal from s.
func (s State) IsTerminal() bool {
	return terminalKinds[s.Kind]
}

// SameKind reports whether s and other share a Kind, used to detect the
// duplicate-state case the design notes call out (§9 "Duplicate-state
// warning"): logged, never an error, since sub-fields may legitimately
// change across a re-entry into the same kind.
func (s State) SameKind(other State) bool {
	return s.Kind == other.Kind
}
