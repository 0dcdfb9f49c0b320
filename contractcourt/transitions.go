package contractcourt

import (
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/cfdlabs/cfd-core/protocol"
)

// EventKind tags the events the state machine reacts to (spec §4.3
// transition table, left column).
type EventKind string

const (
	EventPeerAccept                EventKind = "peer_accept"
	EventPeerReject                EventKind = "peer_reject"
	EventOperatorAccept            EventKind = "operator_accept"
	EventOperatorReject            EventKind = "operator_reject"
	EventSetupOK                   EventKind = "setup_ok"
	EventSetupFail                 EventKind = "setup_fail"
	EventLockFinality               EventKind = "lock_finality"
	EventOperatorCommit             EventKind = "operator_commit"
	EventAttestation                EventKind = "attestation"
	EventCollabCloseAgreed          EventKind = "collab_close_agreed"
	EventCollabCloseFinality        EventKind = "collab_close_finality"
	EventCommitFinality             EventKind = "commit_finality"
	EventCetFinality                EventKind = "cet_finality"
	EventRefundTimelockExpiry       EventKind = "refund_timelock_expiry"
	EventRefundFinality             EventKind = "refund_finality"
	EventCounterpartyStaleCommit    EventKind = "counterparty_stale_commit"
	EventRolloverComplete           EventKind = "rollover_complete"
)

// Event is the tagged input to Apply.
type Event struct {
	Kind EventKind

	Peer        string
	Reason      string
	DLC         *protocol.DLC
	Attestation *Attestation
	Close       *CloseInfo

	// PunishTx is the watcher-constructed transaction sweeping the
	// counterparty's stale commit broadcast, carried by
	// EventCounterpartyStaleCommit (spec §4.3 row, scenario 5).
	PunishTx *wire.MsgTx
}

// EffectKind tags the broadcast/subscription side effect the
// coordinator must carry out once a transition has been durably
// persisted (spec §4.3 "Every transition is persisted before any
// external side effect ... is taken").
type EffectKind string

const (
	EffectNone               EffectKind = ""
	EffectBeginSetup         EffectKind = "begin_setup"
	EffectSendPeerReject     EffectKind = "send_peer_reject"
	EffectBroadcastLock      EffectKind = "broadcast_lock"
	EffectSubscribeMonitor   EffectKind = "subscribe_monitor"
	EffectBroadcastCommit    EffectKind = "broadcast_commit"
	EffectBroadcastClose     EffectKind = "broadcast_close"
	EffectBroadcastCET       EffectKind = "broadcast_cet"
	EffectBroadcastRefund    EffectKind = "broadcast_refund"
	EffectBroadcastPunish    EffectKind = "broadcast_punish"
)

// Effect describes the side effect to take once the returned State has
// been appended to the repository.
type Effect struct {
	Kind     EffectKind
	DLC      *protocol.DLC
	PunishTx *wire.MsgTx

	// PriorDLC is the just-superseded DLC generation, carried by the
	// EventRolloverComplete effect so the coordinator can register
	// punish-watching of its now-stale commit transaction (spec §3
	// "DLC lifecycles").
	PriorDLC *protocol.DLC
}

// Apply computes the next State and side Effect for a Contract reacting
// to an Event, per the transition table of spec §4.3. It returns a
// cfderr state-violation error for any event not legal from the
// contract's current state, and never mutates the contract in place —
// callers persist the returned State via the repository themselves.
func Apply(c Contract, ev Event, now func() time.Time) (State, Effect, error) {
	cur := c.Current

	if cur.IsTerminal() {
		return cur, Effect{}, cfderr.Newf(cfderr.KindStateViolation,
			"contract %s is terminal (%s), event %s rejected", c.ID(), cur.Kind, ev.Kind)
	}

	illegal := func() (State, Effect, error) {
		return cur, Effect{}, cfderr.Newf(cfderr.KindStateViolation,
			"event %s illegal from state %s", ev.Kind, cur.Kind)
	}

	switch cur.Kind {
	case KindOutgoingRequest:
		switch ev.Kind {
		case EventPeerAccept:
			return transition(now, KindContractSetup, nil), Effect{Kind: EffectBeginSetup}, nil
		case EventPeerReject:
			return transition(now, KindRejected, nil), Effect{}, nil
		}

	case KindIncomingRequest:
		switch ev.Kind {
		case EventOperatorAccept:
			return transition(now, KindContractSetup, nil), Effect{Kind: EffectBeginSetup}, nil
		case EventOperatorReject:
			return transition(now, KindRejected, nil), Effect{Kind: EffectSendPeerReject}, nil
		}

	case KindContractSetup:
		switch ev.Kind {
		case EventSetupOK:
			if ev.DLC == nil {
				return cur, Effect{}, cfderr.Newf(cfderr.KindProtocolViolation, "setup_ok without a DLC")
			}
			s := transition(now, KindPendingOpen, ev.DLC)
			return s, Effect{Kind: EffectBroadcastLock, DLC: ev.DLC}, nil
		case EventSetupFail:
			s := transition(now, KindSetupFailed, nil)
			s.Reason = ev.Reason
			return s, Effect{}, nil
		}

	case KindPendingOpen:
		switch ev.Kind {
		case EventLockFinality:
			s := transition(now, KindOpen, cur.DLC)
			return s, Effect{Kind: EffectSubscribeMonitor, DLC: cur.DLC}, nil
		}

	case KindOpen:
		switch ev.Kind {
		case EventOperatorCommit, EventAttestation:
			s := transition(now, KindPendingCommit, cur.DLC)
			if ev.Kind == EventAttestation {
				s.Attestation = ev.Attestation
			}
			return s, Effect{Kind: EffectBroadcastCommit, DLC: cur.DLC}, nil
		case EventCollabCloseAgreed:
			s := transition(now, KindOpen, cur.DLC)
			s.Close = ev.Close
			return s, Effect{Kind: EffectBroadcastClose, DLC: cur.DLC}, nil
		case EventCollabCloseFinality:
			return transition(now, KindClosed, nil), Effect{}, nil
		case EventCounterpartyStaleCommit:
			return cur, Effect{Kind: EffectBroadcastPunish, DLC: cur.DLC, PunishTx: ev.PunishTx}, nil
		case EventRolloverComplete:
			s := transition(now, KindOpen, ev.DLC)
			return s, Effect{Kind: EffectSubscribeMonitor, DLC: ev.DLC, PriorDLC: cur.DLC}, nil
		}

	case KindPendingCommit:
		switch ev.Kind {
		case EventCommitFinality:
			s := transition(now, KindOpenCommitted, cur.DLC)
			s.Attestation = cur.Attestation
			return s, Effect{}, nil
		}

	case KindOpenCommitted:
		switch ev.Kind {
		case EventAttestation:
			s := transition(now, KindPendingCet, cur.DLC)
			s.Attestation = ev.Attestation
			return s, Effect{Kind: EffectBroadcastCET, DLC: cur.DLC}, nil
		case EventRefundTimelockExpiry:
			s := transition(now, KindMustRefund, cur.DLC)
			return s, Effect{Kind: EffectBroadcastRefund, DLC: cur.DLC}, nil
		case EventCounterpartyStaleCommit:
			return cur, Effect{Kind: EffectBroadcastPunish, DLC: cur.DLC, PunishTx: ev.PunishTx}, nil
		}

	case KindPendingCet:
		switch ev.Kind {
		case EventCetFinality:
			return transition(now, KindClosed, nil), Effect{}, nil
		}

	case KindMustRefund:
		switch ev.Kind {
		case EventRefundFinality:
			return transition(now, KindRefunded, nil), Effect{}, nil
		}
	}

	return illegal()
}

func transition(now func() time.Time, kind StateKind, dlc *protocol.DLC) State {
	return State{
		Kind:      kind,
		Timestamp: now(),
		DLC:       dlc,
	}
}

// ValidateEventForActiveProtocol enforces spec invariant 5: at most one
// active signing protocol (setup or rollover) exists per contract at
// any time. Callers check this before spawning a new setup/rollover
// task; it is not part of Apply because initiating setup is a local
// decision gated on in-memory task bookkeeping, not a persisted state
// transition by itself.
func ValidateEventForActiveProtocol(activeProtocol bool) error {
	if activeProtocol {
		return cfderr.Newf(cfderr.KindStateViolation,
			"a setup or rollover protocol is already active for this contract")
	}
	return nil
}

// ValidateRolloverAllowed rejects a rollover attempted while a
// collaborative close is in flight (spec §9 open question, resolved as
// a state-violation rather than the source's silent acceptance).
func ValidateRolloverAllowed(c Contract) error {
	if c.Current.Kind == KindOpen && c.Current.Close != nil && !c.Current.Close.Confirmed {
		return cfderr.Newf(cfderr.KindStateViolation,
			"rollover rejected: collaborative close in flight for contract %s", c.ID())
	}
	return nil
}
