package coordinator

import (
	"sync"

	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/cfdlabs/cfd-core/cfdwire"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/lightningnetwork/lnd/queue"
)

// protocolRouter tracks the at-most-one-active-setup-or-rollover
// invariant (spec invariant 5) and routes inbound Protocol/
// RollOverProtocol wire messages to the short-lived task running that
// contract's exchange. Grounded on htlcswitch/switch.go's circuit map
// (routing an incoming HTLC message to the link awaiting its reply),
// adapted from HTLC circuits to per-contract setup sessions.
//
// Each entry's channel is a queue.ConcurrentQueue (spec §5 "per-contract
// protocol channels are unbounded but short-lived"): the running task
// may fall behind a burst of retransmits without the peer's
// readHandler blocking.
type protocolRouter struct {
	mu     sync.Mutex
	active map[contractcourt.OfferID]*queue.ConcurrentQueue
}

func newProtocolRouter() *protocolRouter {
	return &protocolRouter{active: make(map[contractcourt.OfferID]*queue.ConcurrentQueue)}
}

// begin registers offerID as having an active protocol, returning the
// queue the caller's task should read from, or a state-violation error
// if one is already active (spec invariant 5, enforced locally before
// any persisted transition is attempted).
func (r *protocolRouter) begin(offerID contractcourt.OfferID) (*queue.ConcurrentQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[offerID]; ok {
		return nil, cfderr.Newf(cfderr.KindStateViolation,
			"a setup or rollover protocol is already active for contract %s", offerID)
	}

	q := queue.NewConcurrentQueue(10)
	q.Start()
	r.active[offerID] = q
	return q, nil
}

// end unregisters offerID, stopping its queue. Safe to call once the
// owning task has exited for any reason (success, failure, or
// cancellation).
func (r *protocolRouter) end(offerID contractcourt.OfferID) {
	r.mu.Lock()
	q, ok := r.active[offerID]
	delete(r.active, offerID)
	r.mu.Unlock()

	if ok {
		q.Stop()
	}
}

// dispatch routes an inbound SetupMsg to offerID's active protocol
// task, if any. Messages for a contract with no active task are
// dropped with a log line: the counterparty may be retransmitting
// against a task this side already cancelled.
func (r *protocolRouter) dispatch(offerID contractcourt.OfferID, msg cfdwire.SetupMsg) {
	r.mu.Lock()
	q, ok := r.active[offerID]
	r.mu.Unlock()

	if !ok {
		log.Warnf("dropping %s message for contract %s: no active protocol", msg.Kind, offerID)
		return
	}
	q.ChanIn() <- msg
}

// isActive reports whether offerID currently has a running setup or
// rollover task.
func (r *protocolRouter) isActive(offerID contractcourt.OfferID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[offerID]
	return ok
}
