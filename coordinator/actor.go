package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/cfdlabs/cfd-core/cfdwire"
	"github.com/cfdlabs/cfd-core/chainntfs"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/cfdlabs/cfd-core/coordinator/peerlink"
	"github.com/cfdlabs/cfd-core/dlcproto"
	"github.com/cfdlabs/cfd-core/protocol"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/shopspring/decimal"
)

// heartbeatInterval/heartbeatMaxMisses govern the maker's keepalive and
// the taker's corresponding liveness check (spec §C.1): a taker expires
// its cached offer from a maker peer once it has gone this many
// intervals without being heard from.
const (
	heartbeatInterval  = 30 * time.Second
	heartbeatMaxMisses = 3
)

// mailboxSize bounds the actor's command/event queue. A slow collaborator
// (repository, wallet) backs up the mailbox rather than the peer
// connections' own bounded send queues (spec §5 "suspension happens
// only at I/O boundaries").
const mailboxSize = 100

// CFDActor owns every contract for one role (maker or taker) and
// processes commands and chain/peer events against them strictly one
// at a time (spec §5 "each actor processes one message at a time; its
// internal state therefore needs no locking"). Grounded on peer.go's
// single-goroutine readHandler/queueHandler split and server.go's
// late-bound collaborator wiring for the cyclic CFD/connection/
// oracle/monitor reference graph (spec §9).
type CFDActor struct {
	isMaker bool
	repo    Repository
	wallet  Wallet
	oracle  OracleClient
	monitor ChainMonitor
	clock   clock.Clock
	feeEst  protocol.FeeEstimator

	router     *protocolRouter
	broadcasts *broadcastGuard
	punish     *contractcourt.PunishWatcher

	// heartbeat is non-nil only for a maker actor; liveness and
	// offerCache are non-nil only for a taker actor (spec §C.1).
	heartbeat *peerlink.Keepalive
	liveness  *peerlink.Liveness

	offerCacheMu sync.Mutex
	offerCache   map[string]contractcourt.Offer

	peersMu sync.Mutex
	peers   map[string]*cfdwire.Conn

	mailbox     chan func()
	events      chan chainntfs.FinalityEvent
	punishFound chan contractcourt.PunishTxReady
	quit        chan struct{}
	wg          sync.WaitGroup
}

// NewCFDActor constructs an actor for one role. Call Run in its own
// goroutine before submitting any command.
func NewCFDActor(isMaker bool, repo Repository, wallet Wallet, oracle OracleClient,
	monitor ChainMonitor, feeEst protocol.FeeEstimator, clk clock.Clock) *CFDActor {

	a := &CFDActor{
		isMaker:     isMaker,
		repo:        repo,
		wallet:      wallet,
		oracle:      oracle,
		monitor:     monitor,
		clock:       clk,
		feeEst:      feeEst,
		router:      newProtocolRouter(),
		broadcasts:  newBroadcastGuard(),
		punish:      contractcourt.NewPunishWatcher(monitor),
		peers:       make(map[string]*cfdwire.Conn),
		mailbox:     make(chan func(), mailboxSize),
		events:      make(chan chainntfs.FinalityEvent, mailboxSize),
		punishFound: make(chan contractcourt.PunishTxReady, mailboxSize),
		quit:        make(chan struct{}),
	}
	if isMaker {
		a.heartbeat = peerlink.NewKeepalive(heartbeatInterval, func() {
			a.broadcast(cfdwire.NewHeartbeat())
		})
	} else {
		a.liveness = peerlink.NewLiveness(heartbeatInterval, heartbeatMaxMisses)
		a.offerCache = make(map[string]contractcourt.Offer)
	}
	return a
}

// Start begins the actor's background periodic tasks: the maker's
// heartbeat broadcast, or the taker's liveness check and stale-peer
// drain loop (spec §C.1). Run must already be looping in its own
// goroutine.
func (a *CFDActor) Start() {
	if a.isMaker {
		a.heartbeat.Start()
		return
	}
	a.liveness.Start()
	a.wg.Add(1)
	go a.drainStalePeers()
}

func (a *CFDActor) drainStalePeers() {
	defer a.wg.Done()
	for {
		select {
		case peerID := <-a.liveness.Stale:
			log.Warnf("maker peer %s missed %d heartbeats, expiring cached offer", peerID, heartbeatMaxMisses)
			a.offerCacheMu.Lock()
			delete(a.offerCache, peerID)
			a.offerCacheMu.Unlock()
		case <-a.quit:
			return
		}
	}
}

// CurrentOffer returns the most recently seen CurrentOrder offer from
// peerID, if the maker has announced one and it has not since expired
// for lack of a heartbeat.
func (a *CFDActor) CurrentOffer(peerID string) (contractcourt.Offer, bool) {
	a.offerCacheMu.Lock()
	defer a.offerCacheMu.Unlock()
	offer, ok := a.offerCache[peerID]
	return offer, ok
}

// Run is the actor's single-threaded command loop. It must run in its
// own goroutine for the actor's lifetime.
func (a *CFDActor) Run() {
	for {
		select {
		case fn := <-a.mailbox:
			fn()
		case ev := <-a.events:
			a.handleFinality(ev)
		case pr := <-a.punishFound:
			a.handlePunishFound(pr)
		case <-a.quit:
			return
		}
	}
}

// Stop terminates Run and disconnects every registered peer.
func (a *CFDActor) Stop() {
	close(a.quit)
	a.punish.Stop()
	if a.isMaker {
		a.heartbeat.Stop()
	} else {
		a.liveness.Stop()
	}
	a.peersMu.Lock()
	for _, c := range a.peers {
		c.Disconnect()
	}
	a.peersMu.Unlock()
}

// submit runs fn on the actor's single goroutine and blocks until it
// has completed, returning whatever error fn produced.
func (a *CFDActor) submit(fn func() error) error {
	done := make(chan error, 1)
	select {
	case a.mailbox <- func() { done <- fn() }:
	case <-a.quit:
		return cfderr.Newf(cfderr.KindStateViolation, "actor is stopped")
	}
	select {
	case err := <-done:
		return err
	case <-a.quit:
		return cfderr.Newf(cfderr.KindStateViolation, "actor is stopped")
	}
}

// RegisterPeer attaches a connection under peerID (any key the caller
// chooses; the daemon binaries use the remote address) and starts
// forwarding its Inbound frames into the actor's mailbox.
func (a *CFDActor) RegisterPeer(peerID string, conn *cfdwire.Conn) {
	a.peersMu.Lock()
	a.peers[peerID] = conn
	a.peersMu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case raw, ok := <-conn.Inbound:
				if !ok {
					if !a.isMaker {
						a.liveness.Forget(peerID)
					}
					return
				}
				frame := raw
				select {
				case a.mailbox <- func() { a.handleInbound(peerID, conn, frame) }:
				case <-a.quit:
					return
				}
			case <-a.quit:
				return
			}
		}
	}()
}

func (a *CFDActor) handleInbound(peerID string, conn *cfdwire.Conn, raw []byte) {
	var err error
	if a.isMaker {
		err = a.handleTakerMessage(peerID, conn, raw)
	} else {
		err = a.handleMakerMessage(peerID, conn, raw)
	}
	if err != nil {
		log.Errorf("handling message from %s: %v", peerID, err)
	}
}

// PublishOffer broadcasts a freshly created offer to every connected
// taker and records it as an OutgoingRequest (spec §4.4 maker role).
func (a *CFDActor) PublishOffer(ctx context.Context, offer contractcourt.Offer) error {
	return a.submit(func() error {
		if err := a.repo.InsertOrder(ctx, offer); err != nil {
			return err
		}
		initial := contractcourt.State{Kind: contractcourt.KindOutgoingRequest, Timestamp: a.clock.Now()}
		if err := a.repo.InsertContract(ctx, offer.ID, decimal.Zero, initial); err != nil {
			return err
		}
		msg := cfdwire.NewCurrentOrder(&offer)
		a.broadcast(msg)
		return nil
	})
}

func (a *CFDActor) broadcast(msg cfdwire.MakerToTaker) {
	a.peersMu.Lock()
	defer a.peersMu.Unlock()
	for id, c := range a.peers {
		if err := c.Send(msg); err != nil {
			log.Warnf("broadcast to %s failed: %v", id, err)
		}
	}
}

// TakeOrder submits a TakeOrder to the maker at peerID for an offer
// this taker has already learned of via CurrentOrder (spec §4.4 taker
// role).
func (a *CFDActor) TakeOrder(ctx context.Context, peerID string, offer contractcourt.Offer, quantity decimal.Decimal) error {
	return a.submit(func() error {
		if !offer.ValidQuantity(quantity) {
			return cfderr.Newf(cfderr.KindProtocolViolation, "quantity %s outside [%s, %s]", quantity, offer.MinQuantity, offer.MaxQuantity)
		}
		if err := a.repo.InsertOrder(ctx, offer); err != nil {
			return err
		}
		initial := contractcourt.State{Kind: contractcourt.KindOutgoingRequest, Timestamp: a.clock.Now()}
		if err := a.repo.InsertContract(ctx, offer.ID, quantity, initial); err != nil {
			return err
		}

		conn, err := a.connFor(peerID)
		if err != nil {
			return err
		}
		return conn.Send(cfdwire.NewTakeOrder(offer.ID, quantity))
	})
}

// AcceptOrder is the maker operator's decision to accept a taker's
// order, or the taker's acknowledgement of EventPeerAccept already
// having been driven by a ConfirmOrder message; both sides end up
// spawning the setup protocol (spec §4.3 OutgoingRequest/
// IncomingRequest -> ContractSetup).
func (a *CFDActor) AcceptOrder(ctx context.Context, peerID string, offerID contractcourt.OfferID, quantity decimal.Decimal) error {
	return a.submit(func() error {
		return a.acceptLocked(ctx, peerID, offerID, quantity)
	})
}

func (a *CFDActor) acceptLocked(ctx context.Context, peerID string, offerID contractcourt.OfferID, quantity decimal.Decimal) error {
	ev := contractcourt.EventOperatorAccept
	if !a.isMaker {
		ev = contractcourt.EventPeerAccept
	}
	if err := a.transition(ctx, offerID, contractcourt.Event{Kind: ev}); err != nil {
		return err
	}
	if a.isMaker {
		if conn, err := a.connFor(peerID); err == nil {
			_ = conn.Send(cfdwire.NewConfirmOrder(offerID))
		}
		// Acceptance invalidates the offer for every other connected
		// taker (spec §4.4).
		a.broadcast(cfdwire.NewCurrentOrder(nil))
	}

	contract, err := a.repo.LoadContract(ctx, offerID)
	if err != nil {
		return err
	}
	return a.beginSetup(ctx, peerID, contract, quantity)
}

// RejectOrder declines a pending order (spec §4.3
// OutgoingRequest/IncomingRequest -> Rejected).
func (a *CFDActor) RejectOrder(ctx context.Context, peerID string, offerID contractcourt.OfferID) error {
	return a.submit(func() error {
		ev := contractcourt.EventOperatorReject
		if !a.isMaker {
			ev = contractcourt.EventPeerReject
		}
		if err := a.transition(ctx, offerID, contractcourt.Event{Kind: ev}); err != nil {
			return err
		}
		if a.isMaker {
			if conn, err := a.connFor(peerID); err == nil {
				_ = conn.Send(cfdwire.NewRejectOrder(offerID))
			}
		}
		return nil
	})
}

// transition loads the contract, calls contractcourt.Apply, persists
// the result, and runs the returned effect. Persistence happens before
// any side effect leaves the process (spec §4.3 "every transition is
// persisted before any external side effect").
func (a *CFDActor) transition(ctx context.Context, offerID contractcourt.OfferID, ev contractcourt.Event) error {
	contract, err := a.repo.LoadContract(ctx, offerID)
	if err != nil {
		return err
	}

	next, effect, err := contractcourt.Apply(contract, ev, a.clock.Now)
	if err != nil {
		return err
	}
	if err := a.repo.AppendState(ctx, offerID, next); err != nil {
		return err
	}
	if next.IsTerminal() {
		a.punish.Settle(offerID)
	}
	return a.runEffect(ctx, offerID, effect)
}

// handlePunishFound reacts to a PunishWatcher detection by driving
// EventCounterpartyStaleCommit with the constructed punish transaction
// attached (spec §4.3 scenario 5).
func (a *CFDActor) handlePunishFound(pr contractcourt.PunishTxReady) {
	ctx := context.Background()
	if err := a.transition(ctx, pr.OfferID, contractcourt.Event{
		Kind: contractcourt.EventCounterpartyStaleCommit, PunishTx: pr.Tx,
	}); err != nil {
		log.Errorf("applying stale-commit punish for %s: %v", pr.OfferID, err)
	}
}

func (a *CFDActor) runEffect(ctx context.Context, offerID contractcourt.OfferID, effect contractcourt.Effect) error {
	switch effect.Kind {
	case contractcourt.EffectNone, contractcourt.EffectBeginSetup, contractcourt.EffectSendPeerReject:
		return nil
	case contractcourt.EffectBroadcastLock:
		return a.broadcasts.broadcastOnce(ctx, a.wallet, effect.DLC.LockTx)
	case contractcourt.EffectSubscribeMonitor:
		if err := watchContract(a.monitor, offerID, effect.DLC, chainntfs.FinalityCommit, a.events); err != nil {
			return err
		}
		if effect.PriorDLC != nil {
			return watchStaleCommit(a.punish, offerID, effect.DLC, effect.PriorDLC, a.punishFound)
		}
		return nil
	case contractcourt.EffectBroadcastCommit:
		return a.broadcasts.broadcastOnce(ctx, a.wallet, effect.DLC.CommitTx)
	case contractcourt.EffectBroadcastClose:
		// Nothing is broadcast for this effect: the coordinator does not
		// build, sign or broadcast a collaborative close transaction
		// anywhere. Only the persisted transition is recorded.
		return nil
	case contractcourt.EffectBroadcastCET:
		// Nothing is broadcast for this effect: the coordinator does not
		// decrypt an adaptor signature, select a CET or broadcast one
		// anywhere. Only the persisted transition is recorded.
		return nil
	case contractcourt.EffectBroadcastRefund:
		return a.broadcasts.broadcastOnce(ctx, a.wallet, effect.DLC.RefundTx)
	case contractcourt.EffectBroadcastPunish:
		if effect.PunishTx == nil {
			return nil
		}
		return a.broadcasts.broadcastOnce(ctx, a.wallet, effect.PunishTx)
	}
	return nil
}

// handleFinality reacts to a chain-monitor finality event by driving
// the corresponding state-machine event (spec §4.3 rows gated on
// *Finality events).
func (a *CFDActor) handleFinality(ev chainntfs.FinalityEvent) {
	ctx := context.Background()
	var kind contractcourt.EventKind
	switch ev.Kind {
	case chainntfs.FinalityLock:
		kind = contractcourt.EventLockFinality
	case chainntfs.FinalityCommit:
		kind = contractcourt.EventCommitFinality
	case chainntfs.FinalityRefund:
		kind = contractcourt.EventRefundFinality
	case chainntfs.FinalityCet:
		kind = contractcourt.EventCetFinality
	case chainntfs.FinalityCollaborativeClose:
		kind = contractcourt.EventCollabCloseFinality
	case chainntfs.FinalityRefundExpired:
		kind = contractcourt.EventRefundTimelockExpiry
	default:
		return
	}
	if err := a.transition(ctx, ev.ContractID, contractcourt.Event{Kind: kind}); err != nil {
		log.Errorf("applying finality event %s for %s: %v", ev.Kind, ev.ContractID, err)
	}
}

func (a *CFDActor) connFor(peerID string) (*cfdwire.Conn, error) {
	a.peersMu.Lock()
	defer a.peersMu.Unlock()
	c, ok := a.peers[peerID]
	if !ok {
		return nil, cfderr.Newf(cfderr.KindIO, "no connection registered for peer %s", peerID)
	}
	return c, nil
}

// beginSetup runs the five-round interactive setup exchange to
// completion against peerID's connection, driving EventSetupOK or
// EventSetupFail once it resolves (spec §4.2). It runs on its own
// goroutine, reading subsequent rounds off the router's per-contract
// queue so the actor's mailbox loop is never blocked on a network
// round-trip.
func (a *CFDActor) beginSetup(ctx context.Context, peerID string, contract contractcourt.Contract, quantity decimal.Decimal) error {
	q, err := a.router.begin(contract.Offer.ID)
	if err != nil {
		return err
	}

	conn, err := a.connFor(peerID)
	if err != nil {
		a.router.end(contract.Offer.ID)
		return err
	}

	keys, err := a.wallet.NewPartyKeys(ctx)
	if err != nil {
		a.router.end(contract.Offer.ID)
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.router.end(contract.Offer.ID)

		dlc, err := a.runSetupExchange(ctx, contract, quantity, keys, conn, q)
		a.submit(func() error {
			if err != nil {
				return a.transition(ctx, contract.Offer.ID, contractcourt.Event{
					Kind: contractcourt.EventSetupFail, Reason: err.Error(),
				})
			}
			return a.transition(ctx, contract.Offer.ID, contractcourt.Event{
				Kind: contractcourt.EventSetupOK, DLC: dlc,
			})
		})
	}()
	return nil
}

// runSetupExchange drives the ordered five-round exchange (spec §4.2
// step table) against a dlcproto.Setup, sending each round's outgoing
// message over conn and reading the counterparty's reply from q.
func (a *CFDActor) runSetupExchange(ctx context.Context, contract contractcourt.Contract, quantity decimal.Decimal,
	keys protocol.PartyKeys, conn *cfdwire.Conn, q setupQueue) (*protocol.DLC, error) {

	amount, err := estimateOwnAmount(contract.Offer, quantity, a.isMaker)
	if err != nil {
		return nil, err
	}
	ownParams, err := a.wallet.SelectFundingInputs(ctx, amount, keys)
	if err != nil {
		return nil, err
	}

	setup := dlcproto.NewSetup(contract.Offer, quantity, a.isMaker, a.feeEst, ownParams, keys)

	sendSetup := func(kind cfdwire.SetupKind, body interface{}) error {
		msg, err := wrapSetupMsg(kind, body)
		if err != nil {
			return err
		}
		return conn.Send(wrapRoleMsg(a.isMaker, msg))
	}

	if err := sendSetup(cfdwire.SetupPartyParams, setup.OwnParamsMsg()); err != nil {
		return nil, err
	}

	theirParams, err := recvSetupMsg(q, cfdwire.SetupPartyParams)
	if err != nil {
		return nil, err
	}
	paramsMsg, err := theirParams.AsPartyParams()
	if err != nil {
		return nil, err
	}
	if err := setup.ProcessCounterpartyParams(paramsMsg); err != nil {
		return nil, err
	}
	if err := setup.BuildTransactions(); err != nil {
		return nil, err
	}

	lockInputsMsg, err := setup.OwnLockInputsMsg(func(in protocol.UtxoInput) (wire.TxWitness, error) {
		return a.wallet.SignFundingInput(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	if err := sendSetup(cfdwire.SetupLockInputs, lockInputsMsg); err != nil {
		return nil, err
	}
	theirLockInputs, err := recvSetupMsg(q, cfdwire.SetupLockInputs)
	if err != nil {
		return nil, err
	}
	theirLockInputsMsg, err := theirLockInputs.AsLockInputs()
	if err != nil {
		return nil, err
	}
	if err := setup.ProcessCounterpartyLockInputs(theirLockInputsMsg); err != nil {
		return nil, err
	}

	lockSpendMsg, err := setup.OwnLockSpendSignature()
	if err != nil {
		return nil, err
	}
	if err := sendSetup(cfdwire.SetupLockSpendSignature, lockSpendMsg); err != nil {
		return nil, err
	}
	theirLockSpend, err := recvSetupMsg(q, cfdwire.SetupLockSpendSignature)
	if err != nil {
		return nil, err
	}
	theirLockSpendMsg, err := theirLockSpend.AsLockSpendSignature()
	if err != nil {
		return nil, err
	}
	if err := setup.ProcessCounterpartyLockSpendSignature(theirLockSpendMsg); err != nil {
		return nil, err
	}

	announcement, err := a.oracle.Announcement(ctx, contract.Offer.OracleEventID)
	if err != nil {
		return nil, err
	}

	cetMsg, err := setup.OwnCetSignatures(announcement)
	if err != nil {
		return nil, err
	}
	if err := sendSetup(cfdwire.SetupCetSignatures, cetMsg); err != nil {
		return nil, err
	}
	theirCet, err := recvSetupMsg(q, cfdwire.SetupCetSignatures)
	if err != nil {
		return nil, err
	}
	theirCetMsg, err := theirCet.AsCetSignatures()
	if err != nil {
		return nil, err
	}
	if err := setup.ProcessCounterpartyCetSignatures(theirCetMsg, announcement); err != nil {
		return nil, err
	}

	refundMsg, err := setup.OwnRefundSignature()
	if err != nil {
		return nil, err
	}
	if err := sendSetup(cfdwire.SetupRefundSignature, refundMsg); err != nil {
		return nil, err
	}
	theirRefund, err := recvSetupMsg(q, cfdwire.SetupRefundSignature)
	if err != nil {
		return nil, err
	}
	theirRefundMsg, err := theirRefund.AsRefundSignature()
	if err != nil {
		return nil, err
	}
	if err := setup.ProcessCounterpartyRefundSignature(theirRefundMsg); err != nil {
		return nil, err
	}

	return setup.Finalize()
}

// ProposeRollover sends a rollover proposal for offerID to the maker at
// peerID (spec §4.2 rollover, taker-initiated).
func (a *CFDActor) ProposeRollover(ctx context.Context, peerID string, offerID contractcourt.OfferID) error {
	return a.submit(func() error {
		conn, err := a.connFor(peerID)
		if err != nil {
			return err
		}
		return conn.Send(cfdwire.NewProposeRollOver(cfdwire.ProposeRollOverBody{
			OfferID: offerID, Timestamp: a.clock.Now().Unix(),
		}))
	})
}

// AcceptRollover is the maker operator's decision to accept a taker's
// rollover proposal, confirming it and beginning the rollover exchange
// (spec §4.2 rollover).
func (a *CFDActor) AcceptRollover(ctx context.Context, peerID string, offerID contractcourt.OfferID) error {
	return a.submit(func() error {
		contract, err := a.repo.LoadContract(ctx, offerID)
		if err != nil {
			return err
		}
		if err := contractcourt.ValidateRolloverAllowed(contract); err != nil {
			return err
		}
		if conn, err := a.connFor(peerID); err == nil {
			_ = conn.Send(cfdwire.NewConfirmRollOver(offerID, contract.Offer.OracleEventID))
		}
		return a.beginRollover(ctx, peerID, contract)
	})
}

// RejectRollover declines a pending rollover proposal (spec §4.2
// rollover).
func (a *CFDActor) RejectRollover(ctx context.Context, peerID string, offerID contractcourt.OfferID) error {
	return a.submit(func() error {
		conn, err := a.connFor(peerID)
		if err != nil {
			return err
		}
		return conn.Send(cfdwire.NewRejectRollOver(offerID))
	})
}

// beginRollover runs the rollover exchange to completion against
// peerID's connection, driving EventRolloverComplete once it resolves
// (spec §4.2 rollover). Mirrors beginSetup: its own goroutine, reading
// subsequent rounds off the router's per-contract queue.
func (a *CFDActor) beginRollover(ctx context.Context, peerID string, contract contractcourt.Contract) error {
	if contract.Current.Kind != contractcourt.KindOpen || contract.Current.DLC == nil {
		return cfderr.Newf(cfderr.KindStateViolation, "rollover requires an open contract")
	}

	q, err := a.router.begin(contract.Offer.ID)
	if err != nil {
		return err
	}

	conn, err := a.connFor(peerID)
	if err != nil {
		a.router.end(contract.Offer.ID)
		return err
	}

	keys, err := a.wallet.NewPartyKeys(ctx)
	if err != nil {
		a.router.end(contract.Offer.ID)
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.router.end(contract.Offer.ID)

		dlc, err := a.runRolloverExchange(ctx, contract, contract.Current.DLC, keys, conn, q)
		if err != nil {
			log.Errorf("rollover exchange failed for %s: %v", contract.Offer.ID, err)
			return
		}
		a.submit(func() error {
			return a.transition(ctx, contract.Offer.ID, contractcourt.Event{
				Kind: contractcourt.EventRolloverComplete, DLC: dlc,
			})
		})
	}()
	return nil
}

// runRolloverExchange drives the rollover round sequence against a
// dlcproto.Rollover (spec §4.2 rollover: "identical to setup except the
// lock transaction is reused"). The PSBT-signed-lock-inputs round is
// skipped: the lock transaction and its witnesses are unchanged from
// the generation being replaced and already confirmed on chain: only
// the commit-spend signature, CET signatures and refund signature need
// re-signing for the new generation, followed by the revocation
// disclosure round that grants punish capability over the superseded
// commit transaction.
func (a *CFDActor) runRolloverExchange(ctx context.Context, contract contractcourt.Contract, previous *protocol.DLC,
	keys protocol.PartyKeys, conn *cfdwire.Conn, q setupQueue) (*protocol.DLC, error) {

	rollover, err := dlcproto.NewRollover(contract.Offer, contract.Quantity, a.isMaker, a.feeEst, previous, keys)
	if err != nil {
		return nil, err
	}

	sendSetup := func(kind cfdwire.SetupKind, body interface{}) error {
		msg, err := wrapSetupMsg(kind, body)
		if err != nil {
			return err
		}
		return conn.Send(wrapRolloverRoleMsg(a.isMaker, msg))
	}

	if err := sendSetup(cfdwire.SetupPartyParams, rollover.OwnParamsMsg()); err != nil {
		return nil, err
	}
	theirParams, err := recvSetupMsg(q, cfdwire.SetupPartyParams)
	if err != nil {
		return nil, err
	}
	paramsMsg, err := theirParams.AsPartyParams()
	if err != nil {
		return nil, err
	}
	if err := rollover.ProcessCounterpartyParams(paramsMsg); err != nil {
		return nil, err
	}
	if err := rollover.BuildTransactions(); err != nil {
		return nil, err
	}

	lockSpendMsg, err := rollover.OwnLockSpendSignature()
	if err != nil {
		return nil, err
	}
	if err := sendSetup(cfdwire.SetupLockSpendSignature, lockSpendMsg); err != nil {
		return nil, err
	}
	theirLockSpend, err := recvSetupMsg(q, cfdwire.SetupLockSpendSignature)
	if err != nil {
		return nil, err
	}
	theirLockSpendMsg, err := theirLockSpend.AsLockSpendSignature()
	if err != nil {
		return nil, err
	}
	if err := rollover.ProcessCounterpartyLockSpendSignature(theirLockSpendMsg); err != nil {
		return nil, err
	}

	announcement, err := a.oracle.Announcement(ctx, contract.Offer.OracleEventID)
	if err != nil {
		return nil, err
	}

	cetMsg, err := rollover.OwnCetSignatures(announcement)
	if err != nil {
		return nil, err
	}
	if err := sendSetup(cfdwire.SetupCetSignatures, cetMsg); err != nil {
		return nil, err
	}
	theirCet, err := recvSetupMsg(q, cfdwire.SetupCetSignatures)
	if err != nil {
		return nil, err
	}
	theirCetMsg, err := theirCet.AsCetSignatures()
	if err != nil {
		return nil, err
	}
	if err := rollover.ProcessCounterpartyCetSignatures(theirCetMsg, announcement); err != nil {
		return nil, err
	}

	refundMsg, err := rollover.OwnRefundSignature()
	if err != nil {
		return nil, err
	}
	if err := sendSetup(cfdwire.SetupRefundSignature, refundMsg); err != nil {
		return nil, err
	}
	theirRefund, err := recvSetupMsg(q, cfdwire.SetupRefundSignature)
	if err != nil {
		return nil, err
	}
	theirRefundMsg, err := theirRefund.AsRefundSignature()
	if err != nil {
		return nil, err
	}
	if err := rollover.ProcessCounterpartyRefundSignature(theirRefundMsg); err != nil {
		return nil, err
	}

	dlc, err := rollover.Finalize()
	if err != nil {
		return nil, err
	}

	if err := sendSetup(cfdwire.SetupRolloverReveal, rollover.OwnRevocationDisclosure()); err != nil {
		return nil, err
	}
	theirReveal, err := recvSetupMsg(q, cfdwire.SetupRolloverReveal)
	if err != nil {
		return nil, err
	}
	theirRevealMsg, err := theirReveal.AsRolloverRevocation()
	if err != nil {
		return nil, err
	}
	if err := rollover.ProcessCounterpartyRevocationDisclosure(theirRevealMsg, dlc); err != nil {
		return nil, err
	}

	return dlc, nil
}

// setupQueue is the narrow read surface beginSetup's goroutine needs
// from the lnd/queue.ConcurrentQueue the router hands back.
type setupQueue interface {
	ChanOut() <-chan interface{}
}

func recvSetupMsg(q setupQueue, expect cfdwire.SetupKind) (cfdwire.SetupMsg, error) {
	raw := <-q.ChanOut()
	msg, ok := raw.(cfdwire.SetupMsg)
	if !ok {
		return cfdwire.SetupMsg{}, cfderr.Newf(cfderr.KindProtocolViolation, "unexpected message type on protocol queue")
	}
	if msg.Kind != expect {
		return cfdwire.SetupMsg{}, cfderr.Newf(cfderr.KindProtocolViolation, "expected %s, got %s", expect, msg.Kind)
	}
	return msg, nil
}

func wrapSetupMsg(kind cfdwire.SetupKind, body interface{}) (cfdwire.SetupMsg, error) {
	switch kind {
	case cfdwire.SetupPartyParams:
		return cfdwire.NewPartyParamsSetupMsg(body.(dlcproto.PartyParamsMsg))
	case cfdwire.SetupLockInputs:
		return cfdwire.NewLockInputsSetupMsg(body.(dlcproto.LockInputsMsg))
	case cfdwire.SetupLockSpendSignature:
		return cfdwire.NewLockSpendSignatureSetupMsg(body.(dlcproto.LockSpendSignatureMsg))
	case cfdwire.SetupCetSignatures:
		return cfdwire.NewCetSignaturesSetupMsg(body.(dlcproto.CetSignaturesMsg))
	case cfdwire.SetupRefundSignature:
		return cfdwire.NewRefundSignatureSetupMsg(body.(dlcproto.RefundSignatureMsg))
	case cfdwire.SetupRolloverReveal:
		return cfdwire.NewRolloverRevocationSetupMsg(body.(dlcproto.RolloverRevocationMsg))
	}
	return cfdwire.SetupMsg{}, cfderr.Newf(cfderr.KindProtocolViolation, "unknown setup round %s", kind)
}

func wrapRolloverRoleMsg(isMaker bool, msg cfdwire.SetupMsg) interface{} {
	if isMaker {
		return cfdwire.NewMakerRollOverProtocol(msg)
	}
	return cfdwire.NewTakerRollOverProtocol(msg)
}

func wrapRoleMsg(isMaker bool, msg cfdwire.SetupMsg) interface{} {
	if isMaker {
		return cfdwire.NewMakerProtocol(msg)
	}
	return cfdwire.NewTakerProtocol(msg)
}

// estimateOwnAmount is the wallet funding amount this side must lock
// (spec §3 "own signing keys... and the amount this side funds"):
// quantity divided by the offer's leverage, scaled by 1e8 and rounded
// to whole satoshis. Maker and taker get the same amount; no fee share
// is added.
func estimateOwnAmount(offer contractcourt.Offer, quantity decimal.Decimal, isMaker bool) (btcutil.Amount, error) {
	notional := quantity.Div(decimal.NewFromInt(int64(offer.Leverage)))
	sats := notional.Mul(decimal.New(1, 8)).Round(0)
	return btcutil.Amount(sats.IntPart()), nil
}

func (a *CFDActor) handleMakerMessage(peerID string, conn *cfdwire.Conn, raw []byte) error {
	var msg cfdwire.MakerToTaker
	if err := unmarshalOrErr(raw, &msg); err != nil {
		return err
	}
	ctx := context.Background()
	a.liveness.Touch(peerID)

	switch msg.Kind {
	case cfdwire.MakerCurrentOrder:
		offer, err := msg.AsCurrentOrder()
		if err != nil {
			return err
		}
		a.offerCacheMu.Lock()
		if offer != nil {
			a.offerCache[peerID] = *offer
		} else {
			delete(a.offerCache, peerID)
		}
		a.offerCacheMu.Unlock()
		return nil
	case cfdwire.MakerHeartbeat:
		return nil
	case cfdwire.MakerConfirmOrder:
		id, err := msg.AsOfferID()
		if err != nil {
			return err
		}
		return a.acceptLocked(ctx, peerID, id, decimal.Zero)
	case cfdwire.MakerRejectOrder:
		id, err := msg.AsOfferID()
		if err != nil {
			return err
		}
		return a.transition(ctx, id, contractcourt.Event{Kind: contractcourt.EventPeerReject})
	case cfdwire.MakerConfirmRollOver:
		id, _, err := msg.AsConfirmRollOver()
		if err != nil {
			return err
		}
		contract, err := a.repo.LoadContract(ctx, id)
		if err != nil {
			return err
		}
		return a.beginRollover(ctx, peerID, contract)
	case cfdwire.MakerRejectRollOver:
		id, err := msg.AsOfferID()
		if err != nil {
			return err
		}
		log.Warnf("rollover proposal rejected by maker for contract %s", id)
		return nil
	case cfdwire.MakerProtocol, cfdwire.MakerRollOverProtocol:
		setupMsg, err := msg.AsSetupMsg()
		if err != nil {
			return err
		}
		return a.dispatchSetupByOfferID(setupMsg)
	}
	return nil
}

func (a *CFDActor) handleTakerMessage(peerID string, conn *cfdwire.Conn, raw []byte) error {
	var msg cfdwire.TakerToMaker
	if err := unmarshalOrErr(raw, &msg); err != nil {
		return err
	}
	ctx := context.Background()

	switch msg.Kind {
	case cfdwire.TakerTakeOrder:
		body, err := msg.AsTakeOrder()
		if err != nil {
			return err
		}
		offer, err := a.repo.LoadOrder(ctx, body.OfferID)
		if err != nil {
			return err
		}
		if !offer.ValidQuantity(body.Quantity) {
			_ = conn.Send(cfdwire.NewRejectOrder(body.OfferID))
			return cfderr.Newf(cfderr.KindProtocolViolation, "quantity %s outside [%s, %s]", body.Quantity, offer.MinQuantity, offer.MaxQuantity)
		}
		return a.transition(ctx, body.OfferID, contractcourt.Event{Kind: contractcourt.EventPeerAccept})
	case cfdwire.TakerProposeRollOver:
		body, err := msg.AsProposeRollOver()
		if err != nil {
			return err
		}
		_ = body // caller-facing notification; maker operator decides via AcceptRollover/RejectRollover
		return nil
	case cfdwire.TakerProtocol, cfdwire.TakerRollOverProtocol:
		setupMsg, err := msg.AsSetupMsg()
		if err != nil {
			return err
		}
		return a.dispatchSetupByOfferID(setupMsg)
	}
	return nil
}

// dispatchSetupByOfferID decodes the contract id carried inside a
// setup round body and routes it to that contract's running protocol
// task (spec §5 "ordered, per-connection delivery").
func (a *CFDActor) dispatchSetupByOfferID(msg cfdwire.SetupMsg) error {
	var id contractcourt.OfferID
	switch msg.Kind {
	case cfdwire.SetupPartyParams:
		body, err := msg.AsPartyParams()
		if err != nil {
			return err
		}
		id = body.OfferID
	case cfdwire.SetupLockInputs:
		body, err := msg.AsLockInputs()
		if err != nil {
			return err
		}
		id = body.OfferID
	case cfdwire.SetupLockSpendSignature:
		body, err := msg.AsLockSpendSignature()
		if err != nil {
			return err
		}
		id = body.OfferID
	case cfdwire.SetupCetSignatures:
		body, err := msg.AsCetSignatures()
		if err != nil {
			return err
		}
		id = body.OfferID
	case cfdwire.SetupRefundSignature:
		body, err := msg.AsRefundSignature()
		if err != nil {
			return err
		}
		id = body.OfferID
	case cfdwire.SetupRolloverReveal:
		body, err := msg.AsRolloverRevocation()
		if err != nil {
			return err
		}
		id = body.OfferID
	default:
		return cfderr.Newf(cfderr.KindProtocolViolation, "unknown setup round kind %s", msg.Kind)
	}

	a.router.dispatch(id, msg)
	return nil
}

func unmarshalOrErr(raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return cfderr.New(cfderr.KindProtocolViolation, fmt.Errorf("decode inbound frame: %w", err))
	}
	return nil
}
