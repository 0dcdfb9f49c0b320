package contractcourt

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cfdlabs/cfd-core/chainntfs"
	"github.com/cfdlabs/cfd-core/protocol"
)

// PunishWatcher is a special subsystem responsible for watching for any
// attempted uncooperative breach by a counterparty publishing a stale
// commit transaction, and reacting by sweeping the full commit amount
// using the disclosed revocation secret (spec §4.3 "counterparty-
// commit-with-stale-revocation", scenario 5). Grounded directly on the
// teacher's breachArbiter: in practice this code is expected to run
// rarely, but it is the deterrent that makes rollover's disclosure of
// the previous revocation secret meaningful.
type PunishWatcher struct {
	notifier chainntfs.ChainNotifier

	mu       sync.Mutex
	watching map[OfferID]*watchedContract

	quit chan struct{}
	wg   sync.WaitGroup
}

type watchedContract struct {
	offerID      OfferID
	priorCommits map[chainhash.Hash]PriorCommitInfo
	settleChan   chan struct{}
}

// PriorCommitInfo is the material needed to construct a punish
// transaction against one stale, disclosed-revocation commit
// generation, supplied by the coordinator when it registers a watch
// (spec §4.3 "counterparty-commit-with-stale-revocation", scenario 5).
type PriorCommitInfo struct {
	Script             []byte
	PkScript           []byte
	Value              int64
	RevocationPreimage [32]byte
	OwnAddr            []byte
}

// NewPunishWatcher constructs a PunishWatcher backed by a chain notifier.
func NewPunishWatcher(notifier chainntfs.ChainNotifier) *PunishWatcher {
	return &PunishWatcher{
		notifier: notifier,
		watching: make(map[OfferID]*watchedContract),
		quit:     make(chan struct{}),
	}
}

// PunishTxReady is sent on Found once a stale commit has been observed
// and the corresponding punish transaction has been constructed; the
// coordinator is responsible for broadcasting it (idempotently, per
// spec §4.4) and persisting EventCounterpartyStaleCommit.
type PunishTxReady struct {
	OfferID OfferID
	Tx      *wire.MsgTx
}

// Watch registers interest in commitOutpoint, the lock output that
// every generation's commit transaction spends, and records
// priorCommitTxid as a stale commit for offerID; a spend by that
// transaction is treated as a breach. Prior commits accumulate across
// rollovers.
// Grounded on breachArbiter.newContracts / the per-channel breach
// observer goroutine.
func (p *PunishWatcher) Watch(offerID OfferID, commitOutpoint wire.OutPoint, priorCommitTxid chainhash.Hash,
	info PriorCommitInfo, found chan<- PunishTxReady) error {

	p.mu.Lock()
	wc, ok := p.watching[offerID]
	if !ok {
		wc = &watchedContract{
			offerID:      offerID,
			priorCommits: make(map[chainhash.Hash]PriorCommitInfo),
			settleChan:   make(chan struct{}),
		}
		p.watching[offerID] = wc
	}
	wc.priorCommits[priorCommitTxid] = info
	p.mu.Unlock()

	spendChan, err := p.notifier.RegisterSpendNtfn(&commitOutpoint)
	if err != nil {
		return err
	}

	p.wg.Add(1)
	go p.watchOutpoint(offerID, priorCommitTxid, spendChan, found, wc.settleChan)
	return nil
}

func (p *PunishWatcher) watchOutpoint(offerID OfferID, priorCommitTxid chainhash.Hash,
	spendChan *chainntfs.SpendEvent, found chan<- PunishTxReady, settle chan struct{}) {

	defer p.wg.Done()

	select {
	case detail, ok := <-spendChan.Spend:
		if !ok {
			return
		}

		if detail.SpendingTx.TxHash() != priorCommitTxid {
			// The lock output was spent by the current generation's
			// commit transaction, not a stale one: no breach.
			return
		}

		p.mu.Lock()
		wc := p.watching[offerID]
		info, known := wc.priorCommits[priorCommitTxid]
		p.mu.Unlock()
		if !known {
			return
		}

		log.Warnf("detected spend of stale commit for contract %s, "+
			"constructing punish tx", offerID)

		punishTx, err := protocol.BuildPunish(
			detail.SpendingTx, info.Script, btcutil.Amount(info.Value), info.OwnAddr,
		)
		if err != nil {
			log.Errorf("unable to build punish tx for contract %s: %v", offerID, err)
			return
		}

		select {
		case found <- PunishTxReady{OfferID: offerID, Tx: punishTx}:
		case <-p.quit:
		}

	case <-settle:
	case <-p.quit:
	}
}

// Settle stops watching offerID's commit outputs, called once the
// contract has reached a terminal state via the happy path.
func (p *PunishWatcher) Settle(offerID OfferID) {
	p.mu.Lock()
	wc, ok := p.watching[offerID]
	if ok {
		delete(p.watching, offerID)
	}
	p.mu.Unlock()

	if ok {
		close(wc.settleChan)
	}
}

// Stop shuts down the watcher, cancelling all outstanding goroutines.
func (p *PunishWatcher) Stop() {
	close(p.quit)
	p.wg.Wait()
}
