package coordinator

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/cfdlabs/cfd-core/chainntfs"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/cfdlabs/cfd-core/protocol"
)

// watchContract registers the chain-monitor subscriptions a freshly
// opened DLC needs and forwards whatever fires first as a
// chainntfs.FinalityEvent on events. Exactly one of the registered
// notifications is expected to fire per DLC generation on the happy
// path (spec §4.6 "events are produced at most once per (contract,
// event-kind)"); callers re-subscribe for the next expected event once
// the state machine advances (e.g. after LockFinality, subscribe for
// CommitFinality/refund-timelock-expiry instead of re-watching lock).
func watchContract(monitor ChainMonitor, contractID contractcourt.OfferID, dlc *protocol.DLC, kind chainntfs.FinalityKind, events chan<- chainntfs.FinalityEvent) error {
	switch kind {
	case chainntfs.FinalityLock:
		return watchConfirmation(monitor, contractID, dlc.LockTx, chainntfs.FinalityLock, 1, events)
	case chainntfs.FinalityCommit:
		return watchConfirmation(monitor, contractID, dlc.CommitTx, chainntfs.FinalityCommit, 1, events)
	case chainntfs.FinalityRefund:
		return watchConfirmation(monitor, contractID, dlc.RefundTx, chainntfs.FinalityRefund, 1, events)
	case chainntfs.FinalityCollaborativeClose:
		return watchConfirmation(monitor, contractID, dlc.LockTx, chainntfs.FinalityCollaborativeClose, 1, events)
	}
	return nil
}

func watchConfirmation(monitor ChainMonitor, contractID contractcourt.OfferID, tx *wire.MsgTx, kind chainntfs.FinalityKind, numConfs uint32, events chan<- chainntfs.FinalityEvent) error {
	txHash := tx.TxHash()
	ev, err := monitor.RegisterConfirmationsNtfn(&txHash, numConfs)
	if err != nil {
		return err
	}

	go func() {
		if _, ok := <-ev.Confirmed; !ok {
			return
		}
		events <- chainntfs.FinalityEvent{ContractID: contractID, Kind: kind, Tx: tx}
	}()
	return nil
}

// watchStaleCommit registers punish-watching for the just-superseded
// generation prior's commit transaction, the punish trigger of spec
// §4.3 scenario 5 ("counterparty-commit-with-stale-revocation"): the
// lock output is spent exactly once, by whichever generation's commit
// transaction gets broadcast, so watching it lets PunishWatcher
// distinguish a legitimate current-generation broadcast from a stale
// one. dlc is the new, just-activated generation and prior is the
// generation it replaced.
func watchStaleCommit(watcher *contractcourt.PunishWatcher, contractID contractcourt.OfferID,
	dlc, prior *protocol.DLC, found chan<- contractcourt.PunishTxReady) error {

	if dlc.PriorRevocationSecret == nil {
		return nil
	}

	lockOutpoint := wire.OutPoint{Hash: dlc.LockTx.TxHash(), Index: 0}
	priorCommitTxid := prior.CommitTx.TxHash()

	ownParty := dlc.Maker
	if !dlc.IsMaker {
		ownParty = dlc.Taker
	}

	info := contractcourt.PriorCommitInfo{
		Script:             dlc.PriorCommitScript,
		PkScript:           dlc.PriorCommitPkScript,
		Value:              prior.CommitTx.TxOut[0].Value,
		RevocationPreimage: *dlc.PriorRevocationSecret,
		OwnAddr:            ownParty.ChangeScript,
	}
	return watcher.Watch(contractID, lockOutpoint, priorCommitTxid, info, found)
}
