package daemon

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cfdlabs/cfd-core/cfderr"
)

// NullChainSource is a chainntfs.ChainSource that never observes a
// confirmation or a spend. It exists so cfdmakerd/cfdtakerd can start
// up and accept operator commands (publish offer, take order) without
// a production chain backend wired in yet (spec §1 "out of scope:
// electrum chain access" — the protocol core only depends on the
// ChainSource interface, never a concrete implementation). Deployments
// replace this with a real Electrum or btcd RPC-backed source before
// any contract is expected to reach PendingOpen.
type NullChainSource struct{}

func (NullChainSource) BestBlock() (*chainhash.Hash, int32, error) {
	return nil, 0, cfderr.Newf(cfderr.KindConfiguration, "no chain source configured")
}

func (NullChainSource) GetRawTransaction(txid *chainhash.Hash) (*wire.MsgTx, int32, error) {
	return nil, 0, cfderr.Newf(cfderr.KindConfiguration, "no chain source configured")
}

func (NullChainSource) GetSpendingTx(outpoint *wire.OutPoint) (*wire.MsgTx, int32, error) {
	return nil, 0, cfderr.Newf(cfderr.KindConfiguration, "no chain source configured")
}
