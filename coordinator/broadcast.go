package coordinator

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// broadcastGuard prevents a retried effect from driving the state
// machine twice by remembering which transaction ids this process has
// already submitted (spec §4.4 "each broadcast attempt is guarded by
// the chain monitor's knowledge of the transaction id; double
// broadcasts must not drive the state machine twice"). This is an
// in-memory best-effort guard for the common case (effect re-executed
// within the same process run); the chain monitor's own confirmation
// tracking is the durable backstop across restarts.
type broadcastGuard struct {
	mu   sync.Mutex
	seen map[chainhash.Hash]bool
}

func newBroadcastGuard() *broadcastGuard {
	return &broadcastGuard{seen: make(map[chainhash.Hash]bool)}
}

// broadcastOnce submits tx via wallet unless its txid has already been
// submitted by this guard.
func (g *broadcastGuard) broadcastOnce(ctx context.Context, wallet Wallet, tx *wire.MsgTx) error {
	txid := tx.TxHash()

	g.mu.Lock()
	if g.seen[txid] {
		g.mu.Unlock()
		log.Debugf("skipping duplicate broadcast of %s", txid)
		return nil
	}
	g.seen[txid] = true
	g.mu.Unlock()

	if err := wallet.Broadcast(ctx, tx); err != nil {
		g.mu.Lock()
		delete(g.seen, txid)
		g.mu.Unlock()
		return err
	}
	return nil
}
