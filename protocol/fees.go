package protocol

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// FeeEstimator supplies a feerate in sat/vbyte. The only implementation
// shipped here is a fixed-rate one; a dynamic feerate source is left to
// the embedder (spec §9 design notes).
type FeeEstimator interface {
	FeePerVByte() btcutil.Amount
}

// StaticFeeEstimator always returns the same feerate, used for the lock
// transaction's fixed per-vbyte feerate (spec §4.1 "Fee policy").
type StaticFeeEstimator struct {
	SatPerVByte btcutil.Amount
}

func (s StaticFeeEstimator) FeePerVByte() btcutil.Amount { return s.SatPerVByte }

// minRelayFeePerKvb is the standard Bitcoin Core default minimum relay
// feerate, expressed in sat/kvB.
const minRelayFeePerKvb = 1000

// MinRelayFee computes the minimum relay fee for a transaction of the
// given virtual size, matching the teacher's lnwallet/size.go vsize
// accounting.
func MinRelayFee(vsize int64) btcutil.Amount {
	fee := (vsize * minRelayFeePerKvb) / 1000
	if fee == 0 && vsize > 0 {
		fee = 1
	}
	return btcutil.Amount(fee)
}

// CheckTxFee asserts that a constructed transaction pays at least the
// minimum relay fee for its virtual size, rejecting the transaction
// otherwise (spec §4.1: "A constructed transaction that would violate
// fee ≥ min_relay_fee(vsize) is rejected."). Exposed as an
// independently callable guard per the original_source supplement
// (§C.4 of SPEC_FULL.md), not just inlined into construction.
func CheckTxFee(tx *wire.MsgTx, inputTotal btcutil.Amount) error {
	var outputTotal btcutil.Amount
	for _, out := range tx.TxOut {
		outputTotal += btcutil.Amount(out.Value)
	}

	fee := inputTotal - outputTotal
	if fee < 0 {
		return fmt.Errorf("protocol: outputs (%v) exceed inputs (%v)", outputTotal, inputTotal)
	}

	vsize := blockchain.GetTransactionWeight(btcutil.NewTx(tx)) / blockchain.WitnessScaleFactor
	minFee := MinRelayFee(vsize)
	if fee < minFee {
		return fmt.Errorf("protocol: fee %v below minimum relay fee %v for vsize %d", fee, minFee, vsize)
	}

	return nil
}
