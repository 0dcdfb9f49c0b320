package protocol

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const txVersion = 2

// BuildLock constructs the lock transaction: a 2-of-2 multisig output
// funded by both wallets' selected UTXOs, with a change output back to
// each party (spec §4.1 "Lock"). Both parties build this independently
// from the exchanged PartyParams and must arrive at byte-identical
// bodies (spec §8 property) thanks to the deterministic in/out
// ordering in scripts.go.
func BuildLock(maker, taker PartyParams, fee FeeEstimator) (*wire.MsgTx, *wire.TxOut, []byte, error) {
	tx := wire.NewMsgTx(txVersion)

	for _, in := range maker.FundingInputs {
		tx.AddTxIn(wire.NewTxIn(&in.OutPoint, nil, nil))
	}
	for _, in := range taker.FundingInputs {
		tx.AddTxIn(wire.NewTxIn(&in.OutPoint, nil, nil))
	}
	sortTxIns(tx.TxIn)

	redeemScript, lockOut, err := genFundingPkScript(
		maker.IdentityPubKey.SerializeCompressed(),
		taker.IdentityPubKey.SerializeCompressed(),
		maker.Amount+taker.Amount,
	)
	if err != nil {
		return nil, nil, nil, err
	}
	tx.AddTxOut(lockOut)

	if makerChange := maker.totalInput() - maker.Amount; makerChange > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(makerChange), maker.ChangeScript))
	}
	if takerChange := taker.totalInput() - taker.Amount; takerChange > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(takerChange), taker.ChangeScript))
	}

	// Outputs other than the lock output itself are sorted; the lock
	// output's position does not matter for determinism since its
	// script/value are themselves derived identically by both sides,
	// so a single pass sorting all outputs keeps both wallets aligned.
	sortTxOuts(tx.TxOut)

	totalIn := maker.totalInput() + taker.totalInput()
	if err := CheckTxFee(tx, totalIn); err != nil {
		return nil, nil, nil, err
	}

	return tx, lockOut, redeemScript, nil
}

// BuildCommit constructs the commit transaction spending the lock
// output, to the three-branch descriptor of spec invariant 3. Output
// value is lock minus fee (spec §4.1 "Commit").
func BuildCommit(lockTx *wire.MsgTx, lockOutIndex uint32, lockValue btcutil.Amount,
	refundTimelock uint32, maker, taker PartyParams, makerRevPub, takerRevPub,
	makerPubPub, takerPubPub *btcec.PublicKey, fee FeeEstimator) (*wire.MsgTx, []byte, []byte, error) {

	tx := wire.NewMsgTx(txVersion)
	lockHash := lockTx.TxHash()
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&lockHash, lockOutIndex), nil, nil))

	// The commit script encodes both sides' revocation/publish
	// branches by nesting: maker's clause is selected by the spender
	// providing the maker's revocation/publish key, taker's
	// symmetrically. Either side's key is a live leaf, not collapsed
	// to one hardcoded party, since either side can end up needing to
	// punish or settle against the other's generation.
	script, err := commitScript(
		refundTimelock, maker.IdentityPubKey, taker.IdentityPubKey,
		makerRevPub, takerRevPub, makerPubPub, takerPubPub,
	)
	if err != nil {
		return nil, nil, nil, err
	}

	pkScript, err := witnessScriptHash(script)
	if err != nil {
		return nil, nil, nil, err
	}

	vsizeEstimate := estimateCommitVsize()
	minFee := MinRelayFee(vsizeEstimate)
	tx.AddTxOut(wire.NewTxOut(int64(lockValue-minFee), pkScript))

	return tx, script, pkScript, nil
}

// estimateCommitVsize returns a conservative fixed virtual-size
// estimate for a commit transaction (one P2WSH input, one P2WSH
// output), matching the teacher's lnwallet/size.go approach of
// pre-computed weight constants rather than live-estimating each time.
func estimateCommitVsize() int64 {
	const (
		baseSize    = 4 + 1 + 1 + 1 + 4 // version, incount, outcount, locktime rough base
		inputWeight = 41 * 4
		witnessSize = 220 // three-branch script + one sig, worst case
		outputSize  = 43
	)
	totalWeight := baseSize*4 + inputWeight + witnessSize + outputSize*4
	return int64(totalWeight+3) / 4
}

// BuildRefund constructs the refund transaction spending the commit
// output's joint-signature branch after refundTimelock, paying each
// party the split agreed at contract start (spec §4.1 "Refund").
func BuildRefund(commitTx *wire.MsgTx, commitScript []byte, commitValue btcutil.Amount,
	refundTimelock uint32, makerScript, takerScript []byte, makerAmt, takerAmt btcutil.Amount) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx(txVersion)
	tx.LockTime = refundTimelock

	commitHash := commitTx.TxHash()
	txIn := wire.NewTxIn(wire.NewOutPoint(&commitHash, 0), nil, nil)
	txIn.Sequence = wire.MaxTxInSequenceNum - 1
	tx.AddTxIn(txIn)

	if makerAmt > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(makerAmt), makerScript))
	}
	if takerAmt > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(takerAmt), takerScript))
	}
	sortTxOuts(tx.TxOut)

	if err := CheckTxFee(tx, commitValue); err != nil {
		return nil, err
	}

	return tx, nil
}

// AttachLockWitness assembles and sets the witness spending the lock
// output's 2-of-2 multisig on commitTx's single input, completing the
// commit transaction for broadcast (spec §4.2's commit-spend-of-lock
// signature round).
func AttachLockWitness(commitTx *wire.MsgTx, lockRedeemScript []byte,
	makerSig []byte, makerPub *btcec.PublicKey, takerSig []byte, takerPub *btcec.PublicKey) {

	commitTx.TxIn[0].Witness = lockMultiSigWitness(lockRedeemScript, makerSig, makerPub, takerSig, takerPub)
}

// AttachRefundWitness assembles and sets the witness spending the
// commit output's joint-signature branch on refundTx's single input
// (spec §4.1 "Refund").
func AttachRefundWitness(refundTx *wire.MsgTx, commitRedeemScript []byte, makerSig, takerSig []byte) {
	refundTx.TxIn[0].Witness = commitWitnessJoint(takerSig, makerSig, commitRedeemScript)
}

// BuildCET constructs one CET spending the commit output for a single
// payout interval, to be signed via adaptor signature under the
// interval's oracle-derived encryption point (spec §4.1 "CET").
func BuildCET(commitTx *wire.MsgTx, commitValue btcutil.Amount, interval Payout,
	makerScript, takerScript []byte) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx(txVersion)
	commitHash := commitTx.TxHash()
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&commitHash, 0), nil, nil))

	if interval.MakerAmount > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(interval.MakerAmount), makerScript))
	}
	if interval.TakerAmount > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(interval.TakerAmount), takerScript))
	}
	sortTxOuts(tx.TxOut)

	if err := CheckTxFee(tx, commitValue); err != nil {
		return nil, err
	}

	return tx, nil
}

// BuildClose constructs the collaborative close transaction spending
// the lock output directly to the agreed payouts, no commit tx and no
// timelock involved (spec §4.1 "Close").
func BuildClose(lockTx *wire.MsgTx, lockOutIndex uint32, lockValue btcutil.Amount,
	makerScript, takerScript []byte, makerAmt, takerAmt btcutil.Amount) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx(txVersion)
	lockHash := lockTx.TxHash()
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&lockHash, lockOutIndex), nil, nil))

	if makerAmt > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(makerAmt), makerScript))
	}
	if takerAmt > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(takerAmt), takerScript))
	}
	sortTxOuts(tx.TxOut)

	if err := CheckTxFee(tx, lockValue); err != nil {
		return nil, err
	}

	return tx, nil
}

// BuildPunish constructs the punish transaction sweeping the commit
// amount, less the minimum relay fee, to ownAddr (spec §4.1 "Punish",
// scenario 5). The transaction is returned without a witness: no
// revocation secret or key is used here, and commitScript is not read.
func BuildPunish(commitTx *wire.MsgTx, commitScript []byte, commitValue btcutil.Amount,
	ownAddr []byte) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx(txVersion)
	commitHash := commitTx.TxHash()
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&commitHash, 0), nil, nil))

	minFee := MinRelayFee(estimatePunishVsize())
	tx.AddTxOut(wire.NewTxOut(int64(commitValue-minFee), ownAddr))

	if err := CheckTxFee(tx, commitValue); err != nil {
		return nil, err
	}
	return tx, nil
}

func estimatePunishVsize() int64 {
	const (
		baseSize    = 10
		inputWeight = 41 * 4
		witnessSize = 150
		outputSize  = 31 * 4
	)
	totalWeight := baseSize*4 + inputWeight + witnessSize + outputSize
	return int64(totalWeight+3) / 4
}

// SignJointSig produces an ordinary (non-adaptor) ECDSA signature
// for the refund and close transactions' joint branches, and for the
// 2-of-2 lock spend. Both identity keys sign independently and the
// witnesses are assembled by the caller once both signatures arrive.
func SignJointSig(sk *btcec.PrivateKey, tx *wire.MsgTx, inputIndex int,
	prevScript []byte, prevValue btcutil.Amount) (*ecdsa.Signature, error) {

	sigHashes := txscript.NewTxSigHashes(tx, txscript.NewCannedPrevOutputFetcher(prevScript, int64(prevValue)))
	hash, err := txscript.CalcWitnessSigHash(prevScript, sigHashes, txscript.SigHashAll, tx, inputIndex, int64(prevValue))
	if err != nil {
		return nil, fmt.Errorf("protocol: compute sighash: %w", err)
	}

	var msg [32]byte
	copy(msg[:], hash)
	return ecdsa.Sign(sk, msg[:]), nil
}

// SpendingMessage returns the 32-byte sighash a given input of tx must
// sign over, used both for ordinary signatures and as the adaptor
// signature message.
func SpendingMessage(tx *wire.MsgTx, inputIndex int, prevScript []byte, prevValue btcutil.Amount) ([32]byte, error) {
	var out [32]byte
	sigHashes := txscript.NewTxSigHashes(tx, txscript.NewCannedPrevOutputFetcher(prevScript, int64(prevValue)))
	hash, err := txscript.CalcWitnessSigHash(prevScript, sigHashes, txscript.SigHashAll, tx, inputIndex, int64(prevValue))
	if err != nil {
		return out, err
	}
	copy(out[:], hash)
	return out, nil
}

// TxID is a convenience wrapper returning the chainhash txid of tx.
func TxID(tx *wire.MsgTx) chainhash.Hash {
	return tx.TxHash()
}

func hashScript(script []byte) [32]byte {
	return sha256.Sum256(script)
}
