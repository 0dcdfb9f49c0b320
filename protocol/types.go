package protocol

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// UtxoInput is a single funding input a party contributes to the lock
// transaction, together with the data needed to sign for it.
type UtxoInput struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
}

// PartyParams is the per-party material exchanged during setup (spec
// §4.2 step 1): funding inputs, change address, and the three per-DLC
// keys (identity, revocation, publish).
type PartyParams struct {
	FundingInputs   []UtxoInput
	ChangeScript    []byte
	Amount          btcutil.Amount
	IdentityPubKey  *btcec.PublicKey
	RevocationPubKey *btcec.PublicKey
	PublishPubKey   *btcec.PublicKey
}

// PartyKeys holds the private counterparts of PartyParams' pubkeys,
// kept locally and never sent over the wire.
type PartyKeys struct {
	Identity   *btcec.PrivateKey
	Revocation *btcec.PrivateKey
	Publish    *btcec.PrivateKey

	// RevocationPreimage is the secret disclosed to the counterparty on
	// the *next* rollover, granting them punish capability over this
	// DLC's commit tx (spec §3 "DLC lifecycles").
	RevocationPreimage [32]byte
}

// Payout describes one interval's settlement split (spec §3 invariant
// 2: payouts sum to lock amount minus fee, each ≥ 0).
type Payout struct {
	Lo, Hi      uint64
	MakerAmount btcutil.Amount
	TakerAmount btcutil.Amount
}

// PayoutTable is the full set of intervals covering the oracle's
// representable price domain (spec invariant 1).
type PayoutTable []Payout

// CET is one Contract Execution Transaction: a pre-signed spend of the
// commit output for one payout interval, unlocked by the interval's
// adaptor signature once the matching digits are attested.
type CET struct {
	Interval       Payout
	Prefixes       []DigitPrefix
	Tx             *wire.MsgTx
	CounterpartySig *AdaptorSignature
}

// DLC is the fully-signed bundle produced by a successful setup or
// rollover, held independently (and differently) by each party (spec
// §3 "DLC bundle").
type DLC struct {
	OracleEventID string

	Maker PartyParams
	Taker PartyParams

	// Own is this side's private keys for the current DLC generation.
	Own PartyKeys

	// PriorRevocationSecret is the counterparty's disclosed revocation
	// preimage for the *previous* DLC generation, if this DLC resulted
	// from a rollover; nil before the first rollover. Granting this
	// side punish capability over the stale commit transaction.
	PriorRevocationSecret *[32]byte
	PriorCommitScript     []byte
	PriorCommitPkScript   []byte
	PriorCounterpartyRevocationPub *btcec.PublicKey

	LockTx           *wire.MsgTx
	LockValue        btcutil.Amount
	LockRedeemScript []byte

	CommitTx        *wire.MsgTx
	CommitScript    []byte
	CommitPkScript  []byte

	RefundTx          *wire.MsgTx
	RefundTimelock    uint32
	CetTimelock       uint32
	RefundSplit       Payout
	CounterpartyRefundSig []byte

	Payouts PayoutTable
	CETs    []CET

	IsMaker bool
}

// Role reports which side of the contract this DLC was built for.
func (d *DLC) Role() string {
	if d.IsMaker {
		return "maker"
	}
	return "taker"
}

func (p PartyParams) totalInput() btcutil.Amount {
	var total btcutil.Amount
	for _, in := range p.FundingInputs {
		total += in.Value
	}
	return total
}
