package dlcproto

import (
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/cfdlabs/cfd-core/protocol"
)

// PartyParamsMsg is round 1 of setup/rollover: each side's funding
// inputs, change address, and per-DLC keys (spec §4.2 step 1). Carried
// over cfdwire as the payload of a SetupParams/RolloverParams wire
// message.
type PartyParamsMsg struct {
	OfferID [16]byte

	FundingInputs []protocol.UtxoInput
	ChangeScript  []byte
	Amount        int64

	IdentityPubKey   []byte
	RevocationPubKey []byte
	PublishPubKey    []byte
}

func toParams(m PartyParamsMsg) (protocol.PartyParams, error) {
	identity, err := btcec.ParsePubKey(m.IdentityPubKey)
	if err != nil {
		return protocol.PartyParams{}, err
	}
	revocation, err := btcec.ParsePubKey(m.RevocationPubKey)
	if err != nil {
		return protocol.PartyParams{}, err
	}
	publish, err := btcec.ParsePubKey(m.PublishPubKey)
	if err != nil {
		return protocol.PartyParams{}, err
	}
	return protocol.PartyParams{
		FundingInputs:    m.FundingInputs,
		ChangeScript:     m.ChangeScript,
		Amount:           btcutil.Amount(m.Amount),
		IdentityPubKey:   identity,
		RevocationPubKey: revocation,
		PublishPubKey:    publish,
	}, nil
}

func fromParams(offerID [16]byte, p protocol.PartyParams) PartyParamsMsg {
	return PartyParamsMsg{
		OfferID:          offerID,
		FundingInputs:    p.FundingInputs,
		ChangeScript:     p.ChangeScript,
		Amount:           int64(p.Amount),
		IdentityPubKey:   p.IdentityPubKey.SerializeCompressed(),
		RevocationPubKey: p.RevocationPubKey.SerializeCompressed(),
		PublishPubKey:    p.PublishPubKey.SerializeCompressed(),
	}
}

// CetSignaturesMsg is round 4 of setup/rollover: one adaptor signature
// per CET, in the same order as the locally-computed payout table, so
// the counterparty can zip them against its own CET list without an
// explicit interval tag on the wire (spec §4.2 step 3).
type CetSignaturesMsg struct {
	OfferID [16]byte
	Sigs    []AdaptorSigMsg
}

// AdaptorSigMsg is the wire encoding of protocol.AdaptorSignature: R is
// a compressed curve point (not a scalar), matching the adaptor scheme's
// R = k*G + EncryptionPoint construction in protocol/adaptor.go.
type AdaptorSigMsg struct {
	R               []byte
	S               []byte
	EncryptionPoint []byte
}

func toAdaptorSig(m AdaptorSigMsg) (*protocol.AdaptorSignature, error) {
	r, err := btcec.ParsePubKey(m.R)
	if err != nil {
		return nil, err
	}
	encPoint, err := btcec.ParsePubKey(m.EncryptionPoint)
	if err != nil {
		return nil, err
	}
	return &protocol.AdaptorSignature{
		R:               r,
		S:               new(big.Int).SetBytes(m.S),
		EncryptionPoint: encPoint,
	}, nil
}

func fromAdaptorSig(a *protocol.AdaptorSignature) AdaptorSigMsg {
	return AdaptorSigMsg{
		R:               a.R.SerializeCompressed(),
		S:               a.S.Bytes(),
		EncryptionPoint: a.EncryptionPoint.SerializeCompressed(),
	}
}

// LockInputsMsg carries a party's PSBT-signed lock inputs (spec §4.2
// step 2: "PSBT-signed lock inputs"). PsbtBlob is the serialized
// psbt.Packet this side produced with protocol.SignLockPSBT; the
// counterparty merges it with its own via protocol.MergeLockPSBTs.
type LockInputsMsg struct {
	OfferID  [16]byte
	PsbtBlob []byte
}

// LockSpendSignatureMsg carries the ordinary ECDSA signature over the
// commit transaction's spend of the lock output's 2-of-2 multisig
// (spec §4.2: the commit-spend-of-lock signature round needed before
// the commit transaction carries a spendable witness).
type LockSpendSignatureMsg struct {
	OfferID [16]byte
	Sig     []byte
}

// RefundSignatureMsg is round 5: the ordinary ECDSA signature over the
// refund transaction's joint-sig branch (spec §4.2 step 4).
type RefundSignatureMsg struct {
	OfferID [16]byte
	Sig     []byte
}

func toEcdsaSig(b []byte) (*ecdsa.Signature, error) {
	return ecdsa.ParseDERSignature(b)
}

// RolloverRevocationMsg discloses the previous DLC generation's
// revocation preimage once a rollover's new DLC is fully signed,
// granting the counterparty punish capability over the now-stale
// commit transaction (spec §3 "DLC lifecycles", §4.2 rollover).
type RolloverRevocationMsg struct {
	OfferID            [16]byte
	RevocationPreimage [32]byte
}

