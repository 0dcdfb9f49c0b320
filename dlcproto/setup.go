package dlcproto

import (
	"bytes"
	"crypto/rand"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/cfdlabs/cfd-core/protocol"
	"github.com/shopspring/decimal"
)

// NumDigits is the default oracle price resolution (spec §3 "default
// 20 binary digits").
const NumDigits = protocol.DefaultNumDigits

// DefaultRefundDelay and DefaultCetCsv are the default contract
// timelocks: refund is a fixed future locktime, CET/commit spends wait
// out a relative CSV delay that gives the counterparty a window to
// punish a stale broadcast.
const (
	DefaultRefundDelay = 6 * 144 // 6 days of blocks
	DefaultCetCsv      = 144          // ~1 day of blocks
)

// Setup drives the interactive DLC setup protocol for one contract
// (spec §4.2). It is constructed fresh per setup attempt, used for
// exactly one run, and discarded once Finalize succeeds or any step
// errors. Grounded on lnwallet.ChannelReservation: a single struct
// threading state through an ordered sequence of method calls, one per
// wire round-trip, rather than a generic state machine.
type Setup struct {
	offer    contractcourt.Offer
	quantity decimal.Decimal
	isMaker  bool
	feeEst   protocol.FeeEstimator

	ownParams protocol.PartyParams
	ownKeys   protocol.PartyKeys

	theirParams protocol.PartyParams

	table protocol.PayoutTable

	dlc          *protocol.DLC
	commitScript []byte
	commitPk     []byte

	ownLockPSBT *psbt.Packet

	theirLockSpendSig *ecdsa.Signature
	theirCetSigs      []*protocol.AdaptorSignature
	theirRefundSig    *ecdsa.Signature
}

// NewSetup begins a setup session for offer at the given quantity.
// ownParams/ownKeys must already reflect wallet-selected funding
// inputs and freshly generated per-DLC keys (spec §4.2 step 1).
func NewSetup(offer contractcourt.Offer, quantity decimal.Decimal, isMaker bool,
	feeEst protocol.FeeEstimator, ownParams protocol.PartyParams, ownKeys protocol.PartyKeys) *Setup {

	return &Setup{
		offer:     offer,
		quantity:  quantity,
		isMaker:   isMaker,
		feeEst:    feeEst,
		ownParams: ownParams,
		ownKeys:   ownKeys,
	}
}

// OwnParamsMsg returns round 1's outgoing message.
func (s *Setup) OwnParamsMsg() PartyParamsMsg {
	return fromParams(s.offer.ID, s.ownParams)
}

// ProcessCounterpartyParams ingests round 1's incoming message and
// computes the shared payout table (spec §4.2 step 2).
func (s *Setup) ProcessCounterpartyParams(msg PartyParamsMsg) error {
	params, err := toParams(msg)
	if err != nil {
		return cfderr.Newf(cfderr.KindProtocolViolation, "parse counterparty params: %v", err)
	}
	s.theirParams = params

	lockAmount := s.ownParams.Amount + s.theirParams.Amount
	table, err := BuildPayoutTable(s.offer, s.quantity, lockAmount, 0, NumDigits)
	if err != nil {
		return cfderr.Newf(cfderr.KindProtocolViolation, "build payout table: %v", err)
	}
	s.table = table
	return nil
}

func (s *Setup) makerTaker() (maker, taker protocol.PartyParams) {
	if s.isMaker {
		return s.ownParams, s.theirParams
	}
	return s.theirParams, s.ownParams
}

// ownIdentity and counterpartyIdentity return the two parties'
// identity public keys, independent of maker/taker role.
func (s *Setup) counterpartyIdentity() *btcec.PublicKey {
	return s.theirParams.IdentityPubKey
}

// BuildTransactions constructs lock, commit, refund and all CETs from
// the now-complete pair of PartyParams and the locally-computed payout
// table (spec §4.2 step 2 continued). Both sides arrive at
// byte-identical transactions, which is the precondition for the
// adaptor/ECDSA signature exchange that follows.
func (s *Setup) BuildTransactions() error {
	maker, taker := s.makerTaker()

	lockTx, lockOut, lockRedeemScript, err := protocol.BuildLock(maker, taker, s.feeEst)
	if err != nil {
		return err
	}

	commitTx, commitScript, commitPk, err := protocol.BuildCommit(
		lockTx, 0, btcutil.Amount(lockOut.Value), DefaultRefundDelay,
		maker, taker,
		maker.RevocationPubKey, taker.RevocationPubKey,
		maker.PublishPubKey, taker.PublishPubKey,
		s.feeEst,
	)
	if err != nil {
		return err
	}
	s.commitScript, s.commitPk = commitScript, commitPk

	commitValue := btcutil.Amount(commitTx.TxOut[0].Value)
	half := protocol.Payout{
		MakerAmount: commitValue / 2,
		TakerAmount: commitValue - commitValue/2,
	}
	refundTx, err := protocol.BuildRefund(commitTx, commitScript, commitValue,
		DefaultRefundDelay, maker.ChangeScript, taker.ChangeScript, half.MakerAmount, half.TakerAmount)
	if err != nil {
		return err
	}

	cets, err := protocol.BuildAllCETs(commitTx, commitValue, s.table, NumDigits,
		maker.ChangeScript, taker.ChangeScript)
	if err != nil {
		return err
	}

	preimage, err := randomPreimage()
	if err != nil {
		return err
	}
	s.ownKeys.RevocationPreimage = preimage

	s.dlc = &protocol.DLC{
		OracleEventID:  s.offer.OracleEventID,
		Maker:          maker,
		Taker:          taker,
		Own:            s.ownKeys,
		LockTx:           lockTx,
		LockValue:        btcutil.Amount(lockOut.Value),
		LockRedeemScript: lockRedeemScript,
		CommitTx:         commitTx,
		CommitScript:   commitScript,
		CommitPkScript: commitPk,
		RefundTx:       refundTx,
		RefundTimelock: DefaultRefundDelay,
		CetTimelock:    DefaultCetCsv,
		RefundSplit:    half,
		Payouts:        s.table,
		CETs:           cets,
		IsMaker:        s.isMaker,
	}
	return nil
}

// OwnLockInputsMsg signs this party's own funding inputs into the lock
// transaction's PSBT envelope, producing round 2's outgoing message
// (spec §4.2 step 2 "PSBT-signed lock inputs"). Must be called after
// BuildTransactions.
func (s *Setup) OwnLockInputsMsg(sign protocol.InputSigner) (LockInputsMsg, error) {
	packet, err := protocol.NewLockPSBT(s.dlc.LockTx)
	if err != nil {
		return LockInputsMsg{}, err
	}
	if err := protocol.SignLockPSBT(packet, s.ownParams.FundingInputs, sign); err != nil {
		return LockInputsMsg{}, cfderr.New(cfderr.KindIO, err)
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return LockInputsMsg{}, cfderr.New(cfderr.KindIO, err)
	}
	s.ownLockPSBT = packet

	return LockInputsMsg{OfferID: s.offer.ID, PsbtBlob: buf.Bytes()}, nil
}

// ProcessCounterpartyLockInputs merges the counterparty's signed lock
// PSBT with this side's own, completing the lock transaction's
// witnesses (spec §4.2 step 2 continued).
func (s *Setup) ProcessCounterpartyLockInputs(msg LockInputsMsg) error {
	if s.ownLockPSBT == nil {
		return cfderr.Newf(cfderr.KindStateViolation, "own lock inputs not yet signed")
	}

	theirPacket, err := psbt.NewFromRawBytes(bytes.NewReader(msg.PsbtBlob), false)
	if err != nil {
		return cfderr.Newf(cfderr.KindProtocolViolation, "parse counterparty lock psbt: %v", err)
	}

	merged, err := protocol.MergeLockPSBTs(s.ownLockPSBT, theirPacket)
	if err != nil {
		return cfderr.Newf(cfderr.KindProtocolViolation, "%v", err)
	}
	if err := protocol.ExtractLockWitnesses(s.dlc.LockTx, merged); err != nil {
		return cfderr.Newf(cfderr.KindProtocolViolation, "%v", err)
	}
	return nil
}

// OwnLockSpendSignature signs the commit transaction's spend of the
// lock output's 2-of-2 multisig, the round that lets both sides
// eventually assemble a spendable witness for the commit transaction
// (spec §4.2, commit-spend-of-lock signature round).
func (s *Setup) OwnLockSpendSignature() (LockSpendSignatureMsg, error) {
	sig, err := protocol.SignJointSig(s.ownKeys.Identity, s.dlc.CommitTx, 0, s.dlc.LockRedeemScript, s.dlc.LockValue)
	if err != nil {
		return LockSpendSignatureMsg{}, err
	}
	return LockSpendSignatureMsg{OfferID: s.offer.ID, Sig: sig.Serialize()}, nil
}

// ProcessCounterpartyLockSpendSignature verifies and stores the
// counterparty's signature over the commit transaction's spend of the
// lock output.
func (s *Setup) ProcessCounterpartyLockSpendSignature(msg LockSpendSignatureMsg) error {
	sig, err := toEcdsaSig(msg.Sig)
	if err != nil {
		return cfderr.Newf(cfderr.KindProtocolViolation, "parse lock-spend signature: %v", err)
	}

	sigHash, err := protocol.SpendingMessage(s.dlc.CommitTx, 0, s.dlc.LockRedeemScript, s.dlc.LockValue)
	if err != nil {
		return err
	}
	if !sig.Verify(sigHash[:], s.counterpartyIdentity()) {
		return cfderr.Newf(cfderr.KindVerificationFailure, "lock-spend signature fails verification")
	}

	s.theirLockSpendSig = sig
	return nil
}

// OwnCetSignatures signs every CET under its encryption point derived
// from the offer's oracle announcement, producing round 4's outgoing
// message (spec §4.2 step 3).
func (s *Setup) OwnCetSignatures(announcement protocol.OracleAnnouncement) (CetSignaturesMsg, error) {
	commitValue := btcutil.Amount(s.dlc.CommitTx.TxOut[0].Value)

	sigs := make([]*protocol.AdaptorSignature, len(s.dlc.CETs))
	for i, cet := range s.dlc.CETs {
		encPoint, err := announcement.AdaptorPointForPrefix(cet.Prefixes[0])
		if err != nil {
			return CetSignaturesMsg{}, err
		}
		msg, err := protocol.SpendingMessage(cet.Tx, 0, s.commitScript, commitValue)
		if err != nil {
			return CetSignaturesMsg{}, err
		}
		sig, err := protocol.EncryptedSign(s.ownKeys.Identity, msg, encPoint)
		if err != nil {
			return CetSignaturesMsg{}, err
		}
		sigs[i] = sig
	}

	out := CetSignaturesMsg{OfferID: s.offer.ID}
	for _, sig := range sigs {
		out.Sigs = append(out.Sigs, fromAdaptorSig(sig))
	}
	return out, nil
}

// ProcessCounterpartyCetSignatures verifies every counterparty adaptor
// signature against their identity key and the corresponding CET's
// encryption point, storing them for later decryption once the oracle
// attests (spec §4.2 step 3 continued).
func (s *Setup) ProcessCounterpartyCetSignatures(msg CetSignaturesMsg, announcement protocol.OracleAnnouncement) error {
	if len(msg.Sigs) != len(s.dlc.CETs) {
		return cfderr.Newf(cfderr.KindProtocolViolation,
			"expected %d CET signatures, got %d", len(s.dlc.CETs), len(msg.Sigs))
	}

	commitValue := btcutil.Amount(s.dlc.CommitTx.TxOut[0].Value)
	counterparty := s.counterpartyIdentity()

	s.theirCetSigs = make([]*protocol.AdaptorSignature, len(msg.Sigs))
	for i, sigMsg := range msg.Sigs {
		sig, err := toAdaptorSig(sigMsg)
		if err != nil {
			return cfderr.Newf(cfderr.KindProtocolViolation, "parse CET signature %d: %v", i, err)
		}

		cet := s.dlc.CETs[i]
		sigHash, err := protocol.SpendingMessage(cet.Tx, 0, s.commitScript, commitValue)
		if err != nil {
			return err
		}
		if !sig.Verify(counterparty, sigHash) {
			return cfderr.Newf(cfderr.KindVerificationFailure, "CET signature %d fails verification", i)
		}

		s.theirCetSigs[i] = sig
		s.dlc.CETs[i].CounterpartySig = sig
	}
	return nil
}

// OwnRefundSignature produces round 5's outgoing message: an ordinary
// ECDSA signature over the refund transaction's joint branch.
func (s *Setup) OwnRefundSignature() (RefundSignatureMsg, error) {
	commitValue := btcutil.Amount(s.dlc.CommitTx.TxOut[0].Value)
	sig, err := protocol.SignJointSig(s.ownKeys.Identity, s.dlc.RefundTx, 0, s.commitScript, commitValue)
	if err != nil {
		return RefundSignatureMsg{}, err
	}
	return RefundSignatureMsg{OfferID: s.offer.ID, Sig: sig.Serialize()}, nil
}

// ProcessCounterpartyRefundSignature verifies and stores the
// counterparty's refund signature, completing round 5.
func (s *Setup) ProcessCounterpartyRefundSignature(msg RefundSignatureMsg) error {
	sig, err := toEcdsaSig(msg.Sig)
	if err != nil {
		return cfderr.Newf(cfderr.KindProtocolViolation, "parse refund signature: %v", err)
	}

	commitValue := btcutil.Amount(s.dlc.CommitTx.TxOut[0].Value)
	sigHash, err := protocol.SpendingMessage(s.dlc.RefundTx, 0, s.commitScript, commitValue)
	if err != nil {
		return err
	}

	if !sig.Verify(sigHash[:], s.counterpartyIdentity()) {
		return cfderr.Newf(cfderr.KindVerificationFailure, "refund signature fails verification")
	}

	s.theirRefundSig = sig
	s.dlc.CounterpartyRefundSig = sig.Serialize()
	return nil
}

// Finalize assembles the spendable witnesses this side can complete
// unilaterally from the exchanged signatures, and returns the
// completed DLC bundle once every round has succeeded. Callers persist
// it as the ContractSetup -> PendingOpen transition's DLC payload
// (spec §4.3).
//
// The lock transaction's own-input witnesses were already attached by
// ProcessCounterpartyLockInputs. Here the commit transaction's spend
// of the lock output (2-of-2) and the refund transaction's spend of
// the commit output (joint branch) are assembled from the exchanged
// ECDSA signatures. CET and collaborative-close witnesses are not
// assembled here or anywhere else in this module: the counterparty's
// CET adaptor signatures are stored on the DLC but never decrypted,
// and no close transaction is built or signed.
func (s *Setup) Finalize() (*protocol.DLC, error) {
	if s.theirLockSpendSig == nil || s.theirCetSigs == nil || s.theirRefundSig == nil {
		return nil, cfderr.Newf(cfderr.KindStateViolation, "setup finalized before all rounds completed")
	}

	maker, taker := s.makerTaker()

	ownLockSpendSig, err := protocol.SignJointSig(s.ownKeys.Identity, s.dlc.CommitTx, 0, s.dlc.LockRedeemScript, s.dlc.LockValue)
	if err != nil {
		return nil, err
	}
	makerSig, takerSig := ownLockSpendSig.Serialize(), s.theirLockSpendSig.Serialize()
	if !s.isMaker {
		makerSig, takerSig = takerSig, makerSig
	}
	protocol.AttachLockWitness(s.dlc.CommitTx, s.dlc.LockRedeemScript, makerSig, maker.IdentityPubKey, takerSig, taker.IdentityPubKey)

	ownRefundSig, err := protocol.SignJointSig(s.ownKeys.Identity, s.dlc.RefundTx, 0, s.commitScript, btcutil.Amount(s.dlc.CommitTx.TxOut[0].Value))
	if err != nil {
		return nil, err
	}
	refundMakerSig, refundTakerSig := ownRefundSig.Serialize(), s.theirRefundSig.Serialize()
	if !s.isMaker {
		refundMakerSig, refundTakerSig = refundTakerSig, refundMakerSig
	}
	protocol.AttachRefundWitness(s.dlc.RefundTx, s.commitScript, refundMakerSig, refundTakerSig)

	return s.dlc, nil
}

func randomPreimage() ([32]byte, error) {
	var out [32]byte
	_, err := rand.Read(out[:])
	return out, err
}
