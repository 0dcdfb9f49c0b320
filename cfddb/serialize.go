package cfddb

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/cfdlabs/cfd-core/protocol"
)

func chainhashFromString(s string) (chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return *h, nil
}

// stateJSON is the tagged-JSON wire shape of contractcourt.State stored
// in cfd_states.state_json (spec §6 "state serialised as tagged
// JSON"). Every field that isn't a plain Go value (public keys,
// signatures, raw transactions) is hex-encoded explicitly rather than
// relying on encoding/json's default byte-slice base64, so the column
// is readable with an ordinary SQL client during incident response.
type stateJSON struct {
	Kind      contractcourt.StateKind `json:"kind"`
	Timestamp time.Time               `json:"timestamp"`
	Peer      string                  `json:"peer,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	DLC       *dlcJSON                `json:"dlc,omitempty"`

	Attestation *attestationJSON `json:"attestation,omitempty"`
	Close       *closeJSON       `json:"close,omitempty"`
}

type attestationJSON struct {
	Price   uint64   `json:"price"`
	Scalars []string `json:"scalars"`
}

type closeJSON struct {
	MakerAmount int64  `json:"maker_amount"`
	TakerAmount int64  `json:"taker_amount"`
	Tx          string `json:"tx,omitempty"`
	Confirmed   bool   `json:"confirmed"`
}

type partyParamsJSON struct {
	FundingInputs []utxoInputJSON `json:"funding_inputs"`
	ChangeScript  string          `json:"change_script"`
	Amount        int64           `json:"amount"`
	IdentityPubKey   string `json:"identity_pub_key"`
	RevocationPubKey string `json:"revocation_pub_key"`
	PublishPubKey    string `json:"publish_pub_key"`
}

type utxoInputJSON struct {
	TxHash   string `json:"tx_hash"`
	Index    uint32 `json:"index"`
	Value    int64  `json:"value"`
	PkScript string `json:"pk_script"`
}

type partyKeysJSON struct {
	Identity            string `json:"identity"`
	Revocation          string `json:"revocation"`
	Publish             string `json:"publish"`
	RevocationPreimage  string `json:"revocation_preimage"`
}

type payoutJSON struct {
	Lo          uint64 `json:"lo"`
	Hi          uint64 `json:"hi"`
	MakerAmount int64  `json:"maker_amount"`
	TakerAmount int64  `json:"taker_amount"`
}

type digitPrefixJSON struct {
	Digits []uint8 `json:"digits"`
	Length int     `json:"length"`
}

type adaptorSigJSON struct {
	R               string `json:"r"`
	S               string `json:"s"`
	EncryptionPoint string `json:"encryption_point"`
}

type cetJSON struct {
	Interval        payoutJSON        `json:"interval"`
	Prefixes        []digitPrefixJSON `json:"prefixes"`
	Tx              string            `json:"tx"`
	CounterpartySig *adaptorSigJSON   `json:"counterparty_sig,omitempty"`
}

type dlcJSON struct {
	OracleEventID string          `json:"oracle_event_id"`
	Maker         partyParamsJSON `json:"maker"`
	Taker         partyParamsJSON `json:"taker"`
	Own           partyKeysJSON   `json:"own"`

	PriorRevocationSecret         string `json:"prior_revocation_secret,omitempty"`
	PriorCommitScript              string `json:"prior_commit_script,omitempty"`
	PriorCommitPkScript            string `json:"prior_commit_pk_script,omitempty"`
	PriorCounterpartyRevocationPub string `json:"prior_counterparty_revocation_pub,omitempty"`

	LockTx    string `json:"lock_tx"`
	LockValue int64  `json:"lock_value"`

	CommitTx       string `json:"commit_tx"`
	CommitScript   string `json:"commit_script"`
	CommitPkScript string `json:"commit_pk_script"`

	RefundTx              string     `json:"refund_tx"`
	RefundTimelock        uint32     `json:"refund_timelock"`
	CetTimelock           uint32     `json:"cet_timelock"`
	RefundSplit           payoutJSON `json:"refund_split"`
	CounterpartyRefundSig string     `json:"counterparty_refund_sig,omitempty"`

	Payouts []payoutJSON `json:"payouts"`
	CETs    []cetJSON    `json:"cets"`

	IsMaker bool `json:"is_maker"`
}

// encodeState serializes a contractcourt.State to the tagged-JSON form
// persisted in cfd_states.state_json.
func encodeState(s contractcourt.State) ([]byte, error) {
	out := stateJSON{
		Kind:      s.Kind,
		Timestamp: s.Timestamp,
		Peer:      s.Peer,
		Reason:    s.Reason,
	}
	if s.DLC != nil {
		dlc, err := encodeDLC(s.DLC)
		if err != nil {
			return nil, fmt.Errorf("encode dlc: %w", err)
		}
		out.DLC = dlc
	}
	if s.Attestation != nil {
		scalars := make([]string, len(s.Attestation.Scalars))
		for i, sc := range s.Attestation.Scalars {
			scalars[i] = hex.EncodeToString(sc)
		}
		out.Attestation = &attestationJSON{Price: s.Attestation.Price, Scalars: scalars}
	}
	if s.Close != nil {
		out.Close = &closeJSON{
			MakerAmount: s.Close.MakerAmount,
			TakerAmount: s.Close.TakerAmount,
			Tx:          hex.EncodeToString(s.Close.Tx),
			Confirmed:   s.Close.Confirmed,
		}
	}
	return json.Marshal(out)
}

// decodeState is encodeState's inverse.
func decodeState(data []byte) (contractcourt.State, error) {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return contractcourt.State{}, fmt.Errorf("unmarshal state json: %w", err)
	}

	out := contractcourt.State{
		Kind:      in.Kind,
		Timestamp: in.Timestamp,
		Peer:      in.Peer,
		Reason:    in.Reason,
	}
	if in.DLC != nil {
		dlc, err := decodeDLC(in.DLC)
		if err != nil {
			return contractcourt.State{}, fmt.Errorf("decode dlc: %w", err)
		}
		out.DLC = dlc
	}
	if in.Attestation != nil {
		scalars := make([][]byte, len(in.Attestation.Scalars))
		for i, sc := range in.Attestation.Scalars {
			b, err := hex.DecodeString(sc)
			if err != nil {
				return contractcourt.State{}, fmt.Errorf("decode attestation scalar %d: %w", i, err)
			}
			scalars[i] = b
		}
		out.Attestation = &contractcourt.Attestation{Price: in.Attestation.Price, Scalars: scalars}
	}
	if in.Close != nil {
		tx, err := hex.DecodeString(in.Close.Tx)
		if err != nil {
			return contractcourt.State{}, fmt.Errorf("decode close tx: %w", err)
		}
		out.Close = &contractcourt.CloseInfo{
			MakerAmount: in.Close.MakerAmount,
			TakerAmount: in.Close.TakerAmount,
			Tx:          tx,
			Confirmed:   in.Close.Confirmed,
		}
	}
	return out, nil
}

func encodePubKey(k *btcec.PublicKey) string {
	if k == nil {
		return ""
	}
	return hex.EncodeToString(k.SerializeCompressed())
}

func decodePubKey(s string) (*btcec.PublicKey, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(b)
}

func encodeTx(tx *wire.MsgTx) (string, error) {
	if tx == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func decodeTx(s string) (*wire.MsgTx, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return tx, nil
}

func encodeParams(p protocol.PartyParams) partyParamsJSON {
	inputs := make([]utxoInputJSON, len(p.FundingInputs))
	for i, in := range p.FundingInputs {
		inputs[i] = utxoInputJSON{
			TxHash:   in.OutPoint.Hash.String(),
			Index:    in.OutPoint.Index,
			Value:    int64(in.Value),
			PkScript: hex.EncodeToString(in.PkScript),
		}
	}
	return partyParamsJSON{
		FundingInputs:    inputs,
		ChangeScript:     hex.EncodeToString(p.ChangeScript),
		Amount:           int64(p.Amount),
		IdentityPubKey:   encodePubKey(p.IdentityPubKey),
		RevocationPubKey: encodePubKey(p.RevocationPubKey),
		PublishPubKey:    encodePubKey(p.PublishPubKey),
	}
}

func decodeParams(in partyParamsJSON) (protocol.PartyParams, error) {
	inputs := make([]protocol.UtxoInput, len(in.FundingInputs))
	for i, u := range in.FundingInputs {
		hash, err := chainhashFromString(u.TxHash)
		if err != nil {
			return protocol.PartyParams{}, fmt.Errorf("funding input %d tx hash: %w", i, err)
		}
		pk, err := hex.DecodeString(u.PkScript)
		if err != nil {
			return protocol.PartyParams{}, fmt.Errorf("funding input %d pkscript: %w", i, err)
		}
		inputs[i] = protocol.UtxoInput{
			OutPoint: wire.OutPoint{Hash: hash, Index: u.Index},
			Value:    btcutil.Amount(u.Value),
			PkScript: pk,
		}
	}
	changeScript, err := hex.DecodeString(in.ChangeScript)
	if err != nil {
		return protocol.PartyParams{}, fmt.Errorf("change script: %w", err)
	}
	identity, err := decodePubKey(in.IdentityPubKey)
	if err != nil {
		return protocol.PartyParams{}, fmt.Errorf("identity pub key: %w", err)
	}
	revocation, err := decodePubKey(in.RevocationPubKey)
	if err != nil {
		return protocol.PartyParams{}, fmt.Errorf("revocation pub key: %w", err)
	}
	publish, err := decodePubKey(in.PublishPubKey)
	if err != nil {
		return protocol.PartyParams{}, fmt.Errorf("publish pub key: %w", err)
	}
	return protocol.PartyParams{
		FundingInputs:    inputs,
		ChangeScript:     changeScript,
		Amount:           btcutil.Amount(in.Amount),
		IdentityPubKey:   identity,
		RevocationPubKey: revocation,
		PublishPubKey:    publish,
	}, nil
}

func encodeKeys(k protocol.PartyKeys) partyKeysJSON {
	var identity, revocation, publish string
	if k.Identity != nil {
		identity = hex.EncodeToString(k.Identity.Serialize())
	}
	if k.Revocation != nil {
		revocation = hex.EncodeToString(k.Revocation.Serialize())
	}
	if k.Publish != nil {
		publish = hex.EncodeToString(k.Publish.Serialize())
	}
	return partyKeysJSON{
		Identity:           identity,
		Revocation:         revocation,
		Publish:            publish,
		RevocationPreimage: hex.EncodeToString(k.RevocationPreimage[:]),
	}
}

func decodeKeys(in partyKeysJSON) (protocol.PartyKeys, error) {
	var out protocol.PartyKeys
	var err error
	if out.Identity, err = decodePrivKey(in.Identity); err != nil {
		return out, fmt.Errorf("identity key: %w", err)
	}
	if out.Revocation, err = decodePrivKey(in.Revocation); err != nil {
		return out, fmt.Errorf("revocation key: %w", err)
	}
	if out.Publish, err = decodePrivKey(in.Publish); err != nil {
		return out, fmt.Errorf("publish key: %w", err)
	}
	preimage, err := hex.DecodeString(in.RevocationPreimage)
	if err != nil {
		return out, fmt.Errorf("revocation preimage: %w", err)
	}
	copy(out.RevocationPreimage[:], preimage)
	return out, nil
}

func decodePrivKey(s string) (*btcec.PrivateKey, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	sk, _ := btcec.PrivKeyFromBytes(b)
	return sk, nil
}

func encodePayout(p protocol.Payout) payoutJSON {
	return payoutJSON{Lo: p.Lo, Hi: p.Hi, MakerAmount: int64(p.MakerAmount), TakerAmount: int64(p.TakerAmount)}
}

func decodePayout(p payoutJSON) protocol.Payout {
	return protocol.Payout{Lo: p.Lo, Hi: p.Hi, MakerAmount: btcutil.Amount(p.MakerAmount), TakerAmount: btcutil.Amount(p.TakerAmount)}
}

func encodeAdaptorSig(s *protocol.AdaptorSignature) *adaptorSigJSON {
	if s == nil {
		return nil
	}
	return &adaptorSigJSON{
		R:               encodePubKey(s.R),
		S:               hex.EncodeToString(s.S.Bytes()),
		EncryptionPoint: encodePubKey(s.EncryptionPoint),
	}
}

func decodeAdaptorSig(in *adaptorSigJSON) (*protocol.AdaptorSignature, error) {
	if in == nil {
		return nil, nil
	}
	r, err := decodePubKey(in.R)
	if err != nil {
		return nil, fmt.Errorf("R: %w", err)
	}
	sBytes, err := hex.DecodeString(in.S)
	if err != nil {
		return nil, fmt.Errorf("S: %w", err)
	}
	encPoint, err := decodePubKey(in.EncryptionPoint)
	if err != nil {
		return nil, fmt.Errorf("encryption point: %w", err)
	}
	return &protocol.AdaptorSignature{R: r, S: new(big.Int).SetBytes(sBytes), EncryptionPoint: encPoint}, nil
}

func encodeDLC(d *protocol.DLC) (*dlcJSON, error) {
	lockTx, err := encodeTx(d.LockTx)
	if err != nil {
		return nil, fmt.Errorf("lock tx: %w", err)
	}
	commitTx, err := encodeTx(d.CommitTx)
	if err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	refundTx, err := encodeTx(d.RefundTx)
	if err != nil {
		return nil, fmt.Errorf("refund tx: %w", err)
	}

	cets := make([]cetJSON, len(d.CETs))
	for i, cet := range d.CETs {
		tx, err := encodeTx(cet.Tx)
		if err != nil {
			return nil, fmt.Errorf("cet %d tx: %w", i, err)
		}
		prefixes := make([]digitPrefixJSON, len(cet.Prefixes))
		for j, p := range cet.Prefixes {
			prefixes[j] = digitPrefixJSON{Digits: p.Digits, Length: p.Length}
		}
		cets[i] = cetJSON{
			Interval:        encodePayout(cet.Interval),
			Prefixes:        prefixes,
			Tx:              tx,
			CounterpartySig: encodeAdaptorSig(cet.CounterpartySig),
		}
	}

	payouts := make([]payoutJSON, len(d.Payouts))
	for i, p := range d.Payouts {
		payouts[i] = encodePayout(p)
	}

	var priorSecret string
	if d.PriorRevocationSecret != nil {
		priorSecret = hex.EncodeToString(d.PriorRevocationSecret[:])
	}

	return &dlcJSON{
		OracleEventID: d.OracleEventID,
		Maker:         encodeParams(d.Maker),
		Taker:         encodeParams(d.Taker),
		Own:           encodeKeys(d.Own),

		PriorRevocationSecret:          priorSecret,
		PriorCommitScript:              hex.EncodeToString(d.PriorCommitScript),
		PriorCommitPkScript:            hex.EncodeToString(d.PriorCommitPkScript),
		PriorCounterpartyRevocationPub: encodePubKey(d.PriorCounterpartyRevocationPub),

		LockTx:    lockTx,
		LockValue: int64(d.LockValue),

		CommitTx:       commitTx,
		CommitScript:   hex.EncodeToString(d.CommitScript),
		CommitPkScript: hex.EncodeToString(d.CommitPkScript),

		RefundTx:              refundTx,
		RefundTimelock:        d.RefundTimelock,
		CetTimelock:           d.CetTimelock,
		RefundSplit:           encodePayout(d.RefundSplit),
		CounterpartyRefundSig: hex.EncodeToString(d.CounterpartyRefundSig),

		Payouts: payouts,
		CETs:    cets,

		IsMaker: d.IsMaker,
	}, nil
}

func decodeDLC(in *dlcJSON) (*protocol.DLC, error) {
	lockTx, err := decodeTx(in.LockTx)
	if err != nil {
		return nil, fmt.Errorf("lock tx: %w", err)
	}
	commitTx, err := decodeTx(in.CommitTx)
	if err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	refundTx, err := decodeTx(in.RefundTx)
	if err != nil {
		return nil, fmt.Errorf("refund tx: %w", err)
	}
	maker, err := decodeParams(in.Maker)
	if err != nil {
		return nil, fmt.Errorf("maker params: %w", err)
	}
	taker, err := decodeParams(in.Taker)
	if err != nil {
		return nil, fmt.Errorf("taker params: %w", err)
	}
	own, err := decodeKeys(in.Own)
	if err != nil {
		return nil, fmt.Errorf("own keys: %w", err)
	}

	cets := make([]protocol.CET, len(in.CETs))
	for i, c := range in.CETs {
		tx, err := decodeTx(c.Tx)
		if err != nil {
			return nil, fmt.Errorf("cet %d tx: %w", i, err)
		}
		sig, err := decodeAdaptorSig(c.CounterpartySig)
		if err != nil {
			return nil, fmt.Errorf("cet %d sig: %w", i, err)
		}
		prefixes := make([]protocol.DigitPrefix, len(c.Prefixes))
		for j, p := range c.Prefixes {
			prefixes[j] = protocol.DigitPrefix{Digits: p.Digits, Length: p.Length}
		}
		cets[i] = protocol.CET{
			Interval:        decodePayout(c.Interval),
			Prefixes:        prefixes,
			Tx:              tx,
			CounterpartySig: sig,
		}
	}

	payouts := make(protocol.PayoutTable, len(in.Payouts))
	for i, p := range in.Payouts {
		payouts[i] = decodePayout(p)
	}

	var priorSecret *[32]byte
	if in.PriorRevocationSecret != "" {
		b, err := hex.DecodeString(in.PriorRevocationSecret)
		if err != nil {
			return nil, fmt.Errorf("prior revocation secret: %w", err)
		}
		var arr [32]byte
		copy(arr[:], b)
		priorSecret = &arr
	}
	priorCommitScript, err := hex.DecodeString(in.PriorCommitScript)
	if err != nil {
		return nil, fmt.Errorf("prior commit script: %w", err)
	}
	priorCommitPkScript, err := hex.DecodeString(in.PriorCommitPkScript)
	if err != nil {
		return nil, fmt.Errorf("prior commit pk script: %w", err)
	}
	priorCounterpartyRevocationPub, err := decodePubKey(in.PriorCounterpartyRevocationPub)
	if err != nil {
		return nil, fmt.Errorf("prior counterparty revocation pub: %w", err)
	}
	commitScript, err := hex.DecodeString(in.CommitScript)
	if err != nil {
		return nil, fmt.Errorf("commit script: %w", err)
	}
	commitPkScript, err := hex.DecodeString(in.CommitPkScript)
	if err != nil {
		return nil, fmt.Errorf("commit pk script: %w", err)
	}
	counterpartyRefundSig, err := hex.DecodeString(in.CounterpartyRefundSig)
	if err != nil {
		return nil, fmt.Errorf("counterparty refund sig: %w", err)
	}

	return &protocol.DLC{
		OracleEventID: in.OracleEventID,
		Maker:         maker,
		Taker:         taker,
		Own:           own,

		PriorRevocationSecret:          priorSecret,
		PriorCommitScript:              priorCommitScript,
		PriorCommitPkScript:            priorCommitPkScript,
		PriorCounterpartyRevocationPub: priorCounterpartyRevocationPub,

		LockTx:    lockTx,
		LockValue: btcutil.Amount(in.LockValue),

		CommitTx:       commitTx,
		CommitScript:   commitScript,
		CommitPkScript: commitPkScript,

		RefundTx:              refundTx,
		RefundTimelock:        in.RefundTimelock,
		CetTimelock:           in.CetTimelock,
		RefundSplit:           decodePayout(in.RefundSplit),
		CounterpartyRefundSig: counterpartyRefundSig,

		Payouts: payouts,
		CETs:    cets,

		IsMaker: in.IsMaker,
	}, nil
}
