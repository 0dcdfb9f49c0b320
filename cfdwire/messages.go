package cfdwire

import (
	"encoding/json"
	"fmt"

	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/cfdlabs/cfd-core/dlcproto"
	"github.com/shopspring/decimal"
)

// SetupKind tags one round of the interactive setup/rollover exchange
// (spec §4.2 step table). Carried inside Protocol/RollOverProtocol so
// both sides can dispatch without guessing from shape.
type SetupKind string

const (
	SetupPartyParams        SetupKind = "party_params"
	SetupLockInputs         SetupKind = "lock_inputs"
	SetupLockSpendSignature SetupKind = "lock_spend_signature"
	SetupCetSignatures      SetupKind = "cet_signatures"
	SetupRefundSignature    SetupKind = "refund_signature"
	SetupRolloverReveal     SetupKind = "rollover_revocation"
)

// SetupMsg is one tagged round of Setup or Rollover traffic.
type SetupMsg struct {
	Kind SetupKind       `json:"kind"`
	Body json.RawMessage `json:"body"`
}

func newSetupMsg(kind SetupKind, body interface{}) (SetupMsg, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return SetupMsg{}, cfderr.New(cfderr.KindIO, fmt.Errorf("marshal setup body: %w", err))
	}
	return SetupMsg{Kind: kind, Body: raw}, nil
}

func NewPartyParamsSetupMsg(msg dlcproto.PartyParamsMsg) (SetupMsg, error) {
	return newSetupMsg(SetupPartyParams, msg)
}

func NewLockInputsSetupMsg(msg dlcproto.LockInputsMsg) (SetupMsg, error) {
	return newSetupMsg(SetupLockInputs, msg)
}

func NewLockSpendSignatureSetupMsg(msg dlcproto.LockSpendSignatureMsg) (SetupMsg, error) {
	return newSetupMsg(SetupLockSpendSignature, msg)
}

func NewCetSignaturesSetupMsg(msg dlcproto.CetSignaturesMsg) (SetupMsg, error) {
	return newSetupMsg(SetupCetSignatures, msg)
}

func NewRefundSignatureSetupMsg(msg dlcproto.RefundSignatureMsg) (SetupMsg, error) {
	return newSetupMsg(SetupRefundSignature, msg)
}

func NewRolloverRevocationSetupMsg(msg dlcproto.RolloverRevocationMsg) (SetupMsg, error) {
	return newSetupMsg(SetupRolloverReveal, msg)
}

// AsPartyParams decodes Body as a PartyParamsMsg; callers must check
// Kind first (spec §9 "never rely on structural shape").
func (m SetupMsg) AsPartyParams() (dlcproto.PartyParamsMsg, error) {
	var out dlcproto.PartyParamsMsg
	err := json.Unmarshal(m.Body, &out)
	return out, err
}

func (m SetupMsg) AsLockInputs() (dlcproto.LockInputsMsg, error) {
	var out dlcproto.LockInputsMsg
	err := json.Unmarshal(m.Body, &out)
	return out, err
}

func (m SetupMsg) AsLockSpendSignature() (dlcproto.LockSpendSignatureMsg, error) {
	var out dlcproto.LockSpendSignatureMsg
	err := json.Unmarshal(m.Body, &out)
	return out, err
}

func (m SetupMsg) AsCetSignatures() (dlcproto.CetSignaturesMsg, error) {
	var out dlcproto.CetSignaturesMsg
	err := json.Unmarshal(m.Body, &out)
	return out, err
}

func (m SetupMsg) AsRefundSignature() (dlcproto.RefundSignatureMsg, error) {
	var out dlcproto.RefundSignatureMsg
	err := json.Unmarshal(m.Body, &out)
	return out, err
}

func (m SetupMsg) AsRolloverRevocation() (dlcproto.RolloverRevocationMsg, error) {
	var out dlcproto.RolloverRevocationMsg
	err := json.Unmarshal(m.Body, &out)
	return out, err
}

// MakerKind tags every message a maker can send a taker (spec §6
// "MakerToTaker").
type MakerKind string

const (
	MakerCurrentOrder      MakerKind = "current_order"
	MakerConfirmOrder      MakerKind = "confirm_order"
	MakerRejectOrder       MakerKind = "reject_order"
	MakerConfirmSettlement MakerKind = "confirm_settlement"
	MakerRejectSettlement  MakerKind = "reject_settlement"
	MakerConfirmRollOver   MakerKind = "confirm_roll_over"
	MakerRejectRollOver    MakerKind = "reject_roll_over"
	MakerProtocol          MakerKind = "protocol"
	MakerRollOverProtocol  MakerKind = "roll_over_protocol"
	MakerInvalidOrderId    MakerKind = "invalid_order_id"
	MakerHeartbeat         MakerKind = "heartbeat"
)

// MakerToTaker is one tagged message a maker sends its connected takers
// or a specific taker peer.
type MakerToTaker struct {
	Kind MakerKind       `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

type currentOrderBody struct {
	Offer *contractcourt.Offer `json:"offer,omitempty"`
}

type orderIdBody struct {
	OfferID contractcourt.OfferID `json:"offer_id"`
}

type confirmRollOverBody struct {
	OfferID       contractcourt.OfferID `json:"offer_id"`
	OracleEventID string                `json:"oracle_event_id"`
}

func marshalMakerMsg(kind MakerKind, body interface{}) MakerToTaker {
	if body == nil {
		return MakerToTaker{Kind: kind}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		// Every body type here is a plain struct of wire-safe fields;
		// a marshal failure indicates a programming error, not a
		// runtime condition a caller can recover from.
		panic(fmt.Sprintf("cfdwire: marshal maker body: %v", err))
	}
	return MakerToTaker{Kind: kind, Body: raw}
}

// NewCurrentOrder announces the maker's currently open offer, or its
// withdrawal when offer is nil (spec §4.4 "acceptance invalidates the
// current offer").
func NewCurrentOrder(offer *contractcourt.Offer) MakerToTaker {
	return marshalMakerMsg(MakerCurrentOrder, currentOrderBody{Offer: offer})
}

func NewConfirmOrder(id contractcourt.OfferID) MakerToTaker {
	return marshalMakerMsg(MakerConfirmOrder, orderIdBody{OfferID: id})
}

func NewRejectOrder(id contractcourt.OfferID) MakerToTaker {
	return marshalMakerMsg(MakerRejectOrder, orderIdBody{OfferID: id})
}

func NewConfirmSettlement(id contractcourt.OfferID) MakerToTaker {
	return marshalMakerMsg(MakerConfirmSettlement, orderIdBody{OfferID: id})
}

func NewRejectSettlement(id contractcourt.OfferID) MakerToTaker {
	return marshalMakerMsg(MakerRejectSettlement, orderIdBody{OfferID: id})
}

func NewConfirmRollOver(id contractcourt.OfferID, oracleEventID string) MakerToTaker {
	return marshalMakerMsg(MakerConfirmRollOver, confirmRollOverBody{OfferID: id, OracleEventID: oracleEventID})
}

func NewRejectRollOver(id contractcourt.OfferID) MakerToTaker {
	return marshalMakerMsg(MakerRejectRollOver, orderIdBody{OfferID: id})
}

func NewMakerProtocol(msg SetupMsg) MakerToTaker {
	return marshalMakerMsg(MakerProtocol, msg)
}

func NewMakerRollOverProtocol(msg SetupMsg) MakerToTaker {
	return marshalMakerMsg(MakerRollOverProtocol, msg)
}

func NewInvalidOrderId(id contractcourt.OfferID) MakerToTaker {
	return marshalMakerMsg(MakerInvalidOrderId, orderIdBody{OfferID: id})
}

// NewHeartbeat is the maker's periodic keepalive on its connection to
// each taker (spec §C.1); a taker that stops seeing these for long
// enough withdraws its locally cached offer rather than trusting a
// connection that may already be dead.
func NewHeartbeat() MakerToTaker {
	return marshalMakerMsg(MakerHeartbeat, nil)
}

func (m MakerToTaker) AsCurrentOrder() (*contractcourt.Offer, error) {
	var out currentOrderBody
	if err := json.Unmarshal(m.Body, &out); err != nil {
		return nil, err
	}
	return out.Offer, nil
}

func (m MakerToTaker) AsOfferID() (contractcourt.OfferID, error) {
	var out orderIdBody
	err := json.Unmarshal(m.Body, &out)
	return out.OfferID, err
}

func (m MakerToTaker) AsConfirmRollOver() (contractcourt.OfferID, string, error) {
	var out confirmRollOverBody
	err := json.Unmarshal(m.Body, &out)
	return out.OfferID, out.OracleEventID, err
}

func (m MakerToTaker) AsSetupMsg() (SetupMsg, error) {
	var out SetupMsg
	err := json.Unmarshal(m.Body, &out)
	return out, err
}

// TakerKind tags every message a taker can send a maker (spec §6
// "TakerToMaker").
type TakerKind string

const (
	TakerTakeOrder          TakerKind = "take_order"
	TakerProposeSettlement  TakerKind = "propose_settlement"
	TakerInitiateSettlement TakerKind = "initiate_settlement"
	TakerProposeRollOver    TakerKind = "propose_roll_over"
	TakerProtocol           TakerKind = "protocol"
	TakerRollOverProtocol   TakerKind = "roll_over_protocol"
)

// TakeOrderBody is spec §4.4's `TakeOrder{offer_id, quantity}`.
type TakeOrderBody struct {
	OfferID  contractcourt.OfferID `json:"offer_id"`
	Quantity decimal.Decimal       `json:"quantity"`
}

// ProposeSettlementBody is spec §6's `ProposeSettlement{id, timestamp,
// taker_addr, maker_addr, price}`.
type ProposeSettlementBody struct {
	OfferID   contractcourt.OfferID `json:"offer_id"`
	Timestamp int64                 `json:"timestamp"`
	TakerAddr string                `json:"taker_addr"`
	MakerAddr string                `json:"maker_addr"`
	Price     decimal.Decimal       `json:"price"`
}

// InitiateSettlementBody is spec §6's `InitiateSettlement{id,
// taker_sig}`.
type InitiateSettlementBody struct {
	OfferID  contractcourt.OfferID `json:"offer_id"`
	TakerSig []byte                `json:"taker_sig"`
}

// ProposeRollOverBody is spec §6's `ProposeRollOver{id, timestamp}`.
type ProposeRollOverBody struct {
	OfferID   contractcourt.OfferID `json:"offer_id"`
	Timestamp int64                 `json:"timestamp"`
}

// TakerToMaker is one tagged message a taker sends its maker peer.
type TakerToMaker struct {
	Kind TakerKind       `json:"kind"`
	Body json.RawMessage `json:"body"`
}

func marshalTakerMsg(kind TakerKind, body interface{}) TakerToMaker {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("cfdwire: marshal taker body: %v", err))
	}
	return TakerToMaker{Kind: kind, Body: raw}
}

func NewTakeOrder(id contractcourt.OfferID, quantity decimal.Decimal) TakerToMaker {
	return marshalTakerMsg(TakerTakeOrder, TakeOrderBody{OfferID: id, Quantity: quantity})
}

func NewProposeSettlement(body ProposeSettlementBody) TakerToMaker {
	return marshalTakerMsg(TakerProposeSettlement, body)
}

func NewInitiateSettlement(body InitiateSettlementBody) TakerToMaker {
	return marshalTakerMsg(TakerInitiateSettlement, body)
}

func NewProposeRollOver(body ProposeRollOverBody) TakerToMaker {
	return marshalTakerMsg(TakerProposeRollOver, body)
}

func NewTakerProtocol(msg SetupMsg) TakerToMaker {
	return marshalTakerMsg(TakerProtocol, msg)
}

func NewTakerRollOverProtocol(msg SetupMsg) TakerToMaker {
	return marshalTakerMsg(TakerRollOverProtocol, msg)
}

func (m TakerToMaker) AsTakeOrder() (TakeOrderBody, error) {
	var out TakeOrderBody
	err := json.Unmarshal(m.Body, &out)
	return out, err
}

func (m TakerToMaker) AsProposeSettlement() (ProposeSettlementBody, error) {
	var out ProposeSettlementBody
	err := json.Unmarshal(m.Body, &out)
	return out, err
}

func (m TakerToMaker) AsInitiateSettlement() (InitiateSettlementBody, error) {
	var out InitiateSettlementBody
	err := json.Unmarshal(m.Body, &out)
	return out, err
}

func (m TakerToMaker) AsProposeRollOver() (ProposeRollOverBody, error) {
	var out ProposeRollOverBody
	err := json.Unmarshal(m.Body, &out)
	return out, err
}

func (m TakerToMaker) AsSetupMsg() (SetupMsg, error) {
	var out SetupMsg
	err := json.Unmarshal(m.Body, &out)
	return out, err
}
