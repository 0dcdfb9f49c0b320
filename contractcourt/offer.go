package contractcourt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Position is the side of the market an offer's publisher takes.
type Position uint8

const (
	PositionLong Position = iota
	PositionShort
)

func (p Position) String() string {
	if p == PositionLong {
		return "long"
	}
	return "short"
}

// Origin distinguishes an offer we published from one a counterparty
// published (spec §3 "origin (ours | theirs)").
type Origin uint8

const (
	OriginOurs Origin = iota
	OriginTheirs
)

// OfferID is the offer's opaque 128-bit identifier (spec §3).
type OfferID [16]byte

// NewOfferID generates a fresh random offer id.
func NewOfferID() OfferID {
	return OfferID(uuid.New())
}

func (o OfferID) String() string {
	return uuid.UUID(o).String()
}

// MarshalJSON renders an OfferID as its canonical UUID string, so wire
// messages and the repository's JSON columns stay human-readable.
func (o OfferID) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON is MarshalJSON's inverse.
func (o *OfferID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*o = OfferID(id)
	return nil
}

// Offer is immutable once published (spec §3 "Offer"): created on
// publish, never mutated, and survives for the lifetime of any
// contract referencing it.
type Offer struct {
	ID OfferID

	TradingPair string
	Position    Position

	Price       decimal.Decimal
	MinQuantity decimal.Decimal
	MaxQuantity decimal.Decimal
	Leverage    uint32

	LiquidationPrice decimal.Decimal

	CreatedAt time.Time

	// SettlementInterval is the duration between now and the offer's
	// oracle event time.
	SettlementInterval time.Duration

	Origin Origin

	// OracleEventID stably names the future oracle attestation all
	// CETs derived from a contract on this offer will reference (spec
	// §3, §6 "/x/BitMEX/BXBT/<UTC-timestamp>.price?n=<digits>").
	OracleEventID string
}

// ValidQuantity reports whether qty is within [MinQuantity, MaxQuantity]
// inclusive (spec §8 boundary case: equal to min/max is accepted).
func (o Offer) ValidQuantity(qty decimal.Decimal) bool {
	return qty.GreaterThanOrEqual(o.MinQuantity) && qty.LessThanOrEqual(o.MaxQuantity)
}
