package contractcourt

import (
	"github.com/shopspring/decimal"
)

// Contract is a CFD: an immutable Offer plus a mutable Quantity and the
// current State (spec §3 "Contract (CFD)"). It is keyed by the Offer's
// id; every state transition is persisted as a new row and the current
// state is the latest row (spec §4.5).
type Contract struct {
	Offer    Offer
	Quantity decimal.Decimal

	// Current is the latest persisted State for this contract. Callers
	// must treat Contract values as short-lived copies: the repository
	// row family is the sole owner (spec §3 "Every contract is
	// exclusively owned by its row family").
	Current State
}

// ID returns the contract's key, which is its Offer's id.
func (c Contract) ID() OfferID {
	return c.Offer.ID
}
