package dlcproto

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/cfdlabs/cfd-core/protocol"
	"github.com/shopspring/decimal"
)

// Rollover re-runs the setup exchange against the existing lock
// output, producing a new commit/refund/CET generation at an updated
// quantity or price reference without touching the underlying funds
// on chain (spec §3 "DLC lifecycles"). It wraps a Setup for the
// transaction-building and signature rounds, then adds a final round
// disclosing the outgoing DLC generation's revocation preimage.
type Rollover struct {
	*Setup

	previous *protocol.DLC
}

// NewRollover begins a rollover against previous, the currently open
// DLC, rebuilding PartyParams from its existing Maker/Taker entries
// but with fresh per-generation revocation/publish keys (spec §4.2
// rollover: "identical to setup except the lock transaction is
// reused").
func NewRollover(offer contractcourt.Offer, quantity decimal.Decimal, isMaker bool,
	feeEst protocol.FeeEstimator, previous *protocol.DLC, newOwnKeys protocol.PartyKeys) (*Rollover, error) {

	if err := contractcourt.ValidateRolloverAllowed(contractcourt.Contract{
		Offer:   offer,
		Current: contractcourt.State{Kind: contractcourt.KindOpen, DLC: previous},
	}); err != nil {
		return nil, err
	}

	ownParams := previous.Taker
	if isMaker {
		ownParams = previous.Maker
	}

	// Identity stays pinned across generations; revocation and publish
	// keys are freshly generated for every rollover (spec §3 "fresh
	// per-DLC keys"), so the params sent in round 1 must carry
	// newOwnKeys' public counterparts rather than the prior generation's.
	ownParams.RevocationPubKey = newOwnKeys.Revocation.PubKey()
	ownParams.PublishPubKey = newOwnKeys.Publish.PubKey()

	return &Rollover{
		Setup:    NewSetup(offer, quantity, isMaker, feeEst, ownParams, newOwnKeys),
		previous: previous,
	}, nil
}

// OwnRevocationDisclosure returns the final round's outgoing message:
// the just-superseded DLC generation's revocation preimage, sent only
// after the new DLC's signatures have all verified (spec §3
// "disclosed only once the replacement generation is fully signed").
func (r *Rollover) OwnRevocationDisclosure() RolloverRevocationMsg {
	return RolloverRevocationMsg{
		OfferID:            r.offer.ID,
		RevocationPreimage: r.previous.Own.RevocationPreimage,
	}
}

// ProcessCounterpartyRevocationDisclosure records the counterparty's
// disclosed preimage for the prior generation on the finalized DLC,
// granting this side punish capability over the now-stale commit
// transaction (spec §4.3 EventRolloverComplete's DLC carries this).
func (r *Rollover) ProcessCounterpartyRevocationDisclosure(msg RolloverRevocationMsg, dlc *protocol.DLC) error {
	preimage := msg.RevocationPreimage
	dlc.PriorRevocationSecret = &preimage
	dlc.PriorCommitScript = r.previous.CommitScript
	dlc.PriorCommitPkScript = r.previous.CommitPkScript

	if r.isMaker {
		dlc.PriorCounterpartyRevocationPub = r.previous.Taker.RevocationPubKey
	} else {
		dlc.PriorCounterpartyRevocationPub = r.previous.Maker.RevocationPubKey
	}
	return nil
}

// PriorCommitValue is a convenience accessor returning the value of the
// now-superseded generation's commit output.
func (r *Rollover) PriorCommitValue() btcutil.Amount {
	if len(r.previous.CommitTx.TxOut) == 0 {
		return 0
	}
	return btcutil.Amount(r.previous.CommitTx.TxOut[0].Value)
}
