package coordinator

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/cfdlabs/cfd-core/chainntfs"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/cfdlabs/cfd-core/protocol"
	"github.com/shopspring/decimal"
)

// Repository is the subset of cfddb.DB the coordinator depends on
// (spec §4.5). A narrow interface per collaborator, not a monolithic
// actor trait (spec §9).
type Repository interface {
	InsertOrder(ctx context.Context, offer contractcourt.Offer) error
	LoadOrder(ctx context.Context, id contractcourt.OfferID) (contractcourt.Offer, error)
	InsertContract(ctx context.Context, offerID contractcourt.OfferID, quantity decimal.Decimal, initial contractcourt.State) error
	AppendState(ctx context.Context, offerID contractcourt.OfferID, state contractcourt.State) error
	AppendStateIfCurrentKind(ctx context.Context, offerID contractcourt.OfferID, expected contractcourt.StateKind, next contractcourt.State) error
	LoadContract(ctx context.Context, offerID contractcourt.OfferID) (contractcourt.Contract, error)
	LoadContractsByEvent(ctx context.Context, oracleEventID string) ([]contractcourt.Contract, error)
	LoadAllContracts(ctx context.Context) ([]contractcourt.Contract, error)
}

// Wallet is the embedder-supplied Bitcoin key management and PSBT
// signing capability (spec §1 "out of scope ... the wallet"). The
// coordinator only ever calls this narrow surface.
type Wallet interface {
	// NewPartyKeys generates a fresh identity/revocation/publish keyset
	// for one DLC generation (spec §3 "fresh per-DLC keys").
	NewPartyKeys(ctx context.Context) (protocol.PartyKeys, error)

	// SelectFundingInputs chooses UTXOs covering amount and a change
	// script, returning the PartyParams half this side owns (spec §4.2
	// step 1); the pubkeys come from keys.
	SelectFundingInputs(ctx context.Context, amount btcutil.Amount, keys protocol.PartyKeys) (protocol.PartyParams, error)

	// SignFundingInput returns the witness spending in, one of the
	// UTXOs this side contributed via SelectFundingInputs, for the
	// lock transaction's PSBT-signed-inputs round (spec §4.2 step 2).
	SignFundingInput(ctx context.Context, in protocol.UtxoInput) (wire.TxWitness, error)

	// Broadcast submits tx to the network.
	Broadcast(ctx context.Context, tx *wire.MsgTx) error
}

// OracleClient is the narrow capability over the Olivia oracle HTTP
// interface (spec §6) this package depends on.
type OracleClient interface {
	Announcement(ctx context.Context, eventID string) (protocol.OracleAnnouncement, error)
	Attestation(ctx context.Context, eventID string) (*contractcourt.Attestation, bool, error)
}

// ChainMonitor is the chain-finality subscription capability (spec
// §4.6), satisfied by chainntfs.Monitor.
type ChainMonitor = chainntfs.ChainNotifier
