package daemon

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/cfdlabs/cfd-core/protocol"
)

// NullWallet is a coordinator.Wallet that generates fresh keys (so the
// setup protocol's cryptography can be exercised end-to-end) but
// refuses to select real funding inputs or broadcast (spec §1 "out of
// scope: the wallet"). It lets a maker/taker process start up and
// exchange offer and order messages with a counterparty; setup fails
// at funding-input selection, before its first round is sent.
type NullWallet struct{}

func (NullWallet) NewPartyKeys(ctx context.Context) (protocol.PartyKeys, error) {
	identity, err := btcec.NewPrivateKey()
	if err != nil {
		return protocol.PartyKeys{}, err
	}
	revocation, err := btcec.NewPrivateKey()
	if err != nil {
		return protocol.PartyKeys{}, err
	}
	publish, err := btcec.NewPrivateKey()
	if err != nil {
		return protocol.PartyKeys{}, err
	}
	return protocol.PartyKeys{Identity: identity, Revocation: revocation, Publish: publish}, nil
}

func (NullWallet) SelectFundingInputs(ctx context.Context, amount btcutil.Amount, keys protocol.PartyKeys) (protocol.PartyParams, error) {
	return protocol.PartyParams{}, cfderr.Newf(cfderr.KindConfiguration, "no wallet configured: cannot fund %s", amount)
}

func (NullWallet) SignFundingInput(ctx context.Context, in protocol.UtxoInput) (wire.TxWitness, error) {
	return nil, cfderr.Newf(cfderr.KindConfiguration, "no wallet configured: cannot sign input %s", in.OutPoint)
}

func (NullWallet) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	return cfderr.Newf(cfderr.KindConfiguration, "no wallet configured: cannot broadcast %s", tx.TxHash())
}
