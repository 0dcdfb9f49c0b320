package dlcproto

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/cfdlabs/cfd-core/protocol"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func randKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return sk
}

func fakeParams(t *testing.T, amt btcutil.Amount, identity, revocation, publish *btcec.PrivateKey) protocol.PartyParams {
	t.Helper()
	return protocol.PartyParams{
		FundingInputs: []protocol.UtxoInput{{
			OutPoint: wire.OutPoint{Hash: chainhash.DoubleHashH(identity.PubKey().SerializeCompressed()), Index: 0},
			Value:    amt + 1000,
			PkScript: []byte{0x00, 0x14},
		}},
		ChangeScript:     []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20},
		Amount:           amt,
		IdentityPubKey:   identity.PubKey(),
		RevocationPubKey: revocation.PubKey(),
		PublishPubKey:    publish.PubKey(),
	}
}

func fakeAnnouncement(t *testing.T, n int) protocol.OracleAnnouncement {
	t.Helper()
	oracleSk := randKey(t)
	nonces := make([]*btcec.PublicKey, n)
	for i := range nonces {
		nonces[i] = randKey(t).PubKey()
	}
	return protocol.OracleAnnouncement{PublicKey: oracleSk.PubKey(), Nonces: nonces}
}

func TestSetupBothSidesProduceIdenticalTransactions(t *testing.T) {
	makerIdentity, makerRev, makerPub := randKey(t), randKey(t), randKey(t)
	takerIdentity, takerRev, takerPub := randKey(t), randKey(t), randKey(t)

	offer := contractcourt.Offer{
		ID:            contractcourt.NewOfferID(),
		Position:      contractcourt.PositionLong,
		Price:         decimal.NewFromInt(40000),
		OracleEventID: "test-event",
	}
	quantity := decimal.NewFromInt(1)
	feeEst := protocol.StaticFeeEstimator{SatPerVByte: 1}

	makerParams := fakeParams(t, 500_000, makerIdentity, makerRev, makerPub)
	takerParams := fakeParams(t, 500_000, takerIdentity, takerRev, takerPub)

	makerKeys := protocol.PartyKeys{Identity: makerIdentity, Revocation: makerRev, Publish: makerPub}
	takerKeys := protocol.PartyKeys{Identity: takerIdentity, Revocation: takerRev, Publish: takerPub}

	makerSetup := NewSetup(offer, quantity, true, feeEst, makerParams, makerKeys)
	takerSetup := NewSetup(offer, quantity, false, feeEst, takerParams, takerKeys)

	require.NoError(t, makerSetup.ProcessCounterpartyParams(takerSetup.OwnParamsMsg()))
	require.NoError(t, takerSetup.ProcessCounterpartyParams(makerSetup.OwnParamsMsg()))

	require.NoError(t, makerSetup.BuildTransactions())
	require.NoError(t, takerSetup.BuildTransactions())

	require.Equal(t, makerSetup.dlc.LockTx.TxHash(), takerSetup.dlc.LockTx.TxHash())
	require.Equal(t, makerSetup.dlc.CommitTx.TxHash(), takerSetup.dlc.CommitTx.TxHash())
	require.Equal(t, makerSetup.dlc.RefundTx.TxHash(), takerSetup.dlc.RefundTx.TxHash())
	require.Equal(t, len(makerSetup.dlc.CETs), len(takerSetup.dlc.CETs))
	for i := range makerSetup.dlc.CETs {
		require.Equal(t, makerSetup.dlc.CETs[i].Tx.TxHash(), takerSetup.dlc.CETs[i].Tx.TxHash())
	}
}

func TestSetupCetAndRefundSignatureExchangeVerifies(t *testing.T) {
	makerIdentity, makerRev, makerPub := randKey(t), randKey(t), randKey(t)
	takerIdentity, takerRev, takerPub := randKey(t), randKey(t), randKey(t)

	offer := contractcourt.Offer{
		ID:            contractcourt.NewOfferID(),
		Position:      contractcourt.PositionShort,
		Price:         decimal.NewFromInt(40000),
		OracleEventID: "test-event",
	}
	quantity := decimal.NewFromInt(1)
	feeEst := protocol.StaticFeeEstimator{SatPerVByte: 1}

	makerParams := fakeParams(t, 500_000, makerIdentity, makerRev, makerPub)
	takerParams := fakeParams(t, 500_000, takerIdentity, takerRev, takerPub)

	makerKeys := protocol.PartyKeys{Identity: makerIdentity, Revocation: makerRev, Publish: makerPub}
	takerKeys := protocol.PartyKeys{Identity: takerIdentity, Revocation: takerRev, Publish: takerPub}

	makerSetup := NewSetup(offer, quantity, true, feeEst, makerParams, makerKeys)
	takerSetup := NewSetup(offer, quantity, false, feeEst, takerParams, takerKeys)

	require.NoError(t, makerSetup.ProcessCounterpartyParams(takerSetup.OwnParamsMsg()))
	require.NoError(t, takerSetup.ProcessCounterpartyParams(makerSetup.OwnParamsMsg()))
	require.NoError(t, makerSetup.BuildTransactions())
	require.NoError(t, takerSetup.BuildTransactions())

	announcement := fakeAnnouncement(t, NumDigits)

	makerCetMsg, err := makerSetup.OwnCetSignatures(announcement)
	require.NoError(t, err)
	takerCetMsg, err := takerSetup.OwnCetSignatures(announcement)
	require.NoError(t, err)

	require.NoError(t, makerSetup.ProcessCounterpartyCetSignatures(takerCetMsg, announcement))
	require.NoError(t, takerSetup.ProcessCounterpartyCetSignatures(makerCetMsg, announcement))

	makerRefundMsg, err := makerSetup.OwnRefundSignature()
	require.NoError(t, err)
	takerRefundMsg, err := takerSetup.OwnRefundSignature()
	require.NoError(t, err)

	require.NoError(t, makerSetup.ProcessCounterpartyRefundSignature(takerRefundMsg))
	require.NoError(t, takerSetup.ProcessCounterpartyRefundSignature(makerRefundMsg))

	makerDLC, err := makerSetup.Finalize()
	require.NoError(t, err)
	takerDLC, err := takerSetup.Finalize()
	require.NoError(t, err)

	require.NotNil(t, makerDLC.CounterpartyRefundSig)
	require.NotNil(t, takerDLC.CounterpartyRefundSig)
}

func TestBuildPayoutTableIsDeterministicAndCovered(t *testing.T) {
	offer := contractcourt.Offer{Position: contractcourt.PositionLong, Price: decimal.NewFromInt(40000)}
	table, err := BuildPayoutTable(offer, decimal.NewFromInt(1), 500_000, 0, NumDigits)
	require.NoError(t, err)
	require.NotEmpty(t, table)

	table2, err := BuildPayoutTable(offer, decimal.NewFromInt(1), 500_000, 0, NumDigits)
	require.NoError(t, err)
	require.Equal(t, table, table2)
}
