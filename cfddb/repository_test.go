package cfddb

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/cfdlabs/cfd-core/protocol"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleOffer(t *testing.T) contractcourt.Offer {
	t.Helper()
	return contractcourt.Offer{
		ID:                 contractcourt.NewOfferID(),
		TradingPair:        "XBTUSD",
		Position:           contractcourt.PositionLong,
		Price:              decimal.NewFromInt(42000),
		MinQuantity:        decimal.NewFromInt(100),
		MaxQuantity:        decimal.NewFromInt(10000),
		Leverage:           5,
		LiquidationPrice:   decimal.NewFromInt(38000),
		CreatedAt:          time.Unix(1_700_000_000, 0).UTC(),
		SettlementInterval: 24 * time.Hour,
		Origin:             contractcourt.OriginOurs,
		OracleEventID:      "/x/BitMEX/BXBT/1700086400.price?n=20",
	}
}

func TestInsertAndLoadOrderRoundTrips(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	offer := sampleOffer(t)
	require.NoError(t, db.InsertOrder(ctx, offer))

	loaded, err := db.LoadOrder(ctx, offer.ID)
	require.NoError(t, err)
	require.Equal(t, offer.TradingPair, loaded.TradingPair)
	require.True(t, offer.Price.Equal(loaded.Price))
	require.True(t, offer.MinQuantity.Equal(loaded.MinQuantity))
	require.True(t, offer.MaxQuantity.Equal(loaded.MaxQuantity))
	require.True(t, offer.LiquidationPrice.Equal(loaded.LiquidationPrice))
	require.Equal(t, offer.Leverage, loaded.Leverage)
	require.Equal(t, offer.SettlementInterval, loaded.SettlementInterval)
	require.Equal(t, offer.Origin, loaded.Origin)
	require.Equal(t, offer.OracleEventID, loaded.OracleEventID)
	require.WithinDuration(t, offer.CreatedAt, loaded.CreatedAt, time.Microsecond)
}

func TestLoadOrderMissingReturnsIOError(t *testing.T) {
	db := openTestDB(t)
	_, err := db.LoadOrder(context.Background(), contractcourt.NewOfferID())
	require.Error(t, err)
	require.True(t, cfderr.Is(err, cfderr.KindIO))
}

func fakeDLC(t *testing.T) *protocol.DLC {
	t.Helper()
	sk := func() *btcec.PrivateKey {
		k, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		return k
	}

	identity, revocation, publish := sk(), sk(), sk()
	params := protocol.PartyParams{
		FundingInputs: []protocol.UtxoInput{{
			OutPoint: wire.OutPoint{Hash: chainhash.DoubleHashH([]byte("utxo")), Index: 1},
			Value:    100_000,
			PkScript: []byte{0x00, 0x14, 1, 2, 3},
		}},
		ChangeScript:     []byte{0x00, 0x14, 4, 5, 6},
		Amount:           100_000,
		IdentityPubKey:   identity.PubKey(),
		RevocationPubKey: revocation.PubKey(),
		PublishPubKey:    publish.PubKey(),
	}

	lockTx := wire.NewMsgTx(wire.TxVersion)
	lockTx.AddTxOut(wire.NewTxOut(200_000, []byte{0x00, 0x20}))

	commitTx := wire.NewMsgTx(wire.TxVersion)
	commitTx.AddTxOut(wire.NewTxOut(199_000, []byte{0x00, 0x20}))

	refundTx := wire.NewMsgTx(wire.TxVersion)
	refundTx.AddTxOut(wire.NewTxOut(99_500, params.ChangeScript))

	cetTx := wire.NewMsgTx(wire.TxVersion)
	cetTx.AddTxOut(wire.NewTxOut(150_000, params.ChangeScript))

	sigKey := sk()
	adaptorSig := &protocol.AdaptorSignature{
		R:               sigKey.PubKey(),
		S:               big.NewInt(12345),
		EncryptionPoint: sk().PubKey(),
	}

	var preimage [32]byte
	copy(preimage[:], []byte("deterministic-test-preimage-000"))

	return &protocol.DLC{
		OracleEventID: "/x/BitMEX/BXBT/1700086400.price?n=20",
		Maker:         params,
		Taker:         params,
		Own: protocol.PartyKeys{
			Identity:            identity,
			Revocation:          revocation,
			Publish:             publish,
			RevocationPreimage:  preimage,
		},
		LockTx:         lockTx,
		LockValue:      200_000,
		CommitTx:       commitTx,
		CommitScript:   []byte{0x51},
		CommitPkScript: []byte{0x00, 0x20},
		RefundTx:       refundTx,
		RefundTimelock: 864,
		CetTimelock:    144,
		RefundSplit:    protocol.Payout{Lo: 0, Hi: 0, MakerAmount: 49_750, TakerAmount: 49_750},
		Payouts: protocol.PayoutTable{
			{Lo: 0, Hi: 500_000, MakerAmount: 150_000, TakerAmount: 49_000},
		},
		CETs: []protocol.CET{{
			Interval:        protocol.Payout{Lo: 0, Hi: 500_000, MakerAmount: 150_000, TakerAmount: 49_000},
			Prefixes:        []protocol.DigitPrefix{{Digits: []uint8{0, 1, 1}, Length: 3}},
			Tx:              cetTx,
			CounterpartySig: adaptorSig,
		}},
		IsMaker: true,
	}
}

func TestInsertContractAppendStateAndLoadRoundTripsDLC(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	offer := sampleOffer(t)
	require.NoError(t, db.InsertOrder(ctx, offer))

	initial := contractcourt.State{Kind: contractcourt.KindOutgoingRequest, Timestamp: time.Unix(1_700_000_100, 0).UTC()}
	require.NoError(t, db.InsertContract(ctx, offer.ID, decimal.NewFromInt(500), initial))

	loaded, err := db.LoadContract(ctx, offer.ID)
	require.NoError(t, err)
	require.Equal(t, contractcourt.KindOutgoingRequest, loaded.Current.Kind)
	require.True(t, decimal.NewFromInt(500).Equal(loaded.Quantity))

	dlc := fakeDLC(t)
	setup := contractcourt.State{Kind: contractcourt.KindPendingOpen, Timestamp: time.Unix(1_700_000_200, 0).UTC(), DLC: dlc}
	require.NoError(t, db.AppendState(ctx, offer.ID, setup))

	loaded, err = db.LoadContract(ctx, offer.ID)
	require.NoError(t, err)
	require.Equal(t, contractcourt.KindPendingOpen, loaded.Current.Kind)
	require.NotNil(t, loaded.Current.DLC)

	require.Equal(t, dlc.LockTx.TxHash(), loaded.Current.DLC.LockTx.TxHash())
	require.Equal(t, dlc.CommitTx.TxHash(), loaded.Current.DLC.CommitTx.TxHash())
	require.Equal(t, dlc.RefundTx.TxHash(), loaded.Current.DLC.RefundTx.TxHash())
	require.Equal(t, dlc.Own.RevocationPreimage, loaded.Current.DLC.Own.RevocationPreimage)
	require.Equal(t, dlc.Own.Identity.Serialize(), loaded.Current.DLC.Own.Identity.Serialize())
	require.Equal(t, len(dlc.CETs), len(loaded.Current.DLC.CETs))
	require.Equal(t, dlc.CETs[0].Tx.TxHash(), loaded.Current.DLC.CETs[0].Tx.TxHash())
	require.Equal(t, dlc.CETs[0].CounterpartySig.S, loaded.Current.DLC.CETs[0].CounterpartySig.S)
	require.True(t, dlc.CETs[0].CounterpartySig.R.IsEqual(loaded.Current.DLC.CETs[0].CounterpartySig.R))
}

func TestAppendStateIfCurrentKindRejectsStaleExpectation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	offer := sampleOffer(t)
	require.NoError(t, db.InsertOrder(ctx, offer))
	initial := contractcourt.State{Kind: contractcourt.KindIncomingRequest, Timestamp: time.Now().UTC()}
	require.NoError(t, db.InsertContract(ctx, offer.ID, decimal.NewFromInt(500), initial))

	next := contractcourt.State{Kind: contractcourt.KindContractSetup, Timestamp: time.Now().UTC()}
	require.NoError(t, db.AppendStateIfCurrentKind(ctx, offer.ID, contractcourt.KindIncomingRequest, next))

	err := db.AppendStateIfCurrentKind(ctx, offer.ID, contractcourt.KindIncomingRequest, next)
	require.Error(t, err)
	require.True(t, cfderr.Is(err, cfderr.KindStateViolation))
}

func TestAppendStateIfCurrentKindOnlyOneWinnerUnderConcurrentAccept(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	offer := sampleOffer(t)
	require.NoError(t, db.InsertOrder(ctx, offer))
	initial := contractcourt.State{Kind: contractcourt.KindIncomingRequest, Timestamp: time.Now().UTC()}
	require.NoError(t, db.InsertContract(ctx, offer.ID, decimal.NewFromInt(500), initial))

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := contractcourt.State{Kind: contractcourt.KindContractSetup, Timestamp: time.Now().UTC()}
			results[i] = db.AppendStateIfCurrentKind(ctx, offer.ID, contractcourt.KindIncomingRequest, next)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes)
}

func TestLoadContractsByEventReturnsAllMatchingOffers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	eventID := "/x/BitMEX/BXBT/1700086400.price?n=20"
	var ids []contractcourt.OfferID
	for i := 0; i < 3; i++ {
		offer := sampleOffer(t)
		offer.ID = contractcourt.NewOfferID()
		offer.OracleEventID = eventID
		require.NoError(t, db.InsertOrder(ctx, offer))
		require.NoError(t, db.InsertContract(ctx, offer.ID, decimal.NewFromInt(100),
			contractcourt.State{Kind: contractcourt.KindOpen, Timestamp: time.Now().UTC()}))
		ids = append(ids, offer.ID)
	}

	other := sampleOffer(t)
	other.ID = contractcourt.NewOfferID()
	other.OracleEventID = "some-other-event"
	require.NoError(t, db.InsertOrder(ctx, other))
	require.NoError(t, db.InsertContract(ctx, other.ID, decimal.NewFromInt(100),
		contractcourt.State{Kind: contractcourt.KindOpen, Timestamp: time.Now().UTC()}))

	contracts, err := db.LoadContractsByEvent(ctx, eventID)
	require.NoError(t, err)
	require.Len(t, contracts, 3)

	seen := map[contractcourt.OfferID]bool{}
	for _, c := range contracts {
		seen[c.Offer.ID] = true
	}
	for _, id := range ids {
		require.True(t, seen[id])
	}
}

func TestLoadAllContractsReturnsEveryCfd(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		offer := sampleOffer(t)
		offer.ID = contractcourt.NewOfferID()
		require.NoError(t, db.InsertOrder(ctx, offer))
		require.NoError(t, db.InsertContract(ctx, offer.ID, decimal.NewFromInt(100),
			contractcourt.State{Kind: contractcourt.KindOutgoingRequest, Timestamp: time.Now().UTC()}))
	}

	contracts, err := db.LoadAllContracts(ctx)
	require.NoError(t, err)
	require.Len(t, contracts, 2)
}
