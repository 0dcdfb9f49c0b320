package protocol

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func TestValidatePayoutTable(t *testing.T) {
	lockAmt := btcutil.Amount(3_000_000)
	fee := btcutil.Amount(1000)

	good := PayoutTable{
		{Lo: 0, Hi: 40000, MakerAmount: 2_249_000, TakerAmount: 749_000},
		{Lo: 40001, Hi: (1 << 20) - 1, MakerAmount: 0, TakerAmount: 2_998_000},
	}
	require.NoError(t, ValidatePayoutTable(good, 20, lockAmt, fee))

	gap := PayoutTable{
		{Lo: 0, Hi: 40000, MakerAmount: 2_249_000, TakerAmount: 749_000},
		{Lo: 40002, Hi: (1 << 20) - 1, MakerAmount: 0, TakerAmount: 2_998_000},
	}
	require.Error(t, ValidatePayoutTable(gap, 20, lockAmt, fee))

	short := PayoutTable{
		{Lo: 0, Hi: (1 << 19), MakerAmount: 2_249_000, TakerAmount: 749_000},
	}
	require.Error(t, ValidatePayoutTable(short, 20, lockAmt, fee))

	negative := PayoutTable{
		{Lo: 0, Hi: (1 << 20) - 1, MakerAmount: -1, TakerAmount: 2_999_001},
	}
	require.Error(t, ValidatePayoutTable(negative, 20, lockAmt, fee))
}
