package protocol

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// ValidatePayoutTable enforces spec invariant 1 (contiguous, ordered,
// non-overlapping, full coverage) and invariant 2 (payouts sum to lock
// amount minus fee, each ≥ 0).
func ValidatePayoutTable(table PayoutTable, numDigits int, lockAmount, fee btcutil.Amount) error {
	if len(table) == 0 {
		return fmt.Errorf("protocol: empty payout table")
	}

	want := lockAmount - fee
	var prevHi uint64
	for i, p := range table {
		if p.MakerAmount < 0 || p.TakerAmount < 0 {
			return fmt.Errorf("protocol: negative payout in interval %d", i)
		}
		if p.MakerAmount+p.TakerAmount != want {
			return fmt.Errorf("protocol: interval %d payouts sum to %v, want %v",
				i, p.MakerAmount+p.TakerAmount, want)
		}
		if i == 0 {
			if p.Lo != 0 {
				return fmt.Errorf("protocol: payout table must start at 0, got %d", p.Lo)
			}
		} else if p.Lo != prevHi+1 {
			return fmt.Errorf("protocol: gap/overlap between interval %d (hi=%d) and %d (lo=%d)",
				i-1, prevHi, i, p.Lo)
		}
		if p.Hi < p.Lo {
			return fmt.Errorf("protocol: interval %d has hi < lo", i)
		}
		prevHi = p.Hi
	}

	maxVal := uint64(1)<<uint(numDigits) - 1
	if prevHi != maxVal {
		return fmt.Errorf("protocol: payout table must cover up to %d, ends at %d", maxVal, prevHi)
	}

	return nil
}

// BuildAllCETs constructs one CET transaction per payout interval and
// decomposes each interval into its minimal digit-prefix covering
// (spec §4.1, §8 property on minimum cardinality).
func BuildAllCETs(commitTx *wire.MsgTx, commitValue btcutil.Amount, table PayoutTable, numDigits int,
	makerScript, takerScript []byte) ([]CET, error) {

	out := make([]CET, 0, len(table))
	for _, interval := range table {
		prefixes, err := DecomposeInterval(interval.Lo, interval.Hi, numDigits)
		if err != nil {
			return nil, fmt.Errorf("protocol: decompose interval [%d,%d]: %w", interval.Lo, interval.Hi, err)
		}

		tx, err := BuildCET(commitTx, commitValue, interval, makerScript, takerScript)
		if err != nil {
			return nil, err
		}

		out = append(out, CET{
			Interval: interval,
			Prefixes: prefixes,
			Tx:       tx,
		})
	}
	return out, nil
}
