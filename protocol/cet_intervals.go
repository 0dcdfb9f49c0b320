package protocol

import "fmt"

// DigitPrefix is one node of the digit-prefix tree used to bind a CET to
// an oracle price range: the prefix of the first Length binary digits of
// the attested price, read most-significant-digit first.
type DigitPrefix struct {
	// Digits holds the first Length bits of the prefix; only indices
	// [0, Length) are meaningful.
	Digits []uint8
	Length int
}

// DefaultNumDigits is the oracle's fixed attestation width (§4.1: "a
// fixed number of binary digits (default 20)").
const DefaultNumDigits = 20

// coveredRange returns the inclusive [lo, hi] integer range a prefix
// covers given the total digit width n.
func (p DigitPrefix) coveredRange(n int) (lo, hi uint64) {
	for _, d := range p.Digits[:p.Length] {
		lo = lo<<1 | uint64(d)
		hi = hi<<1 | uint64(d)
	}
	remaining := n - p.Length
	lo <<= uint(remaining)
	hi = hi<<uint(remaining) | (1<<uint(remaining) - 1)
	return lo, hi
}

// DecomposeInterval returns the minimal set of digit prefixes, over an
// n-digit binary domain, whose covered ranges exactly partition
// [lo, hi] with no gaps or overlaps (spec invariant 1). It proceeds by
// repeatedly emitting the shortest prefix (largest aligned block)
// starting at the current lower bound that stays within [lo, hi], then
// advancing past it — the canonical CIDR-style block decomposition.
func DecomposeInterval(lo, hi uint64, n int) ([]DigitPrefix, error) {
	if n <= 0 || n > 63 {
		return nil, fmt.Errorf("invalid digit width %d", n)
	}
	maxVal := uint64(1)<<uint(n) - 1
	if hi > maxVal || lo > hi {
		return nil, fmt.Errorf("invalid interval [%d, %d] for %d digits", lo, hi, n)
	}

	var out []DigitPrefix
	cur := lo
	for cur <= hi {
		// Find the shortest prefix length k (largest block; k = n, a
		// single value, is the fallback) such that the block starting at cur of size
		// 2^(n-k) is both aligned to cur and fits within [cur, hi].
		bestLen := n
		for k := 0; k < n; k++ {
			blockSize := uint64(1) << uint(n-k)
			if cur%blockSize != 0 {
				continue
			}
			if cur+blockSize-1 > hi {
				continue
			}
			bestLen = k
			break
		}

		prefix := DigitPrefix{Digits: make([]uint8, bestLen), Length: bestLen}
		shifted := cur >> uint(n-bestLen)
		for i := bestLen - 1; i >= 0; i-- {
			prefix.Digits[i] = uint8(shifted & 1)
			shifted >>= 1
		}
		out = append(out, prefix)

		blockSize := uint64(1) << uint(n-bestLen)
		if cur+blockSize-1 >= hi {
			break
		}
		cur += blockSize
	}

	return out, nil
}

// coveredByAll reports the overall range a decomposition covers and
// whether its prefixes are contiguous; used by tests to check coverage.
func coveredByAll(prefixes []DigitPrefix, n int) (lo, hi uint64, contiguous bool) {
	if len(prefixes) == 0 {
		return 0, 0, false
	}
	lo, hi = prefixes[0].coveredRange(n)
	contiguous = true
	prevHi := hi
	for _, p := range prefixes[1:] {
		l, h := p.coveredRange(n)
		if l != prevHi+1 {
			contiguous = false
		}
		if l < lo {
			lo = l
		}
		if h > hi {
			hi = h
		}
		prevHi = h
	}
	return lo, hi, contiguous
}
