package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecomposeIntervalCoversExactly(t *testing.T) {
	tests := []struct {
		name     string
		lo, hi   uint64
		numDigits int
	}{
		{"full range", 0, (1 << 20) - 1, 20},
		{"single value", 5, 5, 20},
		{"example low", 0, 40000, 20},
		{"example high", 40001, 70000, 20},
		{"small width", 0, 7, 3},
		{"small width odd", 2, 5, 3},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			prefixes, err := DecomposeInterval(tc.lo, tc.hi, tc.numDigits)
			require.NoError(t, err)
			require.NotEmpty(t, prefixes)

			lo, hi, contiguous := coveredByAll(prefixes, tc.numDigits)
			require.True(t, contiguous, "prefixes must partition with no gaps/overlaps")
			require.Equal(t, tc.lo, lo)
			require.Equal(t, tc.hi, hi)
		})
	}
}

func TestDecomposeIntervalSingleValueIsFullLengthPrefix(t *testing.T) {
	prefixes, err := DecomposeInterval(5, 5, 20)
	require.NoError(t, err)
	require.Len(t, prefixes, 1)
	require.Equal(t, 20, prefixes[0].Length)
}

func TestDecomposeIntervalRejectsOutOfRange(t *testing.T) {
	_, err := DecomposeInterval(0, 1<<20, 20)
	require.Error(t, err)

	_, err = DecomposeInterval(10, 5, 20)
	require.Error(t, err)
}
