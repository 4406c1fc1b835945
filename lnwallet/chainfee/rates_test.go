package chainfee

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestFeeRateConversions checks the rounding of the fee helpers.
func TestFeeRateConversions(t *testing.T) {
	t.Parallel()

	rate := SatPerKWeight(253)
	require.Equal(t, btcutil.Amount(183), rate.FeeForWeight(724))
	require.Equal(t, SatPerKVByte(1012), rate.FeePerKVByte())
	require.Equal(t, rate, rate.FeePerKVByte().FeePerKWeight())
}

// TestMapEstimator checks target selection and the relay floor.
func TestMapEstimator(t *testing.T) {
	t.Parallel()

	e := NewMapEstimator(1000, 253)
	e.SetRate(2, 5000)
	e.SetRate(6, 2500)
	e.SetRate(144, 100)

	testCases := []struct {
		target uint32
		want   SatPerKWeight
	}{
		{target: 1, want: 5000},
		{target: 2, want: 5000},
		{target: 3, want: 2500},
		{target: 6, want: 2500},
		{target: 100, want: 253},
		{target: 500, want: 1000},
	}
	for _, tc := range testCases {
		rate, err := e.EstimateFeePerKW(tc.target)
		require.NoError(t, err)
		require.Equal(t, tc.want, rate, "target %d", tc.target)
	}

	_, err := e.EstimateFeePerKW(0)
	require.Error(t, err)
}
