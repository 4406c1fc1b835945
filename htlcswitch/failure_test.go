package htlcswitch

import (
	"fmt"
	"testing"

	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/stretchr/testify/require"
)

// TestClassifyFailure checks the failures of the recipient are told apart
// from the ones of the route.
func TestClassifyFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reason lnwire.OpaqueReason
		want   FailureReason
		code   lnwire.FailCode
	}{
		{
			name:   "unknown payment",
			reason: encodeFailure(lnwire.CodeIncorrectOrUnknownPaymentDetails),
			want:   FailureReasonRemote,
			code:   lnwire.CodeIncorrectOrUnknownPaymentDetails,
		},
		{
			name:   "final cltv",
			reason: encodeFailure(lnwire.CodeFinalIncorrectCltvExpiry),
			want:   FailureReasonRemote,
			code:   lnwire.CodeFinalIncorrectCltvExpiry,
		},
		{
			name:   "temporary channel failure",
			reason: encodeFailure(lnwire.CodeTemporaryChannelFailure),
			want:   FailureReasonRoute,
			code:   lnwire.CodeTemporaryChannelFailure,
		},
		{
			name:   "fee insufficient",
			reason: encodeFailure(lnwire.CodeFeeInsufficient),
			want:   FailureReasonRoute,
			code:   lnwire.CodeFeeInsufficient,
		},
		{
			name:   "garbage",
			reason: lnwire.OpaqueReason{0x01},
			want:   FailureReasonRemote,
			code:   lnwire.CodeNone,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			reason, code := classifyFailure(test.reason)
			require.Equal(t, test.want, reason)
			require.Equal(t, test.code, code)
		})
	}
}

// TestAddErrorCode checks the failure sent back for HTLCs a channel refused.
func TestAddErrorCode(t *testing.T) {
	t.Parallel()

	require.Equal(
		t, lnwire.CodeExpiryTooSoon,
		addErrorCode(fmt.Errorf("wrapped: %w", lnwallet.ErrExpiryTooSoon)),
	)
	require.Equal(
		t, lnwire.CodeAmountBelowMinimum,
		addErrorCode(lnwallet.ErrBelowDustLimit),
	)
	require.Equal(
		t, lnwire.CodeTemporaryChannelFailure,
		addErrorCode(fmt.Errorf("no funds")),
	)
}

func TestFailureReasonString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "LocalCapacity", FailureReasonLocalCapacity.String())
	require.Equal(t, "RemoteFailure", FailureReasonRemote.String())
	require.Equal(t, "RouteFailure", FailureReasonRoute.String())
	require.Equal(t, "FailureReason(9)", FailureReason(9).String())
}
