package hop

import (
	"bytes"
	"testing"

	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/stretchr/testify/require"
)

// TestCleartextRouteWalk encodes a three hop route and walks it the way each
// node along the route would.
func TestCleartextRouteWalk(t *testing.T) {
	t.Parallel()

	route := []*Payload{
		{FwdInfo: ForwardingInfo{
			NextHop:         lnwire.NewShortChanIDFromInt(1 << 40),
			AmountToForward: 30_000_000,
			OutgoingCTLV:    700,
		}},
		{FwdInfo: ForwardingInfo{
			NextHop:         lnwire.NewShortChanIDFromInt(2 << 40),
			AmountToForward: 29_000_000,
			OutgoingCTLV:    660,
		}},
		{FwdInfo: ForwardingInfo{
			AmountToForward: 29_000_000,
			OutgoingCTLV:    620,
		}},
	}

	blob, err := EncodeRoute(route)
	require.NoError(t, err)

	var decoder CleartextDecoder
	for i, expected := range route {
		iterator, err := decoder.DecodeHopIterator(blob)
		require.NoError(t, err)
		require.Equal(t, i == len(route)-1, iterator.IsFinalHop())

		payload, err := iterator.HopPayload()
		require.NoError(t, err)
		require.Equal(t, expected.FwdInfo, payload.ForwardingInfo())

		var next bytes.Buffer
		require.NoError(t, iterator.EncodeNextHop(&next))
		require.Len(t, next.Bytes(), lnwire.OnionPacketSize)
		copy(blob[:], next.Bytes())
	}

	// Past the final hop nothing is left.
	_, err = decoder.DecodeHopIterator(blob)
	require.ErrorIs(t, err, ErrEmptyRoute)
}

// TestEncodeRouteLimits checks empty and oversized routes are rejected.
func TestEncodeRouteLimits(t *testing.T) {
	t.Parallel()

	_, err := EncodeRoute(nil)
	require.ErrorIs(t, err, ErrEmptyRoute)

	// A custom record larger than the blob can't fit.
	payload := &Payload{
		FwdInfo: ForwardingInfo{AmountToForward: 1, OutgoingCTLV: 1},
		customRecords: map[uint64][]byte{
			65537: bytes.Repeat([]byte{1}, lnwire.OnionPacketSize),
		},
	}
	_, err = EncodeRoute([]*Payload{payload})
	require.ErrorIs(t, err, ErrRouteTooLong)
}

// TestDecodeTruncatedPayload checks a length running past the blob is an
// error.
func TestDecodeTruncatedPayload(t *testing.T) {
	t.Parallel()

	var blob Blob

	// bigsize 0xfd 0xff 0xff claims 65535 bytes.
	copy(blob[:], []byte{0xfd, 0xff, 0xff})

	_, err := CleartextDecoder{}.DecodeHopIterator(blob)
	require.Error(t, err)
}
