package record

import (
	"bytes"
	"testing"

	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestHopRecordsEncoding checks the forwarding records and the MPP record
// decode to what was encoded, for any values.
func TestHopRecordsEncoding(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		amt := rapid.Uint64().Draw(t, "amt")
		lockTime := rapid.Uint32().Draw(t, "lockTime")
		cid := rapid.Uint64().Draw(t, "cid")
		total := rapid.Uint64().Draw(t, "total")

		var addr [32]byte
		copy(addr[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(
			t, "addr",
		))
		mpp := NewMPP(lnwire.MilliSatoshi(total), addr)

		var b bytes.Buffer
		encStream := tlv.MustNewStream(
			NewAmtToFwdRecord(&amt), NewLockTimeRecord(&lockTime),
			NewNextHopIDRecord(&cid), mpp.Record(),
		)
		require.NoError(t, encStream.Encode(&b))

		var (
			amt2      uint64
			lockTime2 uint32
			cid2      uint64
			mpp2      MPP
		)
		decStream := tlv.MustNewStream(
			NewAmtToFwdRecord(&amt2), NewLockTimeRecord(&lockTime2),
			NewNextHopIDRecord(&cid2), mpp2.Record(),
		)
		require.NoError(t, decStream.Decode(&b))

		require.Equal(t, amt, amt2)
		require.Equal(t, lockTime, lockTime2)
		require.Equal(t, cid, cid2)
		require.Equal(t, addr, mpp2.PaymentAddr())
		require.EqualValues(t, total, mpp2.TotalMsat())
	})
}

// TestMPPDecodeLength checks an MPP record shorter than the payment address
// is rejected.
func TestMPPDecodeLength(t *testing.T) {
	t.Parallel()

	// type 8, length 31.
	raw := append([]byte{0x08, 0x1f}, bytes.Repeat([]byte{0}, 31)...)

	var mpp MPP
	stream := tlv.MustNewStream(mpp.Record())
	require.Error(t, stream.Decode(bytes.NewReader(raw)))
}
