package hop_test

import (
	"bytes"
	"testing"

	"github.com/lightningnetwork/chancore/htlcswitch/hop"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/chancore/record"
	"github.com/stretchr/testify/require"
)

type decodePayloadTest struct {
	name     string
	payload  []byte
	finalHop bool
	expErr   error
}

var decodePayloadTests = []decodePayloadTest{
	{
		name:     "final hop no amount",
		payload:  []byte{0x04, 0x00},
		finalHop: true,
		expErr: hop.ErrInvalidPayload{
			Type:      record.AmtOnionType,
			Violation: hop.OmittedViolation,
			FinalHop:  true,
		},
	},
	{
		name: "intermediate hop no amount",
		payload: []byte{0x04, 0x00, 0x06, 0x08, 0x01, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
		},
		expErr: hop.ErrInvalidPayload{
			Type:      record.AmtOnionType,
			Violation: hop.OmittedViolation,
		},
	},
	{
		name:     "final hop no expiry",
		payload:  []byte{0x02, 0x00},
		finalHop: true,
		expErr: hop.ErrInvalidPayload{
			Type:      record.LockTimeOnionType,
			Violation: hop.OmittedViolation,
			FinalHop:  true,
		},
	},
	{
		name: "intermediate hop no expiry",
		payload: []byte{0x02, 0x00, 0x06, 0x08, 0x01, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
		},
		expErr: hop.ErrInvalidPayload{
			Type:      record.LockTimeOnionType,
			Violation: hop.OmittedViolation,
		},
	},
	{
		name: "final hop next sid present",
		payload: []byte{0x02, 0x00, 0x04, 0x00, 0x06, 0x08, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		},
		finalHop: true,
		expErr: hop.ErrInvalidPayload{
			Type:      record.NextHopOnionType,
			Violation: hop.IncludedViolation,
			FinalHop:  true,
		},
	},
	{
		name:    "intermediate hop no next sid",
		payload: []byte{0x02, 0x00, 0x04, 0x00},
		expErr: hop.ErrInvalidPayload{
			Type:      record.NextHopOnionType,
			Violation: hop.OmittedViolation,
		},
	},
	{
		name: "required type after valid ones",
		payload: []byte{0x02, 0x00, 0x04, 0x00, 0x0a, 0x00},
		finalHop: true,
		expErr: hop.ErrInvalidPayload{
			Type:      10,
			Violation: hop.RequiredViolation,
			FinalHop:  true,
		},
	},
	{
		name:     "final hop valid",
		payload:  []byte{0x02, 0x01, 0x0a, 0x04, 0x01, 0x64},
		finalHop: true,
	},
}

// TestDecodeHopPayloadRecordValidation asserts that parsing the payloads in the
// tests yields the expected errors depending on whether the proper fields were
// included or omitted.
func TestDecodeHopPayloadRecordValidation(t *testing.T) {
	for _, test := range decodePayloadTests {
		t.Run(test.name, func(t *testing.T) {
			_, err := hop.NewPayloadFromReader(
				bytes.NewReader(test.payload), test.finalHop,
			)
			if test.expErr == nil {
				require.NoError(t, err)
				return
			}
			require.Equal(t, test.expErr, err)
		})
	}
}

// TestPayloadEncodeDecode checks a payload with an MPP record and custom
// records survives encoding.
func TestPayloadEncodeDecode(t *testing.T) {
	t.Parallel()

	var addr [32]byte
	addr[0] = 0x11

	payload := &hop.Payload{
		FwdInfo: hop.ForwardingInfo{
			AmountToForward: 50_000_000,
			OutgoingCTLV:    600,
		},
		MPP: record.NewMPP(80_000_000, addr),
	}

	var b bytes.Buffer
	require.NoError(t, payload.Encode(&b, true))

	decoded, err := hop.NewPayloadFromReader(&b, true)
	require.NoError(t, err)
	require.Equal(t, payload.FwdInfo, decoded.ForwardingInfo())
	require.NotNil(t, decoded.MultiPath())
	require.Equal(t, addr, decoded.MultiPath().PaymentAddr())
	require.Equal(
		t, lnwire.MilliSatoshi(80_000_000),
		decoded.MultiPath().TotalMsat(),
	)
	require.Empty(t, decoded.CustomRecords())
}

// TestCustomRecordsParsed checks unknown odd types in the custom range are
// kept and never rejected.
func TestCustomRecordsParsed(t *testing.T) {
	t.Parallel()

	// amt=1, cltv=1, type 65536 (bigsize 0xfe0001_0000) with two bytes.
	payload := []byte{
		0x02, 0x01, 0x01, 0x04, 0x01, 0x01,
		0xfe, 0x00, 0x01, 0x00, 0x00, 0x02, 0xca, 0xfe,
	}

	decoded, err := hop.NewPayloadFromReader(
		bytes.NewReader(payload), true,
	)
	require.NoError(t, err)
	require.Equal(
		t, record.CustomSet{65536: {0xca, 0xfe}},
		decoded.CustomRecords(),
	)
}
