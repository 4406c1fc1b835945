package lnwire

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var testPrivKey, testPubKey = btcec.PrivKeyFromBytes(bytes.Repeat(
	[]byte{0x42}, 32,
))

// TestSigConversion makes sure a signature survives the trip from DER to the
// fixed wire form and back, and still verifies.
func TestSigConversion(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		digest := sha256.Sum256([]byte{byte(i)})
		sig := ecdsa.Sign(testPrivKey, digest[:])

		wireSig, err := NewSigFromSignature(sig)
		require.NoError(t, err)

		parsed, err := wireSig.ToSignature()
		require.NoError(t, err)
		require.True(t, parsed.Verify(digest[:], testPubKey))
		require.Equal(t, sig.Serialize(), parsed.Serialize())
	}

	_, err := NewSigFromDER([]byte{0x30, 0x01})
	require.Error(t, err)
}

// TestChannelID checks the funding outpoint to channel id conversion.
func TestChannelID(t *testing.T) {
	t.Parallel()

	op := wire.OutPoint{Hash: chainhash.Hash{1, 2, 3}, Index: 0x0102}
	cid := NewChanIDFromOutPoint(op)

	require.True(t, cid.IsChanPoint(op))
	require.EqualValues(t, 0x01, cid[30])
	require.EqualValues(t, 0x02, cid[31])

	op.Index++
	require.False(t, cid.IsChanPoint(op))
}

// TestMessageEncoding writes each channel message through WriteMessage and
// reads it back with ReadMessage.
func TestMessageEncoding(t *testing.T) {
	t.Parallel()

	chanID := ChannelID{9}
	digest := sha256.Sum256([]byte("commit"))
	sig, err := NewSigFromSignature(ecdsa.Sign(testPrivKey, digest[:]))
	require.NoError(t, err)

	add := &UpdateAddHTLC{
		ChanID:      chanID,
		ID:          7,
		Amount:      50_000_000,
		PaymentHash: sha256.Sum256([]byte("preimage")),
		Expiry:      500_144,
	}
	add.OnionBlob[0] = 0x01

	msgs := []Message{
		&FundingCreated{
			PendingChannelID: [32]byte{1},
			FundingPoint:     wire.OutPoint{Index: 1},
			CommitSig:        sig,
		},
		&FundingSigned{ChanID: chanID, CommitSig: sig},
		&ChannelReady{ChanID: chanID, NextPerCommitmentPoint: testPubKey},
		add,
		&UpdateFulfillHTLC{ChanID: chanID, ID: 7, PaymentPreimage: [32]byte{3}},
		&UpdateFailHTLC{ChanID: chanID, ID: 8, Reason: OpaqueReason{1, 2, 3}},
		&CommitSig{ChanID: chanID, CommitSig: sig, HtlcSigs: []Sig{sig, sig}},
		&CommitSig{ChanID: chanID, CommitSig: sig},
		&RevokeAndAck{
			ChanID:            chanID,
			Revocation:        [32]byte{4},
			NextRevocationKey: testPubKey,
		},
		&Shutdown{ChannelID: chanID, Address: DeliveryAddress{0x00, 0x14}},
		&ClosingSigned{ChannelID: chanID, FeeSatoshis: 1234, Signature: sig},
		NewError(chanID, "invalid commitment signature"),
	}

	for _, msg := range msgs {
		var b bytes.Buffer
		_, err := WriteMessage(&b, msg, 0)
		require.NoError(t, err, msg.MsgType())

		decoded, err := ReadMessage(&b, 0)
		require.NoError(t, err, msg.MsgType())
		require.Equal(t, msg, decoded)
	}
}

// TestReadUnknownMessage ensures unknown types are surfaced as an
// UnknownMessage error.
func TestReadUnknownMessage(t *testing.T) {
	t.Parallel()

	var b [2]byte
	binary.BigEndian.PutUint16(b[:], 0x7fff)

	_, err := ReadMessage(bytes.NewReader(b[:]), 0)

	var unknown *UnknownMessage
	require.ErrorAs(t, err, &unknown)
}

// TestWriteMessageTooLarge checks that an oversized message leaves the buffer
// untouched.
func TestWriteMessageTooLarge(t *testing.T) {
	t.Parallel()

	sigs := make([]Sig, MaxMsgBody/64+1)

	var b bytes.Buffer
	b.WriteString("prefix")

	_, err := WriteMessage(&b, &CommitSig{HtlcSigs: sigs}, 0)
	require.Error(t, err)
	require.Equal(t, "prefix", b.String())
}

// TestFailureEncoding checks a failure survives the opaque reason and that
// malformed reasons are rejected.
func TestFailureEncoding(t *testing.T) {
	t.Parallel()

	failure := &FailureMessage{
		Code: CodeFeeInsufficient,
		Data: []byte{0x01, 0x02, 0x03},
	}
	reason, err := EncodeFailure(failure)
	require.NoError(t, err)
	require.Len(t, reason, 7)

	decoded, err := DecodeFailure(reason)
	require.NoError(t, err)
	require.Equal(t, failure, decoded)
	require.False(t, decoded.Code.IsFinalNode())

	reason, err = EncodeFailure(
		NewFailure(CodeIncorrectOrUnknownPaymentDetails),
	)
	require.NoError(t, err)
	decoded, err = DecodeFailure(reason)
	require.NoError(t, err)
	require.True(t, decoded.Code.IsFinalNode())
	require.Nil(t, decoded.Data)

	_, err = DecodeFailure(OpaqueReason{0x10})
	require.ErrorIs(t, err, ErrFailureTooShort)

	_, err = DecodeFailure(append(reason, 0x00))
	require.Error(t, err)
}
