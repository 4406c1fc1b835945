package hop

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// ErrEmptyRoute is returned when an HTLC carries no hop payload.
	ErrEmptyRoute = errors.New("route blob carries no hop payload")

	// ErrRouteTooLong is returned when the payloads of a route don't fit
	// into the blob of an HTLC.
	ErrRouteTooLong = errors.New("route exceeds the htlc blob size")
)

// Blob is the routing blob carried by every HTLC add.
type Blob = [lnwire.OnionPacketSize]byte

// Iterator abstracts the routing information included in an HTLC. It tells
// how this hop forwards the HTLC and encodes the blob for the next hop.
type Iterator interface {
	// HopPayload returns the set of fields that detail exactly _how_ this
	// hop should forward the HTLC to the next hop.
	HopPayload() (*Payload, error)

	// IsFinalHop returns true if the HTLC pays to this node.
	IsFinalHop() bool

	// EncodeNextHop encodes the blob destined for the next hop into the
	// passed io.Writer.
	EncodeNextHop(w io.Writer) error
}

// Decoder turns the blob of an incoming HTLC into an Iterator.
type Decoder interface {
	// DecodeHopIterator decodes the blob of an HTLC.
	DecodeHopIterator(blob Blob) (Iterator, error)
}

// cleartextIterator walks a route made of a sequence of length prefixed TLV
// hop payloads. The blob of each hop is the route with the first payload
// removed, zero padded to the blob size. A zero length ends the route.
type cleartextIterator struct {
	payload   []byte
	nextRoute []byte
	final     bool
}

// A compile time check to ensure cleartextIterator implements the Iterator
// interface.
var _ Iterator = (*cleartextIterator)(nil)

// HopPayload parses and validates the payload of this hop.
//
// NOTE: Part of the Iterator interface.
func (c *cleartextIterator) HopPayload() (*Payload, error) {
	return NewPayloadFromReader(bytes.NewReader(c.payload), c.final)
}

// IsFinalHop returns true if no payload follows the one of this hop.
//
// NOTE: Part of the Iterator interface.
func (c *cleartextIterator) IsFinalHop() bool {
	return c.final
}

// EncodeNextHop writes the zero padded blob of the next hop.
//
// NOTE: Part of the Iterator interface.
func (c *cleartextIterator) EncodeNextHop(w io.Writer) error {
	var next Blob
	copy(next[:], c.nextRoute)

	_, err := w.Write(next[:])
	return err
}

// CleartextDecoder decodes routes whose hop payloads aren't encrypted.
type CleartextDecoder struct{}

// A compile time check to ensure CleartextDecoder implements the Decoder
// interface.
var _ Decoder = (*CleartextDecoder)(nil)

// DecodeHopIterator splits the first hop payload off the blob.
//
// NOTE: Part of the Decoder interface.
func (CleartextDecoder) DecodeHopIterator(blob Blob) (Iterator, error) {
	var (
		r   = bytes.NewReader(blob[:])
		buf [8]byte
	)

	length, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, ErrEmptyRoute
	}
	if length > uint64(r.Len()) {
		return nil, fmt.Errorf("hop payload length %v exceeds blob",
			length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	nextRoute := blob[len(blob)-r.Len():]

	// The hop is final when no payload follows. Trailing bytes that
	// don't even hold a length are padding.
	nextLength, err := tlv.ReadVarInt(r, &buf)
	final := err != nil || nextLength == 0

	return &cleartextIterator{
		payload:   payload,
		nextRoute: nextRoute,
		final:     final,
	}, nil
}

// EncodeRoute encodes the payloads of a route into the blob of the first
// HTLC. The last payload is encoded as the final hop.
func EncodeRoute(payloads []*Payload) (Blob, error) {
	var (
		blob Blob
		b    bytes.Buffer
		buf  [8]byte
	)

	if len(payloads) == 0 {
		return blob, ErrEmptyRoute
	}

	for i, payload := range payloads {
		encoded, err := payload.encode(i == len(payloads)-1)
		if err != nil {
			return blob, err
		}

		err = tlv.WriteVarInt(&b, uint64(len(encoded)), &buf)
		if err != nil {
			return blob, err
		}
		b.Write(encoded)
	}

	if b.Len() > len(blob) {
		return blob, ErrRouteTooLong
	}
	copy(blob[:], b.Bytes())

	return blob, nil
}
