package lnwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MaxSliceLength is the maximum allowed length for any opaque byte slices in
// the wire protocol.
const MaxSliceLength = 65535

// OpaqueReason is an encrypted failure reason. Nodes on the route can't read
// it, they only pass it back towards the sender unchanged.
type OpaqueReason []byte

// DeliveryAddress is the script a closing output pays to.
type DeliveryAddress []byte

// ErrorData is the human readable payload of an Error message.
type ErrorData []byte

// WriteUint8 appends the uint8 to the provided buffer.
func WriteUint8(buf *bytes.Buffer, n uint8) error {
	return buf.WriteByte(n)
}

// WriteUint16 appends the uint16 to the provided buffer. It encodes the
// integer using big endian byte order.
func WriteUint16(buf *bytes.Buffer, n uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], n)
	_, err := buf.Write(b[:])

	return err
}

// WriteUint32 appends the uint32 to the provided buffer. It encodes the
// integer using big endian byte order.
func WriteUint32(buf *bytes.Buffer, n uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	_, err := buf.Write(b[:])

	return err
}

// WriteUint64 appends the uint64 to the provided buffer. It encodes the
// integer using big endian byte order.
func WriteUint64(buf *bytes.Buffer, n uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	_, err := buf.Write(b[:])

	return err
}

// WriteSatoshi appends the Satoshi value to the provided buffer.
func WriteSatoshi(buf *bytes.Buffer, amount btcutil.Amount) error {
	return WriteUint64(buf, uint64(amount))
}

// WriteMilliSatoshi appends the MilliSatoshi value to the provided buffer.
func WriteMilliSatoshi(buf *bytes.Buffer, amount MilliSatoshi) error {
	return WriteUint64(buf, uint64(amount))
}

// WriteBytes appends the given bytes to the provided buffer.
func WriteBytes(buf *bytes.Buffer, b []byte) error {
	_, err := buf.Write(b)

	return err
}

// WritePublicKey appends the compressed public key to the provided buffer.
func WritePublicKey(buf *bytes.Buffer, pub *btcec.PublicKey) error {
	if pub == nil {
		return fmt.Errorf("cannot write nil pubkey")
	}

	return WriteBytes(buf, pub.SerializeCompressed())
}

// WriteChannelID appends the ChannelID to the provided buffer.
func WriteChannelID(buf *bytes.Buffer, channelID ChannelID) error {
	return WriteBytes(buf, channelID[:])
}

// WriteSig appends the signature to the provided buffer.
func WriteSig(buf *bytes.Buffer, sig Sig) error {
	return WriteBytes(buf, sig[:])
}

// WriteSigs appends the length prefixed slice of signatures to the provided
// buffer.
func WriteSigs(buf *bytes.Buffer, sigs []Sig) error {
	if len(sigs) > math.MaxUint16 {
		return fmt.Errorf("too many signatures: %d", len(sigs))
	}

	if err := WriteUint16(buf, uint16(len(sigs))); err != nil {
		return err
	}

	for _, sig := range sigs {
		if err := WriteSig(buf, sig); err != nil {
			return err
		}
	}

	return nil
}

// WriteVarBytes appends a 2 byte length prefix followed by the bytes.
func WriteVarBytes(buf *bytes.Buffer, b []byte) error {
	if len(b) > MaxSliceLength {
		return fmt.Errorf("slice of %d bytes exceeds maximum of %d",
			len(b), MaxSliceLength)
	}

	if err := WriteUint16(buf, uint16(len(b))); err != nil {
		return err
	}

	return WriteBytes(buf, b)
}

// WriteOutPoint appends the outpoint to the provided buffer. The index is
// encoded as two bytes as per the funding_created message.
func WriteOutPoint(buf *bytes.Buffer, p wire.OutPoint) error {
	if p.Index > math.MaxUint16 {
		return fmt.Errorf("index for outpoint (%v) is greater than "+
			"max index of %v", p.Index, math.MaxUint16)
	}

	if err := WriteBytes(buf, p.Hash[:]); err != nil {
		return err
	}

	return WriteUint16(buf, uint16(p.Index))
}

// ReadElements deserializes a variable number of elements from the reader.
// Each element must be a pointer to one of the types the channel messages
// use.
func ReadElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		if err := ReadElement(r, element); err != nil {
			return err
		}
	}

	return nil
}

// ReadElement deserializes a single element from the reader.
func ReadElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint16(b[:])

	case *uint32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint32(b[:])

	case *uint64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint64(b[:])

	case *MilliSatoshi:
		var v uint64
		if err := ReadElement(r, &v); err != nil {
			return err
		}
		*e = MilliSatoshi(v)

	case *btcutil.Amount:
		var v uint64
		if err := ReadElement(r, &v); err != nil {
			return err
		}
		*e = btcutil.Amount(int64(v))

	case **btcec.PublicKey:
		var b [btcec.PubKeyBytesLenCompressed]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}

		pubKey, err := btcec.ParsePubKey(b[:])
		if err != nil {
			return err
		}
		*e = pubKey

	case *ChannelID:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}

	case *Sig:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}

	case *[]Sig:
		var numSigs uint16
		if err := ReadElement(r, &numSigs); err != nil {
			return err
		}

		var sigs []Sig
		if numSigs > 0 {
			sigs = make([]Sig, numSigs)
			for i := range sigs {
				if err := ReadElement(r, &sigs[i]); err != nil {
					return err
				}
			}
		}
		*e = sigs

	case *[32]byte:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}

	case *OpaqueReason:
		b, err := readVarBytes(r)
		if err != nil {
			return err
		}
		*e = b

	case *DeliveryAddress:
		b, err := readVarBytes(r)
		if err != nil {
			return err
		}
		*e = b

	case *ErrorData:
		b, err := readVarBytes(r)
		if err != nil {
			return err
		}
		*e = b

	case *wire.OutPoint:
		var h [32]byte
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return err
		}

		var index uint16
		if err := ReadElement(r, &index); err != nil {
			return err
		}

		*e = wire.OutPoint{
			Hash:  chainhash.Hash(h),
			Index: uint32(index),
		}

	case []byte:
		if _, err := io.ReadFull(r, e); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown type in ReadElement: %T", e)
	}

	return nil
}

// readVarBytes reads a 2 byte length prefixed byte slice.
func readVarBytes(r io.Reader) ([]byte, error) {
	var l uint16
	if err := ReadElement(r, &l); err != nil {
		return nil, err
	}

	if l == 0 {
		return nil, nil
	}

	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}

	return b, nil
}
