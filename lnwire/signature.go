package lnwire

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Sig is a fixed-sized ECDSA signature. Unlike Bitcoin, we use fixed sized
// signatures on the wire, instead of DER encoded signatures. The format is
// the 32 byte big-endian R value followed by the 32 byte big-endian S value.
type Sig [64]byte

var (
	errSigTooShort = errors.New("malformed signature: too short")
	errBadLength   = errors.New("malformed signature: bad length")
	errBadRLength  = errors.New("malformed signature: bogus R length")
	errBadSLength  = errors.New("malformed signature: bogus S length")
)

// NewSigFromDER converts a DER encoded signature, as produced by
// ecdsa.Signature.Serialize, into the fixed-size wire form.
func NewSigFromDER(der []byte) (Sig, error) {
	var b Sig

	// 0x30 <len> 0x02 <rlen> <r> 0x02 <slen> <s>
	if len(der) < 8 {
		return b, errSigTooShort
	}
	if int(der[1])+2 != len(der) {
		return b, errBadLength
	}

	rLen := int(der[3])
	if rLen > 33 || 4+rLen+2 > len(der) {
		return b, errBadRLength
	}
	r := der[4 : 4+rLen]

	sLen := int(der[4+rLen+1])
	if sLen > 33 || 4+rLen+2+sLen != len(der) {
		return b, errBadSLength
	}
	s := der[4+rLen+2:]

	// Strip the sign padding byte DER adds to high values.
	if len(r) == 33 {
		r = r[1:]
	}
	if len(s) == 33 {
		s = s[1:]
	}

	copy(b[32-len(r):32], r)
	copy(b[64-len(s):], s)

	return b, nil
}

// NewSigFromSignature creates a new signature as used on the wire, from an
// existing ecdsa.Signature.
func NewSigFromSignature(sig *ecdsa.Signature) (Sig, error) {
	if sig == nil {
		return Sig{}, fmt.Errorf("cannot decode empty signature")
	}

	return NewSigFromDER(sig.Serialize())
}

// ToSignature converts the fixed-sized signature to an ecdsa.Signature
// which can be used for signature validation.
func (b *Sig) ToSignature() (*ecdsa.Signature, error) {
	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(b[:32]); overflow {
		return nil, fmt.Errorf("invalid signature: R >= group order")
	}
	if overflow := s.SetByteSlice(b[32:]); overflow {
		return nil, fmt.Errorf("invalid signature: S >= group order")
	}
	if r.IsZero() || s.IsZero() {
		return nil, fmt.Errorf("invalid signature: zero R or S")
	}

	return ecdsa.NewSignature(&r, &s), nil
}
