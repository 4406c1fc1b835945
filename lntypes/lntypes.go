package lntypes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// HashSize is the size in bytes of a payment hash.
	HashSize = 32

	// PreimageSize is the size in bytes of a payment preimage.
	PreimageSize = 32
)

// ZeroHash is the all-zero payment hash.
var ZeroHash Hash

// Hash is the sha256 payment hash an HTLC is locked to.
type Hash [HashSize]byte

// String returns the hex encoded hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MakeHash copies a byte slice of exactly HashSize bytes into a Hash.
func MakeHash(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length of %v, want %v",
			len(b), HashSize)
	}
	copy(h[:], b)

	return h, nil
}

// MakeHashFromStr parses a hex encoded payment hash.
func MakeHashFromStr(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}

	return MakeHash(b)
}

// Preimage is the secret whose sha256 is an HTLC's payment hash.
type Preimage [PreimageSize]byte

// String returns the hex encoded preimage.
func (p Preimage) String() string {
	return hex.EncodeToString(p[:])
}

// MakePreimage copies a byte slice of exactly PreimageSize bytes into a
// Preimage.
func MakePreimage(b []byte) (Preimage, error) {
	var p Preimage
	if len(b) != PreimageSize {
		return p, fmt.Errorf("invalid preimage length of %v, want %v",
			len(b), PreimageSize)
	}
	copy(p[:], b)

	return p, nil
}

// Hash returns the payment hash of the preimage.
func (p Preimage) Hash() Hash {
	return Hash(sha256.Sum256(p[:]))
}

// Matches returns whether the preimage hashes to h.
func (p Preimage) Matches(h Hash) bool {
	return p.Hash() == h
}
