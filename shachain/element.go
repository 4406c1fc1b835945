package shachain

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// maxHeight is the number of bits in an index, and so the number of
	// buckets a store needs to derive every earlier secret.
	maxHeight uint8 = 48

	// startIndex is the index of the first element handed out. Indexes
	// count down from here as secrets are produced.
	startIndex index = (1 << maxHeight) - 1
)

// ErrNotDerivable is returned when one element cannot be derived from
// another because their index prefixes differ.
var ErrNotDerivable = errors.New("index not derivable from element")

// index is the internal position of a secret. The public commitment height
// maps onto it through newIndex so that height 0 is the first element.
type index uint64

// newIndex converts a commitment height into an index.
func newIndex(height uint64) index {
	return startIndex - index(height)
}

// element is a secret together with the index it was derived for.
type element struct {
	index index
	hash  chainhash.Hash
}

// derive walks from e to the element at index to. This is only possible if
// to shares e's prefix above e's trailing zero bits, each set bit of to below
// that prefix is flipped into the hash followed by a sha256 round.
func (e *element) derive(to index) (*element, error) {
	zeros := trailingZeros(e.index)
	if !samePrefix(e.index, to, zeros) {
		return nil, ErrNotDerivable
	}

	buf := e.hash
	for bit := int(zeros) - 1; bit >= 0; bit-- {
		if (uint64(to)>>uint(bit))&1 == 0 {
			continue
		}

		buf[bit/8] ^= 1 << (uint(bit) % 8)
		buf = sha256.Sum256(buf[:])
	}

	return &element{index: to, hash: buf}, nil
}

// trailingZeros counts the zero bits at the bottom of the index, capped at
// maxHeight for the root.
func trailingZeros(i index) uint8 {
	var zeros uint8
	for ; zeros < maxHeight; zeros++ {
		if (uint64(i)>>zeros)&1 == 1 {
			break
		}
	}

	return zeros
}

// samePrefix reports whether a and b agree on every bit at or above the
// given position.
func samePrefix(a, b index, position uint8) bool {
	mask := ^uint64(0) << position

	return uint64(a)&mask == uint64(b)&mask
}
