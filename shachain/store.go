package shachain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// ErrInconsistentSecret is returned when a new secret does not derive
	// the secrets already held, meaning the peer sent a bogus value.
	ErrInconsistentSecret = errors.New("secret is not consistent with " +
		"previously received secrets")

	// ErrUnknownSecret is returned by LookUp for a height that has not
	// been received yet.
	ErrUnknownSecret = errors.New("secret not known for height")
)

// RevocationStore keeps the counterparty's revealed secrets in O(log n)
// space. Secrets must be added in production order, starting at height 0.
type RevocationStore struct {
	// numBuckets is the number of populated buckets.
	numBuckets uint8

	// buckets[i] holds the latest received element with i trailing zero
	// bits in its index.
	buckets [maxHeight + 1]element

	// next is the index the next added secret will be assigned.
	next index
}

// NewRevocationStore creates an empty store.
func NewRevocationStore() *RevocationStore {
	return &RevocationStore{
		next: startIndex,
	}
}

// NumSecrets returns how many secrets have been added.
func (s *RevocationStore) NumSecrets() uint64 {
	return uint64(startIndex - s.next)
}

// AddNextEntry inserts the secret for the next height. The secret is checked
// against every bucket it should be able to derive.
func (s *RevocationStore) AddNextEntry(secret *chainhash.Hash) error {
	e := element{index: s.next, hash: *secret}
	bucket := trailingZeros(e.index)

	for i := uint8(0); i < bucket && i < s.numBuckets; i++ {
		derived, err := e.derive(s.buckets[i].index)
		if err != nil {
			return err
		}

		if derived.hash != s.buckets[i].hash {
			return ErrInconsistentSecret
		}
	}

	s.buckets[bucket] = e
	if bucket+1 > s.numBuckets {
		s.numBuckets = bucket + 1
	}
	s.next--

	return nil
}

// LookUp returns the secret for a height already received.
func (s *RevocationStore) LookUp(height uint64) (*chainhash.Hash, error) {
	target := newIndex(height)
	if height >= s.NumSecrets() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSecret, height)
	}

	for i := uint8(0); i < s.numBuckets; i++ {
		e, err := s.buckets[i].derive(target)
		if err != nil {
			continue
		}

		return &e.hash, nil
	}

	return nil, fmt.Errorf("%w: %d", ErrUnknownSecret, height)
}

// Encode writes the store to w.
func (s *RevocationStore) Encode(w io.Writer) error {
	err := binary.Write(w, binary.BigEndian, s.numBuckets)
	if err != nil {
		return err
	}

	for i := uint8(0); i < s.numBuckets; i++ {
		err := binary.Write(w, binary.BigEndian, uint64(s.buckets[i].index))
		if err != nil {
			return err
		}

		if _, err := w.Write(s.buckets[i].hash[:]); err != nil {
			return err
		}
	}

	return binary.Write(w, binary.BigEndian, uint64(s.next))
}

// NewRevocationStoreFromBytes decodes a store written by Encode.
func NewRevocationStoreFromBytes(r io.Reader) (*RevocationStore, error) {
	s := &RevocationStore{}
	if err := binary.Read(r, binary.BigEndian, &s.numBuckets); err != nil {
		return nil, err
	}
	if s.numBuckets > maxHeight+1 {
		return nil, fmt.Errorf("invalid bucket count %d", s.numBuckets)
	}

	for i := uint8(0); i < s.numBuckets; i++ {
		var idx uint64
		if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
			return nil, err
		}
		s.buckets[i].index = index(idx)

		if _, err := io.ReadFull(r, s.buckets[i].hash[:]); err != nil {
			return nil, err
		}
	}

	var next uint64
	if err := binary.Read(r, binary.BigEndian, &next); err != nil {
		return nil, err
	}
	s.next = index(next)

	return s, nil
}
