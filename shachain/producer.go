package shachain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Producer hands out the per-commitment secrets of one channel. Every secret
// can be derived from the single root, so only the root has to be stored.
type Producer interface {
	// AtIndex returns the secret for the given commitment height.
	AtIndex(uint64) (*chainhash.Hash, error)
}

// RevocationProducer is the default Producer, deriving secrets from a root
// hash as described in BOLT-03.
type RevocationProducer struct {
	root *element
}

// A compile time check to ensure RevocationProducer implements the Producer
// interface.
var _ Producer = (*RevocationProducer)(nil)

// NewRevocationProducer creates a producer rooted at the given secret.
func NewRevocationProducer(root chainhash.Hash) *RevocationProducer {
	return &RevocationProducer{
		root: &element{
			index: 0,
			hash:  root,
		},
	}
}

// AtIndex returns the secret for the given commitment height.
//
// NOTE: This function is part of the Producer interface.
func (p *RevocationProducer) AtIndex(height uint64) (*chainhash.Hash, error) {
	e, err := p.root.derive(newIndex(height))
	if err != nil {
		return nil, err
	}

	return &e.hash, nil
}
