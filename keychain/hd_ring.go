package keychain

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// MaxKeyRangeScan is the maximum number of keys that we'll attempt to scan
// with if a caller knows the public key, but not the KeyLocator and wishes to
// derive a private key.
const MaxKeyRangeScan = 100000

// HDKeyRing is a SecretKeyRing backed by a BIP32 master key. It keeps the
// next index of each family in memory, so it is meant for a process that
// manages its own key state, like a signer or a test harness.
type HDKeyRing struct {
	master   *hdkeychain.ExtendedKey
	coinType uint32

	mu          sync.Mutex
	nextIndexes map[KeyFamily]uint32
}

// A compile time check to ensure HDKeyRing implements the SecretKeyRing
// interface.
var _ SecretKeyRing = (*HDKeyRing)(nil)

// NewHDKeyRing creates a key ring from a BIP32 seed.
func NewHDKeyRing(seed []byte, params *chaincfg.Params) (*HDKeyRing, error) {
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, err
	}

	return &HDKeyRing{
		master:      master,
		coinType:    params.HDCoinType,
		nextIndexes: make(map[KeyFamily]uint32),
	}, nil
}

// familyBranch derives m/1017'/coinType'/family'/0.
func (h *HDKeyRing) familyBranch(family KeyFamily) (*hdkeychain.ExtendedKey,
	error) {

	path := []uint32{
		hdkeychain.HardenedKeyStart + BIP0043Purpose,
		hdkeychain.HardenedKeyStart + h.coinType,
		hdkeychain.HardenedKeyStart + uint32(family),
		0,
	}

	key := h.master
	for _, child := range path {
		var err error
		key, err = key.Derive(child)
		if err != nil {
			return nil, err
		}
	}

	return key, nil
}

// derive returns the extended key at the given locator.
func (h *HDKeyRing) derive(loc KeyLocator) (*hdkeychain.ExtendedKey, error) {
	branch, err := h.familyBranch(loc.Family)
	if err != nil {
		return nil, err
	}

	return branch.Derive(loc.Index)
}

// DeriveNextKey attempts to derive the *next* key within the key family.
//
// NOTE: This is part of the keychain.KeyRing interface.
func (h *HDKeyRing) DeriveNextKey(keyFam KeyFamily) (KeyDescriptor, error) {
	h.mu.Lock()
	index := h.nextIndexes[keyFam]
	h.nextIndexes[keyFam] = index + 1
	h.mu.Unlock()

	return h.DeriveKey(KeyLocator{Family: keyFam, Index: index})
}

// DeriveKey attempts to derive an arbitrary key specified by the passed
// KeyLocator.
//
// NOTE: This is part of the keychain.KeyRing interface.
func (h *HDKeyRing) DeriveKey(keyLoc KeyLocator) (KeyDescriptor, error) {
	key, err := h.derive(keyLoc)
	if err != nil {
		return KeyDescriptor{}, err
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return KeyDescriptor{}, err
	}

	return KeyDescriptor{
		KeyLocator: keyLoc,
		PubKey:     pub,
	}, nil
}

// DerivePrivKey attempts to derive the private key that corresponds to the
// passed key descriptor. When only the public key and family are known the
// first MaxKeyRangeScan indexes of the family are scanned.
//
// NOTE: This is part of the keychain.SecretKeyRing interface.
func (h *HDKeyRing) DerivePrivKey(keyDesc KeyDescriptor) (*btcec.PrivateKey,
	error) {

	if keyDesc.PubKey == nil || !keyDesc.KeyLocator.IsEmpty() {
		key, err := h.derive(keyDesc.KeyLocator)
		if err != nil {
			return nil, err
		}

		priv, err := key.ECPrivKey()
		if err != nil {
			return nil, err
		}

		if keyDesc.PubKey != nil &&
			!priv.PubKey().IsEqual(keyDesc.PubKey) {

			return nil, fmt.Errorf("%w: locator %v does not match "+
				"public key", ErrCannotDerivePrivKey,
				keyDesc.KeyLocator)
		}

		return priv, nil
	}

	branch, err := h.familyBranch(keyDesc.Family)
	if err != nil {
		return nil, err
	}

	for i := uint32(0); i < MaxKeyRangeScan; i++ {
		child, err := branch.Derive(i)
		if err != nil {
			continue
		}

		priv, err := child.ECPrivKey()
		if err != nil {
			return nil, err
		}

		if priv.PubKey().IsEqual(keyDesc.PubKey) {
			return priv, nil
		}
	}

	return nil, ErrCannotDerivePrivKey
}
