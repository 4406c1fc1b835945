package lnwallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/keychain"
	"github.com/lightningnetwork/chancore/shachain"
)

// ChannelSigner is the signing capability of a single channel. Private keys
// and the revocation root never leave the implementation.
type ChannelSigner interface {
	input.Signer

	// SignCommitment signs a transaction spending the 2-of-2 funding
	// output of the channel with our multisig key.
	SignCommitment(tx *wire.MsgTx, fundingScript []byte,
		capacity btcutil.Amount) (input.Signature, error)

	// PerCommitmentPoint returns our per-commitment point of the given
	// commitment height.
	PerCommitmentPoint(height uint64) (*btcec.PublicKey, error)

	// ReleaseCommitmentSecret returns our per-commitment secret of the
	// given height. It is called when we revoke that commitment.
	ReleaseCommitmentSecret(height uint64) ([32]byte, error)
}

// KeyRingSigner is a ChannelSigner backed by a SecretKeyRing and a shachain
// producer.
type KeyRingSigner struct {
	keyRing     keychain.SecretKeyRing
	multiSigKey keychain.KeyDescriptor
	producer    shachain.Producer
}

// A compile time check to ensure KeyRingSigner implements the ChannelSigner
// interface.
var _ ChannelSigner = (*KeyRingSigner)(nil)

// NewKeyRingSigner creates a signer for one channel.
func NewKeyRingSigner(keyRing keychain.SecretKeyRing,
	multiSigKey keychain.KeyDescriptor,
	producer shachain.Producer) *KeyRingSigner {

	return &KeyRingSigner{
		keyRing:     keyRing,
		multiSigKey: multiSigKey,
		producer:    producer,
	}
}

// maybeTweakPrivKey examines the single and double tweak parameters on the
// passed sign descriptor and may perform a mapping on the passed private key
// in order to utilize the tweaks, if populated.
func maybeTweakPrivKey(signDesc *input.SignDescriptor,
	privKey *btcec.PrivateKey) *btcec.PrivateKey {

	switch {
	case signDesc.SingleTweak != nil:
		return input.TweakPrivKey(privKey, signDesc.SingleTweak)

	case signDesc.DoubleTweak != nil:
		return input.DeriveRevocationPrivKey(
			privKey, signDesc.DoubleTweak,
		)

	default:
		return privKey
	}
}

// SignOutputRaw generates a signature for the passed transaction according to
// the data within the passed SignDescriptor.
//
// NOTE: This is part of the input.Signer interface.
func (s *KeyRingSigner) SignOutputRaw(tx *wire.MsgTx,
	signDesc *input.SignDescriptor) (input.Signature, error) {

	if err := signDesc.Validate(); err != nil {
		return nil, err
	}

	// First attempt to fetch the private key which corresponds to the
	// specified public key.
	privKey, err := s.keyRing.DerivePrivKey(signDesc.KeyDesc)
	if err != nil {
		return nil, err
	}

	// If a tweak (single or double) is specified, then we'll need to use
	// this tweak to derive the final private key to be used for signing
	// this output.
	privKey = maybeTweakPrivKey(signDesc, privKey)

	sigHashes := signDesc.SigHashes
	if sigHashes == nil {
		fetcher := signDesc.PrevOutputFetcher
		if fetcher == nil {
			fetcher = txscript.NewCannedPrevOutputFetcher(
				signDesc.Output.PkScript, signDesc.Output.Value,
			)
		}
		sigHashes = txscript.NewTxSigHashes(tx, fetcher)
	}

	sig, err := txscript.RawTxInWitnessSignature(
		tx, sigHashes, signDesc.InputIndex, signDesc.Output.Value,
		signDesc.WitnessScript, signDesc.HashType, privKey,
	)
	if err != nil {
		return nil, err
	}

	// Chop off the sighash flag at the end of the signature.
	return ecdsa.ParseDERSignature(sig[:len(sig)-1])
}

// SignCommitment signs a transaction spending the funding output.
//
// NOTE: This is part of the ChannelSigner interface.
func (s *KeyRingSigner) SignCommitment(tx *wire.MsgTx, fundingScript []byte,
	capacity btcutil.Amount) (input.Signature, error) {

	pkScript, err := input.WitnessScriptHash(fundingScript)
	if err != nil {
		return nil, err
	}

	return s.SignOutputRaw(tx, &input.SignDescriptor{
		KeyDesc:       s.multiSigKey,
		WitnessScript: fundingScript,
		Output:        wire.NewTxOut(int64(capacity), pkScript),
		HashType:      txscript.SigHashAll,
		InputIndex:    0,
	})
}

// PerCommitmentPoint returns the commitment point of a height.
//
// NOTE: This is part of the ChannelSigner interface.
func (s *KeyRingSigner) PerCommitmentPoint(
	height uint64) (*btcec.PublicKey, error) {

	secret, err := s.producer.AtIndex(height)
	if err != nil {
		return nil, fmt.Errorf("unable to derive secret %v: %w",
			height, err)
	}

	return input.ComputeCommitmentPoint(secret[:]), nil
}

// ReleaseCommitmentSecret returns the commitment secret of a height.
//
// NOTE: This is part of the ChannelSigner interface.
func (s *KeyRingSigner) ReleaseCommitmentSecret(height uint64) ([32]byte,
	error) {

	secret, err := s.producer.AtIndex(height)
	if err != nil {
		return [32]byte{}, fmt.Errorf("unable to derive secret %v: %w",
			height, err)
	}

	return *secret, nil
}
