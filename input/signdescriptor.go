package input

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/keychain"
)

var (
	// ErrTweakOverdose signals a SignDescriptor is invalid because both of
	// its SingleTweak and DoubleTweak are non-nil.
	ErrTweakOverdose = errors.New("sign descriptor should only have one " +
		"tweak")
)

// SignDescriptor houses the necessary information required to successfully
// sign a given segwit output. This struct is used by the Signer interface in
// order to gain access to critical data needed to generate a valid signature.
type SignDescriptor struct {
	// KeyDesc is a descriptor that precisely describes *which* key to use
	// for signing. This may provide the raw public key directly, or
	// require the Signer to re-derive the key according to the populated
	// derivation path.
	KeyDesc keychain.KeyDescriptor

	// SingleTweak is a scalar value that will be added to the private key
	// corresponding to the above public key to obtain the private key to
	// be used to sign this input:
	//
	//  * derivedKey = privkey + sha256(perCommitmentPoint || pubKey) mod N
	//
	// NOTE: Either a SingleTweak should be set or a DoubleTweak, not both.
	SingleTweak []byte

	// DoubleTweak is the commitment secret of a revoked commitment. It is
	// combined with the base private key to obtain the revocation private
	// key:
	//
	//  * k = (privKey*sha256(pubKey || tweakPub) +
	//        tweakPriv*sha256(tweakPub || pubKey)) mod N
	DoubleTweak *btcec.PrivateKey

	// WitnessScript is the full script required to properly redeem the
	// output. For p2wkh outputs it should be set to the pkScript of the
	// output.
	WitnessScript []byte

	// Output is the target output which should be signed. The PkScript
	// and Value fields within the output should be properly populated,
	// otherwise an invalid signature may be generated.
	Output *wire.TxOut

	// HashType is the target sighash type that should be used when
	// generating the final sighash, and signature.
	HashType txscript.SigHashType

	// PrevOutputFetcher is an interface that can return the output
	// information on all UTXOs that are being spent in this transaction.
	PrevOutputFetcher txscript.PrevOutputFetcher

	// SigHashes is the pre-computed sighash midstate to be used when
	// generating the final sighash for signing.
	SigHashes *txscript.TxSigHashes

	// InputIndex is the target input within the transaction that should be
	// signed.
	InputIndex int
}

// Validate makes sure the descriptor carries everything needed to produce a
// signature.
func (s *SignDescriptor) Validate() error {
	if s.SingleTweak != nil && s.DoubleTweak != nil {
		return ErrTweakOverdose
	}
	if s.Output == nil {
		return errors.New("sign descriptor is missing its output")
	}
	if s.KeyDesc.PubKey == nil && s.KeyDesc.IsEmpty() {
		return errors.New("sign descriptor has no key")
	}

	return nil
}
