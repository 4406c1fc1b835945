package input

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
)

// SingleTweakBytes computes the scalar that is added to a base point in order
// to obtain the key used within a particular commitment state:
//
//	tweak = sha256(perCommitmentPoint || basePoint)
func SingleTweakBytes(commitPoint, basePoint *btcec.PublicKey) []byte {
	h := sha256.New()
	h.Write(commitPoint.SerializeCompressed())
	h.Write(basePoint.SerializeCompressed())
	return h.Sum(nil)
}

// TweakPubKey tweaks a base point by the per commitment point of a state:
//
//	tweakPub = basePoint + sha256(commitPoint || basePoint)*G
func TweakPubKey(basePoint, commitPoint *btcec.PublicKey) *btcec.PublicKey {
	tweakBytes := SingleTweakBytes(commitPoint, basePoint)
	return TweakPubKeyWithTweak(basePoint, tweakBytes)
}

// TweakPubKeyWithTweak is the exact same as the TweakPubKey function, however
// it accepts the raw tweak bytes directly rather than the commitment point.
func TweakPubKeyWithTweak(pubKey *btcec.PublicKey,
	tweakBytes []byte) *btcec.PublicKey {

	var (
		pubKeyJacobian btcec.JacobianPoint
		tweakJacobian  btcec.JacobianPoint
		resultJacobian btcec.JacobianPoint
	)
	tweakKey, _ := btcec.PrivKeyFromBytes(tweakBytes)
	btcec.ScalarBaseMultNonConst(&tweakKey.Key, &tweakJacobian)

	pubKey.AsJacobian(&pubKeyJacobian)
	btcec.AddNonConst(&pubKeyJacobian, &tweakJacobian, &resultJacobian)

	resultJacobian.ToAffine()
	return btcec.NewPublicKey(&resultJacobian.X, &resultJacobian.Y)
}

// TweakPrivKey tweaks the private key of a base point by the tweak derived
// from a commitment point. This is the private counterpart of TweakPubKey:
//
//	tweakPriv := basePriv + sha256(commitment || basePub) mod N
func TweakPrivKey(basePriv *btcec.PrivateKey,
	commitTweak []byte) *btcec.PrivateKey {

	var tweakScalar btcec.ModNScalar
	tweakScalar.SetByteSlice(commitTweak)

	tweakScalar.Add(&basePriv.Key)

	return &btcec.PrivateKey{Key: tweakScalar}
}

// DeriveRevocationPubkey derives the revocation public key given the
// counterparty's revocation base point and our per commitment point. Only
// the party holding both private keys can sign for the result:
//
//	revokeKey := revokeBase * sha256(revocationBase || commitPoint) +
//	             commitPoint * sha256(commitPoint || revocationBase)
func DeriveRevocationPubkey(revokeBase,
	commitPoint *btcec.PublicKey) *btcec.PublicKey {

	revokeTweakBytes := SingleTweakBytes(revokeBase, commitPoint)
	var revokeTweakScalar btcec.ModNScalar
	revokeTweakScalar.SetByteSlice(revokeTweakBytes)

	var (
		revokeBaseJacobian btcec.JacobianPoint
		rJacobian          btcec.JacobianPoint
	)
	revokeBase.AsJacobian(&revokeBaseJacobian)
	btcec.ScalarMultNonConst(
		&revokeTweakScalar, &revokeBaseJacobian, &rJacobian,
	)

	commitTweakBytes := SingleTweakBytes(commitPoint, revokeBase)
	var commitTweakScalar btcec.ModNScalar
	commitTweakScalar.SetByteSlice(commitTweakBytes)

	var (
		commitPointJacobian btcec.JacobianPoint
		cJacobian           btcec.JacobianPoint
	)
	commitPoint.AsJacobian(&commitPointJacobian)
	btcec.ScalarMultNonConst(
		&commitTweakScalar, &commitPointJacobian, &cJacobian,
	)

	var resultJacobian btcec.JacobianPoint
	btcec.AddNonConst(&rJacobian, &cJacobian, &resultJacobian)

	resultJacobian.ToAffine()
	return btcec.NewPublicKey(&resultJacobian.X, &resultJacobian.Y)
}

// DeriveRevocationPrivKey derives the private key that signs for the key
// returned by DeriveRevocationPubkey. It requires our revocation base private
// key and the commitment secret the counterparty revealed when revoking the
// state:
//
//	revokePriv := (revokeBasePriv * sha256(revocationBase || commitPoint)) +
//	              (commitSecret * sha256(commitPoint || revocationBase)) mod N
func DeriveRevocationPrivKey(revokeBasePriv *btcec.PrivateKey,
	commitSecret *btcec.PrivateKey) *btcec.PrivateKey {

	revokeBase := revokeBasePriv.PubKey()
	commitPoint := commitSecret.PubKey()

	revokeTweakBytes := SingleTweakBytes(revokeBase, commitPoint)
	var revokeTweakScalar btcec.ModNScalar
	revokeTweakScalar.SetByteSlice(revokeTweakBytes)
	revokeTweakScalar.Mul(&revokeBasePriv.Key)

	commitTweakBytes := SingleTweakBytes(commitPoint, revokeBase)
	var commitTweakScalar btcec.ModNScalar
	commitTweakScalar.SetByteSlice(commitTweakBytes)
	commitTweakScalar.Mul(&commitSecret.Key)

	revokeTweakScalar.Add(&commitTweakScalar)

	return &btcec.PrivateKey{Key: revokeTweakScalar}
}

// ComputeCommitmentPoint generates a commitment point given a commitment
// secret. The commitment point for each state is used to randomize each key
// in the key-ring and also to used as a tweak to derive new public+private
// keys for the state.
func ComputeCommitmentPoint(commitSecret []byte) *btcec.PublicKey {
	_, pubKey := btcec.PrivKeyFromBytes(commitSecret)
	return pubKey
}
