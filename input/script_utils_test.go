package input

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/keychain"
	"github.com/stretchr/testify/require"
)

const testHtlcAmt = btcutil.Amount(100_000)

// scriptTestContext holds a pair of parties and a commitment secret of the
// first party (alice) that all scripts in the tests are derived from.
type scriptTestContext struct {
	alicePriv *btcec.PrivateKey
	bobPriv   *btcec.PrivateKey

	commitSecret *btcec.PrivateKey
	commitPoint  *btcec.PublicKey

	signer *MockSigner
}

func newScriptTestContext(t *testing.T) *scriptTestContext {
	t.Helper()

	alicePriv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x11}, 32))
	bobPriv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x22}, 32))
	commitSecret, commitPoint := btcec.PrivKeyFromBytes(
		bytes.Repeat([]byte{0x33}, 32),
	)

	return &scriptTestContext{
		alicePriv:    alicePriv,
		bobPriv:      bobPriv,
		commitSecret: commitSecret,
		commitPoint:  commitPoint,
		signer:       NewMockSigner(alicePriv, bobPriv),
	}
}

// spendTx returns a version 2 transaction spending a single output.
func spendTx() *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash(sha256.Sum256([]byte("prev"))),
			Index: 1,
		},
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    int64(testHtlcAmt) - 1000,
		PkScript: bytes.Repeat([]byte{0x00}, P2WPKHSize),
	})

	return tx
}

// signDesc creates a descriptor for the single input of the passed tx.
func signDesc(tx *wire.MsgTx, pub *btcec.PublicKey, witnessScript,
	pkScript []byte) *SignDescriptor {

	fetcher := txscript.NewCannedPrevOutputFetcher(
		pkScript, int64(testHtlcAmt),
	)

	return &SignDescriptor{
		KeyDesc: keychain.KeyDescriptor{
			PubKey: pub,
		},
		WitnessScript: witnessScript,
		Output: &wire.TxOut{
			Value:    int64(testHtlcAmt),
			PkScript: pkScript,
		},
		HashType:          txscript.SigHashAll,
		PrevOutputFetcher: fetcher,
		SigHashes:         txscript.NewTxSigHashes(tx, fetcher),
		InputIndex:        0,
	}
}

// executeWitness runs the script engine over the first input of tx.
func executeWitness(tx *wire.MsgTx, pkScript []byte) error {
	fetcher := txscript.NewCannedPrevOutputFetcher(
		pkScript, int64(testHtlcAmt),
	)
	vm, err := txscript.NewEngine(
		pkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, fetcher), int64(testHtlcAmt),
		fetcher,
	)
	if err != nil {
		return err
	}

	return vm.Execute()
}

// TestCommitmentSpendValidation checks the to_local and to_remote spending
// paths of a commitment transaction against the script engine.
func TestCommitmentSpendValidation(t *testing.T) {
	t.Parallel()

	c := newScriptTestContext(t)
	const csvDelay = 144

	// Alice is the owner of the commitment, bob holds the revocation
	// base point.
	delayKey := TweakPubKey(c.alicePriv.PubKey(), c.commitPoint)
	revokeKey := DeriveRevocationPubkey(c.bobPriv.PubKey(), c.commitPoint)

	toLocalScript, err := CommitScriptToSelf(csvDelay, delayKey, revokeKey)
	require.NoError(t, err)
	toLocalPkScript, err := WitnessScriptHash(toLocalScript)
	require.NoError(t, err)

	t.Run("delayed spend", func(t *testing.T) {
		tx := spendTx()
		tx.TxIn[0].Sequence = LockTimeToSequence(false, csvDelay)

		desc := signDesc(
			tx, c.alicePriv.PubKey(), toLocalScript,
			toLocalPkScript,
		)
		desc.SingleTweak = SingleTweakBytes(
			c.commitPoint, c.alicePriv.PubKey(),
		)

		witness, err := CommitSpendTimeout(c.signer, desc, tx)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.NoError(t, executeWitness(tx, toLocalPkScript))
	})

	t.Run("delayed spend too early", func(t *testing.T) {
		tx := spendTx()
		tx.TxIn[0].Sequence = LockTimeToSequence(false, csvDelay-1)

		desc := signDesc(
			tx, c.alicePriv.PubKey(), toLocalScript,
			toLocalPkScript,
		)
		desc.SingleTweak = SingleTweakBytes(
			c.commitPoint, c.alicePriv.PubKey(),
		)

		witness, err := CommitSpendTimeout(c.signer, desc, tx)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.Error(t, executeWitness(tx, toLocalPkScript))
	})

	t.Run("revoked spend", func(t *testing.T) {
		tx := spendTx()

		desc := signDesc(
			tx, c.bobPriv.PubKey(), toLocalScript, toLocalPkScript,
		)
		desc.DoubleTweak = c.commitSecret

		witness, err := CommitSpendRevoke(c.signer, desc, tx)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.NoError(t, executeWitness(tx, toLocalPkScript))
	})

	t.Run("to_remote spend", func(t *testing.T) {
		toRemotePkScript, err := CommitScriptUnencumbered(
			c.bobPriv.PubKey(),
		)
		require.NoError(t, err)

		tx := spendTx()
		desc := signDesc(
			tx, c.bobPriv.PubKey(), toRemotePkScript,
			toRemotePkScript,
		)

		witness, err := CommitSpendNoDelay(c.signer, desc, tx)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.NoError(t, executeWitness(tx, toRemotePkScript))
	})
}

// TestHTLCSenderSpendValidation checks every spending path of an offered HTLC
// output on the sender's commitment.
func TestHTLCSenderSpendValidation(t *testing.T) {
	t.Parallel()

	c := newScriptTestContext(t)

	preimage := bytes.Repeat([]byte{0x44}, 32)
	paymentHash := sha256.Sum256(preimage)

	senderKey := TweakPubKey(c.alicePriv.PubKey(), c.commitPoint)
	receiverKey := TweakPubKey(c.bobPriv.PubKey(), c.commitPoint)
	revokeKey := DeriveRevocationPubkey(c.bobPriv.PubKey(), c.commitPoint)

	htlcScript, err := SenderHTLCScript(
		senderKey, receiverKey, revokeKey, paymentHash[:],
	)
	require.NoError(t, err)
	require.Len(t, htlcScript, OfferedHtlcScriptSize)

	pkScript, err := WitnessScriptHash(htlcScript)
	require.NoError(t, err)

	aliceTweak := SingleTweakBytes(c.commitPoint, c.alicePriv.PubKey())
	bobTweak := SingleTweakBytes(c.commitPoint, c.bobPriv.PubKey())

	t.Run("receiver redeem", func(t *testing.T) {
		tx := spendTx()
		desc := signDesc(tx, c.bobPriv.PubKey(), htlcScript, pkScript)
		desc.SingleTweak = bobTweak

		witness, err := SenderHtlcSpendRedeem(
			c.signer, desc, tx, preimage,
		)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.NoError(t, executeWitness(tx, pkScript))
	})

	t.Run("receiver redeem bad preimage", func(t *testing.T) {
		tx := spendTx()
		desc := signDesc(tx, c.bobPriv.PubKey(), htlcScript, pkScript)
		desc.SingleTweak = bobTweak

		witness, err := SenderHtlcSpendRedeem(
			c.signer, desc, tx, bytes.Repeat([]byte{0x45}, 32),
		)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.Error(t, executeWitness(tx, pkScript))
	})

	t.Run("sender timeout", func(t *testing.T) {
		tx := spendTx()

		bobDesc := signDesc(
			tx, c.bobPriv.PubKey(), htlcScript, pkScript,
		)
		bobDesc.SingleTweak = bobTweak
		bobSig, err := c.signer.SignOutputRaw(tx, bobDesc)
		require.NoError(t, err)

		aliceDesc := signDesc(
			tx, c.alicePriv.PubKey(), htlcScript, pkScript,
		)
		aliceDesc.SingleTweak = aliceTweak

		witness, err := SenderHtlcSpendTimeout(
			bobSig, txscript.SigHashAll, c.signer, aliceDesc, tx,
		)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.NoError(t, executeWitness(tx, pkScript))
	})

	t.Run("revoke", func(t *testing.T) {
		tx := spendTx()
		desc := signDesc(tx, c.bobPriv.PubKey(), htlcScript, pkScript)
		desc.DoubleTweak = c.commitSecret

		witness, err := SenderHtlcSpendRevoke(c.signer, desc, tx)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.NoError(t, executeWitness(tx, pkScript))
	})
}

// TestHTLCReceiverSpendValidation checks every spending path of a received
// HTLC output on the receiver's commitment.
func TestHTLCReceiverSpendValidation(t *testing.T) {
	t.Parallel()

	c := newScriptTestContext(t)
	const cltvExpiry = 500_000

	preimage := bytes.Repeat([]byte{0x55}, 32)
	paymentHash := sha256.Sum256(preimage)

	// Alice owns the commitment and received the HTLC from bob.
	senderKey := TweakPubKey(c.bobPriv.PubKey(), c.commitPoint)
	receiverKey := TweakPubKey(c.alicePriv.PubKey(), c.commitPoint)
	revokeKey := DeriveRevocationPubkey(c.bobPriv.PubKey(), c.commitPoint)

	htlcScript, err := ReceiverHTLCScript(
		cltvExpiry, senderKey, receiverKey, revokeKey, paymentHash[:],
	)
	require.NoError(t, err)
	require.Len(t, htlcScript, AcceptedHtlcScriptSize)

	pkScript, err := WitnessScriptHash(htlcScript)
	require.NoError(t, err)

	aliceTweak := SingleTweakBytes(c.commitPoint, c.alicePriv.PubKey())
	bobTweak := SingleTweakBytes(c.commitPoint, c.bobPriv.PubKey())

	t.Run("receiver success", func(t *testing.T) {
		tx := spendTx()

		bobDesc := signDesc(
			tx, c.bobPriv.PubKey(), htlcScript, pkScript,
		)
		bobDesc.SingleTweak = bobTweak
		bobSig, err := c.signer.SignOutputRaw(tx, bobDesc)
		require.NoError(t, err)

		aliceDesc := signDesc(
			tx, c.alicePriv.PubKey(), htlcScript, pkScript,
		)
		aliceDesc.SingleTweak = aliceTweak

		witness, err := ReceiverHtlcSpendRedeem(
			bobSig, txscript.SigHashAll, preimage, c.signer,
			aliceDesc, tx,
		)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.NoError(t, executeWitness(tx, pkScript))
	})

	t.Run("sender timeout", func(t *testing.T) {
		tx := spendTx()
		desc := signDesc(tx, c.bobPriv.PubKey(), htlcScript, pkScript)
		desc.SingleTweak = bobTweak

		witness, err := ReceiverHtlcSpendTimeout(
			c.signer, desc, tx, cltvExpiry,
		)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.NoError(t, executeWitness(tx, pkScript))
	})

	t.Run("sender timeout too early", func(t *testing.T) {
		tx := spendTx()
		desc := signDesc(tx, c.bobPriv.PubKey(), htlcScript, pkScript)
		desc.SingleTweak = bobTweak

		witness, err := ReceiverHtlcSpendTimeout(
			c.signer, desc, tx, cltvExpiry-1,
		)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.Error(t, executeWitness(tx, pkScript))
	})

	t.Run("revoke", func(t *testing.T) {
		tx := spendTx()
		desc := signDesc(tx, c.bobPriv.PubKey(), htlcScript, pkScript)
		desc.DoubleTweak = c.commitSecret

		witness, err := ReceiverHtlcSpendRevoke(c.signer, desc, tx)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.NoError(t, executeWitness(tx, pkScript))
	})
}

// TestSecondLevelHtlcSpends checks the spending paths of the output of an
// HTLC-success or HTLC-timeout transaction.
func TestSecondLevelHtlcSpends(t *testing.T) {
	t.Parallel()

	c := newScriptTestContext(t)
	const csvDelay = 20

	delayKey := TweakPubKey(c.alicePriv.PubKey(), c.commitPoint)
	revokeKey := DeriveRevocationPubkey(c.bobPriv.PubKey(), c.commitPoint)

	script, err := SecondLevelHtlcScript(revokeKey, delayKey, csvDelay)
	require.NoError(t, err)
	pkScript, err := WitnessScriptHash(script)
	require.NoError(t, err)

	t.Run("success after delay", func(t *testing.T) {
		tx := spendTx()
		desc := signDesc(tx, c.alicePriv.PubKey(), script, pkScript)
		desc.SingleTweak = SingleTweakBytes(
			c.commitPoint, c.alicePriv.PubKey(),
		)

		witness, err := HtlcSpendSuccess(c.signer, desc, tx, csvDelay)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.NoError(t, executeWitness(tx, pkScript))
	})

	t.Run("revoke", func(t *testing.T) {
		tx := spendTx()
		desc := signDesc(tx, c.bobPriv.PubKey(), script, pkScript)
		desc.DoubleTweak = c.commitSecret

		witness, err := HtlcSpendRevoke(c.signer, desc, tx)
		require.NoError(t, err)
		tx.TxIn[0].Witness = witness

		require.NoError(t, executeWitness(tx, pkScript))
	})
}

// TestFundingSpend checks that the witness produced by SpendMultiSig is
// accepted regardless of the order the keys are passed in.
func TestFundingSpend(t *testing.T) {
	t.Parallel()

	c := newScriptTestContext(t)
	alicePub := c.alicePriv.PubKey().SerializeCompressed()
	bobPub := c.bobPriv.PubKey().SerializeCompressed()

	witnessScript, txOut, err := GenFundingPkScript(
		alicePub, bobPub, int64(testHtlcAmt),
	)
	require.NoError(t, err)

	// The script must not depend on the order of the keys.
	otherScript, _, err := GenFundingPkScript(
		bobPub, alicePub, int64(testHtlcAmt),
	)
	require.NoError(t, err)
	require.Equal(t, witnessScript, otherScript)

	tx := spendTx()
	aliceDesc := signDesc(
		tx, c.alicePriv.PubKey(), witnessScript, txOut.PkScript,
	)
	aliceSig, err := c.signer.SignOutputRaw(tx, aliceDesc)
	require.NoError(t, err)

	bobDesc := signDesc(tx, c.bobPriv.PubKey(), witnessScript, txOut.PkScript)
	bobSig, err := c.signer.SignOutputRaw(tx, bobDesc)
	require.NoError(t, err)

	tx.TxIn[0].Witness = SpendMultiSig(
		witnessScript,
		alicePub, append(aliceSig.Serialize(), byte(txscript.SigHashAll)),
		bobPub, append(bobSig.Serialize(), byte(txscript.SigHashAll)),
	)
	require.NoError(t, executeWitness(tx, txOut.PkScript))
}

// TestRevocationKeyDerivation asserts the private and public revocation
// derivations agree and that tweaked private keys match tweaked public keys.
func TestRevocationKeyDerivation(t *testing.T) {
	t.Parallel()

	c := newScriptTestContext(t)

	revokePub := DeriveRevocationPubkey(c.bobPriv.PubKey(), c.commitPoint)
	revokePriv := DeriveRevocationPrivKey(c.bobPriv, c.commitSecret)
	require.True(t, revokePub.IsEqual(revokePriv.PubKey()))

	tweak := SingleTweakBytes(c.commitPoint, c.alicePriv.PubKey())
	tweakedPub := TweakPubKey(c.alicePriv.PubKey(), c.commitPoint)
	tweakedPriv := TweakPrivKey(c.alicePriv, tweak)
	require.True(t, tweakedPub.IsEqual(tweakedPriv.PubKey()))

	commitPoint := ComputeCommitmentPoint(c.commitSecret.Serialize())
	require.True(t, commitPoint.IsEqual(c.commitPoint))
}

// TestTxWeightEstimator checks the estimator against the weight computed from
// a fully serialized transaction with maximum sized witness elements.
func TestTxWeightEstimator(t *testing.T) {
	t.Parallel()

	// A commitment transaction without HTLCs.
	commitTx := wire.NewMsgTx(2)
	commitTx.AddTxIn(&wire.TxIn{
		Witness: wire.TxWitness{
			nil,
			make([]byte, 73),
			make([]byte, 73),
			make([]byte, MultiSigSize),
		},
	})
	commitTx.AddTxOut(&wire.TxOut{PkScript: make([]byte, P2WSHSize)})
	commitTx.AddTxOut(&wire.TxOut{PkScript: make([]byte, P2WPKHSize)})

	var weightEstimate TxWeightEstimator
	weightEstimate.AddWitnessInput(MultiSigWitnessSize)
	weightEstimate.AddP2WSHOutput()
	weightEstimate.AddP2WKHOutput()

	weight := blockchain.GetTransactionWeight(btcutil.NewTx(commitTx))
	require.EqualValues(t, CommitWeight, weight)
	require.EqualValues(t, CommitWeight, weightEstimate.Weight())

	// Every HTLC output adds exactly HTLCWeight.
	commitTx.AddTxOut(&wire.TxOut{PkScript: make([]byte, P2WSHSize)})
	weightEstimate.AddP2WSHOutput()
	weight = blockchain.GetTransactionWeight(btcutil.NewTx(commitTx))
	require.EqualValues(t, CommitWeight+HTLCWeight, weight)
	require.EqualValues(t, weight, weightEstimate.Weight())

	// A p2wkh sweep with a maximum sized signature.
	sweepTx := wire.NewMsgTx(2)
	sweepTx.AddTxIn(&wire.TxIn{
		Witness: wire.TxWitness{make([]byte, 73), make([]byte, 33)},
	})
	sweepTx.AddTxOut(&wire.TxOut{PkScript: make([]byte, P2WPKHSize)})

	var sweepEstimate TxWeightEstimator
	sweepEstimate.AddP2WKHInput().AddP2WKHOutput()

	weight = blockchain.GetTransactionWeight(btcutil.NewTx(sweepTx))
	require.EqualValues(t, weight, sweepEstimate.Weight())
	require.EqualValues(t, (weight+3)/4, sweepEstimate.VSize())
}

// TestFindScriptOutputIndex checks the first output paying to a script is
// found.
func TestFindScriptOutputIndex(t *testing.T) {
	t.Parallel()

	target := bytes.Repeat([]byte{0x02}, P2WPKHSize)

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(&wire.TxOut{PkScript: make([]byte, P2WSHSize)})
	tx.AddTxOut(&wire.TxOut{PkScript: target})
	tx.AddTxOut(&wire.TxOut{PkScript: target})

	found, index := FindScriptOutputIndex(tx, target)
	require.True(t, found)
	require.EqualValues(t, 1, index)

	found, _ = FindScriptOutputIndex(tx, make([]byte, P2WPKHSize))
	require.False(t, found)
}

// TestWitnessSizeUpperBound makes sure every witness type can be sized.
func TestWitnessSizeUpperBound(t *testing.T) {
	t.Parallel()

	for wt := CommitmentTimeLock; wt <= HtlcSecondLevelRevoke; wt++ {
		size, err := wt.SizeUpperBound()
		require.NoError(t, err, wt.String())
		require.Positive(t, size)
	}

	_, err := WitnessType(999).SizeUpperBound()
	require.Error(t, err)
}
