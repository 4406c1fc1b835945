package lnwallet

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	testCapacity = btcutil.Amount(1_000_000)

	testHtlcExpiry = 200
)

// requireBalances asserts the pre-fee balances of both channels in satoshis
// from Alice's point of view.
func requireBalances(t require.TestingT, alice, bob *LightningChannel,
	aliceBal, bobBal btcutil.Amount) {

	aliceOurs, aliceTheirs := alice.CommitBalances()
	require.Equal(t, lnwire.NewMSatFromSatoshis(aliceBal), aliceOurs)
	require.Equal(t, lnwire.NewMSatFromSatoshis(bobBal), aliceTheirs)

	bobOurs, bobTheirs := bob.CommitBalances()
	require.Equal(t, aliceOurs, bobTheirs)
	require.Equal(t, aliceTheirs, bobOurs)
}

// stateTransition runs a full commitment dance initiated by chanA and returns
// the updates each side handed out for forwarding.
func stateTransition(t *testing.T, chanA,
	chanB *LightningChannel) ([]*PaymentDescriptor, []*PaymentDescriptor) {

	t.Helper()

	sigA, _, err := chanA.SignNextCommitment()
	require.NoError(t, err)
	_, err = chanB.ReceiveNewCommitment(sigA)
	require.NoError(t, err)

	revB, _, err := chanB.RevokeCurrentCommitment()
	require.NoError(t, err)
	sigB, _, err := chanB.SignNextCommitment()
	require.NoError(t, err)

	fwdA, _, err := chanA.ReceiveRevocation(revB)
	require.NoError(t, err)
	_, err = chanA.ReceiveNewCommitment(sigB)
	require.NoError(t, err)

	revA, _, err := chanA.RevokeCurrentCommitment()
	require.NoError(t, err)
	fwdB, _, err := chanB.ReceiveRevocation(revA)
	require.NoError(t, err)

	return fwdA, fwdB
}

// TestSimpleAddSettleWorkflow tests a simple channel scenario where Alice and
// Bob add, then settle an HTLC between themselves.
func TestSimpleAddSettleWorkflow(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, testCapacity)
	aliceChannel, bobChannel := alice.Channel, bob.Channel

	htlc, preimage := TestHtlc(1, 50_000, testHtlcExpiry)

	// First Alice adds the outgoing HTLC to her local channel's state
	// update log. Then Alice sends this wire message over to Bob who adds
	// this htlc to his remote state update log.
	aliceHtlcIndex, err := aliceChannel.AddHTLC(htlc)
	require.NoError(t, err)
	require.Zero(t, aliceHtlcIndex)

	bobHtlcIndex, err := bobChannel.ReceiveHTLC(htlc)
	require.NoError(t, err)
	require.Zero(t, bobHtlcIndex)

	// Next alice commits this change by sending a signature message. The
	// signature covers the HTLC, so one HTLC signature is expected.
	aliceSig, aliceUpdate, err := aliceChannel.SignNextCommitment()
	require.NoError(t, err)
	require.Len(t, aliceSig.HtlcSigs, 1)
	require.True(t, aliceUpdate.RemoteCommitment.IsSome())

	bobUpdate, err := bobChannel.ReceiveNewCommitment(aliceSig)
	require.NoError(t, err)
	require.True(t, bobUpdate.LocalCommitment.IsSome())

	// Bob revokes his prior commitment given to him by Alice, since he now
	// has a valid signature for a newer commitment.
	bobRevocation, revokeUpdate, err := bobChannel.RevokeCurrentCommitment()
	require.NoError(t, err)
	require.Nil(t, revokeUpdate)

	// Bob finally sends a signature for Alice's commitment transaction.
	bobSig, _, err := bobChannel.SignNextCommitment()
	require.NoError(t, err)
	require.Len(t, bobSig.HtlcSigs, 1)

	// Alice has nothing of Bob's to forward.
	fwd, secretUpdate, err := aliceChannel.ReceiveRevocation(bobRevocation)
	require.NoError(t, err)
	require.Empty(t, fwd)
	require.True(t, secretUpdate.CommitmentSecret.IsSome())

	_, err = aliceChannel.ReceiveNewCommitment(bobSig)
	require.NoError(t, err)

	aliceRevocation, _, err := aliceChannel.RevokeCurrentCommitment()
	require.NoError(t, err)

	// Once Bob receives the revocation, the HTLC is locked in on both
	// commitments and can be forwarded.
	fwd, _, err = bobChannel.ReceiveRevocation(aliceRevocation)
	require.NoError(t, err)
	require.Len(t, fwd, 1)
	require.Equal(t, lntypes.Hash(htlc.PaymentHash), fwd[0].RHash)
	require.Equal(t, htlc.Amount, fwd[0].Amount)

	requireBalances(t, aliceChannel, bobChannel, 950_000, 0)
	require.Len(t, aliceChannel.ActiveHtlcs(), 1)
	require.Len(t, bobChannel.ActiveHtlcs(), 1)

	// Both commitment chains should be at height 1.
	localHeight, remoteHeight := aliceChannel.CommitHeights()
	require.EqualValues(t, 1, localHeight)
	require.EqualValues(t, 1, remoteHeight)

	// Bob now settles the HTLC. The monitor update carries the preimage.
	fulfill, settleUpdate, err := bobChannel.SettleHTLC(
		preimage, bobHtlcIndex,
	)
	require.NoError(t, err)
	require.Equal(t, []lntypes.Preimage{preimage}, settleUpdate.Preimages)

	settled, err := aliceChannel.ReceiveHTLCSettle(fulfill)
	require.NoError(t, err)
	require.Equal(t, preimage, settled.RPreimage)

	require.NoError(t, ForceStateTransition(bobChannel, aliceChannel))

	requireBalances(t, aliceChannel, bobChannel, 950_000, 50_000)
	require.Empty(t, aliceChannel.ActiveHtlcs())
	require.Empty(t, bobChannel.ActiveHtlcs())

	// The commitment Alice holds must be the very same transaction Bob
	// built for her.
	require.Equal(
		t, aliceChannel.LocalCommitment().Tx.TxHash(),
		bobChannel.RemoteCommitment().Tx.TxHash(),
	)
	require.Equal(
		t, bobChannel.LocalCommitment().Tx.TxHash(),
		aliceChannel.RemoteCommitment().Tx.TxHash(),
	)

	// The state hint of the local commitment should decode to its height.
	obfuscator := aliceChannel.StateHintObfuscator()
	require.Equal(t, obfuscator, bobChannel.StateHintObfuscator())
	require.EqualValues(t, 2, GetStateNumHint(
		aliceChannel.LocalCommitment().Tx, obfuscator,
	))

	// The HTLC entries were compacted away from the logs.
	require.Zero(t, aliceChannel.localUpdateLog.Len())
	require.Zero(t, aliceChannel.remoteUpdateLog.Len())
	require.Zero(t, bobChannel.localUpdateLog.Len())
	require.Zero(t, bobChannel.remoteUpdateLog.Len())
}

// TestCancelHTLC tests that a failed HTLC returns the funds to the sender and
// that the fail is handed out once it is locked in.
func TestCancelHTLC(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, 600_000)
	aliceChannel, bobChannel := alice.Channel, bob.Channel

	htlc, _ := TestHtlc(2, 100_000, testHtlcExpiry)
	_, err := aliceChannel.AddHTLC(htlc)
	require.NoError(t, err)
	bobIndex, err := bobChannel.ReceiveHTLC(htlc)
	require.NoError(t, err)

	require.NoError(t, ForceStateTransition(aliceChannel, bobChannel))
	requireBalances(t, aliceChannel, bobChannel, 500_000, 400_000)

	reason := []byte("temporary channel failure")
	fail, err := bobChannel.FailHTLC(bobIndex, reason)
	require.NoError(t, err)

	// A second resolution of the same HTLC is refused.
	_, err = bobChannel.FailHTLC(bobIndex, reason)
	require.ErrorIs(t, err, ErrHtlcAlreadyResolved)

	require.NoError(t, aliceChannel.ReceiveHTLCFail(fail))

	// The fail sits in Alice's remote log, so she hands it out once it
	// is locked in on both of her chains.
	_, aliceFwd := stateTransition(t, bobChannel, aliceChannel)
	require.Len(t, aliceFwd, 1)
	require.Equal(t, Fail, aliceFwd[0].EntryType)
	require.Equal(t, reason, aliceFwd[0].FailReason)

	requireBalances(t, aliceChannel, bobChannel, 600_000, 400_000)
	require.Empty(t, aliceChannel.ActiveHtlcs())
}

// TestAddHTLCValidation tests that invalid HTLCs are refused without
// modifying the channel.
func TestAddHTLCValidation(t *testing.T) {
	t.Parallel()

	alice, _ := CreateTestChannels(t, testCapacity, 600_000)
	aliceChannel := alice.Channel

	// An expiry closer than the minimum delta is refused.
	htlc, _ := TestHtlc(1, 10_000, TestBestHeight+DefaultMinExpiryDelta-1)
	_, err := aliceChannel.AddHTLC(htlc)
	require.ErrorIs(t, err, ErrExpiryTooSoon)

	// Moving the chain forward makes an otherwise fine expiry too soon.
	aliceChannel.NotifyBlockHeight(testHtlcExpiry)
	htlc, _ = TestHtlc(1, 10_000, testHtlcExpiry)
	_, err = aliceChannel.AddHTLC(htlc)
	require.ErrorIs(t, err, ErrExpiryTooSoon)
	aliceChannel.NotifyBlockHeight(TestBestHeight)

	// An HTLC below the minimum HTLC value is refused.
	htlc, _ = TestHtlc(1, 0, testHtlcExpiry)
	htlc.Amount = 999
	_, err = aliceChannel.AddHTLC(htlc)
	require.ErrorIs(t, err, ErrBelowDustLimit)

	// An HTLC that would dip Alice below her reserve is refused.
	htlc, _ = TestHtlc(1, 595_000, testHtlcExpiry)
	_, err = aliceChannel.AddHTLC(htlc)
	require.ErrorIs(t, err, ErrExceedsCapacity)

	// None of the above left a trace, so the next valid HTLC gets the
	// first index.
	require.Zero(t, aliceChannel.localUpdateLog.Len())
	htlc, _ = TestHtlc(1, 10_000, testHtlcExpiry)
	index, err := aliceChannel.AddHTLC(htlc)
	require.NoError(t, err)
	require.Zero(t, index)
}

// TestMaxAcceptedHtlcs tests that the number of HTLCs a party offers is
// capped by its config.
func TestMaxAcceptedHtlcs(t *testing.T) {
	t.Parallel()

	alice, _ := CreateTestChannels(t, testCapacity, 600_000)
	aliceChannel := alice.Channel
	aliceChannel.state.LocalChanCfg.MaxAcceptedHtlcs = 2

	for i := byte(0); i < 2; i++ {
		htlc, _ := TestHtlc(i, 10_000, testHtlcExpiry)
		_, err := aliceChannel.AddHTLC(htlc)
		require.NoError(t, err)
	}

	htlc, _ := TestHtlc(3, 10_000, testHtlcExpiry)
	_, err := aliceChannel.AddHTLC(htlc)
	require.ErrorIs(t, err, ErrExceedsCapacity)
}

// TestReceiveInvalidHtlc tests that an HTLC breaking the remote limits is a
// protocol violation that force closes the channel.
func TestReceiveInvalidHtlc(t *testing.T) {
	t.Parallel()

	_, bob := CreateTestChannels(t, testCapacity, 600_000)
	bobChannel := bob.Channel

	htlc, _ := TestHtlc(1, 700_000, testHtlcExpiry)
	_, err := bobChannel.ReceiveHTLC(htlc)

	var violation *ProtocolViolation
	require.ErrorAs(t, err, &violation)
	require.ErrorIs(t, err, ErrInvalidHtlcAdd)
	require.True(t, violation.Update.ForceClose.IsSome())
	require.Equal(t, ForceClosed, bobChannel.Status())

	// Nothing can be added to a force closed channel.
	htlc, _ = TestHtlc(2, 1_000, testHtlcExpiry)
	_, err = bobChannel.AddHTLC(htlc)
	require.ErrorIs(t, err, ErrInvalidState)
}

// TestHtlcIndexOutOfOrder tests that the remote party must use consecutive
// HTLC indexes.
func TestHtlcIndexOutOfOrder(t *testing.T) {
	t.Parallel()

	_, bob := CreateTestChannels(t, testCapacity, 600_000)

	htlc, _ := TestHtlc(1, 10_000, testHtlcExpiry)
	htlc.ID = 5
	_, err := bob.Channel.ReceiveHTLC(htlc)
	require.ErrorIs(t, err, ErrInvalidHtlcAdd)
	require.Equal(t, ForceClosed, bob.Channel.Status())
}

// TestCommitmentOrdering tests the revocation window rules of the commitment
// dance.
func TestCommitmentOrdering(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, 600_000)
	aliceChannel, bobChannel := alice.Channel, bob.Channel

	// Without a new commitment there is nothing to revoke.
	_, _, err := aliceChannel.RevokeCurrentCommitment()
	require.ErrorIs(t, err, ErrRevocationOrdering)

	// Without updates there is nothing to sign.
	_, _, err = aliceChannel.SignNextCommitment()
	require.ErrorIs(t, err, ErrNoUpdates)
	require.False(t, aliceChannel.NeedCommitment())

	htlc, _ := TestHtlc(1, 10_000, testHtlcExpiry)
	_, err = aliceChannel.AddHTLC(htlc)
	require.NoError(t, err)
	_, err = bobChannel.ReceiveHTLC(htlc)
	require.NoError(t, err)
	require.True(t, aliceChannel.NeedCommitment())

	aliceSig, _, err := aliceChannel.SignNextCommitment()
	require.NoError(t, err)

	// Until Bob revokes, Alice can't sign again.
	htlc2, _ := TestHtlc(2, 10_000, testHtlcExpiry)
	_, err = aliceChannel.AddHTLC(htlc2)
	require.NoError(t, err)
	_, _, err = aliceChannel.SignNextCommitment()
	require.ErrorIs(t, err, ErrNoWindow)

	_, err = bobChannel.ReceiveNewCommitment(aliceSig)
	require.NoError(t, err)

	// A second commitment before Bob revoked is a violation.
	_, err = bobChannel.ReceiveNewCommitment(aliceSig)
	var violation *ProtocolViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, ForceClosed, bobChannel.Status())
}

// TestUnexpectedRevocation tests that a revocation without an outstanding
// commitment is a protocol violation.
func TestUnexpectedRevocation(t *testing.T) {
	t.Parallel()

	alice, _ := CreateTestChannels(t, testCapacity, 600_000)

	_, _, err := alice.Channel.ReceiveRevocation(&lnwire.RevokeAndAck{})
	require.ErrorIs(t, err, ErrUnexpectedRevocation)

	var violation *ProtocolViolation
	require.ErrorAs(t, err, &violation)
	require.True(t, violation.Update.ForceClose.IsSome())
	require.Equal(t, ForceClosed, alice.Channel.Status())
}

// TestInvalidRevocation tests that a secret not matching the revoked
// commitment is a protocol violation.
func TestInvalidRevocation(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, 600_000)
	aliceChannel, bobChannel := alice.Channel, bob.Channel

	htlc, _ := TestHtlc(1, 10_000, testHtlcExpiry)
	_, err := aliceChannel.AddHTLC(htlc)
	require.NoError(t, err)
	_, err = bobChannel.ReceiveHTLC(htlc)
	require.NoError(t, err)

	aliceSig, _, err := aliceChannel.SignNextCommitment()
	require.NoError(t, err)
	_, err = bobChannel.ReceiveNewCommitment(aliceSig)
	require.NoError(t, err)

	bobRevocation, _, err := bobChannel.RevokeCurrentCommitment()
	require.NoError(t, err)
	bobRevocation.Revocation[0] ^= 0x01

	_, _, err = aliceChannel.ReceiveRevocation(bobRevocation)
	require.ErrorIs(t, err, ErrInvalidRevocation)
	require.Equal(t, ForceClosed, aliceChannel.Status())
}

// TestInvalidCommitSig tests that a commitment signature that doesn't verify
// is a protocol violation.
func TestInvalidCommitSig(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, 600_000)
	aliceChannel, bobChannel := alice.Channel, bob.Channel

	htlc, _ := TestHtlc(1, 10_000, testHtlcExpiry)
	_, err := aliceChannel.AddHTLC(htlc)
	require.NoError(t, err)
	_, err = bobChannel.ReceiveHTLC(htlc)
	require.NoError(t, err)

	aliceSig, _, err := aliceChannel.SignNextCommitment()
	require.NoError(t, err)

	// Swap in the HTLC signature, a valid signature over the wrong
	// digest.
	aliceSig.CommitSig = aliceSig.HtlcSigs[0]

	_, err = bobChannel.ReceiveNewCommitment(aliceSig)
	require.ErrorIs(t, err, ErrInvalidCommitSig)
	require.Equal(t, ForceClosed, bobChannel.Status())
}

// TestInvalidHtlcSigs tests that a commitment with missing HTLC signatures is
// a protocol violation.
func TestInvalidHtlcSigs(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, 600_000)
	aliceChannel, bobChannel := alice.Channel, bob.Channel

	htlc, _ := TestHtlc(1, 10_000, testHtlcExpiry)
	_, err := aliceChannel.AddHTLC(htlc)
	require.NoError(t, err)
	_, err = bobChannel.ReceiveHTLC(htlc)
	require.NoError(t, err)

	aliceSig, _, err := aliceChannel.SignNextCommitment()
	require.NoError(t, err)
	aliceSig.HtlcSigs = nil

	_, err = bobChannel.ReceiveNewCommitment(aliceSig)
	require.ErrorIs(t, err, ErrInvalidHtlcSig)
}

// TestSettleValidation tests the checks performed on settles.
func TestSettleValidation(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, 600_000)
	aliceChannel, bobChannel := alice.Channel, bob.Channel

	htlc, preimage := TestHtlc(1, 10_000, testHtlcExpiry)
	_, err := aliceChannel.AddHTLC(htlc)
	require.NoError(t, err)
	bobIndex, err := bobChannel.ReceiveHTLC(htlc)
	require.NoError(t, err)

	// The HTLC isn't locked in yet.
	_, _, err = bobChannel.SettleHTLC(preimage, bobIndex)
	require.ErrorIs(t, err, ErrHtlcNotLockedIn)

	require.NoError(t, ForceStateTransition(aliceChannel, bobChannel))

	_, _, err = bobChannel.SettleHTLC(preimage, bobIndex+1)
	require.ErrorIs(t, err, ErrUnknownHtlcIndex)

	var wrongPreimage lntypes.Preimage
	_, _, err = bobChannel.SettleHTLC(wrongPreimage, bobIndex)
	require.ErrorIs(t, err, ErrPreimageMismatch)

	// A settle from Bob with the wrong preimage force closes Alice.
	_, err = aliceChannel.ReceiveHTLCSettle(&lnwire.UpdateFulfillHTLC{
		ChanID: aliceChannel.ChanID(),
		ID:     0,
	})
	require.ErrorIs(t, err, ErrPreimageMismatch)
	require.Equal(t, ForceClosed, aliceChannel.Status())
}

// TestCooperativeChannelClosure checks that the coop close process finishes
// with an agreement from both parties, and that the final balances of the
// close tx check out.
func TestCooperativeChannelClosure(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, 600_000)
	aliceChannel, bobChannel := alice.Channel, bob.Channel

	aliceScript, err := input.WitnessPubKeyHash(
		alice.Config.PaymentBasePoint.PubKey.SerializeCompressed(),
	)
	require.NoError(t, err)
	bobScript, err := input.WitnessPubKeyHash(
		bob.Config.PaymentBasePoint.PubKey.SerializeCompressed(),
	)
	require.NoError(t, err)

	// The closing negotiation can't start before both shutdowns.
	aliceShutdown, err := aliceChannel.InitShutdown(aliceScript)
	require.NoError(t, err)
	require.False(t, aliceChannel.ReadyToClose())
	require.NoError(t, bobChannel.ReceiveShutdown(aliceShutdown))

	bobShutdown, err := bobChannel.InitShutdown(bobScript)
	require.NoError(t, err)
	require.NoError(t, aliceChannel.ReceiveShutdown(bobShutdown))

	// No more HTLCs can be offered.
	htlc, _ := TestHtlc(1, 10_000, testHtlcExpiry)
	_, err = aliceChannel.AddHTLC(htlc)
	require.ErrorIs(t, err, ErrChanClosing)

	require.NoError(t, aliceChannel.BeginClosingNegotiation())
	require.NoError(t, bobChannel.BeginClosingNegotiation())

	fee := btcutil.Amount(5_000)
	aliceSig, aliceTx, aliceBal, err := aliceChannel.CreateCloseProposal(
		fee, aliceScript, bobScript,
	)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(595_000), aliceBal)

	bobSig, bobTx, bobBal, err := bobChannel.CreateCloseProposal(
		fee, bobScript, aliceScript,
	)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(400_000), bobBal)
	require.Equal(t, aliceTx.TxHash(), bobTx.TxHash())

	closeTx, _, err := aliceChannel.CompleteCooperativeClose(
		aliceSig, bobSig, aliceScript, bobScript, fee,
	)
	require.NoError(t, err)
	require.Len(t, closeTx.TxOut, 2)

	// A signature from the wrong party fails the script check.
	_, _, err = bobChannel.CompleteCooperativeClose(
		aliceSig, aliceSig, bobScript, aliceScript, fee,
	)
	require.Error(t, err)

	require.NoError(t, aliceChannel.MarkCoopBroadcasted(closeTx))
	require.Equal(t, Closed, aliceChannel.Status())
}

// TestCooperativeCloseDustAdherence tests that an output below the dust limit
// of its owner is left out of the closing transaction.
func TestCooperativeCloseDustAdherence(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, testCapacity)
	aliceChannel, bobChannel := alice.Channel, bob.Channel

	require.True(t, aliceChannel.RemoteBalanceDust())
	require.False(t, aliceChannel.LocalBalanceDust())
	require.True(t, bobChannel.LocalBalanceDust())

	aliceScript := []byte{0x00, 0x14, 0x01}
	bobScript := []byte{0x00, 0x14, 0x02}

	shutdown, err := aliceChannel.InitShutdown(aliceScript)
	require.NoError(t, err)
	require.NoError(t, bobChannel.ReceiveShutdown(shutdown))
	shutdown, err = bobChannel.InitShutdown(bobScript)
	require.NoError(t, err)
	require.NoError(t, aliceChannel.ReceiveShutdown(shutdown))

	// A second shutdown from the same party is a violation.
	err = aliceChannel.ReceiveShutdown(shutdown)
	var violation *ProtocolViolation
	require.ErrorAs(t, err, &violation)
	require.True(t, violation.Update.ForceClose.IsSome())

	require.NoError(t, bobChannel.BeginClosingNegotiation())
	_, closeTx, _, err := bobChannel.CreateCloseProposal(
		1_000, bobScript, aliceScript,
	)
	require.NoError(t, err)
	require.Len(t, closeTx.TxOut, 1)
	require.Equal(t, aliceScript, closeTx.TxOut[0].PkScript)
}

// TestForceClose tests that a force close moves the channel into its
// terminal state and instructs the watcher to broadcast.
func TestForceClose(t *testing.T) {
	t.Parallel()

	alice, _ := CreateTestChannels(t, testCapacity, 600_000)

	update, err := alice.Channel.ForceClose()
	require.NoError(t, err)
	require.True(t, update.ForceClose.IsSome())
	require.Equal(t, ForceClosed, alice.Channel.Status())

	_, err = alice.Channel.ForceClose()
	require.ErrorIs(t, err, ErrInvalidState)
}

// TestCommitmentBeforeOpen tests that a commit_sig or revoke_and_ack
// received before the channel is open is a protocol violation, and that
// the messages are merely refused once the channel is closed.
func TestCommitmentBeforeOpen(t *testing.T) {
	t.Parallel()

	alice, bob := NewTestChannelPair(t, 0xaa, 0xbb, testCapacity, 600_000)

	var pendingChanID [32]byte
	created, err := alice.Channel.ProposeFunding(pendingChanID)
	require.NoError(t, err)
	signed, _, err := bob.Channel.ReceiveFundingCreated(created)
	require.NoError(t, err)
	_, err = alice.Channel.ReceiveFundingSigned(signed)
	require.NoError(t, err)

	require.Equal(t, AwaitingFundingLocked, alice.Channel.Status())
	require.Equal(t, AwaitingFundingLocked, bob.Channel.Status())

	var violation *ProtocolViolation

	_, err = bob.Channel.ReceiveNewCommitment(&lnwire.CommitSig{
		ChanID: bob.Channel.ChanID(),
	})
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorAs(t, err, &violation)
	require.True(t, violation.Update.ForceClose.IsSome())
	require.Equal(t, ForceClosed, bob.Channel.Status())

	_, _, err = alice.Channel.ReceiveRevocation(&lnwire.RevokeAndAck{
		ChanID: alice.Channel.ChanID(),
	})
	require.ErrorAs(t, err, &violation)
	require.Equal(t, ForceClosed, alice.Channel.Status())

	// A closed channel doesn't force close a second time.
	_, err = bob.Channel.ReceiveNewCommitment(&lnwire.CommitSig{
		ChanID: bob.Channel.ChanID(),
	})
	require.ErrorIs(t, err, ErrInvalidState)
	require.False(t, errors.As(err, &violation))
}

// TestMarkClosedOnChain tests that a confirmed close moves the channel into
// its terminal state and stops it from accepting updates.
func TestMarkClosedOnChain(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, 600_000)

	bob.Channel.MarkClosedOnChain(false)
	require.Equal(t, ForceClosed, bob.Channel.Status())

	htlc, _ := TestHtlc(1, 10_000, testHtlcExpiry)
	_, err := alice.Channel.AddHTLC(htlc)
	require.NoError(t, err)
	_, err = bob.Channel.ReceiveHTLC(htlc)
	require.ErrorIs(t, err, ErrInvalidState)

	// Bob's status doesn't change once it's terminal.
	bob.Channel.MarkClosedOnChain(true)
	require.Equal(t, ForceClosed, bob.Channel.Status())

	alice.Channel.MarkClosedOnChain(true)
	require.Equal(t, Closed, alice.Channel.Status())

	_, err = alice.Channel.ForceClose()
	require.ErrorIs(t, err, ErrInvalidState)
}

// TestMonitorUpdateIDs tests that every monitor update carries the next
// update id.
func TestMonitorUpdateIDs(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, 600_000)
	aliceChannel, bobChannel := alice.Channel, bob.Channel

	// The funding handshake handed out the first update.
	htlc, _ := TestHtlc(1, 10_000, testHtlcExpiry)
	_, err := aliceChannel.AddHTLC(htlc)
	require.NoError(t, err)
	_, err = bobChannel.ReceiveHTLC(htlc)
	require.NoError(t, err)

	_, update, err := aliceChannel.SignNextCommitment()
	require.NoError(t, err)
	require.EqualValues(t, 2, update.UpdateID)

	update, err = aliceChannel.ForceClose()
	require.NoError(t, err)
	require.EqualValues(t, 3, update.UpdateID)
}

// TestChannelBalanceConservation randomly adds and resolves HTLCs in both
// directions and checks that no value is created or destroyed.
func TestChannelBalanceConservation(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		alice, bob := CreateTestChannels(t, testCapacity, 500_000)

		type pendingHtlc struct {
			fromAlice bool
			index     uint64
			preimage  lntypes.Preimage
			amt       btcutil.Amount
		}

		var (
			pending []pendingHtlc
			id      byte
		)
		balances := map[bool]btcutil.Amount{
			true:  500_000,
			false: 500_000,
		}

		channels := func(fromAlice bool) (*LightningChannel,
			*LightningChannel) {

			if fromAlice {
				return alice.Channel, bob.Channel
			}

			return bob.Channel, alice.Channel
		}

		steps := rapid.IntRange(1, 20).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			resolve := len(pending) > 0 &&
				rapid.Bool().Draw(rt, "resolve")

			if !resolve {
				fromAlice := rapid.Bool().Draw(rt, "fromAlice")
				amt := btcutil.Amount(rapid.Int64Range(
					1_000, 60_000,
				).Draw(rt, "amt"))

				id++
				htlc, preimage := TestHtlc(id, amt, testHtlcExpiry)

				sender, receiver := channels(fromAlice)
				index, err := sender.AddHTLC(htlc)
				if errors.Is(err, ErrExceedsCapacity) {
					continue
				}
				require.NoError(rt, err)

				_, err = receiver.ReceiveHTLC(htlc)
				require.NoError(rt, err)
				require.NoError(
					rt, ForceStateTransition(sender, receiver),
				)

				balances[fromAlice] -= amt
				pending = append(pending, pendingHtlc{
					fromAlice: fromAlice,
					index:     index,
					preimage:  preimage,
					amt:       amt,
				})
			} else {
				n := rapid.IntRange(
					0, len(pending)-1,
				).Draw(rt, "htlc")
				htlc := pending[n]
				pending = append(pending[:n], pending[n+1:]...)

				sender, receiver := channels(htlc.fromAlice)
				if rapid.Bool().Draw(rt, "settle") {
					fulfill, _, err := receiver.SettleHTLC(
						htlc.preimage, htlc.index,
					)
					require.NoError(rt, err)
					_, err = sender.ReceiveHTLCSettle(fulfill)
					require.NoError(rt, err)

					balances[!htlc.fromAlice] += htlc.amt
				} else {
					fail, err := receiver.FailHTLC(
						htlc.index, nil,
					)
					require.NoError(rt, err)
					require.NoError(
						rt, sender.ReceiveHTLCFail(fail),
					)

					balances[htlc.fromAlice] += htlc.amt
				}

				require.NoError(
					rt, ForceStateTransition(receiver, sender),
				)
			}

			requireBalances(
				rt, alice.Channel, bob.Channel, balances[true],
				balances[false],
			)

			var inFlight lnwire.MilliSatoshi
			for _, htlc := range alice.Channel.ActiveHtlcs() {
				inFlight += htlc.Amount
			}
			ours, theirs := alice.Channel.CommitBalances()
			require.Equal(
				rt, lnwire.NewMSatFromSatoshis(testCapacity),
				ours+theirs+inFlight,
			)
			require.Len(rt, bob.Channel.ActiveHtlcs(), len(pending))
		}
	})
}
