package lnwallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestCommitmentDustTrimming tests that HTLCs below the dust limit of the
// broadcaster, including the second level fee, are trimmed and don't count
// towards the fee.
func TestCommitmentDustTrimming(t *testing.T) {
	t.Parallel()

	alice, _ := CreateTestChannels(t, testCapacity, 600_000)
	builder := alice.Channel.builder

	point, err := alice.Signer.PerCommitmentPoint(5)
	require.NoError(t, err)

	// The timeout fee of an offered HTLC at the test fee rate is 3978
	// satoshis, so an HTLC of 4000 is below the dust limit of 354 once
	// the fee is paid.
	htlcs := []HTLC{
		{HtlcIndex: 0, Amount: lnwire.NewMSatFromSatoshis(4_000),
			Expiry: 300},
		{HtlcIndex: 1, Amount: lnwire.NewMSatFromSatoshis(50_000),
			Expiry: 300},
	}

	commit, err := builder.BuildCommitment(
		lntypes.Local, 5, point,
		lnwire.NewMSatFromSatoshis(546_000),
		lnwire.NewMSatFromSatoshis(400_000), TestFeeRate, htlcs,
	)
	require.NoError(t, err)

	require.Len(t, commit.Tx.TxOut, 3)
	require.True(t, commit.Htlcs[0].IsDust())
	require.False(t, commit.Htlcs[1].IsDust())
	require.Len(t, commit.SortedHtlcs(), 1)

	expectedFee := TestFeeRate.FeeForWeight(
		input.CommitWeight + input.HTLCWeight,
	)
	require.Equal(t, expectedFee, commit.Fee)

	// The funder pays the fee from its to_local output.
	toLocal := commit.Tx.TxOut[commit.ToLocalIndex]
	require.EqualValues(t, 546_000-expectedFee, toLocal.Value)
	toRemote := commit.Tx.TxOut[commit.ToRemoteIndex]
	require.EqualValues(t, 400_000, toRemote.Value)

	// The second level transaction of an offered HTLC is a timeout
	// transaction locked to the HTLC expiry.
	htlc := commit.Htlcs[1]
	require.EqualValues(t, 300, htlc.SecondLevelTx.LockTime)
	require.EqualValues(
		t, 50_000-HtlcTimeoutFee(TestFeeRate),
		htlc.SecondLevelTx.TxOut[0].Value,
	)
	require.Equal(
		t, commit.Tx.TxHash(),
		htlc.SecondLevelTx.TxIn[0].PreviousOutPoint.Hash,
	)

	// On the remote commitment the HTLC is incoming for the broadcaster,
	// so the success fee applies.
	remotePoint, err := alice.Signer.PerCommitmentPoint(6)
	require.NoError(t, err)
	remote, err := builder.BuildCommitment(
		lntypes.Remote, 5, remotePoint,
		lnwire.NewMSatFromSatoshis(546_000),
		lnwire.NewMSatFromSatoshis(400_000), TestFeeRate, htlcs,
	)
	require.NoError(t, err)
	require.EqualValues(t, 0, remote.Htlcs[1].SecondLevelTx.LockTime)
	require.EqualValues(
		t, 50_000-HtlcSuccessFee(TestFeeRate),
		remote.Htlcs[1].SecondLevelTx.TxOut[0].Value,
	)
}

// TestCommitmentInvariants tests the checks the builder runs before handing
// out a commitment.
func TestCommitmentInvariants(t *testing.T) {
	t.Parallel()

	alice, _ := CreateTestChannels(t, testCapacity, 600_000)
	builder := alice.Channel.builder

	point, err := alice.Signer.PerCommitmentPoint(1)
	require.NoError(t, err)

	// Balances that don't add up to the capacity are refused.
	_, err = builder.BuildCommitment(
		lntypes.Local, 1, point, lnwire.NewMSatFromSatoshis(600_000),
		lnwire.NewMSatFromSatoshis(300_000), TestFeeRate, nil,
	)
	require.Error(t, err)

	// A funder that can't pay the fee is refused.
	_, err = builder.BuildCommitment(
		lntypes.Local, 1, point, lnwire.NewMSatFromSatoshis(1_000),
		lnwire.NewMSatFromSatoshis(999_000), TestFeeRate, nil,
	)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// A missing commitment point is refused.
	_, err = builder.BuildCommitment(
		lntypes.Local, 1, nil, lnwire.NewMSatFromSatoshis(600_000),
		lnwire.NewMSatFromSatoshis(400_000), TestFeeRate, nil,
	)
	require.Error(t, err)
}

// TestCommitmentDeterminism tests that both parties build the same
// transaction for the same state.
func TestCommitmentDeterminism(t *testing.T) {
	t.Parallel()

	alice, bob := CreateTestChannels(t, testCapacity, 600_000)

	rapid.Check(t, func(rt *rapid.T) {
		height := rapid.Uint64Range(1, 1<<20).Draw(rt, "height")
		numHtlcs := rapid.IntRange(0, 10).Draw(rt, "numHtlcs")

		point, err := bob.Signer.PerCommitmentPoint(height)
		require.NoError(rt, err)

		var (
			aliceHtlcs, bobHtlcs []HTLC
			inFlight             lnwire.MilliSatoshi
		)
		for i := 0; i < numHtlcs; i++ {
			amt := lnwire.NewMSatFromSatoshis(btcutil.Amount(
				rapid.Int64Range(1_000, 20_000).Draw(rt, "amt"),
			))
			incoming := rapid.Bool().Draw(rt, "incoming")
			expiry := rapid.Uint32Range(150, 160).Draw(rt, "expiry")

			htlc := HTLC{
				HtlcIndex: uint64(i),
				Incoming:  incoming,
				Amount:    amt,
				RHash:     lntypes.Hash{byte(i % 2)},
				Expiry:    expiry,
			}
			aliceHtlcs = append(aliceHtlcs, htlc)

			htlc.Incoming = !incoming
			bobHtlcs = append(bobHtlcs, htlc)

			inFlight += amt
		}

		aliceBal := lnwire.NewMSatFromSatoshis(600_000) - inFlight

		// Alice builds Bob's commitment, Bob builds his own.
		aliceView, err := alice.Channel.builder.BuildCommitment(
			lntypes.Remote, height, point, aliceBal,
			lnwire.NewMSatFromSatoshis(400_000), TestFeeRate,
			aliceHtlcs,
		)
		require.NoError(rt, err)

		bobView, err := bob.Channel.builder.BuildCommitment(
			lntypes.Local, height, point,
			lnwire.NewMSatFromSatoshis(400_000), aliceBal,
			TestFeeRate, bobHtlcs,
		)
		require.NoError(rt, err)

		require.Equal(rt, aliceView.Tx.TxHash(), bobView.Tx.TxHash())
		require.Equal(rt, aliceView.Fee, bobView.Fee)

		// Every HTLC lands on the same output index on both sides.
		for i := range aliceView.Htlcs {
			require.Equal(
				rt, aliceView.Htlcs[i].OutputIndex,
				bobView.Htlcs[i].OutputIndex,
			)
		}

		require.Equal(rt, height, GetStateNumHint(
			bobView.Tx, bob.Channel.StateHintObfuscator(),
		))
	})
}

// TestCommitSortCltvTiebreak tests that outputs equal in value and script are
// ordered by their CLTV expiry.
func TestCommitSortCltvTiebreak(t *testing.T) {
	t.Parallel()

	script := []byte{0x00, 0x20, 0x01}
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(5_000, script))
	tx.AddTxOut(wire.NewTxOut(5_000, script))
	tx.AddTxOut(wire.NewTxOut(1_000, []byte{0x02}))
	tx.AddTxOut(wire.NewTxOut(1_000, []byte{0x01}))

	cltvs := []uint32{500, 400, 0, 0}
	InPlaceCommitSort(tx, cltvs)

	require.Equal(t, []uint32{0, 0, 400, 500}, cltvs)
	require.Equal(t, []byte{0x01}, tx.TxOut[0].PkScript)
	require.Equal(t, []byte{0x02}, tx.TxOut[1].PkScript)
	require.EqualValues(t, 5_000, tx.TxOut[2].Value)
}

// TestStateHintRoundTrip tests that any state number below the ceiling
// survives encoding into a commitment transaction.
func TestStateHintRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		var obfuscator [StateHintSize]byte
		copy(obfuscator[:], rapid.SliceOfN(
			rapid.Byte(), StateHintSize, StateHintSize,
		).Draw(rt, "obfuscator"))

		stateNum := rapid.Uint64Range(0, maxStateHint).Draw(
			rt, "stateNum",
		)

		tx := wire.NewMsgTx(2)
		tx.AddTxIn(&wire.TxIn{})

		require.NoError(rt, SetStateNumHint(tx, stateNum, obfuscator))
		require.Equal(rt, stateNum, GetStateNumHint(tx, obfuscator))

		// The locktime is always interpreted as a timestamp in the
		// past and sequence locks are disabled.
		require.GreaterOrEqual(rt, tx.LockTime, TimelockShift)
		require.NotZero(
			rt, tx.TxIn[0].Sequence&wire.SequenceLockTimeDisabled,
		)
	})

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{})
	err := SetStateNumHint(tx, maxStateHint+1, [StateHintSize]byte{})
	require.Error(t, err)
}

// TestHtlcIsDust tests the dust classification of HTLCs from both points of
// view.
func TestHtlcIsDust(t *testing.T) {
	t.Parallel()

	dust := btcutil.Amount(354)
	timeoutFee := HtlcTimeoutFee(TestFeeRate)
	successFee := HtlcSuccessFee(TestFeeRate)

	tests := []struct {
		name        string
		incoming    bool
		whoseCommit lntypes.ChannelParty
		amt         btcutil.Amount
		isDust      bool
	}{
		{
			name:        "offered on our commitment, at limit",
			whoseCommit: lntypes.Local,
			amt:         dust + timeoutFee,
		},
		{
			name:        "offered on our commitment, below limit",
			whoseCommit: lntypes.Local,
			amt:         dust + timeoutFee - 1,
			isDust:      true,
		},
		{
			name:        "received on our commitment",
			incoming:    true,
			whoseCommit: lntypes.Local,
			amt:         dust + successFee - 1,
			isDust:      true,
		},
		{
			name:        "offered on their commitment",
			whoseCommit: lntypes.Remote,
			amt:         dust + successFee,
		},
		{
			name:        "received on their commitment",
			incoming:    true,
			whoseCommit: lntypes.Remote,
			amt:         dust + timeoutFee - 1,
			isDust:      true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.isDust, HtlcIsDust(
				test.incoming, test.whoseCommit, TestFeeRate,
				test.amt, dust,
			))
		})
	}
}
