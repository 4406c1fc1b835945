package chancloser

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/labels"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestValidateShutdownScript tests that only standard scripts and future
// segwit versions are accepted as delivery scripts.
func TestValidateShutdownScript(t *testing.T) {
	t.Parallel()

	pubHash := bytes.Repeat([]byte{0x0}, 20)
	scriptHash := bytes.Repeat([]byte{0x0}, 32)

	p2wkh, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).
		AddData(pubHash).Script()
	require.NoError(t, err)

	p2wsh, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).
		AddData(scriptHash).Script()
	require.NoError(t, err)

	p2tr, err := txscript.NewScriptBuilder().AddOp(txscript.OP_1).
		AddData(scriptHash).Script()
	require.NoError(t, err)

	p2OtherV1, err := txscript.NewScriptBuilder().AddOp(txscript.OP_1).
		AddData(pubHash).Script()
	require.NoError(t, err)

	invalidFork, err := txscript.NewScriptBuilder().AddOp(txscript.OP_NOP).
		AddData(scriptHash).Script()
	require.NoError(t, err)

	type testCase struct {
		name           string
		shutdownScript lnwire.DeliveryAddress
		expectedErr    error
	}
	tests := []testCase{
		{
			name:           "p2wkh is ok",
			shutdownScript: p2wkh,
		},
		{
			name:           "p2wsh is ok",
			shutdownScript: p2wsh,
		},
		{
			name:           "p2tr is ok",
			shutdownScript: p2tr,
		},
		{
			name:           "segwit v1 is ok",
			shutdownScript: p2OtherV1,
		},
		{
			name:           "invalid script not allowed",
			shutdownScript: invalidFork,
			expectedErr:    ErrInvalidShutdownScript,
		},
		{
			name:        "empty script not allowed",
			expectedErr: ErrInvalidShutdownScript,
		},
	}

	// All future segwit softforks should also be ok.
	futureForks := []byte{
		txscript.OP_2, txscript.OP_3, txscript.OP_4, txscript.OP_5,
		txscript.OP_6, txscript.OP_7, txscript.OP_8, txscript.OP_9,
		txscript.OP_10, txscript.OP_11, txscript.OP_12, txscript.OP_13,
		txscript.OP_14, txscript.OP_15, txscript.OP_16,
	}
	for _, witnessVersion := range futureForks {
		p2FutureFork, err := txscript.NewScriptBuilder().
			AddOp(witnessVersion).AddData(scriptHash).Script()
		require.NoError(t, err)

		opString, err := txscript.DisasmString([]byte{witnessVersion})
		require.NoError(t, err)

		tests = append(tests, testCase{
			name:           fmt.Sprintf("witness_version=%v", opString),
			shutdownScript: p2FutureFork,
		})
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			err := validateShutdownScript(test.shutdownScript)
			require.ErrorIs(t, err, test.expectedErr)
		})
	}
}

// newMockChannel returns a mocked channel that is ready to compute a fee
// baseline.
func newMockChannel(initiator bool) *mockChannel {
	channel := &mockChannel{}
	channel.On("ChannelPoint").Return(wire.OutPoint{Index: 1})
	channel.On("IsInitiator").Return(initiator)
	channel.On("LocalBalanceDust").Return(false)
	channel.On("RemoteBalanceDust").Return(false)

	return channel
}

// TestMaxFeeClamp tests that if a max fee is specified, then it's used instead
// of the default max fee multiplier.
func TestMaxFeeClamp(t *testing.T) {
	t.Parallel()

	const (
		absoluteFeeOneSatByte = 126
		absoluteFeeTenSatByte = 1265
	)

	tests := []struct {
		name string

		idealFee    chainfee.SatPerKWeight
		inputMaxFee chainfee.SatPerKWeight

		maxFee btcutil.Amount
	}{
		{
			// No max fee specified, we should see 3x the ideal fee.
			name: "no max fee",

			idealFee: chainfee.SatPerKWeight(253),
			maxFee:   absoluteFeeOneSatByte * defaultMaxFeeMultiplier,
		},
		{
			// Max fee specified, this should be used in place.
			name: "max fee clamp",

			idealFee:    chainfee.SatPerKWeight(253),
			inputMaxFee: chainfee.SatPerKWeight(2530),

			// We should get the resulting absolute fee based on a
			// factor of 10 sat/byte (our new max fee).
			maxFee: absoluteFeeTenSatByte,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			channel := newMockChannel(true)

			chanCloser := NewChanCloser(
				ChanCloseCfg{
					Channel:      channel,
					MaxFee:       test.inputMaxFee,
					FeeEstimator: &SimpleCoopFeeEstimator{},
				}, nil, test.idealFee, 0,
			)

			// We'll call initFeeBaseline early here since we need
			// the populate these internal variables.
			chanCloser.initFeeBaseline()

			require.Equal(t, test.maxFee, chanCloser.maxFee)
			require.Equal(
				t, btcutil.Amount(absoluteFeeOneSatByte),
				chanCloser.idealFeeSat,
			)
		})
	}
}

// TestMaxFeeBailOut tests that once the negotiated fee rate rises above our
// maximum fee, we'll return an error and refuse to process a co-op close
// message.
func TestMaxFeeBailOut(t *testing.T) {
	t.Parallel()

	const (
		absoluteFee = btcutil.Amount(1000)
		idealFee    = chainfee.SatPerKWeight(253)
	)

	errSign := errors.New("unable to sign")

	for _, isInitiator := range []bool{true, false} {
		t.Run(fmt.Sprintf("initiator=%v", isInitiator), func(t *testing.T) {
			t.Parallel()

			// First, we'll make our mock channel, and use that to
			// instantiate our channel closer.
			channel := newMockChannel(isInitiator)
			channel.On(
				"CreateCloseProposal", mock.Anything,
				mock.Anything, mock.Anything,
			).Return(nil, nil, btcutil.Amount(0), errSign)

			closeCfg := ChanCloseCfg{
				Channel: channel,
				FeeEstimator: &mockCoopFeeEstimator{
					targetFee: absoluteFee,
				},
				MaxFee: idealFee * 2,
			}
			chanCloser := NewChanCloser(closeCfg, nil, idealFee, 0)
			chanCloser.initFeeBaseline()

			// We'll now force the channel state into the
			// closeFeeNegotiation state so we can skip straight to
			// the juicy part. We'll also set our last fee sent so
			// we'll attempt to actually "negotiate" here.
			chanCloser.state = closeFeeNegotiation
			chanCloser.negotiationStart = time.Now()
			chanCloser.lastFeeProposal = absoluteFee

			// Next, we'll make a ClosingSigned message that
			// proposes a fee that's far above the max fee of the
			// mocked estimator.
			closeMsg := lnwire.ClosingSigned{
				FeeSatoshis: absoluteFee * 4,
			}

			_, err := chanCloser.ReceiveClosingSigned(closeMsg)

			switch isInitiator {
			// If we're the initiator, then we expect an error at
			// this point.
			case true:
				require.ErrorIs(t, err, ErrProposalExceedsMaxFee)

			// Otherwise, we expect things to fail when signing the
			// counter offer.
			case false:
				require.ErrorIs(t, err, errSign)
			}
		})
	}
}

// TestCalcCompromiseFee tests the fee ratcheting towards the remote offer.
func TestCalcCompromiseFee(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ideal     btcutil.Amount
		lastSent  btcutil.Amount
		remoteFee btcutil.Amount
		expected  btcutil.Amount
	}{
		{
			name:      "first offer is our ideal fee",
			ideal:     1000,
			remoteFee: 5000,
			expected:  1000,
		},
		{
			name:      "remote matches ideal",
			ideal:     1000,
			lastSent:  1200,
			remoteFee: 1000,
			expected:  1000,
		},
		{
			name:      "remote matches last offer",
			ideal:     1000,
			lastSent:  1200,
			remoteFee: 1200,
			expected:  1200,
		},
		{
			name:      "remote higher within range",
			ideal:     1000,
			lastSent:  1000,
			remoteFee: 1300,
			expected:  1300,
		},
		{
			name:      "remote higher out of range",
			ideal:     1000,
			lastSent:  1000,
			remoteFee: 1301,
			expected:  1100,
		},
		{
			name:      "remote lower within range",
			ideal:     1000,
			lastSent:  1000,
			remoteFee: 700,
			expected:  700,
		},
		{
			name:      "remote lower out of range",
			ideal:     1000,
			lastSent:  1000,
			remoteFee: 699,
			expected:  900,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			fee := calcCompromiseFee(
				wire.OutPoint{}, test.ideal, test.lastSent,
				test.remoteFee,
			)
			require.Equal(t, test.expected, fee)
		})
	}
}

// deliveryScript returns a p2wkh script paying to a hash made of b.
func deliveryScript(t *testing.T, b byte) lnwire.DeliveryAddress {
	t.Helper()

	script, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).
		AddData(bytes.Repeat([]byte{b}, 20)).Script()
	require.NoError(t, err)

	return script
}

// closerHarness bundles a channel closer with the transactions it broadcast.
type closerHarness struct {
	closer    *ChanCloser
	channel   *lnwallet.LightningChannel
	broadcast []*wire.MsgTx
	labels    []string
}

// newCloserHarness creates a closer for the channel.
func newCloserHarness(t *testing.T, channel *lnwallet.LightningChannel,
	script lnwire.DeliveryAddress, feeRate chainfee.SatPerKWeight,
	modify func(*ChanCloseCfg)) *closerHarness {

	t.Helper()

	h := &closerHarness{channel: channel}

	cfg := ChanCloseCfg{
		Channel: channel,
		BroadcastTx: func(tx *wire.MsgTx, label string) error {
			h.broadcast = append(h.broadcast, tx)
			h.labels = append(h.labels, label)

			return nil
		},
		ChainParams: &chaincfg.RegressionNetParams,
	}
	if modify != nil {
		modify(&cfg)
	}

	h.closer = NewChanCloser(cfg, script, feeRate, lnwallet.TestBestHeight)

	return h
}

// exchangeShutdown runs the shutdown exchange initiated by alice and starts
// the fee negotiation on both sides. It returns alice's first offer.
func exchangeShutdown(t *testing.T, alice,
	bob *closerHarness) lnwire.ClosingSigned {

	t.Helper()

	aliceShutdown, err := alice.closer.ShutdownChan()
	require.NoError(t, err)

	// Shutting down twice is refused.
	_, err = alice.closer.ShutdownChan()
	require.ErrorIs(t, err, ErrChanAlreadyClosing)

	bobShutdown, err := bob.closer.ReceiveShutdown(*aliceShutdown)
	require.NoError(t, err)
	require.True(t, bobShutdown.IsSome())

	resp, err := alice.closer.ReceiveShutdown(bobShutdown.UnwrapOrFail(t))
	require.NoError(t, err)
	require.True(t, resp.IsNone())

	require.True(t, alice.channel.ReadyToClose())
	require.True(t, bob.channel.ReadyToClose())

	// Alice is the channel initiator, so she opens the negotiation.
	aliceOffer, err := alice.closer.BeginNegotiation()
	require.NoError(t, err)
	require.True(t, aliceOffer.IsSome())

	bobOffer, err := bob.closer.BeginNegotiation()
	require.NoError(t, err)
	require.True(t, bobOffer.IsNone())

	return aliceOffer.UnwrapOrFail(t)
}

// TestChanCloserNegotiation tests a full cooperative close between two
// channels that start with different ideal fees.
func TestChanCloserNegotiation(t *testing.T) {
	t.Parallel()

	const capacity = 1_000_000

	aliceChan, bobChan := lnwallet.CreateTestChannels(
		t, capacity, 600_000,
	)

	aliceScript := deliveryScript(t, 0x01)
	bobScript := deliveryScript(t, 0x02)

	alice := newCloserHarness(t, aliceChan.Channel, aliceScript, 2500, nil)
	bob := newCloserHarness(t, bobChan.Channel, bobScript, 5000, nil)

	msg := fn.Some(exchangeShutdown(t, alice, bob))

	// The closing tx isn't available before the negotiation is done.
	_, err := alice.closer.ClosingTx()
	require.ErrorIs(t, err, ErrChanCloseNotFinished)

	// Pass the offers back and forth until one side has nothing more to
	// say.
	var (
		fromAlice = true
		rounds    int
	)
	for msg.IsSome() {
		rounds++
		require.Less(t, rounds, 2*DefaultMaxRounds)

		offer := msg.UnwrapOrFail(t)
		receiver := bob
		if !fromAlice {
			receiver = alice
		}

		msg, err = receiver.closer.ReceiveClosingSigned(offer)
		require.NoError(t, err)

		fromAlice = !fromAlice
	}

	aliceTx, err := alice.closer.ClosingTx()
	require.NoError(t, err)
	bobTx, err := bob.closer.ClosingTx()
	require.NoError(t, err)
	require.Equal(t, aliceTx.TxHash(), bobTx.TxHash())

	require.Len(t, alice.broadcast, 1)
	require.Len(t, bob.broadcast, 1)

	chanPoint := aliceChan.Channel.ChannelPoint()
	closeLabel := labels.MakeLabel(labels.LabelTypeChannelClose, &chanPoint)
	require.Equal(t, closeLabel, alice.labels[0])

	require.Equal(t, lnwallet.Closed, aliceChan.Channel.Status())
	require.Equal(t, lnwallet.Closed, bobChan.Channel.Status())

	// Both outputs are present and the agreed fee was paid by alice.
	require.Len(t, aliceTx.TxOut, 2)
	var total int64
	for _, out := range aliceTx.TxOut {
		total += out.Value
		if bytes.Equal(out.PkScript, bobScript) {
			require.EqualValues(t, 400_000, out.Value)
		}
	}
	fee := btcutil.Amount(capacity - total)
	require.Greater(t, fee, alice.closer.idealFeeSat)
	require.Less(t, fee, bob.closer.idealFeeSat)

	// An echo of the final offer is ignored.
	resp, err := alice.closer.ReceiveClosingSigned(lnwire.ClosingSigned{
		FeeSatoshis: fee,
	})
	require.NoError(t, err)
	require.True(t, resp.IsNone())
}

// TestChanCloserTooManyRounds tests that the negotiation is aborted once the
// remote party sent more offers than allowed.
func TestChanCloserTooManyRounds(t *testing.T) {
	t.Parallel()

	aliceChan, bobChan := lnwallet.CreateTestChannels(
		t, 1_000_000, 600_000,
	)

	alice := newCloserHarness(
		t, aliceChan.Channel, deliveryScript(t, 0x01), 2500, nil,
	)
	bob := newCloserHarness(
		t, bobChan.Channel, deliveryScript(t, 0x02), 5000,
		func(cfg *ChanCloseCfg) {
			cfg.MaxRounds = 1
		},
	)

	aliceOffer := exchangeShutdown(t, alice, bob)

	bobOffer, err := bob.closer.ReceiveClosingSigned(aliceOffer)
	require.NoError(t, err)

	counter, err := alice.closer.ReceiveClosingSigned(
		bobOffer.UnwrapOrFail(t),
	)
	require.NoError(t, err)

	_, err = bob.closer.ReceiveClosingSigned(counter.UnwrapOrFail(t))
	require.ErrorIs(t, err, ErrTooManyRounds)
	require.Empty(t, bob.broadcast)
}

// TestChanCloserTimeout tests that the negotiation is aborted once it takes
// longer than the configured timeout.
func TestChanCloserTimeout(t *testing.T) {
	t.Parallel()

	startTime := time.Unix(1_700_000_000, 0)
	testClock := clock.NewTestClock(startTime)

	aliceChan, bobChan := lnwallet.CreateTestChannels(
		t, 1_000_000, 600_000,
	)

	alice := newCloserHarness(
		t, aliceChan.Channel, deliveryScript(t, 0x01), 2500, nil,
	)
	bob := newCloserHarness(
		t, bobChan.Channel, deliveryScript(t, 0x02), 5000,
		func(cfg *ChanCloseCfg) {
			cfg.Clock = testClock
			cfg.NegotiationTimeout = time.Minute
		},
	)

	aliceOffer := exchangeShutdown(t, alice, bob)
	require.NoError(t, bob.closer.CheckTimeout())

	testClock.SetTime(startTime.Add(time.Minute + time.Second))
	require.ErrorIs(t, bob.closer.CheckTimeout(), ErrNegotiationTimeout)

	_, err := bob.closer.ReceiveClosingSigned(aliceOffer)
	require.ErrorIs(t, err, ErrNegotiationTimeout)
}

// TestCachedClosingSigned tests that an offer received before the channel
// was flushed is processed once the negotiation begins.
func TestCachedClosingSigned(t *testing.T) {
	t.Parallel()

	aliceChan, bobChan := lnwallet.CreateTestChannels(
		t, 1_000_000, 600_000,
	)

	alice := newCloserHarness(
		t, aliceChan.Channel, deliveryScript(t, 0x01), 2500, nil,
	)
	bob := newCloserHarness(
		t, bobChan.Channel, deliveryScript(t, 0x02), 2500, nil,
	)

	aliceShutdown, err := alice.closer.ShutdownChan()
	require.NoError(t, err)
	bobShutdown, err := bob.closer.ReceiveShutdown(*aliceShutdown)
	require.NoError(t, err)
	_, err = alice.closer.ReceiveShutdown(bobShutdown.UnwrapOrFail(t))
	require.NoError(t, err)

	aliceOffer, err := alice.closer.BeginNegotiation()
	require.NoError(t, err)

	// Bob is still waiting for the flush, so the offer is cached.
	resp, err := bob.closer.ReceiveClosingSigned(
		aliceOffer.UnwrapOrFail(t),
	)
	require.NoError(t, err)
	require.True(t, resp.IsNone())

	// Both use the same fee rate, so bob accepts right away once the
	// negotiation starts.
	bobAccept, err := bob.closer.BeginNegotiation()
	require.NoError(t, err)
	require.Equal(
		t, aliceOffer.UnwrapOrFail(t).FeeSatoshis,
		bobAccept.UnwrapOrFail(t).FeeSatoshis,
	)
	require.Len(t, bob.broadcast, 1)

	_, err = alice.closer.ReceiveClosingSigned(bobAccept.UnwrapOrFail(t))
	require.NoError(t, err)
	require.Len(t, alice.broadcast, 1)
}

// TestParseUpfrontShutdownAddress tests the we are able to parse the upfront
// shutdown address properly.
func TestParseUpfrontShutdownAddress(t *testing.T) {
	t.Parallel()

	var (
		testnetAddress = "tb1qdfkmwwgdaa5dnezrlhtftvmj5qn2kwgp7n0z6r"
		regtestAddress = "bcrt1q09crvvuj95x5nk64wsxf5n6ky0kr8358vpx4d8"
	)

	tests := []struct {
		name        string
		address     string
		params      chaincfg.Params
		expectedErr string
	}{
		{
			name:        "invalid closing address",
			address:     "non-valid-address",
			params:      chaincfg.RegressionNetParams,
			expectedErr: "invalid address",
		},
		{
			name:        "closing address from another net",
			address:     testnetAddress,
			params:      chaincfg.RegressionNetParams,
			expectedErr: "not a regtest address",
		},
		{
			name:    "valid p2wkh closing address",
			address: regtestAddress,
			params:  chaincfg.RegressionNetParams,
		},
		{
			name:   "empty address",
			params: chaincfg.RegressionNetParams,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseUpfrontShutdownAddress(
				tc.address, &tc.params,
			)

			if tc.expectedErr != "" {
				require.ErrorContains(t, err, tc.expectedErr)
				return
			}

			require.NoError(t, err)
		})
	}
}
