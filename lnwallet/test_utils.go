package lnwallet

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/keychain"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/chancore/shachain"
	"github.com/stretchr/testify/require"
)

var (
	// TestFeeRate is the commitment fee rate of the test channels.
	TestFeeRate = chainfee.SatPerKWeight(6000)

	// TestBestHeight is the best height the test channels start at.
	TestBestHeight uint32 = 100
)

// TestChannelParty holds one side of a pair of test channels together with
// the key material needed to inspect it.
type TestChannelParty struct {
	// Channel is the state machine of the party.
	Channel *LightningChannel

	// Signer is the signer of the party.
	Signer *KeyRingSigner

	// KeyRing derives the keys of the party.
	KeyRing *keychain.HDKeyRing

	// Config is the channel config of the party.
	Config channeldb.ChannelConfig

	// Producer derives the per-commitment secrets of the party.
	Producer shachain.Producer

	// InitialUpdate is the monitor update produced by the funding
	// handshake.
	InitialUpdate *channeldb.ChannelMonitorUpdate

	// FundingTx is the transaction creating the channel output.
	FundingTx *wire.MsgTx
}

// testFundingTx creates a funding transaction paying capacity to the 2-of-2
// output of both parties. Its single input spends a made up outpoint.
func testFundingTx(t *testing.T, alice, bob *TestChannelParty,
	capacity btcutil.Amount) *wire.MsgTx {

	t.Helper()

	_, fundingOutput, err := input.GenFundingPkScript(
		alice.Config.MultiSigKey.PubKey.SerializeCompressed(),
		bob.Config.MultiSigKey.PubKey.SerializeCompressed(),
		int64(capacity),
	)
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(2)
	fundingTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: chainhash.Hash{0x51, 0xb6, 0x37, 0xd8},
	}, nil, nil))
	fundingTx.AddTxOut(fundingOutput)

	return fundingTx
}

// newTestParty derives a channel config and a signer from a seed.
func newTestParty(t *testing.T, seed byte,
	capacity btcutil.Amount) *TestChannelParty {

	t.Helper()

	keyRing, err := keychain.NewHDKeyRing(
		bytes.Repeat([]byte{seed}, 32), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	deriveKey := func(family keychain.KeyFamily) keychain.KeyDescriptor {
		desc, err := keyRing.DeriveNextKey(family)
		require.NoError(t, err)

		return desc
	}

	cfg := channeldb.ChannelConfig{
		DustLimit:        354,
		ChanReserve:      capacity / 100,
		MaxPendingAmount: lnwire.NewMSatFromSatoshis(capacity),
		MinHTLC:          1000,
		MaxAcceptedHtlcs: MaxHTLCNumber / 2,
		CsvDelay:         144,
		MultiSigKey:      deriveKey(keychain.KeyFamilyMultiSig),
		RevocationBasePoint: deriveKey(
			keychain.KeyFamilyRevocationBase,
		),
		PaymentBasePoint: deriveKey(keychain.KeyFamilyPaymentBase),
		DelayBasePoint:   deriveKey(keychain.KeyFamilyDelayBase),
		HtlcBasePoint:    deriveKey(keychain.KeyFamilyHtlcBase),
	}

	root := chainhash.Hash(sha256.Sum256([]byte{seed, 'r', 'o', 'o', 't'}))
	producer := shachain.NewRevocationProducer(root)

	return &TestChannelParty{
		Signer:   NewKeyRingSigner(keyRing, cfg.MultiSigKey, producer),
		KeyRing:  keyRing,
		Config:   cfg,
		Producer: producer,
	}
}

// CreateTestChannels creates a pair of open channels between Alice, the
// funder, and Bob. Alice starts out with aliceBalance, Bob with the rest of
// the capacity. Both channels went through the funding handshake and the
// channel_ready exchange.
func CreateTestChannels(t *testing.T, capacity,
	aliceBalance btcutil.Amount, opts ...ChannelOpt) (*TestChannelParty,
	*TestChannelParty) {

	t.Helper()

	return CreateTestChannelsFromSeeds(
		t, 0xaa, 0xbb, capacity, aliceBalance, opts...,
	)
}

// CreateTestChannelsFromSeeds is CreateTestChannels with the keys of both
// parties derived from the given seeds. Distinct seeds yield distinct funding
// outpoints.
func CreateTestChannelsFromSeeds(t *testing.T, aliceSeed, bobSeed byte,
	capacity, aliceBalance btcutil.Amount,
	opts ...ChannelOpt) (*TestChannelParty, *TestChannelParty) {

	t.Helper()

	alice, bob := NewTestChannelPair(
		t, aliceSeed, bobSeed, capacity, aliceBalance, opts...,
	)
	alice.InitialUpdate, bob.InitialUpdate = OpenTestChannels(
		t, alice.Channel, bob.Channel,
	)

	return alice, bob
}

// NewTestChannelPair creates the channels of Alice, the funder, and Bob
// without running the funding handshake.
func NewTestChannelPair(t *testing.T, aliceSeed, bobSeed byte,
	capacity, aliceBalance btcutil.Amount,
	opts ...ChannelOpt) (*TestChannelParty, *TestChannelParty) {

	t.Helper()

	alice := newTestParty(t, aliceSeed, capacity)
	bob := newTestParty(t, bobSeed, capacity)

	fundingTx := testFundingTx(t, alice, bob, capacity)
	alice.FundingTx, bob.FundingTx = fundingTx, fundingTx
	fundingOutpoint := wire.OutPoint{Hash: fundingTx.TxHash()}

	alicePoint, err := alice.Signer.PerCommitmentPoint(0)
	require.NoError(t, err)
	bobPoint, err := bob.Signer.PerCommitmentPoint(0)
	require.NoError(t, err)

	aliceBal := lnwire.NewMSatFromSatoshis(aliceBalance)
	bobBal := lnwire.NewMSatFromSatoshis(capacity - aliceBalance)

	opts = append([]ChannelOpt{WithBestHeight(TestBestHeight)}, opts...)

	alice.Channel, err = NewLightningChannel(alice.Signer, &ChannelState{
		ChannelParams: channeldb.ChannelParams{
			ChanPoint:     fundingOutpoint,
			Capacity:      capacity,
			IsInitiator:   true,
			LocalChanCfg:  alice.Config,
			RemoteChanCfg: bob.Config,
		},
		FeePerKw:          TestFeeRate,
		LocalBalance:      aliceBal,
		RemoteBalance:     bobBal,
		RemoteCommitPoint: bobPoint,
	}, opts...)
	require.NoError(t, err)

	bob.Channel, err = NewLightningChannel(bob.Signer, &ChannelState{
		ChannelParams: channeldb.ChannelParams{
			ChanPoint:     fundingOutpoint,
			Capacity:      capacity,
			IsInitiator:   false,
			LocalChanCfg:  bob.Config,
			RemoteChanCfg: alice.Config,
		},
		FeePerKw:          TestFeeRate,
		LocalBalance:      bobBal,
		RemoteBalance:     aliceBal,
		RemoteCommitPoint: alicePoint,
	}, opts...)
	require.NoError(t, err)

	return alice, bob
}

// OpenTestChannels runs the funding handshake and the channel_ready exchange
// between the funder and the fundee. The monitor updates of both sides are
// returned.
func OpenTestChannels(t *testing.T, funder,
	fundee *LightningChannel) (*channeldb.ChannelMonitorUpdate,
	*channeldb.ChannelMonitorUpdate) {

	t.Helper()

	var pendingChanID [32]byte
	created, err := funder.ProposeFunding(pendingChanID)
	require.NoError(t, err)

	signed, fundeeUpdate, err := fundee.ReceiveFundingCreated(created)
	require.NoError(t, err)

	funderUpdate, err := funder.ReceiveFundingSigned(signed)
	require.NoError(t, err)

	funderReady, err := funder.ChannelReady()
	require.NoError(t, err)
	fundeeReady, err := fundee.ChannelReady()
	require.NoError(t, err)

	require.NoError(t, fundee.ReceiveChannelReady(funderReady))
	require.NoError(t, funder.ReceiveChannelReady(fundeeReady))

	return funderUpdate, fundeeUpdate
}

// ForceStateTransition executes the necessary interaction between the two
// commitment state machines to transition to a new state locking in any
// pending updates.
func ForceStateTransition(chanA, chanB *LightningChannel) error {
	_, _, err := StateTransitionUpdates(chanA, chanB)
	return err
}

// StateTransitionUpdates runs a full state transition initiated by chanA and
// returns the monitor updates produced by each side, in order.
func StateTransitionUpdates(chanA, chanB *LightningChannel) (
	[]*channeldb.ChannelMonitorUpdate, []*channeldb.ChannelMonitorUpdate,
	error) {

	var aUpdates, bUpdates []*channeldb.ChannelMonitorUpdate
	record := func(updates *[]*channeldb.ChannelMonitorUpdate,
		u *channeldb.ChannelMonitorUpdate) {

		if u != nil {
			*updates = append(*updates, u)
		}
	}

	aliceSig, u, err := chanA.SignNextCommitment()
	if err != nil {
		return nil, nil, err
	}
	record(&aUpdates, u)

	u, err = chanB.ReceiveNewCommitment(aliceSig)
	if err != nil {
		return nil, nil, err
	}
	record(&bUpdates, u)

	bobRevocation, u, err := chanB.RevokeCurrentCommitment()
	if err != nil {
		return nil, nil, err
	}
	record(&bUpdates, u)

	bobSig, u, err := chanB.SignNextCommitment()
	if err != nil {
		return nil, nil, err
	}
	record(&bUpdates, u)

	_, u, err = chanA.ReceiveRevocation(bobRevocation)
	if err != nil {
		return nil, nil, err
	}
	record(&aUpdates, u)

	u, err = chanA.ReceiveNewCommitment(bobSig)
	if err != nil {
		return nil, nil, err
	}
	record(&aUpdates, u)

	aliceRevocation, u, err := chanA.RevokeCurrentCommitment()
	if err != nil {
		return nil, nil, err
	}
	record(&aUpdates, u)

	_, u, err = chanB.ReceiveRevocation(aliceRevocation)
	if err != nil {
		return nil, nil, err
	}
	record(&bUpdates, u)

	return aUpdates, bUpdates, nil
}

// TestHtlc returns an HTLC add paying amt with a payment hash derived from
// id, together with its preimage.
func TestHtlc(id byte, amt btcutil.Amount,
	expiry uint32) (*lnwire.UpdateAddHTLC, lntypes.Preimage) {

	var preimage lntypes.Preimage
	copy(preimage[:], bytes.Repeat([]byte{id}, 32))

	return &lnwire.UpdateAddHTLC{
		PaymentHash: preimage.Hash(),
		Amount:      lnwire.NewMSatFromSatoshis(amt),
		Expiry:      expiry,
	}, preimage
}
