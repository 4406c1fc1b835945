package contractcourt

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/stretchr/testify/require"
)

const (
	testCapacity = btcutil.Amount(1_000_000)

	testFeeRate = chainfee.SatPerKWeight(2500)
)

// monitorHarness drives the monitor of one party of a test channel.
type monitorHarness struct {
	t *testing.T

	party       *lnwallet.TestChannelParty
	monitor     *ChannelMonitor
	cfg         MonitorConfig
	broadcaster *mockBroadcaster
	persister   *mockPersister
}

// newMonitorHarness creates the monitor of party and applies the update of
// the funding handshake.
func newMonitorHarness(t *testing.T, party *lnwallet.TestChannelParty,
	opts ...func(*MonitorConfig)) *monitorHarness {

	t.Helper()

	params := *party.Channel.Params()
	h := &monitorHarness{
		t:           t,
		party:       party,
		broadcaster: &mockBroadcaster{},
		persister:   &mockPersister{},
	}

	h.cfg = MonitorConfig{
		ChanParams:   &params,
		Signer:       party.Signer,
		Broadcaster:  h.broadcaster,
		Persister:    h.persister,
		FeeEstimator: chainfee.NewStaticEstimator(testFeeRate, 0),
		GenSweepScript: func() ([]byte, error) {
			return testSweepScript, nil
		},
		BestHeight: lnwallet.TestBestHeight,
	}
	for _, opt := range opts {
		opt(&h.cfg)
	}

	monitor, err := NewChannelMonitor(h.cfg)
	require.NoError(t, err)
	h.monitor = monitor

	h.apply(party.InitialUpdate)

	return h
}

// apply applies updates in order.
func (h *monitorHarness) apply(updates ...*channeldb.ChannelMonitorUpdate) {
	h.t.Helper()

	for _, update := range updates {
		require.NoError(h.t, h.monitor.ApplyUpdate(update))
	}
}

// connect connects a block with txs at height.
func (h *monitorHarness) connect(height uint32, txs ...*wire.MsgTx) []Event {
	h.t.Helper()

	events, err := h.monitor.BlockConnected(
		&wire.MsgBlock{Transactions: txs}, height,
	)
	require.NoError(h.t, err)

	return events
}

// connectRange connects empty blocks from start to end inclusive.
func (h *monitorHarness) connectRange(start, end uint32) []Event {
	h.t.Helper()

	var events []Event
	for height := start; height <= end; height++ {
		events = append(events, h.connect(height)...)
	}

	return events
}

// signedCommit returns the latest commitment of the harness party with a
// complete witness.
func (h *monitorHarness) signedCommit() *wire.MsgTx {
	h.t.Helper()

	commitTx, err := h.monitor.signedLocalCommit()
	require.NoError(h.t, err)

	return commitTx
}

// addHtlc adds an HTLC offered by from and locks it in on both commitments.
// The updates of both sides are applied to their monitors.
func addHtlc(t *testing.T, from, to *monitorHarness, id byte,
	amt btcutil.Amount, expiry uint32) uint64 {

	t.Helper()

	htlc, _ := lnwallet.TestHtlc(id, amt, expiry)
	htlcIndex, err := from.party.Channel.AddHTLC(htlc)
	require.NoError(t, err)
	_, err = to.party.Channel.ReceiveHTLC(htlc)
	require.NoError(t, err)

	fromUpdates, toUpdates, err := lnwallet.StateTransitionUpdates(
		from.party.Channel, to.party.Channel,
	)
	require.NoError(t, err)

	from.apply(fromUpdates...)
	to.apply(toUpdates...)

	return htlcIndex
}

// newTestMonitors creates a channel funded by Alice with aliceBalance and the
// monitors of both parties.
func newTestMonitors(t *testing.T,
	aliceBalance btcutil.Amount) (*monitorHarness, *monitorHarness) {

	t.Helper()

	alice, bob := lnwallet.CreateTestChannels(t, testCapacity, aliceBalance)

	return newMonitorHarness(t, alice), newMonitorHarness(t, bob)
}

// TestMonitorApplyUpdateIdempotent checks a duplicate update is a no-op while
// a different update reusing an id is refused.
func TestMonitorApplyUpdateIdempotent(t *testing.T) {
	t.Parallel()

	alice, _ := newTestMonitors(t, 600_000)
	require.Equal(t, 1, alice.persister.numUpdates())

	// Delivering the funding update again changes nothing.
	alice.apply(alice.party.InitialUpdate)
	require.Equal(t, 1, alice.persister.numUpdates())
	require.Equal(t, StateArmed, alice.monitor.State())

	// The same id with different content is stale.
	reused := &channeldb.ChannelMonitorUpdate{
		UpdateID: alice.party.InitialUpdate.UpdateID,
		ForceClose: fn.Some(channeldb.ForceClose{
			ShouldBroadcast: true,
		}),
	}
	err := alice.monitor.ApplyUpdate(reused)
	require.ErrorIs(t, err, ErrStaleUpdate)
	require.Equal(t, 1, alice.persister.numUpdates())
	require.Equal(t, StateArmed, alice.monitor.State())
	require.Zero(t, alice.broadcaster.published())
}

// TestMonitorStaleCommitment checks commitments must strictly increase, while
// metadata-only updates are always accepted.
func TestMonitorStaleCommitment(t *testing.T) {
	t.Parallel()

	alice, bob := newTestMonitors(t, 600_000)
	addHtlc(t, alice, bob, 1, 50_000, 500)

	// The funding commitments under a new id are older than what the
	// monitor holds.
	replayed := *alice.party.InitialUpdate
	replayed.UpdateID = 1000
	err := alice.monitor.ApplyUpdate(&replayed)
	require.ErrorIs(t, err, ErrStaleUpdate)

	_, preimage := lnwallet.TestHtlc(7, 1000, 500)
	alice.apply(&channeldb.ChannelMonitorUpdate{
		UpdateID:  1001,
		Preimages: []lntypes.Preimage{preimage},
	})
}

// TestMonitorPersistFailure checks an update that fails to persist is not
// applied, and can be delivered again.
func TestMonitorPersistFailure(t *testing.T) {
	t.Parallel()

	alice, _ := newTestMonitors(t, 600_000)

	update, err := alice.party.Channel.ForceClose()
	require.NoError(t, err)

	errDiskFull := errors.New("disk full")
	alice.persister.err = errDiskFull

	err = alice.monitor.ApplyUpdate(update)
	require.ErrorIs(t, err, errDiskFull)
	require.Equal(t, StateArmed, alice.monitor.State())
	require.Zero(t, alice.broadcaster.published())

	alice.persister.err = nil
	alice.apply(update)
	require.Equal(t, StateClosing, alice.monitor.State())
	require.Equal(t, 1, alice.broadcaster.published())
}

// TestMonitorRevocationSecrets checks secrets must arrive in order and match
// the revoked commitment.
func TestMonitorRevocationSecrets(t *testing.T) {
	t.Parallel()

	alice, bob := newTestMonitors(t, 600_000)
	addHtlc(t, alice, bob, 1, 50_000, 500)

	// Alice holds the secret of Bob's commitment 0. Height 0 again is
	// stale, height 2 skips height 1.
	secret := func(height uint64,
		s [32]byte) *channeldb.ChannelMonitorUpdate {

		return &channeldb.ChannelMonitorUpdate{
			UpdateID: 100 + height,
			CommitmentSecret: fn.Some(channeldb.CommitmentSecret{
				Height: height,
				Secret: s,
			}),
		}
	}

	bobSecret := func(height uint64) [32]byte {
		s, err := bob.party.Signer.ReleaseCommitmentSecret(height)
		require.NoError(t, err)

		return s
	}

	err := alice.monitor.ApplyUpdate(secret(0, bobSecret(0)))
	require.ErrorIs(t, err, ErrStaleUpdate)

	err = alice.monitor.ApplyUpdate(secret(2, bobSecret(2)))
	require.ErrorIs(t, err, ErrInvalidUpdate)

	// A secret that doesn't derive the commitment point of Bob's
	// commitment 1 is refused.
	err = alice.monitor.ApplyUpdate(secret(1, bobSecret(2)))
	require.ErrorIs(t, err, ErrInvalidUpdate)

	require.EqualValues(t, 1, alice.monitor.revocations.NumSecrets())
}

// TestMonitorFundingConfirmation checks the funding depth is tracked across
// reorgs.
func TestMonitorFundingConfirmation(t *testing.T) {
	t.Parallel()

	alice, _ := lnwallet.CreateTestChannels(t, testCapacity, 600_000)

	h := newMonitorHarness(t, alice, func(cfg *MonitorConfig) {
		cfg.ChanParams.NumConfsRequired = 3
	})

	events := h.connect(101, alice.FundingTx)
	require.Empty(t, eventsOf[*FundingConfirmed](events))

	events = h.connect(102)
	require.Empty(t, eventsOf[*FundingConfirmed](events))

	events = h.connect(103)
	confirmed := eventsOf[*FundingConfirmed](events)
	require.Len(t, confirmed, 1)
	require.EqualValues(t, 101, confirmed[0].Height)

	// Only reported once.
	require.Empty(t, h.connect(104))

	// The funding tx is reorged out and confirms again one block later.
	for height := uint32(104); height >= 101; height-- {
		h.monitor.BlockDisconnected(height)
	}

	h.connect(101)
	h.connect(102, alice.FundingTx)
	h.connect(103)
	events = h.connect(104)
	confirmed = eventsOf[*FundingConfirmed](events)
	require.Len(t, confirmed, 1)
	require.EqualValues(t, 102, confirmed[0].Height)
}

// TestMonitorReorgedClose checks a disconnected close returns the monitor to
// its pre-close state and a reconfirmed close is handled again.
func TestMonitorReorgedClose(t *testing.T) {
	t.Parallel()

	alice, _ := newTestMonitors(t, 600_000)

	update, err := alice.party.Channel.ForceClose()
	require.NoError(t, err)
	alice.apply(update)

	commitTx := alice.broadcaster.last()
	require.NotNil(t, commitTx)
	requireValidSpend(t, commitTx, alice.party.FundingTx)

	events := alice.connect(200, commitTx)
	closes := eventsOf[*CloseDetected](events)
	require.Len(t, closes, 1)
	require.Equal(t, CloseTypeLocalForce, closes[0].Type)
	require.EqualValues(t, 200, closes[0].Height)
	require.Equal(t, StateResolvingOutputs, alice.monitor.State())

	alice.monitor.BlockDisconnected(200)
	require.Equal(t, StateClosing, alice.monitor.State())

	// While closing, the commitment is rebroadcast on every block.
	published := alice.broadcaster.published()
	alice.connect(200)
	require.Equal(t, published+1, alice.broadcaster.published())
	require.Equal(t, commitTx.TxHash(), alice.broadcaster.last().TxHash())

	events = alice.connect(201, commitTx)
	closes = eventsOf[*CloseDetected](events)
	require.Len(t, closes, 1)
	require.EqualValues(t, 201, closes[0].Height)
}

// TestMonitorCooperativeCloseSeen checks an unconfirmed cooperative close
// moves the monitor to closing, and its confirmation resolves the channel.
func TestMonitorCooperativeCloseSeen(t *testing.T) {
	t.Parallel()

	alice, _ := newTestMonitors(t, 600_000)

	chanPoint := alice.monitor.ChannelPoint()
	closeTx := wire.NewMsgTx(2)
	closeTx.AddTxIn(wire.NewTxIn(&chanPoint, nil, nil))
	closeTx.AddTxOut(&wire.TxOut{Value: 500_000, PkScript: testSweepScript})

	events := alice.monitor.TransactionSeen(closeTx)
	closes := eventsOf[*CloseDetected](events)
	require.Len(t, closes, 1)
	require.Equal(t, CloseTypeCooperative, closes[0].Type)
	require.Zero(t, closes[0].Height)
	require.Equal(t, StateClosing, alice.monitor.State())

	// Seeing it again reports nothing new.
	require.Empty(t, alice.monitor.TransactionSeen(closeTx))

	events = alice.connect(200, closeTx)
	closes = eventsOf[*CloseDetected](events)
	require.Len(t, closes, 1)
	require.EqualValues(t, 200, closes[0].Height)

	resolved := eventsOf[*ChannelResolved](events)
	require.Len(t, resolved, 1)
	require.Equal(t, CloseTypeCooperative, resolved[0].CloseType)
	require.Equal(t, StateResolved, alice.monitor.State())
	require.True(t, alice.persister.resolved)

	// A resolved monitor ignores the chain.
	alice.monitor.BlockDisconnected(200)
	require.Equal(t, StateResolved, alice.monitor.State())
}

// TestRestoreMonitor checks a monitor restored from the bbolt store holds the
// same state as the one that persisted the updates.
func TestRestoreMonitor(t *testing.T) {
	t.Parallel()

	backend, err := kvdb.Create(
		kvdb.BoltBackendName,
		filepath.Join(t.TempDir(), "channel.db"), true,
		kvdb.DefaultDBTimeout, false,
	)
	require.NoError(t, err)

	db, err := channeldb.CreateWithBackend(backend)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	store := channeldb.NewMonitorStore(db)

	alice, bob := lnwallet.CreateTestChannels(t, testCapacity, 600_000)
	withStore := func(cfg *MonitorConfig) {
		cfg.Persister = store
	}
	require.NoError(t, store.CreateMonitor(alice.Channel.Params()))

	aliceH := newMonitorHarness(t, alice, withStore)
	bobH := newMonitorHarness(t, bob)

	addHtlc(t, aliceH, bobH, 1, 50_000, 500)
	addHtlc(t, bobH, aliceH, 2, 30_000, 500)

	record, err := store.FetchMonitor(alice.Channel.ChannelPoint())
	require.NoError(t, err)
	require.False(t, record.Resolved)

	restored, err := RestoreMonitor(aliceH.cfg, record)
	require.NoError(t, err)

	original := aliceH.monitor
	require.Equal(t, original.applied, restored.applied)
	require.Equal(t, original.localCommit.Height, restored.localCommit.Height)
	require.Equal(
		t, original.localCommit.Tx.TxHash(),
		restored.localCommit.Tx.TxHash(),
	)
	require.Equal(t, original.remoteHeight, restored.remoteHeight)
	require.Equal(
		t, original.revocations.NumSecrets(),
		restored.revocations.NumSecrets(),
	)
	require.Len(t, restored.revokedCommits, len(original.revokedCommits))
	require.Equal(t, StateArmed, restored.State())

	// Replaying the persisted log into the restored monitor is a no-op.
	for _, update := range record.Updates {
		require.NoError(t, restored.ApplyUpdate(update))
	}
}

// TestMonitorGoToChainOffered checks our commitment is broadcast once an HTLC
// we offered reaches its expiry, and that the following force close of the
// channel doesn't broadcast it again.
func TestMonitorGoToChainOffered(t *testing.T) {
	t.Parallel()

	alice, bob := newTestMonitors(t, 600_000)
	htlcIndex := addHtlc(t, alice, bob, 1, 50_000, testHtlcExpiry)

	events := alice.connectRange(480, testHtlcExpiry-1)
	require.Empty(t, eventsOf[*HtlcDeadline](events))
	require.Zero(t, alice.broadcaster.published())
	require.Equal(t, StateArmed, alice.monitor.State())

	events = alice.connect(testHtlcExpiry)
	deadlines := eventsOf[*HtlcDeadline](events)
	require.Len(t, deadlines, 1)
	require.Equal(t, htlcIndex, deadlines[0].HtlcIndex)
	require.False(t, deadlines[0].Incoming)
	require.EqualValues(t, testHtlcExpiry, deadlines[0].Expiry)
	require.Equal(t, StateClosing, alice.monitor.State())

	commitTx := alice.broadcaster.last()
	require.NotNil(t, commitTx)
	require.Equal(t, alice.signedCommit().TxHash(), commitTx.TxHash())
	requireValidSpend(t, commitTx, alice.party.FundingTx)

	update, err := alice.party.Channel.ForceClose()
	require.NoError(t, err)
	alice.apply(update)
	require.Equal(t, 1, alice.broadcaster.published())

	// Bob doesn't know the preimage, the HTLC times out on chain.
	events = bob.connectRange(480, testHtlcExpiry+5)
	require.Empty(t, eventsOf[*HtlcDeadline](events))
	require.Zero(t, bob.broadcaster.published())
	require.Equal(t, StateArmed, bob.monitor.State())
}

// TestMonitorGoToChainIncoming checks an incoming HTLC we know the preimage
// of is claimed on chain the configured number of blocks before it expires.
func TestMonitorGoToChainIncoming(t *testing.T) {
	t.Parallel()

	aliceParty, bobParty := lnwallet.CreateTestChannels(
		t, testCapacity, 600_000,
	)
	alice := newMonitorHarness(t, aliceParty, func(cfg *MonitorConfig) {
		cfg.IncomingBroadcastDelta = 20
	})
	bob := newMonitorHarness(t, bobParty)

	htlcIndex := addHtlc(t, bob, alice, 2, 30_000, testHtlcExpiry)

	_, preimage := lnwallet.TestHtlc(2, 30_000, testHtlcExpiry)
	alice.apply(alice.party.Channel.PreimageUpdate(preimage))

	events := alice.connectRange(470, testHtlcExpiry-21)
	require.Empty(t, eventsOf[*HtlcDeadline](events))
	require.Zero(t, alice.broadcaster.published())

	events = alice.connect(testHtlcExpiry - 20)
	deadlines := eventsOf[*HtlcDeadline](events)
	require.Len(t, deadlines, 1)
	require.Equal(t, htlcIndex, deadlines[0].HtlcIndex)
	require.True(t, deadlines[0].Incoming)
	require.Equal(t, StateClosing, alice.monitor.State())
	requireValidSpend(t, alice.broadcaster.last(), alice.party.FundingTx)

	// Until the commitment confirms it's rebroadcast on every block.
	alice.connect(testHtlcExpiry - 19)
	require.Equal(t, 2, alice.broadcaster.published())
}
