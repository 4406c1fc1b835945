package htlcswitch

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/htlcswitch/hop"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/chancore/record"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/stretchr/testify/require"
)

var (
	testStartTime = time.Unix(1_700_000_000, 0)

	errPersistFailed = errors.New("disk on fire")
)

// mockStore wraps the bbolt monitor store and can be told to fail
// persisting updates.
type mockStore struct {
	*channeldb.MonitorStore

	failPersist atomic.Bool
}

func (m *mockStore) PersistUpdate(chanPoint wire.OutPoint,
	update *channeldb.ChannelMonitorUpdate) error {

	if m.failPersist.Load() {
		return errPersistFailed
	}

	return m.MonitorStore.PersistUpdate(chanPoint, update)
}

// mockBroadcaster records the transactions it was asked to publish.
type mockBroadcaster struct {
	mu  sync.Mutex
	txs []*wire.MsgTx
}

func (m *mockBroadcaster) PublishTransaction(tx *wire.MsgTx, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txs = append(m.txs, tx)

	return nil
}

// spending returns the last published transaction spending op.
func (m *mockBroadcaster) spending(op wire.OutPoint) *wire.MsgTx {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.txs) - 1; i >= 0; i-- {
		for _, txIn := range m.txs[i].TxIn {
			if txIn.PreviousOutPoint == op {
				return m.txs[i]
			}
		}
	}

	return nil
}

type mockRegistry struct {
	mu       sync.Mutex
	invoices map[lntypes.Hash]Invoice
	settled  map[lntypes.Hash]lnwire.MilliSatoshi
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		invoices: make(map[lntypes.Hash]Invoice),
		settled:  make(map[lntypes.Hash]lnwire.MilliSatoshi),
	}
}

func (m *mockRegistry) addInvoice(preimage lntypes.Preimage,
	amt lnwire.MilliSatoshi) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.invoices[preimage.Hash()] = Invoice{
		Preimage: preimage,
		Amount:   amt,
	}
}

func (m *mockRegistry) LookupInvoice(hash lntypes.Hash) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	invoice, ok := m.invoices[hash]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}

	return invoice, nil
}

func (m *mockRegistry) SettleInvoice(hash lntypes.Hash,
	amt lnwire.MilliSatoshi) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.settled[hash] = amt

	return nil
}

func (m *mockRegistry) isSettled(hash lntypes.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.settled[hash]
	return ok
}

type mockEventSink struct {
	mu     sync.Mutex
	events []Event
}

func (m *mockEventSink) NotifyEvent(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
}

func (m *mockEventSink) all() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Event(nil), m.events...)
}

// findEvents returns all recorded events of type T.
func findEvents[T Event](sink *mockEventSink) []T {
	var found []T
	for _, event := range sink.all() {
		if e, ok := event.(T); ok {
			found = append(found, e)
		}
	}

	return found
}

// requireEvent asserts exactly one event of type T was recorded and returns
// it.
func requireEvent[T Event](t *testing.T, sink *mockEventSink) T {
	t.Helper()

	found := findEvents[T](sink)
	require.Len(t, found, 1, "events: %v", sink.all())

	return found[0]
}

// mockPeer queues the messages of one side of a channel for the other side.
type mockPeer struct {
	mu   sync.Mutex
	dst  *testNode
	msgs []lnwire.Message

	// hold keeps the queued messages from being delivered.
	hold bool
}

func (m *mockPeer) SendMessage(msgs ...lnwire.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.msgs = append(m.msgs, msgs...)

	return nil
}

// pop returns the next deliverable message.
func (m *mockPeer) pop() (lnwire.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hold || len(m.msgs) == 0 {
		return nil, false
	}

	msg := m.msgs[0]
	m.msgs = m.msgs[1:]

	return msg, true
}

func (m *mockPeer) queued() []lnwire.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]lnwire.Message(nil), m.msgs...)
}

func (m *mockPeer) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.msgs = nil
}

// deliverOne hands the next queued message to the remote switch.
func (m *mockPeer) deliverOne(t *testing.T) lnwire.Message {
	t.Helper()

	msg, ok := m.pop()
	require.True(t, ok, "no message queued")
	require.NoError(t, m.dst.sw.ProcessMessage(msg))

	return msg
}

// testNode is a switch with mocked surroundings.
type testNode struct {
	name     string
	sw       *Switch
	store    *mockStore
	bcast    *mockBroadcaster
	registry *mockRegistry
	events   *mockEventSink
	clock    *clock.TestClock

	cfg      Config
	linkCfgs []LinkConfig
}

// restart replaces the switch of the node with a new one on the same
// database and restores the links of its channels. The channel state
// machines are carried over as they are.
func (n *testNode) restart(t *testing.T) {
	t.Helper()

	sw, err := New(n.cfg)
	require.NoError(t, err)

	for _, cfg := range n.linkCfgs {
		record, err := n.store.FetchMonitor(cfg.Channel.ChannelPoint())
		require.NoError(t, err)
		require.NoError(t, sw.RestoreLink(cfg, record))
	}

	n.sw = sw
}

// addLink adds a channel to the switch of the node and remembers it for
// restarts.
func (n *testNode) addLink(t *testing.T, cfg LinkConfig,
	updates ...*channeldb.ChannelMonitorUpdate) {

	t.Helper()

	require.NoError(t, n.sw.AddLink(cfg, updates...))
	n.linkCfgs = append(n.linkCfgs, cfg)
}

// testSweepScript is a p2wkh script.
func testSweepScript() ([]byte, error) {
	return append([]byte{0x00, 0x14}, bytes.Repeat([]byte{0x42}, 20)...),
		nil
}

func newTestNode(t *testing.T, name string) *testNode {
	t.Helper()

	db, err := channeldb.Open(t.TempDir(), kvdb.DefaultDBTimeout)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	node := &testNode{
		name:     name,
		store:    &mockStore{MonitorStore: channeldb.NewMonitorStore(db)},
		bcast:    &mockBroadcaster{},
		registry: newMockRegistry(),
		events:   &mockEventSink{},
		clock:    clock.NewTestClock(testStartTime),
	}

	node.cfg = Config{
		Store:       node.store,
		CircuitDB:   db,
		Broadcaster: node.bcast,
		FeeEstimator: chainfee.NewStaticEstimator(
			lnwallet.TestFeeRate, chainfee.FeePerKwFloor,
		),
		GenSweepScript:          testSweepScript,
		Registry:                node.registry,
		Notifier:                node.events,
		CloseNegotiationTimeout: time.Minute,
		Clock:                   node.clock,
		ChainParams:             &chaincfg.RegressionNetParams,
		BlockWorkers:            2,
		BestHeight:              lnwallet.TestBestHeight,
	}
	node.sw, err = New(node.cfg)
	require.NoError(t, err)

	return node
}

// testChannel is a channel between two test nodes.
type testChannel struct {
	// local is the funder, remote the fundee.
	local, remote *lnwallet.TestChannelParty

	// toRemote carries the messages of the funder, toLocal the ones of
	// the fundee.
	toRemote, toLocal *mockPeer

	scid lnwire.ShortChannelID
}

func (c *testChannel) chanID() lnwire.ChannelID {
	return c.local.Channel.ChanID()
}

func (c *testChannel) chanPoint() wire.OutPoint {
	return c.local.Channel.ChannelPoint()
}

// connect opens a channel funded by a towards b and adds it to both
// switches.
func connect(t *testing.T, a, b *testNode, aSeed, bSeed byte,
	scid lnwire.ShortChannelID, capacity,
	aBalance btcutil.Amount) *testChannel {

	t.Helper()

	aParty, bParty := lnwallet.CreateTestChannelsFromSeeds(
		t, aSeed, bSeed, capacity, aBalance, a.sw.ChannelOpts()...,
	)

	c := &testChannel{
		local:    aParty,
		remote:   bParty,
		toRemote: &mockPeer{dst: b},
		toLocal:  &mockPeer{dst: a},
		scid:     scid,
	}

	a.addLink(t, LinkConfig{
		Channel:     aParty.Channel,
		Signer:      aParty.Signer,
		Peer:        c.toRemote,
		ShortChanID: scid,
	}, aParty.InitialUpdate)

	b.addLink(t, LinkConfig{
		Channel:     bParty.Channel,
		Signer:      bParty.Signer,
		Peer:        c.toLocal,
		ShortChanID: scid,
	}, bParty.InitialUpdate)

	return c
}

var (
	abScid = lnwire.ShortChannelID{BlockHeight: 100, TxIndex: 1}
	bcScid = lnwire.ShortChannelID{BlockHeight: 100, TxIndex: 2}
)

const (
	testPaymentAmt = lnwire.MilliSatoshi(100_000_000)

	// testFinalCltv is the expiry of the HTLC reaching the recipient.
	testFinalCltv = 200
)

// testNetwork is Alice, Bob and Carol connected by the channels Alice-Bob
// and Bob-Carol. Alice and Bob fund their channels.
type testNetwork struct {
	t *testing.T

	alice, bob, carol *testNode

	ab, bc *testChannel
}

func newTestNetwork(t *testing.T) *testNetwork {
	t.Helper()

	n := &testNetwork{
		t:     t,
		alice: newTestNode(t, "alice"),
		bob:   newTestNode(t, "bob"),
		carol: newTestNode(t, "carol"),
	}

	n.ab = connect(
		t, n.alice, n.bob, 0xaa, 0xbb, abScid, 10_000_000, 5_000_000,
	)
	n.bc = connect(
		t, n.bob, n.carol, 0xb1, 0xcc, bcScid, 10_000_000, 1_000_000,
	)

	return n
}

func (n *testNetwork) peers() []*mockPeer {
	return []*mockPeer{
		n.ab.toRemote, n.ab.toLocal, n.bc.toRemote, n.bc.toLocal,
	}
}

// pump delivers queued messages until none are left.
func (n *testNetwork) pump() {
	n.t.Helper()

	for i := 0; i < 1000; i++ {
		delivered := false
		for _, peer := range n.peers() {
			msg, ok := peer.pop()
			if !ok {
				continue
			}
			delivered = true

			require.NoError(
				n.t, peer.dst.sw.ProcessMessage(msg),
				"%v handling %v", peer.dst.name, msg.MsgType(),
			)
		}

		if !delivered {
			return
		}
	}

	require.Fail(n.t, "message exchange didn't settle")
}

// routeHtlc returns an HTLC paying amt to Carol through Bob, and its
// preimage.
func (n *testNetwork) routeHtlc(id byte,
	amt lnwire.MilliSatoshi) (*lnwire.UpdateAddHTLC, lntypes.Preimage) {

	n.t.Helper()

	policy := n.bob.sw.cfg.FwdPolicy

	blob, err := hop.EncodeRoute([]*hop.Payload{
		{FwdInfo: hop.ForwardingInfo{
			NextHop:         bcScid,
			AmountToForward: amt,
			OutgoingCTLV:    testFinalCltv,
		}},
		{FwdInfo: hop.ForwardingInfo{
			AmountToForward: amt,
			OutgoingCTLV:    testFinalCltv,
		}},
	})
	require.NoError(n.t, err)

	htlc, preimage := lnwallet.TestHtlc(id, 0, 0)
	htlc.Amount = amt + policy.ExpectedFee(amt)
	htlc.Expiry = testFinalCltv + policy.TimeLockDelta
	htlc.OnionBlob = blob

	return htlc, preimage
}

// directHtlc returns an HTLC paying amt to the next hop with the given
// expiry, and its preimage.
func directHtlc(t *testing.T, id byte, amt lnwire.MilliSatoshi,
	expiry uint32, mpp *record.MPP) (*lnwire.UpdateAddHTLC,
	lntypes.Preimage) {

	t.Helper()

	blob, err := hop.EncodeRoute([]*hop.Payload{
		{
			FwdInfo: hop.ForwardingInfo{
				AmountToForward: amt,
				OutgoingCTLV:    expiry,
			},
			MPP: mpp,
		},
	})
	require.NoError(t, err)

	htlc, preimage := lnwallet.TestHtlc(id, 0, expiry)
	htlc.Amount = amt
	htlc.OnionBlob = blob

	return htlc, preimage
}

// getLink returns the link of a channel on a node.
func getLink(t *testing.T, node *testNode,
	chanID lnwire.ChannelID) *channelLink {

	t.Helper()

	link, ok := node.sw.links.Load(chanID)
	require.True(t, ok, "no link %v on %v", chanID, node.name)

	return link
}

// newTestBlock returns a block with a coinbase followed by txs.
func newTestBlock(txs ...*wire.MsgTx) *wire.MsgBlock {
	coinbase := wire.NewMsgTx(2)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  []byte{0x01, 0x02},
	})
	coinbase.AddTxOut(&wire.TxOut{Value: 50_0000_0000})

	return &wire.MsgBlock{
		Transactions: append([]*wire.MsgTx{coinbase}, txs...),
	}
}

// connectBlock feeds a block to every given node.
func connectBlock(t *testing.T, block *wire.MsgBlock, height uint32,
	nodes ...*testNode) {

	t.Helper()

	for _, node := range nodes {
		require.NoError(
			t, node.sw.BlockConnected(context.Background(), block,
				height),
		)
	}
}
