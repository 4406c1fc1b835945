package htlcswitch

import (
	"testing"

	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/htlcswitch/hop"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testCircuit(inChan, inHtlc, outChan, outHtlc uint64) *PaymentCircuit {
	return &PaymentCircuit{
		Incoming: CircuitKey{
			ChanID: lnwire.NewShortChanIDFromInt(inChan),
			HtlcID: inHtlc,
		},
		Outgoing: CircuitKey{
			ChanID: lnwire.NewShortChanIDFromInt(outChan),
			HtlcID: outHtlc,
		},
	}
}

// TestCircuitMapDuplicates checks an outgoing HTLC has at most one circuit,
// and a forwarded incoming HTLC too.
func TestCircuitMapDuplicates(t *testing.T) {
	t.Parallel()

	m, err := newCircuitMap(nil)
	require.NoError(t, err)

	require.NoError(t, m.add(testCircuit(1, 0, 2, 0)))
	require.Error(t, m.add(testCircuit(3, 0, 2, 0)))
	require.Error(t, m.add(testCircuit(1, 0, 2, 1)))

	c, ok := m.lookupIncoming(CircuitKey{
		ChanID: lnwire.NewShortChanIDFromInt(1),
	})
	require.True(t, ok)
	require.Equal(t, uint64(2), c.Outgoing.ChanID.ToUint64())

	// Local payments all share the source channel.
	local1 := testCircuit(0, 0, 2, 5)
	local2 := testCircuit(0, 0, 2, 6)
	require.True(t, local1.IsLocal())
	require.NoError(t, m.add(local1))
	require.NoError(t, m.add(local2))
	require.Equal(t, 3, m.numOpen())

	closed, err := m.close(local1.Outgoing)
	require.NoError(t, err)
	require.Equal(t, local1, closed)

	_, err = m.close(local1.Outgoing)
	require.ErrorIs(t, err, ErrCircuitNotFound)

	_, err = m.close(CircuitKey{
		ChanID: lnwire.NewShortChanIDFromInt(2),
	})
	require.NoError(t, err)
	_, ok = m.lookupIncoming(CircuitKey{
		ChanID: lnwire.NewShortChanIDFromInt(1),
	})
	require.False(t, ok)
	require.Equal(t, 1, m.numOpen())
}

// TestCircuitMapModel checks the circuit map against a plain map for random
// sequences of adds and closes.
func TestCircuitMapModel(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		m, err := newCircuitMap(nil)
		require.NoError(t, err)
		model := make(map[CircuitKey]*PaymentCircuit)
		incoming := make(map[CircuitKey]struct{})

		genKey := func(label string) CircuitKey {
			return CircuitKey{
				ChanID: lnwire.NewShortChanIDFromInt(
					rapid.Uint64Range(0, 3).Draw(t, label+"Chan"),
				),
				HtlcID: rapid.Uint64Range(0, 3).Draw(t, label+"Htlc"),
			}
		}

		t.Repeat(map[string]func(*rapid.T){
			"add": func(t *rapid.T) {
				c := &PaymentCircuit{
					Incoming: genKey("in"),
					Outgoing: genKey("out"),
				}

				_, dupOut := model[c.Outgoing]
				_, dupIn := incoming[c.Incoming]
				dupIn = dupIn && !c.IsLocal()

				err := m.add(c)
				if dupOut || dupIn {
					require.Error(t, err)
					return
				}
				require.NoError(t, err)

				model[c.Outgoing] = c
				if !c.IsLocal() {
					incoming[c.Incoming] = struct{}{}
				}
			},
			"close": func(t *rapid.T) {
				key := genKey("close")

				c, err := m.close(key)
				expected, ok := model[key]
				if !ok {
					require.ErrorIs(t, err, ErrCircuitNotFound)
					return
				}
				require.NoError(t, err)
				require.Equal(t, expected, c)

				delete(model, key)
				delete(incoming, c.Incoming)
			},
			"": func(t *rapid.T) {
				require.Equal(t, len(model), m.numOpen())
				for key := range incoming {
					_, ok := m.lookupIncoming(key)
					require.True(t, ok)
				}
			},
		})
	})
}

// TestCircuitMapRestore checks open circuits survive reopening the
// database while closed ones are gone.
func TestCircuitMapRestore(t *testing.T) {
	t.Parallel()

	db, err := channeldb.Open(t.TempDir(), kvdb.DefaultDBTimeout)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	m, err := newCircuitMap(db)
	require.NoError(t, err)

	forward := testCircuit(1, 4, 2, 7)
	forward.PaymentHash = lntypes.Hash{0x01, 0x02}
	forward.IncomingAmount = 1_001_000
	forward.OutgoingAmount = 1_000_000

	local := testCircuit(0, 0, 2, 8)
	local.PaymentID = 42

	closedCircuit := testCircuit(3, 1, 2, 9)

	for _, c := range []*PaymentCircuit{forward, local, closedCircuit} {
		require.NoError(t, m.add(c))
	}
	_, err = m.close(closedCircuit.Outgoing)
	require.NoError(t, err)

	restored, err := newCircuitMap(db)
	require.NoError(t, err)
	require.Equal(t, 2, restored.numOpen())

	c, ok := restored.lookupIncoming(forward.Incoming)
	require.True(t, ok)
	require.Equal(t, forward, c)

	_, ok = restored.lookupIncoming(closedCircuit.Incoming)
	require.False(t, ok)

	c, err = restored.close(local.Outgoing)
	require.NoError(t, err)
	require.Equal(t, local, c)

	// The close is persisted as well.
	restored, err = newCircuitMap(db)
	require.NoError(t, err)
	require.Equal(t, 1, restored.numOpen())
}

// TestCircuitIsLocal checks circuits of our own payments are recognized.
func TestCircuitIsLocal(t *testing.T) {
	t.Parallel()

	c := &PaymentCircuit{Incoming: CircuitKey{ChanID: hop.Source}}
	require.True(t, c.IsLocal())

	c.Incoming.ChanID = lnwire.NewShortChanIDFromInt(1)
	require.False(t, c.IsLocal())
}
