package htlcswitch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/htlcswitch/hop"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/lnd/kvdb"
)

var (
	// ErrCircuitNotFound is returned when a settle or fail doesn't match
	// any HTLC we forwarded or sent.
	ErrCircuitNotFound = errors.New("payment circuit not found")

	// ErrCorruptedCircuitMap indicates the on-disk bucket of the circuit
	// map is missing.
	ErrCorruptedCircuitMap = errors.New("circuit map has been corrupted")

	// circuitBucket holds the open circuits keyed by their outgoing
	// circuit key.
	circuitBucket = []byte("circuits")
)

// CircuitKey uniquely identifies an HTLC on one of our channels.
type CircuitKey struct {
	// ChanID is the short channel id of the channel carrying the HTLC.
	ChanID lnwire.ShortChannelID

	// HtlcID is the index of the HTLC in the log of the party that
	// offered it.
	HtlcID uint64
}

// String returns a human readable circuit key.
func (k CircuitKey) String() string {
	return fmt.Sprintf("(Chan ID=%v, HTLC ID=%d)", k.ChanID, k.HtlcID)
}

// Bytes returns the big endian encoding of the key.
func (k CircuitKey) Bytes() []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], k.ChanID.ToUint64())
	binary.BigEndian.PutUint64(b[8:], k.HtlcID)

	return b[:]
}

// Encode writes the key to w.
func (k CircuitKey) Encode(w io.Writer) error {
	return channeldb.WriteElements(w, k.ChanID.ToUint64(), k.HtlcID)
}

// Decode reads a key written by Encode.
func (k *CircuitKey) Decode(r io.Reader) error {
	var scid uint64
	if err := channeldb.ReadElements(r, &scid, &k.HtlcID); err != nil {
		return err
	}
	k.ChanID = lnwire.NewShortChanIDFromInt(scid)

	return nil
}

// PaymentCircuit ties an HTLC we offered to the HTLC it was created for. The
// settle or fail of the outgoing HTLC travels back along the circuit.
type PaymentCircuit struct {
	// Incoming identifies the HTLC we received. Its ChanID is hop.Source
	// for payments we originated.
	Incoming CircuitKey

	// Outgoing identifies the HTLC we offered.
	Outgoing CircuitKey

	// PaymentID is the identifier of a payment we originated.
	PaymentID uint64

	PaymentHash lntypes.Hash

	// IncomingAmount and OutgoingAmount are the values of both HTLCs, the
	// difference is our fee.
	IncomingAmount lnwire.MilliSatoshi
	OutgoingAmount lnwire.MilliSatoshi
}

// IsLocal returns true if we originated the payment.
func (c *PaymentCircuit) IsLocal() bool {
	return c.Incoming.ChanID == hop.Source
}

// String returns a human readable circuit.
func (c *PaymentCircuit) String() string {
	return fmt.Sprintf("%v -> %v", c.Incoming, c.Outgoing)
}

// Encode writes the circuit to w.
func (c *PaymentCircuit) Encode(w io.Writer) error {
	if err := c.Incoming.Encode(w); err != nil {
		return err
	}
	if err := c.Outgoing.Encode(w); err != nil {
		return err
	}

	return channeldb.WriteElements(w,
		c.PaymentID, [32]byte(c.PaymentHash), c.IncomingAmount,
		c.OutgoingAmount,
	)
}

// Decode reads a circuit written by Encode.
func (c *PaymentCircuit) Decode(r io.Reader) error {
	if err := c.Incoming.Decode(r); err != nil {
		return err
	}
	if err := c.Outgoing.Decode(r); err != nil {
		return err
	}

	return channeldb.ReadElements(r,
		&c.PaymentID, (*[32]byte)(&c.PaymentHash), &c.IncomingAmount,
		&c.OutgoingAmount,
	)
}

// circuitMap holds the open circuits keyed by their outgoing HTLC. With a
// database, every circuit is written to disk before it's opened in memory
// and removed from disk when it's closed, so the resolution of an HTLC in
// flight during a restart still finds its way back.
type circuitMap struct {
	mu sync.Mutex

	// db persists the circuits, nil keeps them in memory only.
	db kvdb.Backend

	// open maps the outgoing HTLC to its circuit.
	open map[CircuitKey]*PaymentCircuit

	// incoming indexes the circuits by their incoming HTLC, to refuse
	// forwarding the same HTLC twice.
	incoming map[CircuitKey]*PaymentCircuit
}

// newCircuitMap creates a circuit map and loads the circuits persisted in
// db. A nil db yields an empty in-memory map.
func newCircuitMap(db kvdb.Backend) (*circuitMap, error) {
	m := &circuitMap{
		db:       db,
		open:     make(map[CircuitKey]*PaymentCircuit),
		incoming: make(map[CircuitKey]*PaymentCircuit),
	}

	if db == nil {
		return m, nil
	}

	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(circuitBucket)
		return err
	}, func() {})
	if err != nil {
		return nil, err
	}

	if err := m.restoreMemState(); err != nil {
		return nil, err
	}

	return m, nil
}

// restoreMemState loads the persisted circuits into memory.
func (m *circuitMap) restoreMemState() error {
	var circuits []*PaymentCircuit
	err := kvdb.View(m.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(circuitBucket)
		if bucket == nil {
			return ErrCorruptedCircuitMap
		}

		return bucket.ForEach(func(_, v []byte) error {
			c := &PaymentCircuit{}
			if err := c.Decode(bytes.NewReader(v)); err != nil {
				return err
			}
			circuits = append(circuits, c)

			return nil
		})
	}, func() {
		circuits = nil
	})
	if err != nil {
		return fmt.Errorf("unable to restore circuits: %w", err)
	}

	for _, c := range circuits {
		m.open[c.Outgoing] = c
		if !c.IsLocal() {
			m.incoming[c.Incoming] = c
		}
	}

	if len(circuits) > 0 {
		log.Infof("Restored %v open circuits", len(circuits))
	}

	return nil
}

// persist runs f against the circuit bucket if the map has a database.
func (m *circuitMap) persist(f func(bucket kvdb.RwBucket) error) error {
	if m.db == nil {
		return nil
	}

	return kvdb.Update(m.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(circuitBucket)
		if bucket == nil {
			return ErrCorruptedCircuitMap
		}

		return f(bucket)
	}, func() {})
}

// add opens a circuit. Adding a circuit for an outgoing or a forwarded
// incoming HTLC that already has one is an error.
func (m *circuitMap) add(c *PaymentCircuit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.open[c.Outgoing]; ok {
		return fmt.Errorf("duplicate circuit for outgoing htlc %v",
			c.Outgoing)
	}

	if !c.IsLocal() {
		if _, ok := m.incoming[c.Incoming]; ok {
			return fmt.Errorf("duplicate circuit for incoming "+
				"htlc %v", c.Incoming)
		}
	}

	var b bytes.Buffer
	if err := c.Encode(&b); err != nil {
		return err
	}
	err := m.persist(func(bucket kvdb.RwBucket) error {
		return bucket.Put(c.Outgoing.Bytes(), b.Bytes())
	})
	if err != nil {
		return fmt.Errorf("unable to persist circuit %v: %w", c, err)
	}

	if !c.IsLocal() {
		m.incoming[c.Incoming] = c
	}
	m.open[c.Outgoing] = c

	log.Tracef("Opened circuit %v", c)

	return nil
}

// lookupIncoming returns the circuit of a forwarded incoming HTLC.
func (m *circuitMap) lookupIncoming(key CircuitKey) (*PaymentCircuit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.incoming[key]
	return c, ok
}

// close removes and returns the circuit of an outgoing HTLC.
func (m *circuitMap) close(outgoing CircuitKey) (*PaymentCircuit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.open[outgoing]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrCircuitNotFound, outgoing)
	}

	err := m.persist(func(bucket kvdb.RwBucket) error {
		return bucket.Delete(outgoing.Bytes())
	})
	if err != nil {
		return nil, fmt.Errorf("unable to delete circuit %v: %w", c,
			err)
	}

	delete(m.open, outgoing)
	if !c.IsLocal() {
		delete(m.incoming, c.Incoming)
	}

	log.Tracef("Closed circuit %v", c)

	return c, nil
}

// numOpen returns the number of open circuits.
func (m *circuitMap) numOpen() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.open)
}
