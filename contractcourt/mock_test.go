package contractcourt

import (
	"bytes"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/stretchr/testify/require"
)

// mockBroadcaster records every published transaction.
type mockBroadcaster struct {
	mu     sync.Mutex
	txs    []*wire.MsgTx
	labels []string
	err    error
}

func (b *mockBroadcaster) PublishTransaction(tx *wire.MsgTx,
	label string) error {

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return b.err
	}

	b.txs = append(b.txs, tx)
	b.labels = append(b.labels, label)

	return nil
}

// published returns the number of published transactions.
func (b *mockBroadcaster) published() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.txs)
}

// last returns the most recently published transaction.
func (b *mockBroadcaster) last() *wire.MsgTx {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.txs) == 0 {
		return nil
	}

	return b.txs[len(b.txs)-1]
}

// spending returns the most recently published transaction spending op.
func (b *mockBroadcaster) spending(op wire.OutPoint) *wire.MsgTx {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.txs) - 1; i >= 0; i-- {
		for _, txIn := range b.txs[i].TxIn {
			if txIn.PreviousOutPoint == op {
				return b.txs[i]
			}
		}
	}

	return nil
}

// mockPersister keeps updates in memory and can be made to fail.
type mockPersister struct {
	mu       sync.Mutex
	updates  []*channeldb.ChannelMonitorUpdate
	resolved bool
	err      error
}

func (p *mockPersister) PersistUpdate(_ wire.OutPoint,
	update *channeldb.ChannelMonitorUpdate) error {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.updates = append(p.updates, update)

	return nil
}

func (p *mockPersister) MarkResolved(wire.OutPoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.resolved = true

	return nil
}

// numUpdates returns the number of persisted updates.
func (p *mockPersister) numUpdates() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.updates)
}

// testSweepScript is the p2wkh script all test claims pay to.
var testSweepScript = append(
	[]byte{txscript.OP_0, txscript.OP_DATA_20},
	bytes.Repeat([]byte{0x42}, 20)...,
)

// requireValidSpend executes the scripts of every input of tx against the
// outputs of prevTxs.
func requireValidSpend(t *testing.T, tx *wire.MsgTx, prevTxs ...*wire.MsgTx) {
	t.Helper()

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, prev := range prevTxs {
		txid := prev.TxHash()
		for i, out := range prev.TxOut {
			fetcher.AddPrevOut(
				wire.OutPoint{Hash: txid, Index: uint32(i)}, out,
			)
		}
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, txIn := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		require.NotNil(t, prevOut, "unknown prevout %v",
			txIn.PreviousOutPoint)

		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %v", i)
	}
}

// eventsOf returns the events of type T.
func eventsOf[T Event](events []Event) []T {
	var matched []T
	for _, e := range events {
		if m, ok := e.(T); ok {
			matched = append(matched, m)
		}
	}

	return matched
}
