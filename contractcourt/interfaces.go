package contractcourt

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/channeldb"
)

// Broadcaster publishes transactions to the network. Publishing is best
// effort, a failed attempt is retried on the next block.
type Broadcaster interface {
	// PublishTransaction broadcasts the transaction with a wallet label.
	PublishTransaction(tx *wire.MsgTx, label string) error
}

// Persister durably stores the monitor updates of a channel.
type Persister interface {
	// PersistUpdate appends the update to the channel's update log. The
	// update must survive a crash once nil is returned.
	PersistUpdate(chanPoint wire.OutPoint,
		update *channeldb.ChannelMonitorUpdate) error

	// MarkResolved records that every output of the channel was resolved
	// and the monitor can be forgotten.
	MarkResolved(chanPoint wire.OutPoint) error
}

// A compile time check to ensure the bbolt store can back a monitor.
var _ Persister = (*channeldb.MonitorStore)(nil)
