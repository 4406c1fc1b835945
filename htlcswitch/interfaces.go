package htlcswitch

import (
	"errors"

	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/contractcourt"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwire"
)

// ErrInvoiceNotFound is returned by an InvoiceRegistry that doesn't know the
// payment hash.
var ErrInvoiceNotFound = errors.New("invoice not found")

// Peer is the transport towards the remote party of a channel. Messages are
// handed over in order, delivery and encryption are up to the implementation.
type Peer interface {
	// SendMessage queues the messages for delivery to the remote party.
	SendMessage(msgs ...lnwire.Message) error
}

// Invoice is a payment we expect to receive.
type Invoice struct {
	// Preimage settles HTLCs paying to the invoice.
	Preimage lntypes.Preimage

	// Amount is the amount requested. Zero accepts any amount.
	Amount lnwire.MilliSatoshi

	// PaymentAddr must be echoed by HTLCs carrying an MPP record.
	PaymentAddr [32]byte
}

// InvoiceRegistry supplies the preimages of the payments that terminate at
// this node.
type InvoiceRegistry interface {
	// LookupInvoice returns the invoice of the payment hash, or
	// ErrInvoiceNotFound.
	LookupInvoice(hash lntypes.Hash) (Invoice, error)

	// SettleInvoice records that the invoice was paid with amt.
	SettleInvoice(hash lntypes.Hash, amt lnwire.MilliSatoshi) error
}

// MonitorStore durably stores the channel monitors of the switch.
type MonitorStore interface {
	contractcourt.Persister

	// CreateMonitor registers a new channel with its static parameters.
	CreateMonitor(params *channeldb.ChannelParams) error
}

// A compile time check to ensure the bbolt store can back the switch.
var _ MonitorStore = (*channeldb.MonitorStore)(nil)

// EventSink receives the events of the switch. It is called synchronously
// and must not call back into the switch.
type EventSink interface {
	// NotifyEvent delivers a single event.
	NotifyEvent(event Event)
}

// ChannelLink is the read-only view of a link handed out by the switch.
type ChannelLink interface {
	// ChanID returns the channel id of the link.
	ChanID() lnwire.ChannelID

	// ShortChanID returns the short channel id, zero until the funding
	// transaction confirmed.
	ShortChanID() lnwire.ShortChannelID

	// Status returns the status of the channel state machine.
	Status() lnwallet.ChannelStatus

	// MonitorState returns the state of the channel monitor.
	MonitorState() contractcourt.MonitorState

	// EligibleToForward returns true if HTLCs can be added to the link.
	EligibleToForward() bool

	// Bandwidth returns the amount we can still send over the link.
	Bandwidth() lnwire.MilliSatoshi
}

// ForwardingPolicy is the fee and time lock policy applied to HTLCs we
// forward.
type ForwardingPolicy struct {
	// BaseFee is the flat fee charged for every forward.
	BaseFee lnwire.MilliSatoshi

	// FeeRate is the proportional fee in millionths of the forwarded
	// amount.
	FeeRate lnwire.MilliSatoshi

	// TimeLockDelta is the minimum difference between the expiry of the
	// incoming and the outgoing HTLC.
	TimeLockDelta uint32
}

// ExpectedFee returns the fee the policy charges for forwarding amt.
func (p ForwardingPolicy) ExpectedFee(
	amt lnwire.MilliSatoshi) lnwire.MilliSatoshi {

	return p.BaseFee + (amt*p.FeeRate)/1_000_000
}
