package contractcourt

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/lntypes"
)

// CloseType tells how the funding output of a channel was spent.
type CloseType uint8

const (
	// CloseTypeCooperative is a mutually signed closing transaction.
	CloseTypeCooperative CloseType = iota

	// CloseTypeLocalForce is our own latest commitment.
	CloseTypeLocalForce

	// CloseTypeRemoteForce is a current or pending commitment of the
	// remote party.
	CloseTypeRemoteForce

	// CloseTypeBreach is a revoked commitment of the remote party.
	CloseTypeBreach

	// CloseTypeUnknown is a spend of the funding output we can't match
	// with any state we know of.
	CloseTypeUnknown
)

// String returns a human readable close type.
func (c CloseType) String() string {
	switch c {
	case CloseTypeCooperative:
		return "Cooperative"

	case CloseTypeLocalForce:
		return "LocalForce"

	case CloseTypeRemoteForce:
		return "RemoteForce"

	case CloseTypeBreach:
		return "Breach"

	case CloseTypeUnknown:
		return "Unknown"

	default:
		return fmt.Sprintf("CloseType(%d)", uint8(c))
	}
}

// Event is a chain event the monitor reports to its owner.
type Event interface {
	// ChannelPoint is the funding outpoint of the channel.
	ChannelPoint() wire.OutPoint
}

// FundingConfirmed is reported once the funding transaction reached the
// required number of confirmations.
type FundingConfirmed struct {
	ChanPoint wire.OutPoint

	// Height is the height the funding transaction confirmed at.
	Height uint32
}

// ChannelPoint returns the funding outpoint of the channel.
func (e *FundingConfirmed) ChannelPoint() wire.OutPoint {
	return e.ChanPoint
}

// CloseDetected is reported when a transaction spending the funding output
// was seen. Height is zero for a transaction seen unconfirmed.
type CloseDetected struct {
	ChanPoint wire.OutPoint

	// Type is the close classification.
	Type CloseType

	// CloseTx is the transaction spending the funding output.
	CloseTx *wire.MsgTx

	// Height is the confirmation height of CloseTx.
	Height uint32
}

// ChannelPoint returns the funding outpoint of the channel.
func (e *CloseDetected) ChannelPoint() wire.OutPoint {
	return e.ChanPoint
}

// HtlcDeadline is reported when an HTLC of our latest commitment came too
// close to its expiry to be resolved off chain. The monitor broadcast our
// commitment, the channel must be treated as force closed.
type HtlcDeadline struct {
	ChanPoint wire.OutPoint

	// HtlcIndex is the index of the HTLC in the log of the party that
	// offered it.
	HtlcIndex uint64

	// Incoming is true for an HTLC of the remote party we know the
	// preimage of.
	Incoming bool

	// Expiry is the absolute CLTV expiry of the HTLC.
	Expiry uint32

	// Height is the height the deadline was reached at.
	Height uint32
}

// ChannelPoint returns the funding outpoint of the channel.
func (e *HtlcDeadline) ChannelPoint() wire.OutPoint {
	return e.ChanPoint
}

// PreimageExtracted is reported when the remote party revealed the preimage
// of an HTLC we offered by claiming it on chain.
type PreimageExtracted struct {
	ChanPoint wire.OutPoint

	// HtlcIndex is the index of the HTLC in our log.
	HtlcIndex uint64

	// Preimage settles the HTLC.
	Preimage lntypes.Preimage
}

// ChannelPoint returns the funding outpoint of the channel.
func (e *PreimageExtracted) ChannelPoint() wire.OutPoint {
	return e.ChanPoint
}

// HtlcFailedOnChain is reported for an HTLC we offered that will never be
// claimed with a preimage: it was timed out on chain, trimmed from the
// confirmed commitment, or missing from it.
type HtlcFailedOnChain struct {
	ChanPoint wire.OutPoint

	// HtlcIndex is the index of the HTLC in our log.
	HtlcIndex uint64

	// RHash is the payment hash of the HTLC.
	RHash lntypes.Hash
}

// ChannelPoint returns the funding outpoint of the channel.
func (e *HtlcFailedOnChain) ChannelPoint() wire.OutPoint {
	return e.ChanPoint
}

// FundsSwept is reported when one of our sweeps confirmed.
type FundsSwept struct {
	ChanPoint wire.OutPoint

	// Txid is the hash of the confirmed sweep.
	Txid chainhash.Hash

	// Amount is the value we received.
	Amount btcutil.Amount

	// Justice is true if the sweep punished a revoked commitment.
	Justice bool
}

// ChannelPoint returns the funding outpoint of the channel.
func (e *FundsSwept) ChannelPoint() wire.OutPoint {
	return e.ChanPoint
}

// ChannelResolved is reported once every output of the close was resolved.
type ChannelResolved struct {
	ChanPoint wire.OutPoint

	// CloseType is how the channel was closed.
	CloseType CloseType
}

// ChannelPoint returns the funding outpoint of the channel.
func (e *ChannelResolved) ChannelPoint() wire.OutPoint {
	return e.ChanPoint
}
