package lnwallet

import (
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwire"
)

// updateType is the exact type of an entry within the shared HTLC log.
type updateType uint8

const (
	// Add is an update type that adds a new HTLC entry into the log.
	// Either side can add a new pending HTLC by adding a new Add entry
	// into their update log.
	Add updateType = iota

	// Fail is an update type which removes a prior HTLC entry from the
	// log. Adding a Fail entry to ones log will modify the _remote_
	// parties update log once a new commitment view has been evaluated
	// which contains the Fail entry.
	Fail

	// Settle is an update type which settles a prior HTLC crediting the
	// balance of the receiving node. Adding a Settle entry to a log will
	// result in the settle entry being removed on the log as well as the
	// original add entry from the remote party's log after the next state
	// transition.
	Settle
)

// String returns a human readable string that uniquely identifies the target
// update type.
func (u updateType) String() string {
	switch u {
	case Add:
		return "Add"
	case Fail:
		return "Fail"
	case Settle:
		return "Settle"
	default:
		return "<unknown type>"
	}
}

// PaymentDescriptor represents a commitment state update which either adds,
// settles, or removes an HTLC. PaymentDescriptors encapsulate all necessary
// metadata w.r.t to an HTLC, and additional data pairing a settle message to
// the original added HTLC.
type PaymentDescriptor struct {
	// ChanID is the channel the update belongs to.
	ChanID lnwire.ChannelID

	// RHash is the payment hash for this HTLC. The HTLC can be settled iff
	// the preimage to this hash is presented.
	RHash lntypes.Hash

	// RPreimage is the preimage that settles the HTLC pointed to within the
	// log by the ParentIndex.
	RPreimage lntypes.Preimage

	// Timeout is the absolute timeout in blocks, after which this HTLC
	// expires.
	Timeout uint32

	// Amount is the HTLC amount in milli-satoshis. Settle and Fail entries
	// carry the amount of their parent.
	Amount lnwire.MilliSatoshi

	// LogIndex is the log entry number that his HTLC update has within the
	// log. Depending on if IsIncoming is true, this is either an entry the
	// remote party added, or one that we added locally.
	LogIndex uint64

	// HtlcIndex is the index within the main update log for this HTLC.
	// Entries within the log of type Add will have this field populated,
	// as other entries will point to the entry via this counter.
	//
	// NOTE: This field will only be populate if EntryType is Add.
	HtlcIndex uint64

	// ParentIndex is the HTLC index of the entry that this update settles
	// or times out.
	//
	// NOTE: This field will only be populate if EntryType is Fail or
	// Settle.
	ParentIndex uint64

	// OnionBlob is an opaque blob which is used to complete multi-hop
	// routing.
	//
	// NOTE: Populated only on add payment descriptor entry types.
	OnionBlob [lnwire.OnionPacketSize]byte

	// FailReason stores the reason why a particular payment was canceled.
	//
	// NOTE: Populate only in fail payment descriptor entry types.
	FailReason []byte

	// EntryType denotes the exact type of the PaymentDescriptor. In the
	// case of a Fail, or Settle type, then the Parent field will point
	// into the log to the HTLC being modified.
	EntryType updateType

	// addCommitHeights encodes the height of the commitment which included
	// this HTLC on either the remote or local commitment chain. This
	// value is used to determine when an HTLC is fully "locked-in".
	addCommitHeights lntypes.Dual[uint64]

	// removeCommitHeights encodes the height of the commitment which
	// removed the parent pointer of this PaymentDescriptor either due to a
	// timeout or a settle. Once both these heights are below the tail of
	// both chains, the log entries can safely be removed.
	removeCommitHeights lntypes.Dual[uint64]

	// isForwarded denotes if an incoming HTLC has been forwarded to any
	// possible upstream peers in the route.
	isForwarded bool
}

// toHTLC returns the builder form of an Add entry.
func (pd *PaymentDescriptor) toHTLC(incoming bool) HTLC {
	return HTLC{
		HtlcIndex: pd.HtlcIndex,
		Incoming:  incoming,
		Amount:    pd.Amount,
		RHash:     pd.RHash,
		Expiry:    pd.Timeout,
	}
}

// ToUpdateAddHTLC returns the wire message of an Add entry.
func (pd *PaymentDescriptor) ToUpdateAddHTLC() *lnwire.UpdateAddHTLC {
	return &lnwire.UpdateAddHTLC{
		ChanID:      pd.ChanID,
		ID:          pd.HtlcIndex,
		Amount:      pd.Amount,
		PaymentHash: pd.RHash,
		Expiry:      pd.Timeout,
		OnionBlob:   pd.OnionBlob,
	}
}
