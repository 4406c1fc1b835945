package htlcswitch

import (
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwire"
)

// htlcPacket is a wrapper around an htlc lnwire update, which adds the
// information the switch needs to route it.
type htlcPacket struct {
	// incoming identifies the HTLC we received. For adds it is the HTLC
	// being forwarded, hop.Source for payments we originate.
	incoming CircuitKey

	// outgoing identifies the HTLC we offered. For adds only the channel
	// is known, for settles and fails it is the HTLC being resolved.
	outgoing CircuitKey

	// paymentID identifies a payment we originate.
	paymentID uint64

	payHash lntypes.Hash

	// incomingAmount is the value of the incoming HTLC of an add.
	incomingAmount lnwire.MilliSatoshi

	// htlc is the update to route: *lnwire.UpdateAddHTLC,
	// *lnwire.UpdateFulfillHTLC or *lnwire.UpdateFailHTLC.
	htlc lnwire.Message

	// circuit is set for settles and fails whose circuit was already
	// closed.
	circuit *PaymentCircuit

	// onChain is set for resolutions learned from the chain.
	onChain bool
}

// newAddPacket creates a packet forwarding an HTLC out of a channel.
func newAddPacket(incoming CircuitKey, incomingAmt lnwire.MilliSatoshi,
	outgoingChan lnwire.ShortChannelID,
	htlc *lnwire.UpdateAddHTLC) *htlcPacket {

	return &htlcPacket{
		incoming:       incoming,
		outgoing:       CircuitKey{ChanID: outgoingChan},
		payHash:        htlc.PaymentHash,
		incomingAmount: incomingAmt,
		htlc:           htlc,
	}
}

// newSettlePacket creates a packet carrying the preimage of an HTLC we
// offered back along its circuit.
func newSettlePacket(outgoing CircuitKey,
	preimage lntypes.Preimage) *htlcPacket {

	return &htlcPacket{
		outgoing: outgoing,
		payHash:  preimage.Hash(),
		htlc: &lnwire.UpdateFulfillHTLC{
			ID:              outgoing.HtlcID,
			PaymentPreimage: preimage,
		},
	}
}

// newFailPacket creates a packet carrying the failure of an HTLC we offered
// back along its circuit.
func newFailPacket(outgoing CircuitKey, payHash lntypes.Hash,
	reason lnwire.OpaqueReason) *htlcPacket {

	return &htlcPacket{
		outgoing: outgoing,
		payHash:  payHash,
		htlc: &lnwire.UpdateFailHTLC{
			ID:     outgoing.HtlcID,
			Reason: reason,
		},
	}
}
