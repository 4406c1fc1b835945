package htlcswitch

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/contractcourt"
	"github.com/lightningnetwork/chancore/lntypes"
	"github.com/lightningnetwork/chancore/lnwire"
)

// Event is a notification of the switch towards its owner.
type Event interface {
	// String returns a short description of the event.
	String() string

	eventSealed()
}

// PaymentReceived is sent once an HTLC paying to one of our invoices was
// settled.
type PaymentReceived struct {
	// ChanID is the channel the HTLC arrived on.
	ChanID lnwire.ChannelID

	// HtlcIndex is the index of the HTLC in the remote log.
	HtlcIndex uint64

	PaymentHash lntypes.Hash
	Amount      lnwire.MilliSatoshi
}

func (e *PaymentReceived) eventSealed() {}

// String returns a short description of the event.
func (e *PaymentReceived) String() string {
	return fmt.Sprintf("PaymentReceived(hash=%v, amt=%v)", e.PaymentHash,
		e.Amount)
}

// PaymentSent is sent once a payment we originated was settled.
type PaymentSent struct {
	// PaymentID is the identifier passed to SendHTLC.
	PaymentID uint64

	PaymentHash lntypes.Hash
	Preimage    lntypes.Preimage

	// Amount is the amount of the HTLC offered on the first hop.
	Amount lnwire.MilliSatoshi
}

func (e *PaymentSent) eventSealed() {}

// String returns a short description of the event.
func (e *PaymentSent) String() string {
	return fmt.Sprintf("PaymentSent(id=%v, hash=%v)", e.PaymentID,
		e.PaymentHash)
}

// PaymentFailed is sent once a payment we originated failed.
type PaymentFailed struct {
	// PaymentID is the identifier passed to SendHTLC.
	PaymentID uint64

	PaymentHash lntypes.Hash

	// Reason classifies the failure.
	Reason FailureReason

	// Code is the decoded failure code, CodeNone if the reason couldn't
	// be decoded or the failure happened locally.
	Code lnwire.FailCode

	// OpaqueReason is the reason as received, unchanged.
	OpaqueReason lnwire.OpaqueReason
}

func (e *PaymentFailed) eventSealed() {}

// String returns a short description of the event.
func (e *PaymentFailed) String() string {
	return fmt.Sprintf("PaymentFailed(id=%v, hash=%v, reason=%v, "+
		"code=%v)", e.PaymentID, e.PaymentHash, e.Reason, e.Code)
}

// ChannelClosed is sent once a transaction closing a channel confirmed.
type ChannelClosed struct {
	ChanPoint wire.OutPoint

	// Reason is how the channel was closed.
	Reason contractcourt.CloseType

	CloseTx *wire.MsgTx

	// Height is the confirmation height of CloseTx.
	Height uint32
}

func (e *ChannelClosed) eventSealed() {}

// String returns a short description of the event.
func (e *ChannelClosed) String() string {
	return fmt.Sprintf("ChannelClosed(%v, reason=%v, height=%v)",
		e.ChanPoint, e.Reason, e.Height)
}

// FundsReceivedOnChain is sent when one of our claims of a closed channel
// confirmed.
type FundsReceivedOnChain struct {
	ChanPoint wire.OutPoint
	Txid      chainhash.Hash
	Amount    btcutil.Amount

	// Justice is true if the claim punished a revoked commitment.
	Justice bool
}

func (e *FundsReceivedOnChain) eventSealed() {}

// String returns a short description of the event.
func (e *FundsReceivedOnChain) String() string {
	return fmt.Sprintf("FundsReceivedOnChain(%v, txid=%v, amt=%v, "+
		"justice=%v)", e.ChanPoint, e.Txid, e.Amount, e.Justice)
}
