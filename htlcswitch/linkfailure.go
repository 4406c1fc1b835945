package htlcswitch

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwire"
)

var (
	// ErrLinkNotFound is returned when no link exists for a channel.
	ErrLinkNotFound = errors.New("link not found")

	// ErrLinkExists is returned when a link for the channel was already
	// added.
	ErrLinkExists = errors.New("link already exists")

	// ErrLinkStalled is returned for every operation on a link whose
	// monitor update couldn't be persisted. The link can't make progress
	// without risking funds and stays stalled until it's removed.
	ErrLinkStalled = errors.New("link stalled after persistence failure")

	// ErrChannelClosed is returned for messages on a link whose channel
	// was closed on chain.
	ErrChannelClosed = errors.New("channel closed on chain")

	// ErrUnknownNextPeer is returned when an HTLC is routed to a channel
	// we don't know, or that can't carry HTLCs.
	ErrUnknownNextPeer = errors.New("unknown or ineligible next hop")
)

// LinkFailureError encapsulates an error that made us fail a link. It tells
// whether the channel was force closed in the process, and if an error was
// sent to the peer.
type LinkFailureError struct {
	// failure is the error this LinkFailureError encapsulates.
	failure error

	// ForceClose indicates whether the channel was force closed because
	// of this error.
	ForceClose bool

	// SendData is the error sent to the peer, empty if none was sent.
	SendData string
}

// A compile time check to ensure LinkFailureError implements the error
// interface.
var _ error = (*LinkFailureError)(nil)

// Error returns a generic error for the LinkFailureError.
//
// NOTE: Part of the error interface.
func (e *LinkFailureError) Error() string {
	return fmt.Sprintf("link failed (force_close=%v): %v", e.ForceClose,
		e.failure)
}

// Unwrap returns the encapsulated error.
func (e *LinkFailureError) Unwrap() error {
	return e.failure
}

// WireError returns a boolean indicating whether we should send an error to
// our peer and an appropriate wire error.
func (e *LinkFailureError) WireError(chanID lnwire.ChannelID) (*lnwire.Error,
	bool) {

	if e.SendData == "" {
		return nil, false
	}

	return lnwire.NewError(chanID, e.SendData), true
}

// newProtocolFailure wraps a protocol violation of the remote party. The
// channel state machine already moved to ForceClosed.
func newProtocolFailure(pv *lnwallet.ProtocolViolation) *LinkFailureError {
	return &LinkFailureError{
		failure:    pv,
		ForceClose: true,
		SendData:   pv.Err.Error(),
	}
}
