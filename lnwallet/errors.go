package lnwallet

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/chancore/channeldb"
)

var (
	// ErrInsufficientFunds is returned when the fee or the dust rules would
	// drive one side of a commitment below zero.
	ErrInsufficientFunds = errors.New("insufficient funds to cover the " +
		"commitment fee")

	// ErrExceedsCapacity is returned when a proposed HTLC would violate the
	// remaining capacity, the reserve, or the in-flight limits of the
	// channel.
	ErrExceedsCapacity = errors.New("htlc exceeds the channel capacity")

	// ErrBelowDustLimit is returned when a proposed HTLC is smaller than
	// the minimum HTLC value of the channel.
	ErrBelowDustLimit = errors.New("htlc amount below the minimum htlc " +
		"value")

	// ErrExpiryTooSoon is returned when a proposed HTLC expires too close
	// to the current best height.
	ErrExpiryTooSoon = errors.New("htlc expiry is too soon")

	// ErrInvalidHtlcAdd is returned when the remote party adds an HTLC that
	// violates the negotiated channel limits.
	ErrInvalidHtlcAdd = errors.New("invalid htlc add")

	// ErrPreimageMismatch is returned when the preimage of a settle does
	// not hash to the payment hash of the HTLC.
	ErrPreimageMismatch = errors.New("preimage does not match payment " +
		"hash")

	// ErrRevocationOrdering is returned when we are asked to revoke our
	// current commitment before a new, valid commitment was received.
	ErrRevocationOrdering = errors.New("unable to revoke, no unacked " +
		"commitment received")

	// ErrUnexpectedRevocation is returned when the remote party revokes a
	// commitment while we have no unacked commitment outstanding.
	ErrUnexpectedRevocation = errors.New("unexpected revocation")

	// ErrInvalidRevocation is returned when a revocation secret does not
	// derive the commitment point of the revoked remote commitment.
	ErrInvalidRevocation = errors.New("revocation secret does not match " +
		"commitment point")

	// ErrNoUpdates is returned when a new commitment is requested while
	// there are no updates to sign.
	ErrNoUpdates = errors.New("no updates to sign")

	// ErrNoWindow is returned when a new commitment is requested while the
	// remote party has not yet revoked the last one we signed.
	ErrNoWindow = errors.New("unable to sign new commitment, the remote " +
		"party has not revoked the prior one")

	// ErrNoRevocationPoint is returned when we need the next commitment
	// point of the remote party but haven't received it yet.
	ErrNoRevocationPoint = errors.New("next remote commitment point " +
		"unknown")

	// ErrInvalidCommitSig is returned when the remote commitment signature
	// doesn't verify.
	ErrInvalidCommitSig = errors.New("invalid commitment signature")

	// ErrInvalidHtlcSig is returned when one of the remote HTLC signatures
	// doesn't verify.
	ErrInvalidHtlcSig = errors.New("invalid htlc signature")

	// ErrUnknownHtlcIndex is returned when an update references an HTLC
	// that doesn't exist.
	ErrUnknownHtlcIndex = errors.New("unknown htlc index")

	// ErrHtlcAlreadyResolved is returned when an HTLC is settled or failed
	// twice.
	ErrHtlcAlreadyResolved = errors.New("htlc already settled or failed")

	// ErrHtlcNotLockedIn is returned when an HTLC is resolved before it
	// was committed on both commitments.
	ErrHtlcNotLockedIn = errors.New("htlc is not locked in")

	// ErrInvalidState is returned when an operation is not allowed in the
	// current state of the channel.
	ErrInvalidState = errors.New("operation not allowed in channel state")

	// ErrChanClosing is returned when an HTLC is added to a channel that is
	// shutting down.
	ErrChanClosing = errors.New("channel is being closed")

	// ErrPendingHtlcs is returned when the closing transaction is
	// requested while HTLCs are still active.
	ErrPendingHtlcs = errors.New("channel still has pending htlcs")
)

// ErrHtlcIndexOutOfOrder is returned when the remote party adds an HTLC with
// an unexpected index.
func ErrHtlcIndexOutOfOrder(expected, got uint64) error {
	return fmt.Errorf("%w: expected htlc index %v, got %v",
		ErrInvalidHtlcAdd, expected, got)
}

// ProtocolViolation is returned whenever the remote party broke the channel
// protocol. The channel is force closed and Update instructs the watcher to
// broadcast the latest local commitment. Update must be persisted like any
// other monitor update.
type ProtocolViolation struct {
	// Err is the cause of the violation.
	Err error

	// Update is the force close update of the channel.
	Update *channeldb.ChannelMonitorUpdate
}

// Error returns a human readable description of the violation.
func (p *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %v", p.Err)
}

// Unwrap returns the cause of the violation.
func (p *ProtocolViolation) Unwrap() error {
	return p.Err
}
