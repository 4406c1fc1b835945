package htlcswitch

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwire"
)

// FailureReason classifies why a payment we sent failed.
type FailureReason uint8

const (
	// FailureReasonLocalCapacity is a payment our first hop channel
	// refused to carry.
	FailureReasonLocalCapacity FailureReason = iota

	// FailureReasonRemote is a payment the recipient rejected, or whose
	// failure we can't interpret.
	FailureReasonRemote

	// FailureReasonRoute is a payment that failed at a node along the
	// route.
	FailureReasonRoute
)

// String returns a human readable failure reason.
func (r FailureReason) String() string {
	switch r {
	case FailureReasonLocalCapacity:
		return "LocalCapacity"

	case FailureReasonRemote:
		return "RemoteFailure"

	case FailureReasonRoute:
		return "RouteFailure"

	default:
		return fmt.Sprintf("FailureReason(%d)", uint8(r))
	}
}

// classifyFailure interprets the reason of a fail that came back for one of
// our payments. The reason is never modified along the route, so the code is
// the one of the failing node.
func classifyFailure(reason lnwire.OpaqueReason) (FailureReason,
	lnwire.FailCode) {

	failure, err := lnwire.DecodeFailure(reason)
	if err != nil {
		log.Debugf("Unable to decode failure reason %x: %v",
			[]byte(reason), err)

		return FailureReasonRemote, lnwire.CodeNone
	}

	if failure.Code.IsFinalNode() {
		return FailureReasonRemote, failure.Code
	}

	return FailureReasonRoute, failure.Code
}

// encodeFailure creates the reason of a fail originating at this node.
func encodeFailure(code lnwire.FailCode) lnwire.OpaqueReason {
	// A failure without data always fits.
	reason, err := lnwire.EncodeFailure(lnwire.NewFailure(code))
	if err != nil {
		panic(err)
	}

	return reason
}

// addErrorCode maps the reason an outgoing channel refused an HTLC to the
// failure sent back to the origin.
func addErrorCode(err error) lnwire.FailCode {
	switch {
	case errors.Is(err, lnwallet.ErrExpiryTooSoon):
		return lnwire.CodeExpiryTooSoon

	case errors.Is(err, lnwallet.ErrBelowDustLimit):
		return lnwire.CodeAmountBelowMinimum

	default:
		return lnwire.CodeTemporaryChannelFailure
	}
}
