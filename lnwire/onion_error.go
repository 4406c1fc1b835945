package lnwire

import (
	"bytes"
	"errors"
	"fmt"
)

// FailCode specifies the precise reason that an upstream HTLC was canceled.
// Each UpdateFailHTLC message carries a FailCode which is to be passed
// backwards, encrypted at each step back to the source of the HTLC within the
// route.
type FailCode uint16

// The currently defined onion failure types within this current version of the
// Lightning protocol.
const (
	// FlagBadOnion error flag describes an unparsable, encrypted by
	// previous node.
	FlagBadOnion FailCode = 0x8000

	// FlagPerm error flag indicates a permanent failure.
	FlagPerm FailCode = 0x4000

	// FlagNode error flag indicates a node failure.
	FlagNode FailCode = 0x2000

	// FlagUpdate error flag indicates a new channel update is enclosed
	// within the error.
	FlagUpdate FailCode = 0x1000
)

const (
	CodeNone                             FailCode = 0
	CodeTemporaryChannelFailure                   = FlagUpdate | 7
	CodePermanentChannelFailure                   = FlagPerm | 8
	CodeUnknownNextPeer                           = FlagPerm | 10
	CodeAmountBelowMinimum                        = FlagUpdate | 11
	CodeFeeInsufficient                           = FlagUpdate | 12
	CodeIncorrectCltvExpiry                       = FlagUpdate | 13
	CodeExpiryTooSoon                             = FlagUpdate | 14
	CodeIncorrectOrUnknownPaymentDetails          = FlagPerm | 15
	CodeFinalIncorrectCltvExpiry         FailCode = 18
	CodeFinalIncorrectHtlcAmount         FailCode = 19
	CodeInvalidOnionPayload                       = FlagPerm | 22
)

// String returns the string representation of the failure code.
func (c FailCode) String() string {
	switch c {
	case CodeNone:
		return "None"

	case CodeTemporaryChannelFailure:
		return "TemporaryChannelFailure"

	case CodePermanentChannelFailure:
		return "PermanentChannelFailure"

	case CodeUnknownNextPeer:
		return "UnknownNextPeer"

	case CodeAmountBelowMinimum:
		return "AmountBelowMinimum"

	case CodeFeeInsufficient:
		return "FeeInsufficient"

	case CodeIncorrectCltvExpiry:
		return "IncorrectCltvExpiry"

	case CodeExpiryTooSoon:
		return "ExpiryTooSoon"

	case CodeIncorrectOrUnknownPaymentDetails:
		return "IncorrectOrUnknownPaymentDetails"

	case CodeFinalIncorrectCltvExpiry:
		return "FinalIncorrectCltvExpiry"

	case CodeFinalIncorrectHtlcAmount:
		return "FinalIncorrectHtlcAmount"

	case CodeInvalidOnionPayload:
		return "InvalidOnionPayload"

	default:
		return fmt.Sprintf("<unknown failure code %d>", uint16(c))
	}
}

// IsFinalNode returns true for the codes only the recipient of a payment
// returns.
func (c FailCode) IsFinalNode() bool {
	switch c {
	case CodeIncorrectOrUnknownPaymentDetails,
		CodeFinalIncorrectCltvExpiry, CodeFinalIncorrectHtlcAmount:

		return true

	default:
		return false
	}
}

// ErrFailureTooShort is returned when a failure reason can't hold the code
// and the length of its data.
var ErrFailureTooShort = errors.New("failure reason too short")

// FailureMessage is a failure code together with its code specific data. It
// is carried in the reason of an UpdateFailHTLC.
type FailureMessage struct {
	// Code is the failure code.
	Code FailCode

	// Data is the code specific data.
	Data []byte
}

// Error returns a human readable failure.
func (f *FailureMessage) Error() string {
	if len(f.Data) == 0 {
		return f.Code.String()
	}

	return fmt.Sprintf("%v(data=%x)", f.Code, f.Data)
}

// NewFailure returns a failure without data.
func NewFailure(code FailCode) *FailureMessage {
	return &FailureMessage{Code: code}
}

// EncodeFailure returns the opaque reason carrying the failure: the code and
// the length prefixed data.
func EncodeFailure(failure *FailureMessage) (OpaqueReason, error) {
	if len(failure.Data) > MaxSliceLength {
		return nil, fmt.Errorf("failure data too large: %v bytes",
			len(failure.Data))
	}

	var b bytes.Buffer
	if err := WriteUint16(&b, uint16(failure.Code)); err != nil {
		return nil, err
	}
	if err := WriteVarBytes(&b, failure.Data); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeFailure parses an opaque reason created by EncodeFailure.
func DecodeFailure(reason OpaqueReason) (*FailureMessage, error) {
	if len(reason) < 4 {
		return nil, ErrFailureTooShort
	}

	var (
		r    = bytes.NewReader(reason)
		code uint16
	)
	if err := ReadElement(r, &code); err != nil {
		return nil, err
	}

	data, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%v trailing bytes in failure", r.Len())
	}

	return &FailureMessage{Code: FailCode(code), Data: data}, nil
}

// A compile time check to ensure FailureMessage implements the error
// interface.
var _ error = (*FailureMessage)(nil)
