package lncfg

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
)

const (
	// DefaultCloseConfTarget is the confirmation target of cooperative
	// close transactions.
	DefaultCloseConfTarget = 6

	// DefaultMaxCloseRounds is the number of closing_signed messages we
	// accept before giving up on a cooperative close.
	DefaultMaxCloseRounds = 10

	// DefaultCloseNegotiationTimeout is the time a fee negotiation may
	// take before we force close.
	DefaultCloseNegotiationTimeout = 5 * time.Minute
)

// Closing holds the options of cooperative closes.
//
//nolint:lll
type Closing struct {
	ConfTarget         uint32                 `long:"conftarget" description:"The confirmation target used to price cooperative closes."`
	MaxRounds          int                    `long:"maxrounds" description:"The number of fee offers accepted from the remote party before force closing."`
	NegotiationTimeout time.Duration          `long:"timeout" description:"The time a fee negotiation may take before force closing."`
	MaxFeeRate         chainfee.SatPerKWeight `long:"maxfeerate" description:"The highest fee rate in sat/kw we pay as initiator, 0 for three times the ideal rate."`
}

// DefaultClosing returns the default close options.
func DefaultClosing() *Closing {
	return &Closing{
		ConfTarget:         DefaultCloseConfTarget,
		MaxRounds:          DefaultMaxCloseRounds,
		NegotiationTimeout: DefaultCloseNegotiationTimeout,
	}
}

// Validate checks the close options.
//
// NOTE: Part of the Validator interface.
func (c *Closing) Validate() error {
	switch {
	case c.ConfTarget == 0:
		return fmt.Errorf("closing.conftarget must be positive")

	case c.MaxRounds <= 0:
		return fmt.Errorf("closing.maxrounds must be positive")

	case c.NegotiationTimeout <= 0:
		return fmt.Errorf("closing.timeout must be positive")

	case c.MaxFeeRate < 0:
		return fmt.Errorf("closing.maxfeerate must not be negative")
	}

	return nil
}

// Compile-time constraint to ensure Closing implements the Validator
// interface.
var _ Validator = (*Closing)(nil)
