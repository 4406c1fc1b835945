package lncfg

import (
	"fmt"

	"github.com/lightningnetwork/chancore/lnwallet"
)

const (
	// DefaultTimeLockDelta is the expiry difference we require between
	// incoming and outgoing HTLCs.
	DefaultTimeLockDelta = 80

	// DefaultMinFinalCltvDelta is the minimum number of blocks left
	// before an HTLC paying to us expires.
	DefaultMinFinalCltvDelta = 18

	// DefaultBaseFeeMSat is the flat forwarding fee.
	DefaultBaseFeeMSat = 1000

	// DefaultFeeRatePPM is the proportional forwarding fee.
	DefaultFeeRatePPM = 1
)

// Channel holds the options of the channel state machines and of the
// forwarding policy.
//
//nolint:lll
type Channel struct {
	MinExpiryDelta    uint32 `long:"minexpirydelta" description:"The minimum number of blocks an offered or received HTLC must have left before it expires."`
	MinFinalCltvDelta uint32 `long:"minfinalcltvdelta" description:"The minimum number of blocks left before an HTLC paying to one of our invoices expires."`
	TimeLockDelta     uint32 `long:"timelockdelta" description:"The expiry difference required between forwarded HTLCs."`
	BaseFeeMSat       uint64 `long:"basefee" description:"The flat fee in msat charged for forwarding an HTLC."`
	FeeRatePPM        uint64 `long:"feerate" description:"The proportional fee in millionths charged for forwarding an HTLC."`
}

// DefaultChannel returns the default channel options.
func DefaultChannel() *Channel {
	return &Channel{
		MinExpiryDelta:    lnwallet.DefaultMinExpiryDelta,
		MinFinalCltvDelta: DefaultMinFinalCltvDelta,
		TimeLockDelta:     DefaultTimeLockDelta,
		BaseFeeMSat:       DefaultBaseFeeMSat,
		FeeRatePPM:        DefaultFeeRatePPM,
	}
}

// Validate checks the channel options.
//
// NOTE: Part of the Validator interface.
func (c *Channel) Validate() error {
	switch {
	case c.MinExpiryDelta == 0:
		return fmt.Errorf("minexpirydelta must be positive")

	// A forward must leave us time to claim the incoming HTLC after the
	// outgoing one was claimed from us.
	case c.TimeLockDelta < c.MinExpiryDelta:
		return fmt.Errorf("timelockdelta %v below minexpirydelta %v",
			c.TimeLockDelta, c.MinExpiryDelta)

	case c.MinFinalCltvDelta == 0:
		return fmt.Errorf("minfinalcltvdelta must be positive")
	}

	return nil
}

// Compile-time constraint to ensure Channel implements the Validator
// interface.
var _ Validator = (*Channel)(nil)
