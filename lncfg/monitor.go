package lncfg

import "fmt"

const (
	// DefaultJusticeConfTarget is the confirmation target of justice
	// transactions.
	DefaultJusticeConfTarget = 2

	// DefaultSweepConfTarget is the confirmation target of all other
	// on-chain claims.
	DefaultSweepConfTarget = 6

	// DefaultIncomingBroadcastDelta is the number of blocks before the
	// expiry of an incoming HTLC we know the preimage of that we go to
	// chain.
	DefaultIncomingBroadcastDelta = 10

	// DefaultOutgoingBroadcastDelta is the number of blocks before the
	// expiry of an offered HTLC that we go to chain.
	DefaultOutgoingBroadcastDelta = 0
)

// Monitor holds the options of the channel monitors.
//
//nolint:lll
type Monitor struct {
	JusticeConfTarget uint32 `long:"justiceconftarget" description:"The confirmation target of transactions punishing a revoked commitment."`
	SweepConfTarget   uint32 `long:"sweepconftarget" description:"The confirmation target of all other on-chain claims."`

	IncomingBroadcastDelta uint32 `long:"incomingbroadcastdelta" description:"The number of blocks before the expiry of an incoming HTLC we know the preimage of that the channel is force closed to claim it."`
	OutgoingBroadcastDelta uint32 `long:"outgoingbroadcastdelta" description:"The number of blocks before the expiry of an offered HTLC that the channel is force closed to time it out."`
}

// DefaultMonitor returns the default monitor options.
func DefaultMonitor() *Monitor {
	return &Monitor{
		JusticeConfTarget: DefaultJusticeConfTarget,
		SweepConfTarget:   DefaultSweepConfTarget,

		IncomingBroadcastDelta: DefaultIncomingBroadcastDelta,
		OutgoingBroadcastDelta: DefaultOutgoingBroadcastDelta,
	}
}

// Validate checks the monitor options.
//
// NOTE: Part of the Validator interface.
func (m *Monitor) Validate() error {
	if m.JusticeConfTarget == 0 || m.SweepConfTarget == 0 {
		return fmt.Errorf("monitor confirmation targets must be " +
			"positive")
	}

	// A revoked commitment must be punished before the remote party can
	// sweep it.
	if m.JusticeConfTarget > m.SweepConfTarget {
		return fmt.Errorf("justiceconftarget %v above "+
			"sweepconftarget %v", m.JusticeConfTarget,
			m.SweepConfTarget)
	}

	// An incoming HTLC claimed at its expiry races the timeout of the
	// remote party.
	if m.IncomingBroadcastDelta == 0 {
		return fmt.Errorf("incomingbroadcastdelta must be positive")
	}

	return nil
}

// Compile-time constraint to ensure Monitor implements the Validator
// interface.
var _ Validator = (*Monitor)(nil)
