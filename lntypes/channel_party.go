package lntypes

import "fmt"

// ChannelParty is a type used to have an unambiguous description of which node
// is being referred to. This eliminates the need to describe as "local" or
// "remote" using bool.
type ChannelParty uint8

const (
	// Local is a ChannelParty constructor that is used to refer to the
	// node that is running.
	Local ChannelParty = iota

	// Remote is a ChannelParty constructor that is used to refer to the
	// node on the other end of the peer connection.
	Remote
)

// String provides a string representation of ChannelParty (useful for logging).
func (p ChannelParty) String() string {
	switch p {
	case Local:
		return "Local"
	case Remote:
		return "Remote"
	default:
		panic(fmt.Sprintf("invalid ChannelParty value: %d", p))
	}
}

// CounterParty inverts the role of the ChannelParty.
func (p ChannelParty) CounterParty() ChannelParty {
	switch p {
	case Local:
		return Remote
	case Remote:
		return Local
	default:
		panic(fmt.Sprintf("invalid ChannelParty value: %v", p))
	}
}

// IsLocal returns true if the ChannelParty is Local.
func (p ChannelParty) IsLocal() bool {
	return p == Local
}

// IsRemote returns true if the ChannelParty is Remote.
func (p ChannelParty) IsRemote() bool {
	return p == Remote
}

// Dual represents a structure when we are tracking the same parameter for both
// the Local and Remote parties.
type Dual[A any] struct {
	// Local is the value tracked for the Local ChannelParty.
	Local A

	// Remote is the value tracked for the Remote ChannelParty.
	Remote A
}

// GetForParty gives Dual an access method that takes a ChannelParty as an
// argument.
func (d *Dual[A]) GetForParty(p ChannelParty) A {
	switch p {
	case Local:
		return d.Local
	case Remote:
		return d.Remote
	default:
		panic(fmt.Sprintf(
			"switch default triggered in ForParty: %v", p,
		))
	}
}

// SetForParty sets the value in the Dual for the given ChannelParty.
func (d *Dual[A]) SetForParty(p ChannelParty, value A) {
	switch p {
	case Local:
		d.Local = value
	case Remote:
		d.Remote = value
	default:
		panic(fmt.Sprintf(
			"switch default triggered in ForParty: %v", p,
		))
	}
}
