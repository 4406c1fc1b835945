package lnwire

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/wire"
)

// ChannelID is a series of 32-bytes that uniquely identifies all channels
// within the network. The ChannelID is computed using the outpoint of the
// funding transaction (the txid, and output index). Given a funding output the
// ChannelID can be calculated by XOR'ing the big-endian serialization of the
// txid and the big-endian serialization of the output index, truncated to
// 2 bytes.
type ChannelID [32]byte

// String returns the string representation of the ChannelID.
func (c ChannelID) String() string {
	return hex.EncodeToString(c[:])
}

// NewChanIDFromOutPoint converts a target OutPoint into a ChannelID that is
// usable within the network.
func NewChanIDFromOutPoint(op wire.OutPoint) ChannelID {
	var cid ChannelID
	copy(cid[:], op.Hash[:])

	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], uint16(op.Index))
	cid[30] ^= idx[0]
	cid[31] ^= idx[1]

	return cid
}

// IsChanPoint returns true if the OutPoint passed corresponds to the target
// ChannelID.
func (c ChannelID) IsChanPoint(op wire.OutPoint) bool {
	return NewChanIDFromOutPoint(op) == c
}
