package lnwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMsgBody is the largest payload any message is allowed to provide. This is
// two less than the maximum transport payload as each message has a 2 byte
// type that precedes the message body.
const MaxMsgBody = 65533

// MessageType is the unique 2 byte big-endian integer that indicates the type
// of message on the wire.
type MessageType uint16

// The currently defined message types within this current version of the
// Lightning protocol that the channel core produces or consumes.
const (
	MsgError             MessageType = 17
	MsgFundingCreated    MessageType = 34
	MsgFundingSigned     MessageType = 35
	MsgChannelReady      MessageType = 36
	MsgShutdown          MessageType = 38
	MsgClosingSigned     MessageType = 39
	MsgUpdateAddHTLC     MessageType = 128
	MsgUpdateFulfillHTLC MessageType = 130
	MsgUpdateFailHTLC    MessageType = 131
	MsgCommitSig         MessageType = 132
	MsgRevokeAndAck      MessageType = 133
)

// String return the string representation of message type.
func (t MessageType) String() string {
	switch t {
	case MsgError:
		return "Error"
	case MsgFundingCreated:
		return "FundingCreated"
	case MsgFundingSigned:
		return "FundingSigned"
	case MsgChannelReady:
		return "ChannelReady"
	case MsgShutdown:
		return "Shutdown"
	case MsgClosingSigned:
		return "ClosingSigned"
	case MsgUpdateAddHTLC:
		return "UpdateAddHTLC"
	case MsgUpdateFulfillHTLC:
		return "UpdateFulfillHTLC"
	case MsgUpdateFailHTLC:
		return "UpdateFailHTLC"
	case MsgCommitSig:
		return "CommitSig"
	case MsgRevokeAndAck:
		return "RevokeAndAck"
	default:
		return "<unknown>"
	}
}

// UnknownMessage is an implementation of the error interface that allows the
// creation of an error in response to an unknown message.
type UnknownMessage struct {
	messageType MessageType
}

// Error returns a human readable string describing the error.
//
// This is part of the error interface.
func (u *UnknownMessage) Error() string {
	return fmt.Sprintf("unable to parse message of unknown type: %v",
		u.messageType)
}

// Serializable is an interface which defines a lightning wire serializable
// object.
type Serializable interface {
	// Decode reads the bytes stream and converts it to the object.
	Decode(io.Reader, uint32) error

	// Encode converts object to the bytes stream and write it into the
	// write buffer.
	Encode(*bytes.Buffer, uint32) error
}

// Message is an interface that defines a lightning wire protocol message.
type Message interface {
	Serializable
	MsgType() MessageType
}

// LinkUpdater is implemented by every message that targets one channel.
type LinkUpdater interface {
	Message

	// TargetChanID returns the channel id of the link for which this
	// message is intended.
	TargetChanID() ChannelID
}

// makeEmptyMessage creates a new empty message of the proper concrete type
// based on the passed message type.
func makeEmptyMessage(msgType MessageType) (Message, error) {
	var msg Message

	switch msgType {
	case MsgError:
		msg = &Error{}
	case MsgFundingCreated:
		msg = &FundingCreated{}
	case MsgFundingSigned:
		msg = &FundingSigned{}
	case MsgChannelReady:
		msg = &ChannelReady{}
	case MsgShutdown:
		msg = &Shutdown{}
	case MsgClosingSigned:
		msg = &ClosingSigned{}
	case MsgUpdateAddHTLC:
		msg = &UpdateAddHTLC{}
	case MsgUpdateFulfillHTLC:
		msg = &UpdateFulfillHTLC{}
	case MsgUpdateFailHTLC:
		msg = &UpdateFailHTLC{}
	case MsgCommitSig:
		msg = &CommitSig{}
	case MsgRevokeAndAck:
		msg = &RevokeAndAck{}
	default:
		return nil, &UnknownMessage{msgType}
	}

	return msg, nil
}

// WriteMessage writes a lightning Message to a buffer including the necessary
// header information and returns the number of bytes written. If any error is
// encountered, the buffer passed will be reset to its original state so no
// partial message is left behind.
func WriteMessage(buf *bytes.Buffer, msg Message, pver uint32) (int, error) {
	oldByteSize := buf.Len()
	cleanBrokenBytes := func(b *bytes.Buffer) int {
		b.Truncate(oldByteSize)
		return 0
	}

	var mType [2]byte
	binary.BigEndian.PutUint16(mType[:], uint16(msg.MsgType()))
	msgTypeBytes, err := buf.Write(mType[:])
	if err != nil {
		return cleanBrokenBytes(buf), fmt.Errorf("failed to write "+
			"message type: %w", err)
	}

	if err := msg.Encode(buf, pver); err != nil {
		return cleanBrokenBytes(buf), fmt.Errorf("failed to encode "+
			"message to buffer: %w", err)
	}

	lenp := buf.Len() - oldByteSize - msgTypeBytes
	if lenp > MaxMsgBody {
		return cleanBrokenBytes(buf), fmt.Errorf("message payload is "+
			"too large - encoded %d bytes, but maximum message "+
			"payload is %d bytes", lenp, MaxMsgBody)
	}

	return buf.Len() - oldByteSize, nil
}

// ReadMessage reads, validates, and parses the next Lightning message from r
// for the provided protocol version.
func ReadMessage(r io.Reader, pver uint32) (Message, error) {
	var mType [2]byte
	if _, err := io.ReadFull(r, mType[:]); err != nil {
		return nil, err
	}

	msgType := MessageType(binary.BigEndian.Uint16(mType[:]))
	msg, err := makeEmptyMessage(msgType)
	if err != nil {
		return nil, err
	}

	if err := msg.Decode(r, pver); err != nil {
		return nil, err
	}

	return msg, nil
}
