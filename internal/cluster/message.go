package cluster

import (
	"bytes"
	"errors"
	"fmt"
)

// LinkPrefix is sent by a dialing node to mark the connection as a
// replication link.
const LinkPrefix = "cluster>"

// MessageType is the one-byte tag in front of every replication frame.
type MessageType byte

const TypeNewLog MessageType = 1

var (
	ErrEmptyFrame     = errors.New("empty cluster frame")
	ErrUnknownMessage = errors.New("unknown cluster message type")
)

// Message is a replication event. NewLog is the only variant today.
type Message struct {
	Type    MessageType
	Payload []byte
}

// NewLog wraps an ingested entry. The payload is not copied.
func NewLog(entry []byte) Message {
	return Message{Type: TypeNewLog, Payload: entry}
}

// AppendFrame appends the wire form [type][payload]\n to dst.
func (m Message) AppendFrame(dst []byte) []byte {
	dst = append(dst, byte(m.Type))
	dst = append(dst, m.Payload...)
	return append(dst, '\n')
}

// DecodeFrame parses one frame as read up to and including its newline.
// The payload aliases frame.
func DecodeFrame(frame []byte) (Message, error) {
	frame = bytes.TrimSuffix(frame, []byte{'\n'})
	if len(frame) == 0 {
		return Message{}, ErrEmptyFrame
	}
	t := MessageType(frame[0])
	switch t {
	case TypeNewLog:
		return Message{Type: t, Payload: frame[1:]}, nil
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownMessage, frame[0])
	}
}
