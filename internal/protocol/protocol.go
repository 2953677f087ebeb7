package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol constants from the NetSDR interface definition
const (
	HeaderSize         = 2 // 13-bit length + 3-bit type, little-endian
	ItemCodeSize       = 2
	SequenceNumberSize = 2

	// MaxMessageLength is the largest value the 13-bit length field can carry.
	MaxMessageLength = 8191
	// MaxDataItemMessageLength is encoded as a zero length field on data items.
	MaxDataItemMessageLength = 8194

	lengthMask = 0x1FFF
	typeShift  = 13
)

// MessageType is the 3-bit message kind carried in the header
type MessageType uint8

const (
	SetControlItem MessageType = iota
	CurrentControlItem
	ControlItemRange
	Ack
	DataItem0
	DataItem1
	DataItem2
	DataItem3
)

// IsDataItem reports whether frames of this type carry a sequence number and samples
// rather than a control-item code.
func (t MessageType) IsDataItem() bool {
	return t >= DataItem0
}

// Valid reports whether t fits in the 3-bit type field.
func (t MessageType) Valid() bool {
	return t <= DataItem3
}

func (t MessageType) String() string {
	switch t {
	case SetControlItem:
		return "SetControlItem"
	case CurrentControlItem:
		return "CurrentControlItem"
	case ControlItemRange:
		return "ControlItemRange"
	case Ack:
		return "Ack"
	case DataItem0, DataItem1, DataItem2, DataItem3:
		return fmt.Sprintf("DataItem%d", t-DataItem0)
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// ControlItemCode addresses a receiver setting. The numeric values are wire constants.
type ControlItemCode uint16

const (
	ControlItemNone        ControlItemCode = 0x0000
	IQOutputDataSampleRate ControlItemCode = 0x00B8
	RFFilter               ControlItemCode = 0x0044
	ADModes                ControlItemCode = 0x008A
	ReceiverState          ControlItemCode = 0x0018
	ReceiverFrequency      ControlItemCode = 0x0020
)

// Valid reports whether c is one of the known control item codes (including None).
func (c ControlItemCode) Valid() bool {
	switch c {
	case ControlItemNone, IQOutputDataSampleRate, RFFilter, ADModes, ReceiverState, ReceiverFrequency:
		return true
	}
	return false
}

func (c ControlItemCode) String() string {
	switch c {
	case ControlItemNone:
		return "None"
	case IQOutputDataSampleRate:
		return "IQOutputDataSampleRate"
	case RFFilter:
		return "RFFilter"
	case ADModes:
		return "ADModes"
	case ReceiverState:
		return "ReceiverState"
	case ReceiverFrequency:
		return "ReceiverFrequency"
	default:
		return fmt.Sprintf("Unknown(0x%04x)", uint16(c))
	}
}

// Decode failures. Every error returned by Decode and ParseHeader wraps ErrMalformedFrame.
var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrShortFrame      = fmt.Errorf("%w: frame too short", ErrMalformedFrame)
	ErrLengthMismatch  = fmt.Errorf("%w: length mismatch", ErrMalformedFrame)
	ErrUnknownItemCode = fmt.Errorf("%w: unknown control item code", ErrMalformedFrame)
)

// Caller errors. They indicate a bug at the call site, never bad input from the device.
var (
	ErrContractViolation = errors.New("contract violation")
	ErrNilParameters     = fmt.Errorf("%w: parameters must not be nil", ErrContractViolation)
	ErrMessageTooLong    = fmt.Errorf("%w: message too long", ErrContractViolation)
	ErrNegativeLength    = fmt.Errorf("%w: negative body length", ErrContractViolation)
	ErrWrongMessageType  = fmt.Errorf("%w: wrong message type", ErrContractViolation)
	ErrInvalidSampleSize = fmt.Errorf("%w: invalid sample size", ErrContractViolation)
)

// Header is the decoded 2-byte message header.
// Length is the full frame size including the header, after the data-item
// wraparound has been undone.
type Header struct {
	Type   MessageType
	Length int
}

// EncodeHeader builds the header word for a body of bodyLen bytes.
func EncodeHeader(msgType MessageType, bodyLen int) ([HeaderSize]byte, error) {
	var out [HeaderSize]byte

	if !msgType.Valid() {
		return out, fmt.Errorf("%w: %s", ErrWrongMessageType, msgType)
	}
	if bodyLen < 0 {
		return out, fmt.Errorf("%w: %d", ErrNegativeLength, bodyLen)
	}

	length := bodyLen + HeaderSize

	if msgType.IsDataItem() && length == MaxDataItemMessageLength {
		length = 0
	}

	if length > MaxMessageLength {
		return out, fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLong, length, MaxMessageLength)
	}

	binary.LittleEndian.PutUint16(out[:], uint16(length)|uint16(msgType)<<typeShift)
	return out, nil
}

// ParseHeader parses the 2-byte header at the start of data.
// It does not compare the length against len(data); Decode does that.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrShortFrame, HeaderSize, len(data))
	}

	word := binary.LittleEndian.Uint16(data[:HeaderSize])
	h := Header{
		Type:   MessageType(word >> typeShift),
		Length: int(word & lengthMask),
	}

	if h.Type.IsDataItem() && h.Length == 0 {
		h.Length = MaxDataItemMessageLength
	}

	return h, nil
}

// String returns a human-readable representation of the header
func (h Header) String() string {
	return fmt.Sprintf("Header{Type:%s, Len:%d}", h.Type, h.Length)
}
