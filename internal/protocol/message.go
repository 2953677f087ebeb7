package protocol

import (
	"encoding/binary"
	"fmt"
)

// Message is a decoded frame: either a *ControlFrame or a *DataFrame.
type Message interface {
	MessageType() MessageType
	MarshalBinary() ([]byte, error)
	isMessage()
}

// ControlFrame carries a control item request or reply.
// Layout: [Header:2][ItemCode:2, omitted when None][Parameters:N]
type ControlFrame struct {
	Type       MessageType
	ItemCode   ControlItemCode
	Parameters []byte
}

// DataFrame carries one block of IQ sample bytes.
// Layout: [Header:2][SequenceNumber:2][Samples:N]
type DataFrame struct {
	Type           MessageType
	SequenceNumber uint16
	Samples        []byte
}

func (*ControlFrame) isMessage() {}
func (*DataFrame) isMessage()    {}

// MessageType returns the frame's header type
func (f *ControlFrame) MessageType() MessageType { return f.Type }

// MessageType returns the frame's header type
func (f *DataFrame) MessageType() MessageType { return f.Type }

// MarshalBinary encodes the frame with EncodeControlMessage.
func (f *ControlFrame) MarshalBinary() ([]byte, error) {
	params := f.Parameters
	if params == nil {
		params = []byte{}
	}
	return EncodeControlMessage(f.Type, f.ItemCode, params)
}

// MarshalBinary encodes the sequence number followed by the sample bytes.
func (f *DataFrame) MarshalBinary() ([]byte, error) {
	params := make([]byte, SequenceNumberSize+len(f.Samples))
	binary.LittleEndian.PutUint16(params, f.SequenceNumber)
	copy(params[SequenceNumberSize:], f.Samples)
	return EncodeDataMessage(f.Type, params)
}

func (f *ControlFrame) String() string {
	return fmt.Sprintf("ControlFrame{Type:%s, Item:%s, ParamsLen:%d}", f.Type, f.ItemCode, len(f.Parameters))
}

func (f *DataFrame) String() string {
	return fmt.Sprintf("DataFrame{Type:%s, Seq:%d, SamplesLen:%d}", f.Type, f.SequenceNumber, len(f.Samples))
}

// EncodeControlMessage frames a control item message. The item code field is
// written only when itemCode is not ControlItemNone. A nil parameters slice is a
// caller error; an empty one is a valid zero-length payload.
func EncodeControlMessage(msgType MessageType, itemCode ControlItemCode, parameters []byte) ([]byte, error) {
	if parameters == nil {
		return nil, ErrNilParameters
	}
	if msgType.IsDataItem() {
		return nil, fmt.Errorf("%w: %s is not a control type", ErrWrongMessageType, msgType)
	}
	if !itemCode.Valid() {
		return nil, fmt.Errorf("%w: item code 0x%04x", ErrContractViolation, uint16(itemCode))
	}
	return encode(msgType, itemCode, parameters)
}

// EncodeDataMessage frames a data item message. parameters must already start
// with the 2-byte sequence number; no item code is ever written.
func EncodeDataMessage(msgType MessageType, parameters []byte) ([]byte, error) {
	if parameters == nil {
		return nil, ErrNilParameters
	}
	if !msgType.IsDataItem() {
		return nil, fmt.Errorf("%w: %s is not a data item type", ErrWrongMessageType, msgType)
	}
	return encode(msgType, ControlItemNone, parameters)
}

func encode(msgType MessageType, itemCode ControlItemCode, parameters []byte) ([]byte, error) {
	itemLen := 0
	if itemCode != ControlItemNone {
		itemLen = ItemCodeSize
	}
	bodyLen := itemLen + len(parameters)

	header, err := EncodeHeader(msgType, bodyLen)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, HeaderSize+bodyLen)
	copy(msg, header[:])
	if itemLen > 0 {
		binary.LittleEndian.PutUint16(msg[HeaderSize:], uint16(itemCode))
	}
	copy(msg[HeaderSize+itemLen:], parameters)

	return msg, nil
}

// Decode parses exactly one frame. It never panics on malformed input; every
// failure wraps ErrMalformedFrame. Control frames always carry an item code
// field on decode, and a zero code decodes as ControlItemNone.
func Decode(data []byte) (Message, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	if header.Length != len(data) {
		return nil, fmt.Errorf("%w: header says %d bytes, got %d", ErrLengthMismatch, header.Length, len(data))
	}

	body := data[HeaderSize:]

	if header.Type.IsDataItem() {
		if len(body) < SequenceNumberSize {
			return nil, fmt.Errorf("%w: %s needs a %d-byte sequence number, got %d bytes",
				ErrShortFrame, header.Type, SequenceNumberSize, len(body))
		}
		return &DataFrame{
			Type:           header.Type,
			SequenceNumber: binary.LittleEndian.Uint16(body),
			Samples:        cloneBytes(body[SequenceNumberSize:]),
		}, nil
	}

	if len(body) < ItemCodeSize {
		return nil, fmt.Errorf("%w: %s needs a %d-byte item code, got %d bytes",
			ErrShortFrame, header.Type, ItemCodeSize, len(body))
	}

	code := ControlItemCode(binary.LittleEndian.Uint16(body))
	if !code.Valid() {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnknownItemCode, uint16(code))
	}

	return &ControlFrame{
		Type:       header.Type,
		ItemCode:   code,
		Parameters: cloneBytes(body[ItemCodeSize:]),
	}, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
