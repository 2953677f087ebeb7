package protocol

import "encoding/binary"

// Receiver state parameter bytes: [data mode][run/stop][capture mode][count]
const (
	iqDataMode          = 0x80
	receiverRun         = 0x02
	receiverStop        = 0x01
	fifo16BitCapture    = 0x01
	captureBlockCount   = 0x01
	frequencyFieldBytes = 5
)

// SampleRateParameters encodes hz as the 5-byte little-endian value the
// IQOutputDataSampleRate item expects.
func SampleRateParameters(hz uint64) []byte {
	return uint40(hz)
}

// FrequencyParameters encodes a ReceiverFrequency payload: channel byte
// followed by the 5-byte little-endian frequency in Hz.
func FrequencyParameters(channel uint8, hz uint64) []byte {
	return append([]byte{channel}, uint40(hz)...)
}

// RFFilterParameters encodes the RF filter selection (0 selects automatic).
func RFFilterParameters(filter uint16) []byte {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, filter)
	return out
}

// ADModeParameters encodes the A/D mode bit field.
func ADModeParameters(mode uint8) []byte {
	return []byte{0x00, mode}
}

// StartIQParameters selects continuous 16-bit IQ capture.
func StartIQParameters() []byte {
	return []byte{iqDataMode, receiverRun, fifo16BitCapture, captureBlockCount}
}

// StopIQParameters stops the receiver.
func StopIQParameters() []byte {
	return []byte{0x00, receiverStop, 0x00, 0x00}
}

func uint40(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:frequencyFieldBytes:frequencyFieldBytes]
}
