package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/client"
)

const (
	wavHeaderSize = 44
	// RIFF chunk size is 36 + data size and must fit in 32 bits
	maxWAVDataSize = math.MaxUint32 - (wavHeaderSize - 8)
)

// ErrWAVFull is returned by WAVRecorder.Record once the data chunk cannot
// grow without overflowing the 32-bit RIFF sizes.
var ErrWAVFull = errors.New("WAV data chunk full")

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // 2: I on the left, Q on the right
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

func newWAVHeader(sampleRate uint32, width int, dataSize uint32) WAVHeader {
	numChannels := uint16(2)
	bitsPerSample := uint16(width * 8)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// WAVRecorder writes interleaved I/Q samples as a two-channel PCM WAV file.
// The header sizes are filled in on Close.
type WAVRecorder struct {
	mu         sync.Mutex
	file       *os.File
	writer     *bufio.Writer
	sampleRate uint32
	width      int
	dataSize   uint32
	scratch    []byte
	stats      Stats
}

// NewWAVRecorder creates path and writes a provisional header
func NewWAVRecorder(path string, sampleRate uint64, width int) (*WAVRecorder, error) {
	if sampleRate == 0 || sampleRate > 0xFFFFFFFF {
		return nil, fmt.Errorf("sample rate %d cannot be stored in a WAV header", sampleRate)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	r := &WAVRecorder{
		file:       file,
		writer:     bufio.NewWriterSize(file, 64*1024),
		sampleRate: uint32(sampleRate),
		width:      width,
		scratch:    make([]byte, 4),
		stats:      Stats{Format: "wav", Path: path},
	}

	if err := binary.Write(r.writer, binary.LittleEndian, newWAVHeader(r.sampleRate, width, 0)); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return r, nil
}

// Record appends the batch samples
func (r *WAVRecorder) Record(batch client.SampleBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return errClosed
	}

	// one extra sample is kept free for the padding written by Close
	need := uint64(len(batch.Samples)+1) * uint64(r.width)
	if uint64(r.dataSize)+need > maxWAVDataSize {
		return fmt.Errorf("%w: %d bytes written", ErrWAVFull, r.dataSize)
	}

	for _, s := range batch.Samples {
		if err := r.writeSample(s); err != nil {
			return err
		}
	}

	r.stats.Batches++
	r.stats.Samples += uint64(len(batch.Samples))
	return nil
}

func (r *WAVRecorder) writeSample(s int32) error {
	v := uint32(signed(s, r.width))
	if r.width == 1 {
		// 8-bit PCM is unsigned with a 128 midpoint
		v = uint32(signed(s, 1) + 128)
	}
	for b := 0; b < r.width; b++ {
		r.scratch[b] = byte(v >> (8 * b))
	}
	if _, err := r.writer.Write(r.scratch[:r.width]); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	r.dataSize += uint32(r.width)
	return nil
}

// Stats returns recorder counters
func (r *WAVRecorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close pads an unpaired I sample, rewrites the header and closes the file
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	file := r.file
	r.file = nil

	if r.stats.Samples%2 != 0 {
		if err := r.writeSample(0); err != nil {
			file.Close()
			return err
		}
	}

	if err := r.writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush samples: %w", err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return fmt.Errorf("failed to rewind for WAV header: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, newWAVHeader(r.sampleRate, r.width, r.dataSize)); err != nil {
		file.Close()
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	return file.Close()
}
