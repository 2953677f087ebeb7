package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/client"
)

var errClosed = errors.New("recorder closed")

// RawRecorder appends every sample as a little-endian integer of the
// receiver's sample width. At 16 bits this is a plain int16 I/Q stream.
type RawRecorder struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	width   int
	scratch []byte
	stats   Stats
}

// NewRawRecorder creates path and returns a recorder writing width-byte samples
func NewRawRecorder(path string, width int) (*RawRecorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	return &RawRecorder{
		file:    file,
		writer:  bufio.NewWriterSize(file, 64*1024),
		width:   width,
		scratch: make([]byte, 4),
		stats:   Stats{Format: "raw", Path: path},
	}, nil
}

// Record writes the batch samples
func (r *RawRecorder) Record(batch client.SampleBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return errClosed
	}

	for _, s := range batch.Samples {
		v := uint32(s)
		for b := 0; b < r.width; b++ {
			r.scratch[b] = byte(v >> (8 * b))
		}
		if _, err := r.writer.Write(r.scratch[:r.width]); err != nil {
			return fmt.Errorf("failed to write samples: %w", err)
		}
	}

	r.stats.Batches++
	r.stats.Samples += uint64(len(batch.Samples))
	return nil
}

// Stats returns recorder counters
func (r *RawRecorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close flushes buffered samples and closes the file
func (r *RawRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}

	flushErr := r.writer.Flush()
	closeErr := r.file.Close()
	r.file = nil

	if flushErr != nil {
		return fmt.Errorf("failed to flush samples: %w", flushErr)
	}
	return closeErr
}
