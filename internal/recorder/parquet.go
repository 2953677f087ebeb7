package recorder

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/parquet-go"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/client"
)

// IQRow is one complex sample. Index is the pair's position within its data item.
type IQRow struct {
	Sequence int32 `parquet:"sequence"`
	Index    int32 `parquet:"index"`
	I        int32 `parquet:"i"`
	Q        int32 `parquet:"q"`
}

// ParquetRecorder writes I/Q pairs as rows. The recording ID, sample rate and
// sample size are stored in the file's key/value metadata.
type ParquetRecorder struct {
	mu          sync.Mutex
	file        *os.File
	writer      *parquet.GenericWriter[IQRow]
	width       int
	recordingID string
	rows        []IQRow
	stats       Stats
}

// NewParquetRecorder creates path and returns a recorder for it
func NewParquetRecorder(path string, sampleRate uint64, sampleSizeBits int) (*ParquetRecorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	id := uuid.NewString()
	writer := parquet.NewGenericWriter[IQRow](file,
		parquet.KeyValueMetadata("recording_id", id),
		parquet.KeyValueMetadata("sample_rate", strconv.FormatUint(sampleRate, 10)),
		parquet.KeyValueMetadata("sample_size_bits", strconv.Itoa(sampleSizeBits)),
		parquet.KeyValueMetadata("started_at", time.Now().UTC().Format(time.RFC3339)),
	)

	return &ParquetRecorder{
		file:        file,
		writer:      writer,
		width:       sampleSizeBits / 8,
		recordingID: id,
		stats:       Stats{Format: "parquet", Path: path},
	}, nil
}

// RecordingID identifies this recording in the file metadata
func (r *ParquetRecorder) RecordingID() string {
	return r.recordingID
}

// Record writes one row per I/Q pair. An unpaired trailing sample is dropped.
func (r *ParquetRecorder) Record(batch client.SampleBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return errClosed
	}

	pairs := len(batch.Samples) / 2
	r.rows = r.rows[:0]
	for i := 0; i < pairs; i++ {
		r.rows = append(r.rows, IQRow{
			Sequence: int32(batch.SequenceNumber),
			Index:    int32(i),
			I:        signed(batch.Samples[2*i], r.width),
			Q:        signed(batch.Samples[2*i+1], r.width),
		})
	}

	if _, err := r.writer.Write(r.rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}

	r.stats.Batches++
	r.stats.Samples += uint64(len(batch.Samples))
	return nil
}

// Stats returns recorder counters
func (r *ParquetRecorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close writes the parquet footer and closes the file
func (r *ParquetRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	file := r.file
	r.file = nil

	if err := r.writer.Close(); err != nil {
		file.Close()
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return file.Close()
}
