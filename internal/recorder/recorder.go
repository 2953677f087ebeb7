package recorder

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/client"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/config"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/metrics"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/protocol"
)

// Recorder persists sample batches. Record and Close may be called from
// different goroutines.
type Recorder interface {
	Record(batch client.SampleBatch) error
	Close() error
}

// Stats contains recorder counters
type Stats struct {
	Format  string `json:"format"`
	Path    string `json:"path"`
	Batches uint64 `json:"batches"`
	Samples uint64 `json:"samples"`
}

// Open creates the recorder named by cfg.Format at cfg.Path, truncating any
// existing file.
func Open(cfg *config.RecordingConfig, sampleRate uint64, sampleSizeBits int) (Recorder, error) {
	width, err := protocol.SampleWidth(sampleSizeBits)
	if err != nil {
		return nil, err
	}

	switch cfg.Format {
	case "raw":
		return NewRawRecorder(cfg.Path, width)
	case "wav":
		return NewWAVRecorder(cfg.Path, sampleRate, width)
	case "parquet":
		return NewParquetRecorder(cfg.Path, sampleRate, sampleSizeBits)
	default:
		return nil, fmt.Errorf("unknown recording format %q", cfg.Format)
	}
}

// Handler adapts rec to a client.SampleHandler. Write failures are counted
// and logged at most once per interval; they never stop ingestion.
func Handler(rec Recorder, logger *slog.Logger, m *metrics.Metrics) client.SampleHandler {
	warn := &rate.Sometimes{First: 1, Interval: 10 * time.Second}

	return func(batch client.SampleBatch) {
		if err := rec.Record(batch); err != nil {
			if m != nil {
				m.RecordRecordError()
			}
			warn.Do(func() {
				logger.Error("Failed to record samples",
					slog.Int("sequence", int(batch.SequenceNumber)),
					slog.String("error", err.Error()))
			})
		}
	}
}

// signed reinterprets a zero-filled sample of the given byte width as two's
// complement.
func signed(v int32, width int) int32 {
	shift := uint(32 - 8*width)
	return v << shift >> shift
}
