package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/client"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/config"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/metrics"
)

// 16-bit samples as the client delivers them: high bytes zero filled
func batch16(seq uint16, samples ...int16) client.SampleBatch {
	out := make([]int32, len(samples))
	for i, s := range samples {
		out[i] = int32(uint16(s))
	}
	return client.SampleBatch{SequenceNumber: seq, Samples: out}
}

func TestSigned(t *testing.T) {
	assert.Equal(t, int32(-1), signed(0xFF, 1))
	assert.Equal(t, int32(127), signed(0x7F, 1))
	assert.Equal(t, int32(-32768), signed(0x8000, 2))
	assert.Equal(t, int32(-2), signed(0xFFFFFE, 3))
	assert.Equal(t, int32(-5), signed(-5, 4))
}

func TestOpenFormats(t *testing.T) {
	dir := t.TempDir()

	for _, format := range []string{"raw", "wav", "parquet"} {
		t.Run(format, func(t *testing.T) {
			cfg := &config.RecordingConfig{Enabled: true, Format: format, Path: filepath.Join(dir, "capture."+format)}
			rec, err := Open(cfg, 100000, 16)
			require.NoError(t, err)
			require.NoError(t, rec.Record(batch16(1, 1, -1)))
			require.NoError(t, rec.Close())
			require.NoError(t, rec.Close())

			assert.ErrorIs(t, rec.Record(batch16(2, 1, 2)), errClosed)
		})
	}

	_, err := Open(&config.RecordingConfig{Format: "flac", Path: filepath.Join(dir, "x")}, 100000, 16)
	assert.Error(t, err)

	_, err = Open(&config.RecordingConfig{Format: "raw", Path: filepath.Join(dir, "y")}, 100000, 40)
	assert.Error(t, err)
}

func TestRawRecorderWritesInt16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.bin")
	rec, err := NewRawRecorder(path, 2)
	require.NoError(t, err)

	require.NoError(t, rec.Record(batch16(1, 1, 2)))
	require.NoError(t, rec.Record(batch16(2, -1, -32768)))
	assert.Equal(t, uint64(4), rec.Stats().Samples)
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	samples := make([]int16, 4)
	require.NoError(t, binary.Read(bytes.NewReader(data), binary.LittleEndian, samples))
	assert.Equal(t, []int16{1, 2, -1, -32768}, samples)
}

func TestWAVRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	rec, err := NewWAVRecorder(path, 100000, 2)
	require.NoError(t, err)

	require.NoError(t, rec.Record(batch16(1, 100, -200, 300)))
	require.NoError(t, rec.Record(batch16(2, -400, 500, -600)))
	require.NoError(t, rec.Record(batch16(3, 700)))
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	header := readWAVHeader(t, data)
	assert.Equal(t, "RIFF", string(header.ChunkID[:]))
	assert.Equal(t, "WAVE", string(header.Format[:]))
	assert.Equal(t, "data", string(header.Subchunk2ID[:]))
	assert.Equal(t, uint32(100000), header.SampleRate)
	assert.Equal(t, uint16(2), header.NumChannels)
	assert.Equal(t, uint16(16), header.BitsPerSample)
	assert.Equal(t, uint16(4), header.BlockAlign)
	// seven samples padded to four I/Q frames
	assert.Equal(t, uint32(16), header.Subchunk2Size)
	assert.Equal(t, uint32(36+16), header.ChunkSize)
	assert.Len(t, data, wavHeaderSize+16)

	samples := make([]int16, 8)
	require.NoError(t, binary.Read(bytes.NewReader(data[wavHeaderSize:]), binary.LittleEndian, samples))
	assert.Equal(t, []int16{100, -200, 300, -400, 500, -600, 700, 0}, samples)
}

func TestWAVRecorderEightBit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture8.wav")
	rec, err := NewWAVRecorder(path, 48000, 1)
	require.NoError(t, err)

	require.NoError(t, rec.Record(client.SampleBatch{Samples: []int32{0x00, 0xFF, 0x7F, 0x80}}))
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{128, 127, 255, 0}, data[wavHeaderSize:])
}

func readWAVHeader(t *testing.T, data []byte) WAVHeader {
	t.Helper()

	require.GreaterOrEqual(t, len(data), wavHeaderSize)
	var header WAVHeader
	require.NoError(t, binary.Read(bytes.NewReader(data), binary.LittleEndian, &header))
	return header
}

func TestWAVRecorderRefusesToOverflowHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "full.wav")
	rec, err := NewWAVRecorder(path, 100000, 2)
	require.NoError(t, err)

	require.NoError(t, rec.Record(batch16(1, 1, 2)))

	// pretend the file is a few samples short of 4 GiB
	rec.dataSize = maxWAVDataSize - 6
	before := rec.Stats()

	err = rec.Record(batch16(2, 1, 2, 3))
	assert.ErrorIs(t, err, ErrWAVFull)
	assert.Equal(t, before, rec.Stats())

	// room for two samples plus padding
	require.NoError(t, rec.Record(batch16(3, 1, 2)))
	assert.ErrorIs(t, rec.Record(batch16(4, 1)), ErrWAVFull)

	require.NoError(t, rec.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	header := readWAVHeader(t, data)
	assert.Equal(t, uint32(maxWAVDataSize-2), header.Subchunk2Size)
	assert.Equal(t, uint32(math.MaxUint32-2), header.ChunkSize)
}

func TestParquetRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.parquet")
	rec, err := NewParquetRecorder(path, 100000, 16)
	require.NoError(t, err)
	_, err = uuid.Parse(rec.RecordingID())
	require.NoError(t, err)

	require.NoError(t, rec.Record(batch16(7, 1, -1, 2, -2, 3)))
	require.NoError(t, rec.Record(batch16(8, -32768, 32767)))
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 8)
	assert.Equal(t, []byte("PAR1"), data[:4])
	assert.Equal(t, []byte("PAR1"), data[len(data)-4:])

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), file.NumRows())

	id, ok := file.Lookup("recording_id")
	require.True(t, ok)
	assert.Equal(t, rec.RecordingID(), id)
	rate, ok := file.Lookup("sample_rate")
	require.True(t, ok)
	assert.Equal(t, "100000", rate)

	reader := parquet.NewGenericReader[IQRow](bytes.NewReader(data))
	defer reader.Close()
	rows := make([]IQRow, 3)
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("failed to read rows: %v", err)
	}
	require.Equal(t, 3, n)
	assert.Equal(t, []IQRow{
		{Sequence: 7, Index: 0, I: 1, Q: -1},
		{Sequence: 7, Index: 1, I: 2, Q: -2},
		{Sequence: 8, Index: 0, I: -32768, Q: 32767},
	}, rows)
}

type failingRecorder struct{}

func (failingRecorder) Record(client.SampleBatch) error { return errors.New("disk full") }
func (failingRecorder) Close() error                    { return nil }

func TestHandlerCountsErrors(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handle := Handler(failingRecorder{}, logger, m)
	handle(batch16(1, 1, 2))
	handle(batch16(2, 1, 2))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RecordErrors))
}
