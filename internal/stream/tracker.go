package stream

import (
	"sync"
	"time"
)

// seqRing is the size of the sequence number cycle. The receiver numbers data
// items 1..65535 and wraps back to 1; 0 is only sent on the first item after a
// capture start.
const seqRing = 65535

// maxForwardGap is the largest jump treated as loss. Anything further ahead is
// taken to be a late or duplicate datagram.
const maxForwardGap = seqRing / 2

// Tracker accounts for sequence numbers on the IQ data stream. It never
// reorders or drops datagrams; it only reports what arrived out of line.
type Tracker struct {
	started    bool
	expected   uint16
	lastSeq    uint16
	received   uint64
	lost       uint64
	outOfOrder uint64
	restarts   uint64
	lastUpdate time.Time

	mu sync.RWMutex
}

// TrackerStats represents sequence statistics for monitoring
type TrackerStats struct {
	Received     uint64    `json:"received"`
	Lost         uint64    `json:"lost"`
	OutOfOrder   uint64    `json:"out_of_order"`
	Restarts     uint64    `json:"restarts"`
	LossRate     float64   `json:"loss_rate"`
	LastSequence uint16    `json:"last_sequence"`
	LastUpdate   time.Time `json:"last_update"`
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe records one data item sequence number and returns how many
// datagrams were skipped immediately before it.
func (t *Tracker) Observe(seq uint16) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.received++
	t.lastUpdate = time.Now()

	if !t.started || seq == 0 {
		if t.started {
			t.restarts++
		}
		t.started = true
		t.lastSeq = seq
		t.expected = nextSeq(seq)
		return 0
	}

	if seq == t.expected {
		t.lastSeq = seq
		t.expected = nextSeq(seq)
		return 0
	}

	gap := ringDistance(t.expected, seq)
	if gap <= maxForwardGap {
		t.lost += uint64(gap)
		t.lastSeq = seq
		t.expected = nextSeq(seq)
		return uint16(gap)
	}

	// Behind the expected number: late or duplicate
	t.outOfOrder++
	return 0
}

// Reset forgets the stream position, e.g. when a new capture starts
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.started = false
	t.expected = 0
	t.lastSeq = 0
}

// Stats returns current sequence statistics
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lossRate := float64(0)
	if total := t.received + t.lost; total > 0 {
		lossRate = float64(t.lost) / float64(total) * 100
	}

	return TrackerStats{
		Received:     t.received,
		Lost:         t.lost,
		OutOfOrder:   t.outOfOrder,
		Restarts:     t.restarts,
		LossRate:     lossRate,
		LastSequence: t.lastSeq,
		LastUpdate:   t.lastUpdate,
	}
}

func nextSeq(seq uint16) uint16 {
	n := seq + 1
	if n == 0 {
		n = 1
	}
	return n
}

// ringDistance is how far ahead seq is from expected on the 1..65535 cycle.
func ringDistance(expected, seq uint16) int {
	d := (int(seq) - int(expected)) % seqRing
	if d < 0 {
		d += seqRing
	}
	return d
}
