package client

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/protocol"
)

// ingest drains datagrams until ctx is cancelled or the channel closes.
func (c *Client) ingest(ctx context.Context, datagrams <-chan []byte, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-datagrams:
			if !ok {
				return
			}
			c.handleDatagram(data)
		}
	}
}

// drainStale empties the queue left over from a previous capture without
// blocking and returns how many datagrams it discarded.
func drainStale(datagrams <-chan []byte) int {
	n := 0
	for {
		select {
		case _, ok := <-datagrams:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func (c *Client) handleDatagram(data []byte) {
	c.datagramsReceived.Add(1)
	c.metrics.RecordDatagram(len(data))

	msg, err := protocol.Decode(data)
	if err != nil {
		c.dropDatagram(len(data), err.Error())
		return
	}

	frame, ok := msg.(*protocol.DataFrame)
	if !ok {
		c.dropDatagram(len(data), "not a data item: "+msg.MessageType().String())
		return
	}

	samples, err := protocol.Samples(c.cfg.SampleSizeBits, frame.Samples)
	if err != nil {
		// width is checked in New
		c.dropDatagram(len(data), err.Error())
		return
	}

	batch := SampleBatch{
		Type:           frame.Type,
		SequenceNumber: frame.SequenceNumber,
		Samples:        slices.AppendSeq(make([]int32, 0, protocol.SampleCount(c.cfg.SampleSizeBits, frame.Samples)), samples),
		Lost:           c.tracker.Observe(frame.SequenceNumber),
		ReceivedAt:     time.Now(),
	}

	if batch.Lost > 0 {
		c.logger.Debug("IQ sequence gap",
			slog.Int("sequence", int(batch.SequenceNumber)),
			slog.Int("lost", int(batch.Lost)))
	}

	c.samplesDelivered.Add(uint64(len(batch.Samples)))
	c.metrics.RecordSamples(len(batch.Samples), batch.Lost)

	for _, h := range c.handlers {
		h(batch)
	}
}

func (c *Client) dropDatagram(size int, reason string) {
	c.decodeErrors.Add(1)
	c.metrics.RecordDecodeError()
	c.decodeWarn.Do(func() {
		c.logger.Warn("Dropping malformed IQ datagram",
			slog.Int("size", size),
			slog.String("error", reason),
			slog.Uint64("dropped_total", c.decodeErrors.Load()))
	})
}
