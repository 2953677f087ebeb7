package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echo(frame []byte) []byte { return frame }

// fakeControl plays the receiver on the control channel. By default every
// frame is echoed back, which is how the device acknowledges a set request.
type fakeControl struct {
	mu             sync.Mutex
	connects       int
	connectDelay   time.Duration
	connectErr     error
	sendErr        error
	connected      bool
	messages       chan []byte
	sent           [][]byte
	respond        func([]byte) []byte
	replyDelay     time.Duration
	outstanding    int
	maxOutstanding int
}

func newFakeControl() *fakeControl {
	return &fakeControl{respond: echo}
}

func (f *fakeControl) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	delay := f.connectDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.messages = make(chan []byte, 64)
	return nil
}

func (f *fakeControl) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	return nil
}

// drop simulates the receiver closing the connection.
func (f *fakeControl) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
}

func (f *fakeControl) closeLocked() {
	if f.connected {
		f.connected = false
		close(f.messages)
	}
}

func (f *fakeControl) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeControl) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return errors.New("not connected")
	}
	if f.sendErr != nil {
		return f.sendErr
	}

	f.sent = append(f.sent, append([]byte(nil), frame...))
	f.outstanding++
	f.maxOutstanding = max(f.maxOutstanding, f.outstanding)

	if f.respond == nil {
		return nil
	}
	reply := f.respond(frame)
	if reply == nil {
		return nil
	}
	if f.replyDelay > 0 {
		time.AfterFunc(f.replyDelay, func() { f.push(reply) })
		return nil
	}
	f.pushLocked(reply)
	return nil
}

func (f *fakeControl) Messages() <-chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages
}

// push delivers frame as if the receiver had sent it.
func (f *fakeControl) push(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushLocked(frame)
}

func (f *fakeControl) pushLocked(frame []byte) {
	if !f.connected {
		return
	}
	if f.outstanding > 0 {
		f.outstanding--
	}
	f.messages <- append([]byte(nil), frame...)
}

func (f *fakeControl) setRespond(fn func([]byte) []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
}

func (f *fakeControl) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeControl) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeControl) resetSent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

func (f *fakeControl) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeControl) peakOutstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxOutstanding
}

// fakeStream records listener calls and lets tests inject datagrams.
type fakeStream struct {
	mu        sync.Mutex
	starts    int
	stops     int
	startErr  error
	listening bool
	datagrams chan []byte
}

func newFakeStream() *fakeStream {
	return &fakeStream{datagrams: make(chan []byte, 64)}
}

func (f *fakeStream) StartListening(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.listening = true
	return nil
}

func (f *fakeStream) StopListening() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.listening = false
	return nil
}

func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) Datagrams() <-chan []byte { return f.datagrams }

func (f *fakeStream) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func dataDatagram(seq uint16, samples []byte) []byte {
	frame, err := (&protocol.DataFrame{Type: protocol.DataItem0, SequenceNumber: seq, Samples: samples}).MarshalBinary()
	if err != nil {
		panic(err)
	}
	return frame
}
