package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/config"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/protocol"
)

// ErrNotConnected is returned by Send when there is no open connection
var ErrNotConnected = errors.New("control channel not connected")

// messageQueueSize bounds frames read ahead of the dispatcher
const messageQueueSize = 64

// TCPClient is the control channel to the receiver. Each connection gets a
// fresh Messages channel that is closed when the connection ends.
type TCPClient struct {
	address        string
	connectTimeout time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	conn     net.Conn
	messages chan []byte
	done     chan struct{}
	wg       sync.WaitGroup

	// writeMu keeps frames from interleaving on the wire
	writeMu sync.Mutex

	connected      atomic.Bool
	framesReceived atomic.Uint64
	framesSent     atomic.Uint64
	framingErrors  atomic.Uint64
}

// NewTCPClient creates a disconnected control channel client
func NewTCPClient(cfg *config.DeviceConfig, logger *slog.Logger) *TCPClient {
	return &TCPClient{
		address:        cfg.ControlAddress(),
		connectTimeout: cfg.GetConnectTimeoutDuration(),
		logger:         logger,
	}
}

// Connect dials the receiver. It is a no-op when already connected.
func (t *TCPClient) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		if t.connected.Load() {
			return nil
		}
		// the receiver closed the previous connection
		_ = t.closeLocked()
	}

	dialer := net.Dialer{Timeout: t.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.address, err)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		// control frames are small and latency matters more than batching
		_ = tcp.SetNoDelay(true)
	}

	t.conn = conn
	t.messages = make(chan []byte, messageQueueSize)
	t.done = make(chan struct{})
	t.connected.Store(true)

	t.wg.Add(1)
	go t.readLoop(conn, t.messages, t.done)

	t.logger.Info("Control channel connected",
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)
	return nil
}

// Disconnect closes the connection and waits for the read loop to exit.
// It is safe to call when not connected.
func (t *TCPClient) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closeLocked()
}

func (t *TCPClient) closeLocked() error {
	if t.conn == nil {
		return nil
	}

	close(t.done)
	err := t.conn.Close()
	t.wg.Wait()
	t.conn = nil
	t.connected.Store(false)

	t.logger.Info("Control channel disconnected",
		slog.Uint64("frames_sent", t.framesSent.Load()),
		slog.Uint64("frames_received", t.framesReceived.Load()),
	)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Connected reports whether the connection is open
func (t *TCPClient) Connected() bool {
	return t.connected.Load()
}

// Messages returns the frame channel of the current connection
func (t *TCPClient) Messages() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messages
}

// Send writes one frame. The context deadline bounds the write, and
// cancelling the context interrupts it.
func (t *TCPClient) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(frame); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("write interrupted: %w", ctxErr)
		}
		return fmt.Errorf("failed to write frame: %w", err)
	}

	t.framesSent.Add(1)
	return nil
}

// readLoop splits the byte stream into frames using the length in each header
func (t *TCPClient) readLoop(conn net.Conn, messages chan<- []byte, done <-chan struct{}) {
	defer t.wg.Done()
	defer close(messages)
	defer t.connected.Store(false)

	reader := bufio.NewReader(conn)

	for {
		frame, err := ReadFrame(reader)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}

			if errors.Is(err, io.EOF) {
				t.logger.Warn("Control channel closed by receiver")
			} else {
				if errors.Is(err, protocol.ErrMalformedFrame) {
					t.framingErrors.Add(1)
				}
				t.logger.Error("Control channel read failed", slog.String("error", err.Error()))
			}
			return
		}

		t.framesReceived.Add(1)

		select {
		case messages <- frame:
		case <-done:
			return
		}
	}
}

// ReadFrame reads exactly one frame from r. A header whose length is smaller
// than the header itself leaves the stream unrecoverable and is reported as a
// malformed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [protocol.HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	h, err := protocol.ParseHeader(header[:])
	if err != nil {
		return nil, err
	}
	if h.Length < protocol.HeaderSize {
		return nil, fmt.Errorf("%w: %s", protocol.ErrLengthMismatch, h)
	}

	frame := make([]byte, h.Length)
	copy(frame, header[:])
	if _, err := io.ReadFull(r, frame[protocol.HeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// GetStatistics returns current control channel statistics
func (t *TCPClient) GetStatistics() ControlStatistics {
	return ControlStatistics{
		Connected:      t.connected.Load(),
		Address:        t.address,
		FramesSent:     t.framesSent.Load(),
		FramesReceived: t.framesReceived.Load(),
		FramingErrors:  t.framingErrors.Load(),
	}
}

// ControlStatistics represents control channel counters
type ControlStatistics struct {
	Connected      bool   `json:"connected"`
	Address        string `json:"address"`
	FramesSent     uint64 `json:"frames_sent"`
	FramesReceived uint64 `json:"frames_received"`
	FramingErrors  uint64 `json:"framing_errors"`
}
