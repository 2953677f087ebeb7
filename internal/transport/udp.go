package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/config"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/metrics"
)

// maxDatagramSize covers any UDP payload, not just well-formed data items.
const maxDatagramSize = 65535

// ErrListenerClosed is returned by StartListening after Close
var ErrListenerClosed = errors.New("udp listener closed")

// UDPListener receives IQ datagrams from the receiver. It can be started and
// stopped repeatedly; the Datagrams channel stays the same until Close.
type UDPListener struct {
	config  *config.StreamConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	datagrams chan []byte

	mu     sync.Mutex
	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	datagramsReceived atomic.Uint64
	datagramsDropped  atomic.Uint64
	readErrors        atomic.Uint64
}

// NewUDPListener creates a stopped listener
func NewUDPListener(cfg *config.StreamConfig, logger *slog.Logger, m *metrics.Metrics) *UDPListener {
	return &UDPListener{
		config:    cfg,
		logger:    logger,
		metrics:   m,
		datagrams: make(chan []byte, cfg.QueueSize),
	}
}

// StartListening binds the data port and starts the receive loop. It is a
// no-op if already listening.
func (l *UDPListener) StartListening(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}
	if l.conn != nil {
		return nil
	}

	lc := net.ListenConfig{Control: listenControl(l.config.BufferSize)}
	pc, err := lc.ListenPacket(ctx, "udp", l.config.ListenAddress())
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	conn := pc.(*net.UDPConn)

	effective, err := receiveBufferSize(conn)
	if err != nil {
		if err := conn.SetReadBuffer(l.config.BufferSize); err != nil {
			l.logger.Warn("Failed to set UDP read buffer size",
				slog.Int("buffer_size", l.config.BufferSize),
				slog.String("error", err.Error()),
			)
		}
		effective = l.config.BufferSize
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	l.conn = conn
	l.cancel = cancel

	l.wg.Add(1)
	go l.receiveLoop(loopCtx, conn)

	l.logger.Info("IQ listener started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", effective),
	)
	return nil
}

// StopListening closes the socket and waits for the receive loop to exit.
// Datagrams already queued stay in the channel; the consumer discards them
// before the next capture.
func (l *UDPListener) StopListening() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stopLocked()
}

func (l *UDPListener) stopLocked() error {
	if l.conn == nil {
		return nil
	}

	l.cancel()
	err := l.conn.Close()
	l.wg.Wait()
	l.conn = nil
	l.cancel = nil

	l.logger.Info("IQ listener stopped",
		slog.Uint64("datagrams_received", l.datagramsReceived.Load()),
		slog.Uint64("datagrams_dropped", l.datagramsDropped.Load()),
	)
	return err
}

// Close stops the listener for good and closes the Datagrams channel
func (l *UDPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	err := l.stopLocked()
	l.closed = true
	close(l.datagrams)
	return err
}

// Datagrams delivers one received payload per element
func (l *UDPListener) Datagrams() <-chan []byte {
	return l.datagrams
}

// LocalAddr returns the bound address, or nil when stopped
func (l *UDPListener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// receiveLoop is the main datagram receiving loop
func (l *UDPListener) receiveLoop(ctx context.Context, conn *net.UDPConn) {
	defer l.wg.Done()

	buffer := make([]byte, maxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-ctx.Done():
				return
			default:
				l.readErrors.Add(1)
				l.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
		}

		l.datagramsReceived.Add(1)

		// buffer is reused
		datagram := make([]byte, n)
		copy(datagram, buffer[:n])

		select {
		case l.datagrams <- datagram:
		default:
			l.datagramsDropped.Add(1)
			if l.metrics != nil {
				l.metrics.RecordDatagramDropped()
			}
			l.logger.Warn("IQ queue full, dropping datagram",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("size", n),
			)
		}
	}
}

// GetStatistics returns current listener statistics
func (l *UDPListener) GetStatistics() ListenerStatistics {
	l.mu.Lock()
	listening := l.conn != nil
	l.mu.Unlock()

	return ListenerStatistics{
		Listening:         listening,
		DatagramsReceived: l.datagramsReceived.Load(),
		DatagramsDropped:  l.datagramsDropped.Load(),
		ReadErrors:        l.readErrors.Load(),
		QueueSize:         uint64(len(l.datagrams)),
		QueueCapacity:     uint64(cap(l.datagrams)),
	}
}

// ListenerStatistics represents IQ listener counters
type ListenerStatistics struct {
	Listening         bool   `json:"listening"`
	DatagramsReceived uint64 `json:"datagrams_received"`
	DatagramsDropped  uint64 `json:"datagrams_dropped"`
	ReadErrors        uint64 `json:"read_errors"`
	QueueSize         uint64 `json:"queue_size"`
	QueueCapacity     uint64 `json:"queue_capacity"`
}
