package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/config"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/metrics"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/protocol"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/stream"
)

var (
	// ErrDisconnected resolves requests still pending when Disconnect is called.
	ErrDisconnected = errors.New("client disconnected")
	// ErrConnectionLost resolves requests still pending when the control channel closes.
	ErrConnectionLost = errors.New("control connection lost")
	// ErrRequestAbandoned is returned when the caller's context ends before the
	// response arrives. The request may still have reached the receiver.
	ErrRequestAbandoned = errors.New("control request abandoned")
	// ErrMalformedResponse is returned when the matched response does not decode.
	ErrMalformedResponse = errors.New("malformed control response")
	// ErrFrequencyOutOfRange is returned for frequencies wider than 40 bits.
	ErrFrequencyOutOfRange = fmt.Errorf("%w: frequency does not fit in 40 bits", protocol.ErrContractViolation)
)

// Config holds the receiver setup sent after every connect and the request
// timing.
type Config struct {
	SampleRate     uint64
	RFFilter       uint16
	ADMode         uint8
	Channel        uint8
	Frequency      uint64 // 0 skips the initial tuning message
	SampleSizeBits int
	RequestTimeout time.Duration // 0 waits for the caller's context only
}

// NewConfig builds a client Config from the application configuration.
func NewConfig(cfg *config.Config) Config {
	return Config{
		SampleRate:     cfg.Receiver.SampleRate,
		RFFilter:       cfg.Receiver.RFFilter,
		ADMode:         cfg.Receiver.ADMode,
		Channel:        cfg.Receiver.Channel,
		Frequency:      cfg.Receiver.Frequency,
		SampleSizeBits: cfg.Receiver.SampleSizeBits,
		RequestTimeout: cfg.Device.GetRequestTimeoutDuration(),
	}
}

type setupItem struct {
	code   protocol.ControlItemCode
	params []byte
}

// setupBatch is the ordered list of control items written after connect.
func (c Config) setupBatch() []setupItem {
	batch := []setupItem{
		{protocol.IQOutputDataSampleRate, protocol.SampleRateParameters(c.SampleRate)},
		{protocol.RFFilter, protocol.RFFilterParameters(c.RFFilter)},
		{protocol.ADModes, protocol.ADModeParameters(c.ADMode)},
	}
	if c.Frequency != 0 {
		batch = append(batch, setupItem{protocol.ReceiverFrequency, protocol.FrequencyParameters(c.Channel, c.Frequency)})
	}
	return batch
}

// SampleBatch is the decoded content of one IQ datagram.
type SampleBatch struct {
	Type           protocol.MessageType
	SequenceNumber uint16
	Samples        []int32
	Lost           uint16 // data items missing between the previous batch and this one
	ReceivedAt     time.Time
}

// SampleHandler consumes sample batches. Handlers run on the ingestion
// goroutine and must not block for long.
type SampleHandler func(SampleBatch)

// Option configures a Client
type Option func(*Client)

// WithSampleHandler registers a consumer for decoded sample batches. It may be
// given more than once; handlers are called in registration order.
func WithSampleHandler(h SampleHandler) Option {
	return func(c *Client) {
		if h != nil {
			c.handlers = append(c.handlers, h)
		}
	}
}

// Stats contains client statistics
type Stats struct {
	SessionID         string              `json:"session_id,omitempty"`
	Connected         bool                `json:"connected"`
	IQStreaming       bool                `json:"iq_streaming"`
	ConnectedAt       time.Time           `json:"connected_at,omitempty"`
	RequestsSent      uint64              `json:"requests_sent"`
	ResponsesMatched  uint64              `json:"responses_matched"`
	Unsolicited       uint64              `json:"unsolicited"`
	Abandoned         uint64              `json:"abandoned"`
	RequestErrors     uint64              `json:"request_errors"`
	DatagramsReceived uint64              `json:"datagrams_received"`
	DecodeErrors      uint64              `json:"decode_errors"`
	SamplesDelivered  uint64              `json:"samples_delivered"`
	Stream            stream.TrackerStats `json:"stream"`
}

// Client is the NetSDR orchestrator. All methods are safe for concurrent use.
type Client struct {
	control  ControlTransport
	stream   StreamTransport
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	handlers []SampleHandler

	// ops serializes Connect, Disconnect, StartIQ and StopIQ.
	ops chan struct{}

	connected     atomic.Bool
	iqStreaming   atomic.Bool
	session       atomic.Pointer[session]
	disconnecting atomic.Int32

	// guarded by ops
	ingestCancel context.CancelFunc
	ingestDone   chan struct{}

	tracker    *stream.Tracker
	decodeWarn rate.Sometimes

	requestsSent      atomic.Uint64
	responsesMatched  atomic.Uint64
	unsolicited       atomic.Uint64
	abandoned         atomic.Uint64
	requestErrors     atomic.Uint64
	datagramsReceived atomic.Uint64
	decodeErrors      atomic.Uint64
	samplesDelivered  atomic.Uint64
}

// New creates a disconnected client. A nil metrics value registers a private
// set of metrics that is not exported anywhere.
func New(control ControlTransport, streamTransport StreamTransport, cfg Config, logger *slog.Logger, m *metrics.Metrics, opts ...Option) (*Client, error) {
	if control == nil || streamTransport == nil {
		return nil, fmt.Errorf("%w: transports must not be nil", protocol.ErrContractViolation)
	}
	if _, err := protocol.SampleWidth(cfg.SampleSizeBits); err != nil {
		return nil, err
	}
	if cfg.SampleRate >= 1<<40 || cfg.Frequency >= 1<<40 {
		return nil, ErrFrequencyOutOfRange
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry())
	}

	c := &Client{
		control:    control,
		stream:     streamTransport,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		ops:        make(chan struct{}, 1),
		tracker:    stream.NewTracker(),
		decodeWarn: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connected reports whether the control channel is up
func (c *Client) Connected() bool { return c.connected.Load() }

// IQStreaming reports whether IQ capture is running
func (c *Client) IQStreaming() bool { return c.iqStreaming.Load() }

// Stats returns a snapshot of the client counters
func (c *Client) Stats() Stats {
	st := Stats{
		Connected:         c.connected.Load(),
		IQStreaming:       c.iqStreaming.Load(),
		RequestsSent:      c.requestsSent.Load(),
		ResponsesMatched:  c.responsesMatched.Load(),
		Unsolicited:       c.unsolicited.Load(),
		Abandoned:         c.abandoned.Load(),
		RequestErrors:     c.requestErrors.Load(),
		DatagramsReceived: c.datagramsReceived.Load(),
		DecodeErrors:      c.decodeErrors.Load(),
		SamplesDelivered:  c.samplesDelivered.Load(),
		Stream:            c.tracker.Stats(),
	}
	if s := c.session.Load(); s != nil {
		st.SessionID = s.id
		st.ConnectedAt = s.started
	}
	return st
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.ops <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.ops }

// Connect opens the control channel and sends the setup batch. It is a no-op
// when already connected; concurrent callers wait for the first to finish.
// A setup item the receiver rejects or never answers is logged and skipped.
// If ctx ends or the client is disconnected during setup, Connect returns that
// error; the control channel stays open until Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if c.connected.Load() {
		c.logger.Debug("Already connected")
		return nil
	}

	if err := c.control.Connect(ctx); err != nil {
		c.metrics.RecordConnect(err)
		c.logger.Error("Failed to connect control channel", slog.String("error", err.Error()))
		return fmt.Errorf("connect control channel: %w", err)
	}
	c.metrics.RecordConnect(nil)

	s := newSession(c)
	c.session.Store(s)
	go s.run(c.control.Messages())

	c.connected.Store(true)
	c.metrics.SetConnected(true)
	c.logger.Info("Connected to receiver", slog.String("session_id", s.id))

	// A Disconnect that started before the session was stored could not
	// close it; it tears the connection down once we release ops.
	if c.disconnecting.Load() > 0 {
		return fmt.Errorf("connect: %w", ErrDisconnected)
	}

	for _, item := range c.cfg.setupBatch() {
		frame, err := protocol.EncodeControlMessage(protocol.SetControlItem, item.code, item.params)
		if err != nil {
			c.logger.Error("Failed to encode setup message",
				slog.String("item", item.code.String()),
				slog.String("error", err.Error()))
			continue
		}
		if _, err := c.request(ctx, s, item.code, frame); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrDisconnected) || errors.Is(err, ErrConnectionLost) {
				return fmt.Errorf("connect setup %s: %w", item.code, err)
			}
			c.logger.Warn("Setup message failed",
				slog.String("item", item.code.String()),
				slog.String("error", err.Error()))
		}
	}

	return nil
}

// Disconnect closes both transports and resets the streaming state. It is
// safe to call at any time, including when never connected, and does not
// wait for the receiver: a Connect, StartIQ or StopIQ blocked on a reply
// fails with ErrDisconnected.
func (c *Client) Disconnect() {
	c.disconnecting.Add(1)
	defer c.disconnecting.Add(-1)

	// the session is closed before taking ops so the current holder's
	// pending request resolves
	if s := c.session.Swap(nil); s != nil {
		s.close()
	}

	c.ops <- struct{}{}
	defer c.release()

	c.teardown(ErrDisconnected)
}

// teardown must be called with ops held.
func (c *Client) teardown(reason error) {
	if c.iqStreaming.Load() {
		c.stopStreaming()
	}

	s := c.session.Swap(nil)
	if s == nil && !c.connected.Load() {
		return
	}
	if s != nil {
		s.close()
	}

	if err := c.control.Disconnect(); err != nil {
		c.logger.Warn("Error closing control channel", slog.String("error", err.Error()))
	}

	c.connected.Store(false)
	c.metrics.SetConnected(false)
	c.logger.Info("Disconnected from receiver", slog.String("reason", reason.Error()))
}

// connectionLost runs when the dispatcher sees the control channel close.
func (c *Client) connectionLost(s *session) {
	if !c.session.CompareAndSwap(s, nil) {
		// Disconnect already took it
		return
	}
	c.logger.Error("Control connection lost", slog.String("session_id", s.id))

	c.ops <- struct{}{}
	defer c.release()

	if c.session.Load() != nil {
		// torn down and reconnected while we waited for ops
		return
	}
	c.teardown(ErrConnectionLost)
}

// StartIQ asks the receiver to start streaming and begins ingesting
// datagrams. Calling it while disconnected logs a warning and does nothing.
func (c *Client) StartIQ(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	s := c.session.Load()
	if !c.connected.Load() || s == nil {
		c.logger.Warn("Start IQ ignored: not connected")
		return nil
	}
	if c.iqStreaming.Load() {
		c.logger.Debug("IQ already streaming")
		return nil
	}

	frame, err := protocol.EncodeControlMessage(protocol.SetControlItem, protocol.ReceiverState, protocol.StartIQParameters())
	if err != nil {
		return err
	}
	if _, err := c.request(ctx, s, protocol.ReceiverState, frame); err != nil {
		return fmt.Errorf("start IQ: %w", err)
	}

	if n := drainStale(c.stream.Datagrams()); n > 0 {
		c.logger.Debug("Discarded datagrams from the previous capture", slog.Int("count", n))
	}

	if err := c.stream.StartListening(ctx); err != nil {
		c.logger.Error("Failed to start IQ listener", slog.String("error", err.Error()))
		return fmt.Errorf("start IQ listener: %w", err)
	}

	c.tracker.Reset()
	ingestCtx, cancel := context.WithCancel(context.Background())
	c.ingestCancel = cancel
	c.ingestDone = make(chan struct{})
	go c.ingest(ingestCtx, c.stream.Datagrams(), c.ingestDone)

	c.iqStreaming.Store(true)
	c.metrics.SetIQStreaming(true)
	c.logger.Info("IQ streaming started")
	return nil
}

// StopIQ asks the receiver to stop streaming and stops ingestion. It does
// nothing unless connected and streaming. The local listener is stopped even
// when the stop request fails.
func (c *Client) StopIQ(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	s := c.session.Load()
	if !c.connected.Load() || s == nil {
		c.logger.Warn("Stop IQ ignored: not connected")
		return nil
	}
	if !c.iqStreaming.Load() {
		c.logger.Debug("Stop IQ ignored: not streaming")
		return nil
	}

	var reqErr error
	frame, err := protocol.EncodeControlMessage(protocol.SetControlItem, protocol.ReceiverState, protocol.StopIQParameters())
	if err == nil {
		_, err = c.request(ctx, s, protocol.ReceiverState, frame)
	}
	if err != nil {
		reqErr = fmt.Errorf("stop IQ: %w", err)
	}

	c.stopStreaming()
	return reqErr
}

// stopStreaming must be called with ops held.
func (c *Client) stopStreaming() {
	if err := c.stream.StopListening(); err != nil {
		c.logger.Warn("Error stopping IQ listener", slog.String("error", err.Error()))
	}
	if c.ingestCancel != nil {
		c.ingestCancel()
		<-c.ingestDone
		c.ingestCancel = nil
		c.ingestDone = nil
	}
	c.iqStreaming.Store(false)
	c.metrics.SetIQStreaming(false)

	st := c.tracker.Stats()
	c.logger.Info("IQ streaming stopped",
		slog.Uint64("received", st.Received),
		slog.Uint64("lost", st.Lost))
}

// ChangeFrequency tunes a receiver channel and returns the receiver's reply.
// It returns nil, nil when not connected.
func (c *Client) ChangeFrequency(ctx context.Context, hz uint64, channel uint8) (protocol.Message, error) {
	if hz >= 1<<40 {
		return nil, ErrFrequencyOutOfRange
	}

	frame, err := protocol.EncodeControlMessage(protocol.SetControlItem, protocol.ReceiverFrequency,
		protocol.FrequencyParameters(channel, hz))
	if err != nil {
		return nil, err
	}

	resp, err := c.sendControlRequest(ctx, protocol.ReceiverFrequency, frame)
	if err != nil || resp == nil {
		return nil, err
	}

	msg, err := protocol.Decode(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	c.logger.Info("Frequency changed",
		slog.Uint64("hz", hz),
		slog.Int("channel", int(channel)))
	return msg, nil
}

// SendControlRequest writes msg to the control channel and waits for the
// next response. It returns nil, nil without touching the transport when not
// connected.
func (c *Client) SendControlRequest(ctx context.Context, msg protocol.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: message must not be nil", protocol.ErrContractViolation)
	}
	if msg.MessageType().IsDataItem() {
		return nil, fmt.Errorf("%w: %s", protocol.ErrWrongMessageType, msg.MessageType())
	}

	frame, err := msg.MarshalBinary()
	if err != nil {
		return nil, err
	}

	item := protocol.ControlItemNone
	if cf, ok := msg.(*protocol.ControlFrame); ok {
		item = cf.ItemCode
	}
	return c.sendControlRequest(ctx, item, frame)
}

func (c *Client) sendControlRequest(ctx context.Context, item protocol.ControlItemCode, frame []byte) ([]byte, error) {
	s := c.session.Load()
	if !c.connected.Load() || s == nil {
		c.logger.Warn("Control request ignored: not connected", slog.String("item", item.String()))
		return nil, nil
	}
	return c.request(ctx, s, item, frame)
}
