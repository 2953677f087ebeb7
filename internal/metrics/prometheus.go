package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the NetSDR client
type Metrics struct {
	// Connection state
	Connected   prometheus.Gauge
	IQStreaming prometheus.Gauge
	Connects    prometheus.Counter
	ConnectErrs prometheus.Counter

	// Control channel metrics
	ControlMessagesSent  *prometheus.CounterVec
	ControlResponses     prometheus.Counter
	UnsolicitedResponses prometheus.Counter
	AbandonedResponses   prometheus.Counter
	ControlErrors        *prometheus.CounterVec
	ControlRequestTime   prometheus.Histogram

	// IQ stream metrics
	DatagramsReceived prometheus.Counter
	DatagramsDropped  prometheus.Counter
	DecodeErrors      prometheus.Counter
	SamplesDelivered  prometheus.Counter
	SequenceGaps      prometheus.Counter
	DatagramSize      prometheus.Histogram

	// Consumers
	WebSocketClients prometheus.Gauge
	RecordErrors     prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "netsdr_connected",
			Help: "1 while the control channel is connected",
		}),
		IQStreaming: factory.NewGauge(prometheus.GaugeOpts{
			Name: "netsdr_iq_streaming",
			Help: "1 while IQ capture is running",
		}),
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsdr_connects_total",
			Help: "Total number of successful control channel connects",
		}),
		ConnectErrs: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsdr_connect_errors_total",
			Help: "Total number of failed control channel connects",
		}),

		ControlMessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netsdr_control_messages_sent_total",
			Help: "Total number of control messages written to the control channel",
		}, []string{"item"}),
		ControlResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsdr_control_responses_total",
			Help: "Total number of control responses matched to a request",
		}),
		UnsolicitedResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsdr_control_unsolicited_total",
			Help: "Total number of control messages received with no request outstanding",
		}),
		AbandonedResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsdr_control_abandoned_total",
			Help: "Total number of late responses to cancelled requests",
		}),
		ControlErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netsdr_control_errors_total",
			Help: "Total number of failed control requests",
		}, []string{"reason"}),
		ControlRequestTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "netsdr_control_request_duration_seconds",
			Help:    "Round trip time of correlated control requests",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),

		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsdr_datagrams_received_total",
			Help: "Total number of UDP datagrams received on the IQ stream",
		}),
		DatagramsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsdr_datagrams_dropped_total",
			Help: "Total number of datagrams dropped because the ingest queue was full",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsdr_decode_errors_total",
			Help: "Total number of malformed datagrams",
		}),
		SamplesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsdr_samples_delivered_total",
			Help: "Total number of IQ samples delivered to consumers",
		}),
		SequenceGaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsdr_sequence_gaps_total",
			Help: "Total number of data items missing from the sequence",
		}),
		DatagramSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "netsdr_datagram_size_bytes",
			Help:    "Size of received IQ datagrams",
			Buckets: prometheus.ExponentialBuckets(64, 2, 8), // 64B to 8KB
		}),

		WebSocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "netsdr_websocket_clients",
			Help: "Current number of WebSocket sample subscribers",
		}),
		RecordErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsdr_record_errors_total",
			Help: "Total number of sample batches the recorder failed to write",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netsdr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netsdr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netsdr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetConnected records the control channel state
func (m *Metrics) SetConnected(connected bool) {
	m.Connected.Set(boolGauge(connected))
}

// SetIQStreaming records the capture state
func (m *Metrics) SetIQStreaming(streaming bool) {
	m.IQStreaming.Set(boolGauge(streaming))
}

// RecordConnect counts a connect attempt
func (m *Metrics) RecordConnect(err error) {
	if err != nil {
		m.ConnectErrs.Inc()
		return
	}
	m.Connects.Inc()
}

// RecordControlSent increments the sent counter for one control item
func (m *Metrics) RecordControlSent(item string) {
	m.ControlMessagesSent.WithLabelValues(item).Inc()
}

// RecordControlResponse records a matched response and its round trip time
func (m *Metrics) RecordControlResponse(durationSeconds float64) {
	m.ControlResponses.Inc()
	m.ControlRequestTime.Observe(durationSeconds)
}

// RecordUnsolicited increments the unsolicited response counter
func (m *Metrics) RecordUnsolicited() {
	m.UnsolicitedResponses.Inc()
}

// RecordAbandoned increments the late-response counter
func (m *Metrics) RecordAbandoned() {
	m.AbandonedResponses.Inc()
}

// RecordControlError records a failed control request
func (m *Metrics) RecordControlError(reason string) {
	m.ControlErrors.WithLabelValues(reason).Inc()
}

// RecordDatagram records one received datagram
func (m *Metrics) RecordDatagram(sizeBytes int) {
	m.DatagramsReceived.Inc()
	m.DatagramSize.Observe(float64(sizeBytes))
}

// RecordDatagramDropped increments the dropped datagram counter
func (m *Metrics) RecordDatagramDropped() {
	m.DatagramsDropped.Inc()
}

// RecordDecodeError increments the decode error counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordSamples records a delivered batch
func (m *Metrics) RecordSamples(count int, lost uint16) {
	m.SamplesDelivered.Add(float64(count))
	if lost > 0 {
		m.SequenceGaps.Add(float64(lost))
	}
}

// SetWebSocketClients sets the current subscriber count
func (m *Metrics) SetWebSocketClients(count int) {
	m.WebSocketClients.Set(float64(count))
}

// RecordRecordError increments the recorder error counter
func (m *Metrics) RecordRecordError() {
	m.RecordErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
