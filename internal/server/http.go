package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/client"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/config"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/metrics"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/protocol"
)

// Controller is the part of the client the API drives
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect()
	StartIQ(ctx context.Context) error
	StopIQ(ctx context.Context) error
	ChangeFrequency(ctx context.Context, hz uint64, channel uint8) (protocol.Message, error)
	Connected() bool
	IQStreaming() bool
	Stats() client.Stats
}

// HTTPServer provides HTTP API endpoints for control and monitoring
type HTTPServer struct {
	server   *http.Server
	mux      *http.ServeMux
	logger   *slog.Logger
	config   *config.Config
	client   Controller
	hub      *Hub
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	// Server state
	startTime time.Time
	mu        sync.RWMutex
	sources   map[string]func() any
}

// NewHTTPServer creates a new HTTP API server. Metrics are served from
// gatherer; hub may be nil to disable the WebSocket endpoint.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, ctrl Controller, hub *Hub,
	m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		mux:       http.NewServeMux(),
		logger:    logger,
		config:    appConfig,
		client:    ctrl,
		hub:       hub,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
		sources:   make(map[string]func() any),
	}

	h.setupRoutes(h.mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      h.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// AddStatusSource adds a named section to the /status response
func (h *HTTPServer) AddStatusSource(name string, fn func() any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources[name] = fn
}

// Handler returns the route multiplexer
func (h *HTTPServer) Handler() http.Handler {
	return h.mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Receiver control
	mux.HandleFunc("/connect", h.withMetrics("/connect", h.handleConnect))
	mux.HandleFunc("/disconnect", h.withMetrics("/disconnect", h.handleDisconnect))
	mux.HandleFunc("/iq/start", h.withMetrics("/iq/start", h.handleStartIQ))
	mux.HandleFunc("/iq/stop", h.withMetrics("/iq/stop", h.handleStopIQ))
	mux.HandleFunc("/frequency", h.withMetrics("/frequency", h.handleFrequency))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// The upgrade needs the raw ResponseWriter, so no metrics wrapper
	if h.hub != nil {
		mux.Handle(h.config.HTTP.WebSocketPath, h.hub)
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start listens on the configured address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	if h.hub != nil {
		h.hub.Close()
	}
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// controlStatus maps a failed control operation to a response code
func controlStatus(err error) int {
	switch {
	case errors.Is(err, protocol.ErrContractViolation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, client.ErrRequestAbandoned):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (h *HTTPServer) state() map[string]any {
	return map[string]any{
		"connected":    h.client.Connected(),
		"iq_streaming": h.client.IQStreaming(),
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "netsdr-client",
			"version": "1.0.0",
		},
		"receiver": h.state(),
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	status := map[string]any{
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"client":    h.client.Stats(),
	}
	if h.hub != nil {
		status["websocket_clients"] = h.hub.ClientCount()
	}

	h.mu.RLock()
	for name, fn := range h.sources {
		status[name] = fn()
	}
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, status)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, http.StatusOK, h.config)
}

func (h *HTTPServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.client.Connect(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

func (h *HTTPServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	h.client.Disconnect()
	writeJSON(w, http.StatusOK, h.state())
}

func (h *HTTPServer) handleStartIQ(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if !h.client.Connected() {
		writeError(w, http.StatusConflict, "not connected")
		return
	}

	if err := h.client.StartIQ(r.Context()); err != nil {
		writeError(w, controlStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

func (h *HTTPServer) handleStopIQ(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if !h.client.Connected() {
		writeError(w, http.StatusConflict, "not connected")
		return
	}

	if err := h.client.StopIQ(r.Context()); err != nil {
		writeError(w, controlStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

// handleFrequency implements POST /frequency?hz=N[&channel=C]
func (h *HTTPServer) handleFrequency(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	query := r.URL.Query()
	hz, err := strconv.ParseUint(query.Get("hz"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "hz must be a non-negative integer")
		return
	}

	channel := uint64(h.config.Receiver.Channel)
	if c := query.Get("channel"); c != "" {
		channel, err = strconv.ParseUint(c, 10, 8)
		if err != nil {
			writeError(w, http.StatusBadRequest, "channel must be 0-255")
			return
		}
	}

	if !h.client.Connected() {
		writeError(w, http.StatusConflict, "not connected")
		return
	}

	msg, err := h.client.ChangeFrequency(r.Context(), hz, uint8(channel))
	if err != nil {
		writeError(w, controlStatus(err), err.Error())
		return
	}
	if msg == nil {
		// dropped between the check and the request
		writeError(w, http.StatusConflict, "not connected")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hz":       hz,
		"channel":  channel,
		"response": fmt.Sprint(msg),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "NetSDR client",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":                              "API documentation",
			"GET /health":                        "Service health check",
			"GET /status":                        "Client, transport and recorder statistics",
			"GET /config":                        "Effective configuration",
			"POST /connect":                      "Connect to the receiver",
			"POST /disconnect":                   "Disconnect from the receiver",
			"POST /iq/start":                     "Start IQ streaming",
			"POST /iq/stop":                      "Stop IQ streaming",
			"POST /frequency?hz=N&channel=C":     "Tune a receiver channel",
			"GET " + h.config.HTTP.WebSocketPath: "Binary IQ sample stream",
			"GET /metrics":                       "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
