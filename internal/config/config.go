package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/protocol"
)

// Config represents the complete client configuration
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Receiver  ReceiverConfig  `yaml:"receiver"`
	Stream    StreamConfig    `yaml:"stream"`
	Recording RecordingConfig `yaml:"recording"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig describes how to reach the receiver's control port
type DeviceConfig struct {
	Address        string `yaml:"address"`
	ControlPort    int    `yaml:"control_port"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
	RequestTimeout int    `yaml:"request_timeout"` // milliseconds, 0 waits for the caller's context
}

// ReceiverConfig holds the initial receiver setup sent after every connect
type ReceiverConfig struct {
	SampleRate     uint64 `yaml:"sample_rate"` // Hz
	RFFilter       uint16 `yaml:"rf_filter"`   // 0 = automatic
	ADMode         uint8  `yaml:"ad_mode"`
	SampleSizeBits int    `yaml:"sample_size_bits"`
	Channel        uint8  `yaml:"channel"`
	Frequency      uint64 `yaml:"frequency"` // Hz, 0 leaves the receiver's tuning alone
}

// StreamConfig contains UDP IQ listener configuration
type StreamConfig struct {
	BindAddress string `yaml:"bind_address"`
	DataPort    int    `yaml:"data_port"`
	BufferSize  int    `yaml:"buffer_size"`
	QueueSize   int    `yaml:"queue_size"`
}

// RecordingConfig controls writing received samples to disk
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // raw, wav or parquet
	Path    string `yaml:"path"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port          int    `yaml:"port"`
	Address       string `yaml:"address"`
	Enabled       bool   `yaml:"enabled"`
	WebSocketPath string `yaml:"websocket_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a configuration for a receiver on the local host with the
// standard NetSDR ports.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Address:        "127.0.0.1",
			ControlPort:    50000,
			ConnectTimeout: 5,
			RequestTimeout: 2000,
		},
		Receiver: ReceiverConfig{
			SampleRate:     100000,
			RFFilter:       0,
			ADMode:         3,
			SampleSizeBits: protocol.DefaultSampleSizeBits,
			Channel:        0,
		},
		Stream: StreamConfig{
			BindAddress: "0.0.0.0",
			DataPort:    60000,
			BufferSize:  1 << 20,
			QueueSize:   1000,
		},
		Recording: RecordingConfig{
			Enabled: false,
			Format:  "raw",
			Path:    "samples.bin",
		},
		HTTP: HTTPConfig{
			Port:          8080,
			Address:       "127.0.0.1",
			Enabled:       true,
			WebSocketPath: "/ws",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}

	if err := c.Receiver.Validate(); err != nil {
		return fmt.Errorf("receiver config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates device configuration
func (d *DeviceConfig) Validate() error {
	if d.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if d.ControlPort < 1 || d.ControlPort > 65535 {
		return fmt.Errorf("control_port must be between 1 and 65535, got %d", d.ControlPort)
	}

	if d.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", d.ConnectTimeout)
	}

	if d.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout cannot be negative, got %d", d.RequestTimeout)
	}

	return nil
}

// Validate validates receiver configuration
func (r *ReceiverConfig) Validate() error {
	if r.SampleRate == 0 {
		return fmt.Errorf("sample_rate must be positive")
	}

	// The sample rate and frequency travel as 40-bit fields
	if r.SampleRate >= 1<<40 {
		return fmt.Errorf("sample_rate %d does not fit in 40 bits", r.SampleRate)
	}

	if r.Frequency >= 1<<40 {
		return fmt.Errorf("frequency %d does not fit in 40 bits", r.Frequency)
	}

	if _, err := protocol.SampleWidth(r.SampleSizeBits); err != nil {
		return fmt.Errorf("sample_size_bits: %w", err)
	}

	return nil
}

// Validate validates stream listener configuration
func (s *StreamConfig) Validate() error {
	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.DataPort < 0 || s.DataPort > 65535 {
		return fmt.Errorf("data_port must be between 0 and 65535, got %d", s.DataPort)
	}

	if s.BufferSize < 8194 {
		return fmt.Errorf("buffer_size must hold a full data item (8194 bytes), got %d", s.BufferSize)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	validFormats := map[string]bool{"raw": true, "wav": true, "parquet": true}
	if !validFormats[r.Format] {
		return fmt.Errorf("format must be one of [raw, wav, parquet], got '%s'", r.Format)
	}

	if r.Path == "" {
		return fmt.Errorf("path cannot be empty when recording is enabled")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}

		if h.WebSocketPath == "" || h.WebSocketPath[0] != '/' {
			return fmt.Errorf("websocket_path must start with '/', got '%s'", h.WebSocketPath)
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits cannot be negative")
	}

	return nil
}

// ControlAddress returns host:port of the receiver's control channel
func (d *DeviceConfig) ControlAddress() string {
	return fmt.Sprintf("%s:%d", d.Address, d.ControlPort)
}

// ListenAddress returns host:port the IQ listener binds to
func (s *StreamConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.DataPort)
}

// GetConnectTimeoutDuration returns the connect timeout as a time.Duration
func (d *DeviceConfig) GetConnectTimeoutDuration() time.Duration {
	return time.Duration(d.ConnectTimeout) * time.Second
}

// GetRequestTimeoutDuration returns the control request timeout as a time.Duration
func (d *DeviceConfig) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(d.RequestTimeout) * time.Millisecond
}
