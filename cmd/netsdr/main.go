package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dfsgotl-lenya/NetSdrClient/internal/client"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/config"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/metrics"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/recorder"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/server"
	"github.com/dfsgotl-lenya/NetSdrClient/internal/transport"
)

const (
	serviceName    = "netsdr-client"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults are used when empty)")
	interactive := flag.Bool("interactive", true, "Read commands from stdin")
	autoConnect := flag.Bool("connect", false, "Connect to the receiver on startup")
	autoStream := flag.Bool("iq", false, "Start IQ streaming after the startup connect")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}

	logger, closeLog := initLogger(cfg.Logging)
	defer closeLog()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)
	logger.Info("Configuration loaded",
		slog.String("device", cfg.Device.ControlAddress()),
		slog.String("data_listen", cfg.Stream.ListenAddress()),
		slog.Uint64("sample_rate", cfg.Receiver.SampleRate),
		slog.Int("sample_size_bits", cfg.Receiver.SampleSizeBits),
		slog.Uint64("frequency", cfg.Receiver.Frequency),
		slog.Bool("recording", cfg.Recording.Enabled),
		slog.Bool("http", cfg.HTTP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := run(cfg, logger, *interactive, *autoConnect, *autoStream); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		closeLog()
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger, interactive, autoConnect, autoStream bool) error {
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	control := transport.NewTCPClient(&cfg.Device, logger)
	listener := transport.NewUDPListener(&cfg.Stream, logger, appMetrics)

	hub := server.NewHub(logger, appMetrics)
	opts := []client.Option{client.WithSampleHandler(hub.SampleHandler())}

	var rec recorder.Recorder
	if cfg.Recording.Enabled {
		var err error
		rec, err = recorder.Open(&cfg.Recording, cfg.Receiver.SampleRate, cfg.Receiver.SampleSizeBits)
		if err != nil {
			return fmt.Errorf("failed to open recording: %w", err)
		}
		opts = append(opts, client.WithSampleHandler(recorder.Handler(rec, logger, appMetrics)))
		logger.Info("Recording samples",
			slog.String("format", cfg.Recording.Format),
			slog.String("path", cfg.Recording.Path),
		)
	}

	sdr, err := client.New(control, listener, client.NewConfig(cfg), logger, appMetrics, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, sdr, hub, appMetrics, prometheus.DefaultGatherer)
		httpServer.AddStatusSource("control", func() any { return control.GetStatistics() })
		httpServer.AddStatusSource("listener", func() any { return listener.GetStatistics() })
		if stats, ok := rec.(interface{ Stats() recorder.Stats }); ok {
			httpServer.AddStatusSource("recorder", func() any { return stats.Stats() })
		}
		if err := httpServer.Start(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if autoConnect {
		if err := sdr.Connect(gctx); err != nil {
			logger.Error("Startup connect failed", slog.String("error", err.Error()))
		} else if autoStream {
			if err := sdr.StartIQ(gctx); err != nil {
				logger.Error("Startup IQ start failed", slog.String("error", err.Error()))
			}
		}
	}

	if interactive {
		g.Go(func() error {
			err := runConsole(gctx, sdr, os.Stdin, os.Stdout)
			if errors.Is(err, errQuit) {
				stop()
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("Shutdown requested")
		}
		return nil
	})

	// The console returns once gctx is cancelled; a pending stdin read is
	// abandoned with the process.
	waitErr := g.Wait()

	logger.Info("Starting graceful shutdown...")

	sdr.Disconnect()

	if err := listener.Close(); err != nil {
		logger.Error("Error closing IQ listener", slog.String("error", err.Error()))
	}

	if rec != nil {
		if err := rec.Close(); err != nil {
			logger.Error("Error closing recording", slog.String("error", err.Error()))
		}
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	stats := sdr.Stats()
	logger.Info("Final client statistics",
		slog.Uint64("requests_sent", stats.RequestsSent),
		slog.Uint64("responses_matched", stats.ResponsesMatched),
		slog.Uint64("unsolicited", stats.Unsolicited),
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("samples_delivered", stats.SamplesDelivered),
		slog.Uint64("sequence_lost", stats.Stream.Lost),
	)

	return waitErr
}

// initLogger creates the structured logger. Outputs other than stdout and
// stderr are treated as file paths and rotated.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, func()) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output io.Writer
	closeFn := func() {}
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		rotator := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		output = rotator
		closeFn = func() { rotator.Close() }
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler), closeFn
}
