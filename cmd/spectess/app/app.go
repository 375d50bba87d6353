package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/roman-kulish/spectess/internal/calibration"
	"github.com/roman-kulish/spectess/internal/display"
	"github.com/roman-kulish/spectess/internal/monitor"
	"github.com/roman-kulish/spectess/internal/photometer"
	"github.com/roman-kulish/spectess/internal/photometer/mqtt"
	"github.com/roman-kulish/spectess/internal/photometer/serial"
	"github.com/roman-kulish/spectess/internal/photometer/simulated"
	"github.com/roman-kulish/spectess/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Run wires the calibration components and serves the operator console on
// in/out until the operator quits or ctx is cancelled
func Run(ctx context.Context, config *Config, logger *slog.Logger, in io.Reader, out io.Writer) error {
	if err := os.MkdirAll(config.Export.Directory, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	store := storage.NewSqliteStore(config.Storage.Database)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing storage: %s", err.Error()))
		}
	}()

	device, err := createDevice(&config.Device, logger)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	out = &syncWriter{w: out}

	metrics := monitor.NewMetrics()
	console := display.NewConsole(out)
	feed := display.NewFeed(display.WithFeedLogger(logger))

	controller := calibration.NewController(device, store, display.Fanout{console, feed},
		calibration.WithLogger(logger),
		calibration.WithMetrics(metrics),
		calibration.WithFilterBands(config.Calibration.Filters),
		calibration.WithRole(config.Calibration.Role),
		calibration.WithSave(config.Calibration.Save),
		calibration.WithExportDirectory(config.Export.Directory),
	)

	if err = controller.LoadState(ctx); err != nil {
		return fmt.Errorf("failed to load calibration state: %w", err)
	}

	if config.HTTP.Listen != "" {
		stop := serveHTTP(config.HTTP.Listen, metrics, feed, logger)
		defer stop()
	}

	return NewConsole(controller, console, out, logger).Run(ctx, in)
}

func createDevice(config *DeviceConfig, logger *slog.Logger) (*photometer.LineDevice, error) {
	var transport photometer.Transport

	switch config.Type {
	case DeviceSerial:
		transport = serial.NewTransport(config.Serial.Port, config.Serial.BaudRate)

	case DeviceMQTT:
		transport = mqtt.NewTransport(mqtt.Config{
			Broker:   config.MQTT.Broker,
			ClientID: config.MQTT.ClientID,
			Username: config.MQTT.Username,
			Password: config.MQTT.Password,
			Topic:    config.MQTT.Topic,
			QoS:      config.MQTT.QoS,
		}, mqtt.WithLogger(logger))

	case DeviceSimulated:
		transport = simulated.NewTransport(simulated.Config{
			Name:      config.Identity.Name,
			Frequency: config.Simulated.Frequency,
			Jitter:    config.Simulated.Jitter,
			ZeroPoint: config.Identity.ZeroPoint,
			Interval:  time.Duration(config.Simulated.Interval),
		})

	default:
		return nil, fmt.Errorf("creating device: unknown type '%s'", config.Type)
	}

	return photometer.NewDevice(transport, config.Identity,
		photometer.WithLogger(logger),
		photometer.WithInfoTimeout(time.Duration(config.InfoTimeout)),
	), nil
}

// serveHTTP starts the metrics and live feed server and returns a function
// that shuts it down
func serveHTTP(addr string, metrics *monitor.Metrics, feed *display.Feed, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", monitor.HealthHandler())
	mux.Handle("/ws", feed)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(fmt.Sprintf("http server: %s", err.Error()))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn(fmt.Sprintf("http server shutdown: %s", err.Error()))
		}
	}
}

// syncWriter serialises writes from the console and the step goroutines
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
