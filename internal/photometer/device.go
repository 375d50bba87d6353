package photometer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// ParseErrorsThreshold defines the number of consecutive parse errors allowed
	ParseErrorsThreshold = 5

	// InfoTimeout is the default time to wait for the first reading when identifying a photometer
	InfoTimeout = 10 * time.Second
)

var (
	// ErrTooManyParseErrors is returned when the number of consecutive parse errors exceeds the threshold
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

	// ErrBrokenPipe is returned when the transport stops delivering lines
	ErrBrokenPipe = errors.New("broken pipe")

	// ErrAlreadyStreaming is returned when Stream is called on a streaming device
	ErrAlreadyStreaming = errors.New("device is already streaming")
)

// Transport delivers newline separated JSON payloads from a photometer
type Transport interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string
}

// WithLogger sets the logger for the device
func WithLogger(logger *slog.Logger) func(d *LineDevice) {
	return func(d *LineDevice) {
		d.logger = logger.With(
			slog.String("transport", d.transport.Name()),
			slog.String("mac", d.identity.MAC),
		)
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive parse errors
func WithParseErrorsThreshold(threshold uint8) func(d *LineDevice) {
	return func(d *LineDevice) {
		d.parseErrorsThreshold = threshold
	}
}

// WithInfoTimeout sets how long Info waits for the photometer to answer
func WithInfoTimeout(timeout time.Duration) func(d *LineDevice) {
	return func(d *LineDevice) {
		if timeout > 0 {
			d.infoTimeout = timeout
		}
	}
}

// WithClock sets the clock used to stamp readings without a device timestamp
func WithClock(now func() time.Time) func(d *LineDevice) {
	return func(d *LineDevice) {
		d.now = now
	}
}

// LineDevice is a photometer reached through a Transport that emits one JSON
// reading per line. Identity fields the payload does not carry come from the
// configured identity.
type LineDevice struct {
	transport Transport
	identity  Info

	isStreaming atomic.Bool

	parseErrorsThreshold uint8
	infoTimeout          time.Duration
	now                  func() time.Time
	logger               *slog.Logger
}

// NewDevice creates a new LineDevice instance with a discard logger
func NewDevice(t Transport, identity Info, options ...func(d *LineDevice)) *LineDevice {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	d := LineDevice{
		transport:            t,
		identity:             identity,
		logger:               logger,
		parseErrorsThreshold: ParseErrorsThreshold,
		infoTimeout:          InfoTimeout,
		now:                  time.Now,
	}

	for _, option := range options {
		option(&d)
	}

	return &d
}

// Info waits for the first decodable reading and returns the photometer identity
func (d *LineDevice) Info(ctx context.Context) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, d.infoTimeout)
	defer cancel()

	rc, err := d.transport.Open(ctx)
	if err != nil {
		return nil, d.contextErr(ctx, fmt.Errorf("error opening transport: %w", err))
	}

	stop := context.AfterFunc(ctx, func() { _ = rc.Close() })
	defer func() {
		if stop() {
			_ = rc.Close()
		}
	}()

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		r, err := ParseLine(line, d.now())
		if err != nil {
			d.logger.Debug(fmt.Sprintf("skipping line while identifying: %s", err.Error()), slog.String("line", line))
			continue
		}

		info := d.identity
		if info.Name == "" {
			info.Name = r.Name
		}
		return &info, nil
	}

	if ctx.Err() != nil {
		return nil, d.contextErr(ctx, ctx.Err())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrokenPipe, err)
	}
	return nil, fmt.Errorf("%w: stream ended before first reading", ErrBrokenPipe)
}

// contextErr maps an expired identification deadline to ErrTimeout
func (d *LineDevice) contextErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no reading within %s", ErrTimeout, d.infoTimeout)
	}
	return err
}

// Stream reads lines from the transport and sends decoded readings until the
// context is cancelled, the transport fails or too many consecutive lines fail
// to decode.
func (d *LineDevice) Stream(ctx context.Context, readings chan<- Reading) error {
	if !d.isStreaming.CompareAndSwap(false, true) {
		return ErrAlreadyStreaming
	}
	defer d.isStreaming.Store(false)

	rc, err := d.transport.Open(ctx)
	if err != nil {
		return fmt.Errorf("error opening transport: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = rc.Close() })
	defer func() {
		if stop() {
			_ = rc.Close()
		}
	}()

	d.logger.Info("starting readings collection...")
	defer d.logger.Info("readings collection stopped")

	var parseErrors uint8

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		r, err := ParseLine(line, d.now())
		if err != nil {
			parseErrors++
			d.logger.Warn(fmt.Sprintf("error parsing reading: %s", err.Error()), slog.String("line", line))

			if parseErrors >= d.parseErrorsThreshold {
				return ErrTooManyParseErrors
			}

			continue
		}

		parseErrors = 0 // reset counter

		select {
		case readings <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("%w: error reading transport: %w", ErrBrokenPipe, err)
	}
	return fmt.Errorf("%w: transport closed", ErrBrokenPipe)
}

// IsStreaming returns true if the device is streaming readings
func (d *LineDevice) IsStreaming() bool {
	return d.isStreaming.Load()
}
