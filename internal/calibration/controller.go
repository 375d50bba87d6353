package calibration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/spectess/internal/export"
	"github.com/roman-kulish/spectess/internal/monitor"
	"github.com/roman-kulish/spectess/internal/photometer"
	"github.com/roman-kulish/spectess/internal/storage"
)

const (
	DefaultSampleCount   = 17
	DefaultWaveIncrement = 5

	configSection = "calibration"
)

var (
	// ErrStepInProgress is returned when an operation requires an idle controller
	ErrStepInProgress = errors.New("calibration step in progress")

	// ErrInvalidSampleCount is returned for a non-positive sample count
	ErrInvalidSampleCount = errors.New("invalid sample count")

	// ErrInvalidIncrement is returned for a non-positive wavelength increment
	ErrInvalidIncrement = errors.New("invalid wavelength increment")

	// ErrDeviceNotDetected is returned when saving is requested before a photometer was resolved
	ErrDeviceNotDetected = errors.New("photometer not detected")

	// ErrNoExportSession is returned when exporting before a session was selected
	ErrNoExportSession = errors.New("no export session selected")

	// ErrUnknownSession is returned when selecting a session without samples
	ErrUnknownSession = errors.New("unknown session")

	// ErrResolving is returned while the photometer is being identified
	ErrResolving = errors.New("photometer identification in progress")
)

// Phase is the position of the controller in the step lifecycle
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCapturing
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCapturing:
		return "capturing"
	case PhaseDraining:
		return "draining"
	}
	return "Phase(" + strconv.Itoa(int(p)) + ")"
}

// Outcome tells how a step ended
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeAborted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return monitor.OutcomeCompleted
	case OutcomeAborted:
		return monitor.OutcomeAborted
	case OutcomeFailed:
		return monitor.OutcomeFailed
	}
	return "Outcome(" + strconv.Itoa(int(o)) + ")"
}

// StepResult describes a finished step
type StepResult struct {
	Outcome        Outcome
	Role           photometer.Role
	Wavelength     int    // Wavelength the step was captured at
	Filter         string // Filter the step was captured with
	NextWavelength int    // Current wavelength after the step
	Stats          photometer.Stats
	Saved          int   // Number of samples persisted
	Err            error // Cause of an aborted or failed step
}

// step is the configuration snapshot a step runs with
type step struct {
	role        photometer.Role
	save        bool
	session     int64
	wavelength  int
	filter      string
	sampleCount int
	photometer  *storage.Photometer
}

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) func(c *Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetrics records step outcomes and captured readings
func WithMetrics(m *monitor.Metrics) func(c *Controller) {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithFilterBands replaces the default filter bands. Bands that do not
// validate are ignored and the defaults kept.
func WithFilterBands(bands FilterBands) func(c *Controller) {
	return func(c *Controller) {
		if err := bands.Validate(); err != nil {
			c.logger.Warn("ignoring invalid filter bands", slog.String("error", err.Error()))
			return
		}
		c.state.bands = slices.Clone(bands)
	}
}

// WithRole sets the initial photometer role
func WithRole(role photometer.Role) func(c *Controller) {
	return func(c *Controller) {
		c.state.Role = role
	}
}

// WithSave sets whether captured samples are persisted initially
func WithSave(save bool) func(c *Controller) {
	return func(c *Controller) {
		c.state.Save = save
	}
}

// WithExportDirectory sets the directory default export files are written to
func WithExportDirectory(dir string) func(c *Controller) {
	return func(c *Controller) {
		c.exportDir = dir
	}
}

// WithClock sets the clock used for session ids and step timing
func WithClock(now func() time.Time) func(c *Controller) {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller runs wavelength steps: it captures a fixed number of readings
// from the photometer, summarises them, optionally persists them and moves
// to the next wavelength. Configuration changes are only accepted between
// steps.
type Controller struct {
	device  photometer.Device
	gateway Gateway
	display Display
	metrics *monitor.Metrics

	exportDir string
	now       func() time.Time
	logger    *slog.Logger

	mu         sync.Mutex
	state      State
	phase      Phase
	photometer *storage.Photometer
	resolving  bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewController creates a controller with a discard logger and default
// calibration parameters. Call LoadState to read the persisted parameters.
func NewController(device photometer.Device, gateway Gateway, display Display, options ...func(c *Controller)) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	c := Controller{
		device:  device,
		gateway: gateway,
		display: display,
		now:     time.Now,
		logger:  logger,
		state: State{
			Role:            photometer.RoleTest,
			SampleCount:     DefaultSampleCount,
			StartWavelength: MinWavelength,
			WaveIncrement:   DefaultWaveIncrement,
			Wavelength:      MinWavelength,
			bands:           DefaultFilterBands,
		},
	}

	for _, option := range options {
		option(&c)
	}

	c.state.SessionID = NewSessionID(c.now())
	return &c
}

// LoadState reads the sample count, start wavelength and increment from the
// configuration store. Missing properties keep their defaults.
func (c *Controller) LoadState(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseIdle {
		return ErrStepInProgress
	}

	props := []struct {
		name  string
		dest  *int
		valid func(int) bool
	}{
		{name: "nsamples", dest: &c.state.SampleCount, valid: func(v int) bool { return v > 0 }},
		{name: "wavelength", dest: &c.state.StartWavelength, valid: func(int) bool { return true }},
		{name: "wave_incr", dest: &c.state.WaveIncrement, valid: func(v int) bool { return v > 0 }},
	}

	for _, p := range props {
		raw, err := c.gateway.Property(ctx, configSection, p.name)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("loading %s.%s: %w", configSection, p.name, err)
		}

		v, err := strconv.Atoi(raw)
		if err != nil || !p.valid(v) {
			c.logger.Warn("ignoring invalid configuration value", slog.String("property", p.name), slog.String("value", raw))
			continue
		}
		*p.dest = v
	}

	c.state.StartWavelength = ClampWavelength(c.state.StartWavelength)
	c.state.Wavelength = c.state.StartWavelength

	c.logger.Info("calibration state loaded",
		slog.Int64("session", c.state.SessionID),
		slog.Int("nsamples", c.state.SampleCount),
		slog.Int("wavelength", c.state.Wavelength),
		slog.Int("waveIncrement", c.state.WaveIncrement),
	)

	c.display.SetWavelength(c.state.Wavelength, c.state.Filter())
	c.metrics.SetWavelength(c.state.Wavelength)
	return nil
}

// State returns a copy of the current calibration state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Phase returns the current step phase
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Photometer returns the resolved photometer, nil until ResolveDevice succeeds
func (c *Controller) Photometer() *storage.Photometer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.photometer
}

// ResolveDevice identifies the photometer and registers it in the database.
// A photometer already stored under the same MAC is reused unchanged. When
// the photometer does not answer, the capture switch is reset and the error
// wraps photometer.ErrTimeout.
func (c *Controller) ResolveDevice(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrStepInProgress
	}
	if c.resolving {
		c.mu.Unlock()
		return ErrResolving
	}
	c.resolving = true
	role := c.state.Role
	c.mu.Unlock()

	// the transport stays with Info until identification ends
	defer func() {
		c.mu.Lock()
		c.resolving = false
		c.mu.Unlock()
	}()

	logger := c.logger.With(slog.String("role", role.String()))

	info, err := c.device.Info(ctx)
	if err != nil {
		if errors.Is(err, photometer.ErrTimeout) {
			logger.Warn("photometer did not answer", slog.String("error", err.Error()))
			c.display.AppendLog(role, fmt.Sprintf("Failed contacting %s photometer", role))
			c.display.ResetSwitch(role)
		}
		return fmt.Errorf("identifying photometer: %w", err)
	}

	c.display.ShowMetadata(role, info)

	p, created, err := c.gateway.UpsertPhotometer(ctx, info)
	if errors.Is(err, storage.ErrPersistenceConflict) {
		logger.Info("ignoring already saved photometer entry", slog.String("mac", info.MAC))
		p, created, err = c.gateway.UpsertPhotometer(ctx, info)
	}
	if err != nil {
		return fmt.Errorf("registering photometer: %w", err)
	}

	if created {
		logger.Info("photometer registered", slog.String("name", p.Name), slog.String("mac", p.MAC))
	} else {
		logger.Info("photometer already registered", slog.String("name", p.Name), slog.String("mac", p.MAC))
	}

	c.mu.Lock()
	c.photometer = p
	c.mu.Unlock()

	c.display.EnableCapture(role)
	return nil
}

// StartStep begins capturing readings at the current wavelength. The
// returned channel receives exactly one StepResult and is then closed.
func (c *Controller) StartStep(ctx context.Context) (<-chan StepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseIdle {
		return nil, ErrStepInProgress
	}
	if c.resolving {
		return nil, ErrResolving
	}
	if c.state.SampleCount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleCount, c.state.SampleCount)
	}
	if c.state.Save && c.photometer == nil {
		return nil, ErrDeviceNotDetected
	}

	buf, err := photometer.NewBuffer(c.state.SampleCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSampleCount, err)
	}

	s := step{
		role:        c.state.Role,
		save:        c.state.Save,
		session:     c.state.SessionID,
		wavelength:  c.state.Wavelength,
		filter:      c.state.Filter(),
		sampleCount: c.state.SampleCount,
		photometer:  c.photometer,
	}

	stepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	results := make(chan StepResult, 1)

	c.cancel = cancel
	c.done = done
	c.phase = PhaseCapturing

	c.display.ResetProgress(s.role, s.sampleCount)
	c.logger.Info("step started",
		slog.String("role", s.role.String()),
		slog.Int("wavelength", s.wavelength),
		slog.String("filter", s.filter),
		slog.Int("nsamples", s.sampleCount),
		slog.Bool("save", s.save),
	)

	go c.run(stepCtx, s, buf, results, done)

	return results, nil
}

// CancelStep aborts the active step and waits until it has stopped. It
// returns false when no step was active.
func (c *Controller) CancelStep() bool {
	c.mu.Lock()
	if c.phase == PhaseIdle {
		c.mu.Unlock()
		return false
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	return true
}

func (c *Controller) run(ctx context.Context, s step, buf *photometer.Buffer, results chan<- StepResult, done chan<- struct{}) {
	defer close(done)

	started := c.now()
	res := c.capture(ctx, s, buf)
	c.finish(s, &res, started)

	results <- res
	close(results)
}

// capture fills the buffer from the device stream and, once full, summarises
// and optionally persists its readings
func (c *Controller) capture(ctx context.Context, s step, buf *photometer.Buffer) StepResult {
	res := StepResult{
		Role:       s.role,
		Wavelength: s.wavelength,
		Filter:     s.filter,
	}

	logger := c.logger.With(slog.String("role", s.role.String()), slog.Int("wavelength", s.wavelength))

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()

	streamErr := make(chan error, 1)
	producerDone := make(chan struct{})

	go c.produce(streamCtx, s, buf, streamErr, producerDone)

	stop := func() {
		stopStream()
		<-producerDone
	}

	select {
	case <-ctx.Done():
		stop()
		buf.Clear()
		res.Outcome, res.Err = OutcomeAborted, ctx.Err()
		logger.Info("step aborted")
		return res

	case err := <-streamErr:
		stop()
		buf.Clear()
		res.Outcome, res.Err = OutcomeFailed, err
		logger.Error("step failed", slog.String("error", err.Error()))
		c.display.AppendLog(s.role, fmt.Sprintf("ERROR: %s", err.Error()))
		return res

	case <-buf.Full():
		stop()
	}

	if ctx.Err() != nil {
		buf.Clear()
		res.Outcome, res.Err = OutcomeAborted, ctx.Err()
		logger.Info("step aborted")
		return res
	}

	c.setPhase(PhaseDraining)

	stats, err := buf.Statistics()
	if err != nil {
		buf.Clear()
		res.Outcome, res.Err = OutcomeFailed, err
		logger.Error("computing statistics", slog.String("error", err.Error()))
		c.display.AppendLog(s.role, fmt.Sprintf("ERROR: %s", err.Error()))
		return res
	}
	res.Stats = stats

	c.display.AppendLog(s.role, fmt.Sprintf("median = %0.3f Hz, μ = %0.3f Hz, σ = %0.3f Hz @ λ = %d nm",
		stats.Median, stats.Mean, stats.StdDev, s.wavelength))
	logger.Info("step statistics",
		slog.Float64("median", stats.Median),
		slog.Float64("mean", stats.Mean),
		slog.Float64("stdev", stats.StdDev),
	)

	readings := buf.Drain()

	if !s.save {
		c.display.AppendLog(s.role, "WARNING: not saving samples")
		logger.Warn("not saving samples")
		res.Outcome = OutcomeCompleted
		return res
	}

	samples := c.toSamples(s, readings)
	if err := c.gateway.AppendSamples(ctx, s.photometer.ID, samples); err != nil {
		if ctx.Err() != nil {
			res.Outcome, res.Err = OutcomeAborted, ctx.Err()
			logger.Info("step aborted while saving samples")
			return res
		}
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("saving samples: %w", err)
		logger.Error("saving samples", slog.String("error", err.Error()))
		c.display.AppendLog(s.role, fmt.Sprintf("ERROR: saving samples: %s", err.Error()))
		return res
	}

	res.Saved = len(samples)
	c.metrics.SamplesPersisted(s.role.String(), len(samples))
	logger.Info("samples saved", slog.String("count", humanize.Comma(int64(len(samples)))))

	res.Outcome = OutcomeCompleted
	return res
}

// produce streams readings from the device into the buffer until the buffer
// is full or ctx is cancelled. Stream failures are reported on streamErr.
func (c *Controller) produce(ctx context.Context, s step, buf *photometer.Buffer, streamErr chan<- error, done chan<- struct{}) {
	defer close(done)

	readings := make(chan photometer.Reading)
	streamDone := make(chan error, 1)

	streamCtx, stopStream := context.WithCancel(ctx)
	go func() {
		streamDone <- c.device.Stream(streamCtx, readings)
	}()

	var streamFinished bool
	defer func() {
		stopStream()
		if !streamFinished {
			<-streamDone
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-streamDone:
			streamFinished = true
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = errors.New("photometer stream ended")
			}
			streamErr <- fmt.Errorf("photometer stream: %w", err)
			return

		case r := <-readings:
			if err := buf.Append(r); err != nil {
				streamErr <- err
				return
			}

			c.display.AppendLog(s.role, readingLine(s.wavelength, r))
			c.display.AdvanceProgress(s.role, 1)
			c.metrics.ReadingCaptured(s.role.String())

			if buf.IsFull() {
				return
			}
		}
	}
}

func (c *Controller) finish(s step, res *StepResult, started time.Time) {
	c.mu.Lock()
	c.phase = PhaseIdle
	c.cancel()
	c.cancel, c.done = nil, nil

	if res.Outcome == OutcomeCompleted {
		c.state.Wavelength += c.state.WaveIncrement
	}
	res.NextWavelength = c.state.Wavelength
	filter := c.state.Filter()
	c.mu.Unlock()

	if res.Outcome == OutcomeCompleted {
		c.display.SetWavelength(res.NextWavelength, filter)
		c.metrics.SetWavelength(res.NextWavelength)
	}
	c.metrics.StepFinished(res.Outcome.String(), c.now().Sub(started))

	c.logger.Info("step finished",
		slog.String("role", s.role.String()),
		slog.String("outcome", res.Outcome.String()),
		slog.Int("nextWavelength", res.NextWavelength),
	)
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
}

func (c *Controller) toSamples(s step, readings []photometer.Reading) []storage.Sample {
	samples := make([]storage.Sample, len(readings))
	for i, r := range readings {
		mag := r.Magnitude
		if mag == nil {
			if m, ok := photometer.Magnitude(s.photometer.ZeroPoint, s.photometer.FreqOffset, r.Frequency); ok {
				mag = &m
			}
		}

		samples[i] = storage.Sample{
			Timestamp:      r.Timestamp,
			Role:           s.role,
			Session:        s.session,
			Sequence:       r.Sequence,
			Magnitude:      mag,
			Frequency:      r.Frequency,
			BoxTemperature: r.BoxTemperature,
			Wavelength:     s.wavelength,
			Filter:         s.filter,
		}
	}
	return samples
}

func readingLine(wavelength int, r photometer.Reading) string {
	tsky := "n/a"
	if r.SkyTemperature != nil {
		tsky = strconv.FormatFloat(*r.SkyTemperature, 'f', 2, 64)
	}
	return fmt.Sprintf("%s [%d] [%d nm] f=%0.3f Hz, tbox=%0.2f, tsky=%s",
		r.Timestamp.UTC().Format(time.DateTime), r.Sequence, wavelength, r.Frequency, r.BoxTemperature, tsky)
}

// idle runs fn with the lock held if no step is active
func (c *Controller) idle(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseIdle {
		return ErrStepInProgress
	}
	if c.resolving {
		return ErrResolving
	}
	return fn()
}

// SetRole selects the photometer role following samples are stamped with
func (c *Controller) SetRole(role photometer.Role) error {
	return c.idle(func() error {
		c.state.Role = role
		return nil
	})
}

// SetSave sets whether following steps persist their samples
func (c *Controller) SetSave(save bool) error {
	return c.idle(func() error {
		c.state.Save = save
		return nil
	})
}

// SetSampleCount sets and persists the number of readings per step
func (c *Controller) SetSampleCount(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleCount, n)
	}
	return c.idle(func() error {
		if err := c.gateway.SetProperty(ctx, configSection, "nsamples", strconv.Itoa(n)); err != nil {
			return fmt.Errorf("saving sample count: %w", err)
		}
		c.state.SampleCount = n
		return nil
	})
}

// SetStartWavelength clamps, persists and moves to the sweep start
// wavelength. It returns the wavelength actually set.
func (c *Controller) SetStartWavelength(ctx context.Context, wavelength int) (int, error) {
	wavelength = ClampWavelength(wavelength)

	var filter string
	err := c.idle(func() error {
		if err := c.gateway.SetProperty(ctx, configSection, "wavelength", strconv.Itoa(wavelength)); err != nil {
			return fmt.Errorf("saving wavelength: %w", err)
		}
		c.state.StartWavelength = wavelength
		c.state.Wavelength = wavelength
		filter = c.state.Filter()
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.display.SetWavelength(wavelength, filter)
	c.metrics.SetWavelength(wavelength)
	return wavelength, nil
}

// SetWaveIncrement sets and persists the wavelength advance between steps
func (c *Controller) SetWaveIncrement(ctx context.Context, increment int) error {
	if increment <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIncrement, increment)
	}
	return c.idle(func() error {
		if err := c.gateway.SetProperty(ctx, configSection, "wave_incr", strconv.Itoa(increment)); err != nil {
			return fmt.Errorf("saving wavelength increment: %w", err)
		}
		c.state.WaveIncrement = increment
		return nil
	})
}

// Sessions returns the sessions with stored samples, most recent first
func (c *Controller) Sessions(ctx context.Context) ([]int64, error) {
	return c.gateway.Sessions(ctx)
}

// Roles returns the roles sampled in a session
func (c *Controller) Roles(ctx context.Context, session int64) ([]photometer.Role, error) {
	return c.gateway.Roles(ctx, session)
}

// DefaultExportPath returns the default export file for a session
func (c *Controller) DefaultExportPath(session int64) string {
	return filepath.Join(c.exportDir, fmt.Sprintf("spectrum_calib_%d.csv", session))
}

// SelectExportSession selects the session Export writes and returns its
// default export path
func (c *Controller) SelectExportSession(ctx context.Context, session int64) (string, error) {
	sessions, err := c.gateway.Sessions(ctx)
	if err != nil {
		return "", fmt.Errorf("listing sessions: %w", err)
	}
	if !slices.Contains(sessions, session) {
		return "", fmt.Errorf("%w: %d", ErrUnknownSession, session)
	}

	c.mu.Lock()
	c.state.SelectedExportSession = &session
	c.mu.Unlock()

	return c.DefaultExportPath(session), nil
}

// Export writes the selected session to path, or to the default export
// path when path is empty, and returns the path and the number of rows
// written.
func (c *Controller) Export(ctx context.Context, path string) (string, int, error) {
	c.mu.Lock()
	selected := c.state.SelectedExportSession
	c.mu.Unlock()

	if selected == nil {
		return "", 0, ErrNoExportSession
	}
	session := *selected

	if path == "" {
		path = c.DefaultExportPath(session)
	}

	r, err := c.gateway.ExportSession(ctx, session, "")
	if err != nil {
		return "", 0, fmt.Errorf("reading session %d: %w", session, err)
	}
	defer r.Close()

	n, err := export.Write(ctx, path, r)
	if err != nil {
		c.logger.Error("export failed", slog.Int64("session", session), slog.String("path", path), slog.String("error", err.Error()))
		return "", 0, err
	}

	c.logger.Info("session exported",
		slog.Int64("session", session),
		slog.String("path", path),
		slog.String("rows", humanize.Comma(int64(n))),
	)
	return path, n, nil
}
