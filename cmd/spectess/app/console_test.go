package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/spectess/internal/calibration"
	"github.com/roman-kulish/spectess/internal/display"
	"github.com/roman-kulish/spectess/internal/photometer"
	"github.com/roman-kulish/spectess/internal/photometer/simulated"
	"github.com/roman-kulish/spectess/internal/storage"
)

const testSession = 20240301120000

func newTestConsole(t *testing.T) (*Console, *storage.SqliteStore, *bytes.Buffer, string) {
	t.Helper()

	dir := t.TempDir()
	store := storage.NewSqliteStore(filepath.Join(dir, "spectess.db"))
	t.Cleanup(func() { _ = store.Close() })

	transport := simulated.NewTransport(simulated.Config{
		Name:     "stars-sim",
		Jitter:   0.5,
		Interval: time.Millisecond,
	})
	device := photometer.NewDevice(transport, photometer.Info{MAC: simulatedMAC, Model: "TESS-W", ZeroPoint: 20.5})

	var buf bytes.Buffer
	out := &syncWriter{w: &buf}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	console := display.NewConsole(out)
	controller := calibration.NewController(device, store, console,
		calibration.WithLogger(logger),
		calibration.WithExportDirectory(dir),
		calibration.WithClock(func() time.Time {
			return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		}),
	)

	return NewConsole(controller, console, out, logger), store, &buf, dir
}

func TestConsole_CalibrationStep(t *testing.T) {
	c, store, buf, dir := newTestConsole(t)
	exportPath := filepath.Join(dir, "out.csv")

	script := strings.Join([]string{
		"nsamples 3",
		"save on",
		"detect",
		"start",
		"wait",
		"status",
		"sessions",
		"select 20240301120000",
		"export " + exportPath,
		"quit",
	}, "\n")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Run(ctx, strings.NewReader(script)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"median =",
		"@ λ = 350 nm",
		"step at 350 nm completed, 3 samples saved, next λ = 355 nm",
		"exported 3 rows to " + exportPath,
		"| 20240301120000 |",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "error:") {
		t.Errorf("unexpected error in output:\n%s", output)
	}

	n, err := store.CountSamples(ctx, testSession)
	if err != nil {
		t.Fatalf("CountSamples() error = %v", err)
	}
	if n != 3 {
		t.Errorf("CountSamples() = %d, want 3", n)
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 4 {
		t.Errorf("export has %d lines, want header and 3 rows", len(lines))
	}

	if state := c.controller.State(); state.Wavelength != 355 {
		t.Errorf("Wavelength = %d, want 355", state.Wavelength)
	}
}

func TestConsole_Errors(t *testing.T) {
	c, _, buf, _ := newTestConsole(t)

	script := strings.Join([]string{
		"frobnicate",
		"nsamples many",
		"nsamples 0",
		"save maybe",
		"role spare",
		"cancel",
		"wait",
		"export",
		"select 1",
		"save on",
		"start",
	}, "\n")

	if err := c.Run(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"unknown command 'frobnicate'",
		"invalid sample count 'many'",
		calibration.ErrInvalidSampleCount.Error(),
		"expected on or off, got 'maybe'",
		"unknown role 'spare'",
		"no step in progress",
		"no step started",
		calibration.ErrNoExportSession.Error(),
		calibration.ErrUnknownSession.Error(),
		calibration.ErrDeviceNotDetected.Error(),
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestConsole_WavelengthClamped(t *testing.T) {
	c, _, buf, _ := newTestConsole(t)

	if err := c.Run(context.Background(), strings.NewReader("wavelength 2000\nincr 10\nrole ref\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(buf.String(), "wavelength clamped to 1050 nm") {
		t.Errorf("output missing clamp notice:\n%s", buf.String())
	}

	state := c.controller.State()
	if state.Wavelength != calibration.MaxWavelength {
		t.Errorf("Wavelength = %d, want %d", state.Wavelength, calibration.MaxWavelength)
	}
	if state.WaveIncrement != 10 {
		t.Errorf("WaveIncrement = %d, want 10", state.WaveIncrement)
	}
	if state.Role != photometer.RoleReference {
		t.Errorf("Role = %s, want REF", state.Role)
	}
}

func TestConsole_StopCancelsRunningStep(t *testing.T) {
	c, _, buf, _ := newTestConsole(t)

	// a step of 100000 readings does not finish before quit
	if err := c.Run(context.Background(), strings.NewReader("nsamples 100000\nstart\nquit\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(buf.String(), "step at 350 nm aborted") {
		t.Errorf("output missing abort notice:\n%s", buf.String())
	}
	if c.controller.Phase() != calibration.PhaseIdle {
		t.Errorf("Phase() = %s, want idle", c.controller.Phase())
	}
}

func TestRun_Quit(t *testing.T) {
	dir := t.TempDir()
	config := &Config{
		Storage: StorageConfig{Database: filepath.Join(dir, "spectess.db")},
		Device: DeviceConfig{
			Type:        DeviceSimulated,
			InfoTimeout: Duration(time.Second),
			Identity:    photometer.Info{MAC: simulatedMAC},
			Simulated:   SimulatedConfig{Interval: Duration(time.Millisecond)},
		},
		Calibration: CalibrationConfig{Role: photometer.RoleTest, Filters: calibration.DefaultFilterBands},
		Export:      ExportConfig{Directory: filepath.Join(dir, "exports")},
	}

	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := Run(context.Background(), config, logger, strings.NewReader("help\nstatus\nexit\n"), &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, want := range []string{"spectess ready", "nsamples <n>", "photometer  not detected"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
	if _, err := os.Stat(config.Export.Directory); err != nil {
		t.Errorf("export directory not created: %v", err)
	}
}
