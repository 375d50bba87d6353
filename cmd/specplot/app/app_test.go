package app

import (
	"context"
	"flag"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/spectess/internal/photometer"
	"github.com/roman-kulish/spectess/internal/storage"
)

const testSession = 20240301120000

// seedStore stores three readings per wavelength for a reference and a
// test photometer
func seedStore(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "spectess.db")
	s := storage.NewSqliteStore(dbPath)
	defer s.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	photometers := []struct {
		info  photometer.Info
		role  photometer.Role
		scale float64
	}{
		{photometer.Info{Name: "stars1", MAC: "AA:BB:CC:DD:EE:01"}, photometer.RoleReference, 1},
		{photometer.Info{Name: "stars2", MAC: "AA:BB:CC:DD:EE:02"}, photometer.RoleTest, 0.8},
	}

	for _, ph := range photometers {
		p, _, err := s.UpsertPhotometer(ctx, &ph.info)
		if err != nil {
			t.Fatalf("Failed to register photometer: %v", err)
		}

		var samples []storage.Sample
		var seq int64
		for wave := 350; wave <= 400; wave += 10 {
			for _, f := range []float64{9.9, 10.0, 10.3} {
				seq++
				samples = append(samples, storage.Sample{
					Timestamp:      base.Add(time.Duration(seq) * time.Second),
					Role:           ph.role,
					Session:        testSession,
					Sequence:       seq,
					Frequency:      f * ph.scale * float64(wave) / 350,
					BoxTemperature: 21.5,
					Wavelength:     wave,
					Filter:         "BG38",
				})
			}
		}
		if err = s.AppendSamples(ctx, p.ID, samples); err != nil {
			t.Fatalf("Failed to store samples: %v", err)
		}
	}

	return dbPath
}

func TestRun(t *testing.T) {
	config := NewConfig()
	config.DBPath = seedStore(t)
	config.SessionID = testSession
	config.OutputFile = filepath.Join(t.TempDir(), "response.png")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := Run(context.Background(), config, logger); err != nil {
		t.Fatalf("Failed to plot session: %v", err)
	}

	f, err := os.Open(config.OutputFile)
	if err != nil {
		t.Fatalf("Failed to open plot: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode plot: %v", err)
	}
	if size := img.Bounds().Size(); size.X != defaultWidth || size.Y != defaultHeight {
		t.Errorf("Expected %dx%d image, got %v", defaultWidth, defaultHeight, size)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(config.OutputFile), ".*.tmp"))
	if len(matches) != 0 {
		t.Errorf("Expected no temporary files, got %v", matches)
	}
}

func TestRun_FilterByMAC(t *testing.T) {
	dbPath := seedStore(t)
	s := storage.NewSqliteStore(dbPath)
	defer s.Close()

	config := NewConfig()
	config.SessionID = testSession
	config.MAC = "AA:BB:CC:DD:EE:02"

	data, err := readResponse(context.Background(), s, config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Failed to read session: %v", err)
	}

	roles := data.Roles()
	if len(roles) != 1 || roles[0] != photometer.RoleTest {
		t.Errorf("Expected only the TEST role, got %v", roles)
	}
	if data.Photometers[photometer.RoleTest] != "stars2" {
		t.Errorf("Expected photometer stars2, got %q", data.Photometers[photometer.RoleTest])
	}
}

func TestRun_Errors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	config := NewConfig()
	config.DBPath = filepath.Join(t.TempDir(), "missing.db")
	config.SessionID = testSession
	if err := Run(context.Background(), config, logger); err == nil {
		t.Error("Expected error for a missing database")
	}

	config.DBPath = seedStore(t)
	config.SessionID = 20200101000000
	config.OutputFile = filepath.Join(t.TempDir(), "response.png")
	if err := Run(context.Background(), config, logger); err == nil {
		t.Error("Expected error for an unknown session")
	}

	config.SessionID = testSession
	config.MAC = "00:00:00:00:00:00"
	if err := Run(context.Background(), config, logger); err == nil {
		t.Error("Expected error for a photometer without samples")
	}
	if _, err := os.Stat(config.OutputFile); !os.IsNotExist(err) {
		t.Errorf("Expected no output file, got %v", err)
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "default output", args: []string{"-db", "a.db", "-s", "20240301120000"}, want: "spectrum_calib_20240301120000.png"},
		{name: "extension added", args: []string{"-db", "a.db", "-s", "20240301120000", "-o", "plot"}, want: "plot.png"},
		{name: "extension kept", args: []string{"-db", "a.db", "-s", "20240301120000", "-o", "plot.PNG"}, want: "plot.PNG"},
		{name: "missing db", args: []string{"-s", "20240301120000"}, wantErr: true},
		{name: "missing session", args: []string{"-db", "a.db"}, wantErr: true},
		{name: "too small", args: []string{"-db", "a.db", "-s", "1", "-width", "100"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("specplot", flag.ContinueOnError)
			fs.SetOutput(io.Discard)

			config, err := parseArgs(fs, tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to parse args: %v", err)
			}
			if config.OutputFile != tt.want {
				t.Errorf("Expected output file %q, got %q", tt.want, config.OutputFile)
			}
		})
	}
}
