package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/spectess/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	data, err := readResponse(ctx, store, config, logger)
	if err != nil {
		return err
	}

	renderer := NewResponseRenderer(RenderConfig{
		Width:         config.Width,
		Height:        config.Height,
		NoAnnotations: config.NoAnnotations,
	})

	logger.Info("rendering spectral response",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.Int("width", config.Width),
			slog.Int("height", config.Height),
		))

	img, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering spectral response: %w", err)
	}

	return writePNG(config.OutputFile, img)
}

func readResponse(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*ResponseData, error) {
	iter, err := store.ExportSession(ctx, config.SessionID, config.MAC)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("session %d has no samples", config.SessionID)
		}
		return nil, err
	}
	defer iter.Close()

	data := NewResponseData(config.SessionID)

	var n int64
	for iter.Next(ctx) {
		data.Update(iter.Current())
		n++
	}
	if err = iter.Error(); err != nil {
		return nil, err
	}
	if data.Empty() {
		return nil, fmt.Errorf("session %d has no samples for photometer '%s'", config.SessionID, config.MAC)
	}

	freqMin, freqMax := data.FrequencyRange()
	roles := make([]string, 0, 2)
	for _, role := range data.Roles() {
		roles = append(roles, role.String())
	}

	logger.Info("finished reading samples",
		slog.Group("stats",
			slog.String("samples", humanize.Comma(n)),
			slog.Any("roles", roles),
			slog.String("minTimestamp", data.TimestampStart.Local().Format(time.DateTime)),
			slog.String("maxTimestamp", data.TimestampEnd.Local().Format(time.DateTime)),
			slog.String("minWavelength", fmt.Sprintf("%d nm", data.WavelengthMin)),
			slog.String("maxWavelength", fmt.Sprintf("%d nm", data.WavelengthMax)),
			slog.String("minFreq", formatFrequency(freqMin)),
			slog.String("maxFreq", formatFrequency(freqMax)),
		))

	return data, nil
}

// writePNG encodes img into a temporary file next to path and renames it
// into place once complete
func writePNG(path string, img image.Image) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = png.Encode(tmp, img); err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming output file: %w", err)
	}
	return nil
}
