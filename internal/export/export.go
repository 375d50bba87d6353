// Package export writes the samples of a calibration session to files.
package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/roman-kulish/spectess/internal/storage"
)

const timestampLayout = "2006-01-02 15:04:05.000000"

// ErrIO is returned when the export file cannot be written
var ErrIO = errors.New("export i/o error")

// Header is the column layout of exported files
var Header = []string{
	"name",
	"mac",
	"model",
	"sensor",
	"freq_offset",
	"session",
	"role",
	"wavelength",
	"filter",
	"seq_number",
	"timestamp",
	"frequency",
	"box_temperature",
}

// RowReader iterates over export rows. storage.ExportReader implements it.
type RowReader interface {
	Next(ctx context.Context) bool
	Current() *storage.ExportRow
	Error() error
}

// Write exports rows to path, choosing the format from the file extension:
// ".parquet" writes Parquet, anything else writes CSV.
func Write(ctx context.Context, path string, rows RowReader) (int, error) {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return WriteParquet(ctx, path, rows)
	}
	return WriteCSV(ctx, path, rows)
}

// writeAtomic writes through fn into a temporary file next to path and
// renames it over path once fn succeeds. On failure the temporary file is
// removed and path is left untouched.
func writeAtomic(path string, fn func(w io.Writer) (int, error)) (n int, err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("%w: creating temporary file: %w", ErrIO, err)
	}

	tmpName := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(f)
	if n, err = fn(bw); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err = bw.Flush(); err != nil {
		return 0, fmt.Errorf("%w: flushing: %w", ErrIO, err)
	}
	if err = f.Sync(); err != nil {
		return 0, fmt.Errorf("%w: syncing: %w", ErrIO, err)
	}
	if err = f.Close(); err != nil {
		return 0, fmt.Errorf("%w: closing: %w", ErrIO, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("%w: renaming: %w", ErrIO, err)
	}

	return n, nil
}
