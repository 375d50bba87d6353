package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/roman-kulish/spectess/internal/storage"
)

// Delimiter separates CSV columns
const Delimiter = ';'

// WriteCSV writes the header and every row to a ';' delimited file at path
// and returns the number of rows written.
func WriteCSV(ctx context.Context, path string, rows RowReader) (int, error) {
	return writeAtomic(path, func(w io.Writer) (int, error) {
		return writeCSV(ctx, w, rows)
	})
}

func writeCSV(ctx context.Context, w io.Writer, rows RowReader) (int, error) {
	cw := csv.NewWriter(w)
	cw.Comma = Delimiter

	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}

	var n int
	for rows.Next(ctx) {
		if err := cw.Write(csvRecord(rows.Current())); err != nil {
			return n, fmt.Errorf("writing row %d: %w", n+1, err)
		}
		n++
	}
	if err := rows.Error(); err != nil {
		return n, fmt.Errorf("reading rows: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flushing rows: %w", err)
	}
	return n, nil
}

func csvRecord(r *storage.ExportRow) []string {
	return []string{
		r.Name,
		r.MAC,
		r.Model,
		r.Sensor,
		strconv.FormatFloat(r.FreqOffset, 'f', -1, 64),
		strconv.FormatInt(r.Session, 10),
		r.Role.String(),
		strconv.Itoa(r.Wavelength),
		r.Filter,
		strconv.FormatInt(r.Sequence, 10),
		r.Timestamp.UTC().Format(timestampLayout),
		strconv.FormatFloat(r.Frequency, 'f', -1, 64),
		strconv.FormatFloat(r.BoxTemperature, 'f', -1, 64),
	}
}
