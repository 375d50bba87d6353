package export

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/segmentio/parquet-go"

	"github.com/roman-kulish/spectess/internal/storage"
)

// parquetBatchSize is the number of rows handed to the writer at once
const parquetBatchSize = 512

// parquetRow carries the export columns plus the stored magnitude
type parquetRow struct {
	Name           string   `parquet:"name"`
	MAC            string   `parquet:"mac"`
	Model          string   `parquet:"model"`
	Sensor         string   `parquet:"sensor"`
	FreqOffset     float64  `parquet:"freq_offset"`
	Session        int64    `parquet:"session"`
	Role           string   `parquet:"role"`
	Wavelength     int32    `parquet:"wavelength"`
	Filter         string   `parquet:"filter"`
	Sequence       int64    `parquet:"seq_number"`
	Timestamp      int64    `parquet:"timestamp_us"`
	Frequency      float64  `parquet:"frequency"`
	BoxTemperature float64  `parquet:"box_temperature"`
	Magnitude      *float64 `parquet:"magnitude,optional"`
}

// WriteParquet writes every row to a Parquet file at path and returns the
// number of rows written. The session id is stored as file metadata.
func WriteParquet(ctx context.Context, path string, rows RowReader) (int, error) {
	return writeAtomic(path, func(w io.Writer) (int, error) {
		return writeParquet(ctx, w, rows)
	})
}

func writeParquet(ctx context.Context, w io.Writer, rows RowReader) (n int, err error) {
	var session int64
	batch := make([]parquetRow, 0, parquetBatchSize)

	var pw *parquet.GenericWriter[parquetRow]
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if pw == nil {
			pw = parquet.NewGenericWriter[parquetRow](w,
				parquet.KeyValueMetadata("session", strconv.FormatInt(session, 10)),
			)
		}
		if _, err := pw.Write(batch); err != nil {
			return fmt.Errorf("writing rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for rows.Next(ctx) {
		r := rows.Current()
		session = r.Session
		batch = append(batch, toParquetRow(r))
		n++

		if len(batch) == parquetBatchSize {
			if err = flush(); err != nil {
				return n, err
			}
		}
	}
	if err = rows.Error(); err != nil {
		return n, fmt.Errorf("reading rows: %w", err)
	}
	if err = flush(); err != nil {
		return n, err
	}

	if pw == nil {
		pw = parquet.NewGenericWriter[parquetRow](w)
	}
	if err = pw.Close(); err != nil {
		return n, fmt.Errorf("closing writer: %w", err)
	}
	return n, nil
}

func toParquetRow(r *storage.ExportRow) parquetRow {
	return parquetRow{
		Name:           r.Name,
		MAC:            r.MAC,
		Model:          r.Model,
		Sensor:         r.Sensor,
		FreqOffset:     r.FreqOffset,
		Session:        r.Session,
		Role:           r.Role.String(),
		Wavelength:     int32(r.Wavelength),
		Filter:         r.Filter,
		Sequence:       r.Sequence,
		Timestamp:      r.Timestamp.UTC().UnixMicro(),
		Frequency:      r.Frequency,
		BoxTemperature: r.BoxTemperature,
		Magnitude:      r.Magnitude,
	}
}
