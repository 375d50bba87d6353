package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ExportReader iterates over the export rows of a session:
//
//	r, err := store.ExportSession(ctx, session, "")
//	...
//	defer r.Close()
//	for r.Next(ctx) {
//	    row := r.Current()
//	}
//	if err := r.Error(); err != nil { ... }
type ExportReader struct {
	db *sql.DB

	session int64
	mac     string

	rows    *sql.Rows
	current *ExportRow
	err     error
}

func newExportReader(ctx context.Context, db *sql.DB, session int64, mac string) (*ExportReader, error) {
	r := &ExportReader{
		db:      db,
		session: session,
		mac:     mac,
	}
	if err := r.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return r, nil
}

func (r *ExportReader) init(ctx context.Context) error {
	if r.db == nil {
		return errors.New("database connection required")
	}
	if r.session <= 0 {
		return errors.New("session ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "checking session", fn: r.checkSession},
		{msg: "initializing query", fn: r.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (r *ExportReader) checkSession(ctx context.Context) error {
	var count int64
	if err := r.db.QueryRowContext(ctx, countSamplesSQL, r.session).Scan(&count); err != nil {
		return fmt.Errorf("counting samples: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: session %d", ErrNotFound, r.session)
	}
	return nil
}

func (r *ExportReader) initQuery(ctx context.Context) (err error) {
	stmt, err := r.db.PrepareContext(ctx, selectExportSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if r.rows, err = stmt.QueryContext(ctx, r.session, r.mac, r.mac); err != nil {
		return err
	}
	return nil
}

// Session returns the session being read
func (r *ExportReader) Session() int64 {
	return r.session
}

// Next advances to the next row. It returns false at the end of the rows,
// when the context is cancelled or on error; check Error to tell them apart.
func (r *ExportReader) Next(ctx context.Context) bool {
	if r.err != nil || r.rows == nil {
		return false
	}

	if err := ctx.Err(); err != nil {
		r.err = err
		return false
	}

	if !r.rows.Next() {
		r.err = r.rows.Err()
		return false
	}

	var data exportData
	err := r.rows.Scan(
		&data.Name,
		&data.MAC,
		&data.Model,
		&data.Sensor,
		&data.FreqOffset,
		&data.Session,
		&data.Role,
		&data.Wavelength,
		&data.Filter,
		&data.Sequence,
		&data.Timestamp,
		&data.Frequency,
		&data.BoxTemp,
		&data.Magnitude,
	)
	if err != nil {
		r.err = fmt.Errorf("scanning export row: %w", err)
		return false
	}

	if r.current, r.err = toExportRow(&data); r.err != nil {
		return false
	}
	return true
}

// Current returns the row Next advanced to
func (r *ExportReader) Current() *ExportRow {
	return r.current
}

// Error returns the error that stopped the iteration, if any
func (r *ExportReader) Error() error {
	return r.err
}

// Close releases the underlying rows. It is safe to call Close multiple times.
func (r *ExportReader) Close() error {
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	return err
}
