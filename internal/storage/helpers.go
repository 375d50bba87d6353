package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/spectess/internal/photometer"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rbErr := rb.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && *err == nil {
		*err = rbErr
	}
}

// isUniqueViolation reports whether err is a sqlite UNIQUE constraint failure
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toNullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat64(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func toPhotometer(d *photometerData) *Photometer {
	return &Photometer{
		ID:         d.ID,
		Name:       d.Name,
		MAC:        d.MAC,
		Sensor:     d.Sensor.String,
		Model:      d.Model.String,
		Firmware:   d.Firmware.String,
		ZeroPoint:  d.ZeroPoint.Float64,
		FreqOffset: d.FreqOffset.Float64,
	}
}

func toExportRow(d *exportData) (*ExportRow, error) {
	role, err := photometer.ParseRole(d.Role)
	if err != nil {
		return nil, fmt.Errorf("decoding role: %w", err)
	}

	return &ExportRow{
		Name:           d.Name,
		MAC:            d.MAC,
		Model:          d.Model.String,
		Sensor:         d.Sensor.String,
		FreqOffset:     d.FreqOffset.Float64,
		Session:        d.Session,
		Role:           role,
		Wavelength:     d.Wavelength,
		Filter:         d.Filter,
		Sequence:       d.Sequence,
		Timestamp:      d.Timestamp.UTC(),
		Frequency:      d.Frequency,
		BoxTemperature: d.BoxTemp,
		Magnitude:      fromNullFloat64(d.Magnitude),
	}, nil
}
