package storage

import (
	"database/sql"
	"time"

	"github.com/roman-kulish/spectess/internal/photometer"
)

// Photometer is a persisted photometer identity
type Photometer struct {
	ID         int64
	Name       string
	MAC        string
	Sensor     string
	Model      string
	Firmware   string
	ZeroPoint  float64
	FreqOffset float64
}

// Info returns the identity as a photometer.Info
func (p *Photometer) Info() *photometer.Info {
	return &photometer.Info{
		Name:       p.Name,
		MAC:        p.MAC,
		Model:      p.Model,
		Sensor:     p.Sensor,
		Firmware:   p.Firmware,
		ZeroPoint:  p.ZeroPoint,
		FreqOffset: p.FreqOffset,
	}
}

// Sample is a reading stamped with the calibration context it was captured in
type Sample struct {
	Timestamp      time.Time
	Role           photometer.Role
	Session        int64
	Sequence       int64
	Magnitude      *float64
	Frequency      float64
	BoxTemperature float64
	Wavelength     int
	Filter         string
}

// ExportRow is a sample joined with the identity of the photometer that took it
type ExportRow struct {
	Name           string
	MAC            string
	Model          string
	Sensor         string
	FreqOffset     float64
	Session        int64
	Role           photometer.Role
	Wavelength     int
	Filter         string
	Sequence       int64
	Timestamp      time.Time
	Frequency      float64
	BoxTemperature float64
	Magnitude      *float64
}

type photometerData struct {
	ID         int64
	Name       string
	MAC        string
	Sensor     sql.NullString
	Model      sql.NullString
	Firmware   sql.NullString
	ZeroPoint  sql.NullFloat64
	FreqOffset sql.NullFloat64
}

type exportData struct {
	Name       string
	MAC        string
	Model      sql.NullString
	Sensor     sql.NullString
	FreqOffset sql.NullFloat64
	Session    int64
	Role       string
	Wavelength int
	Filter     string
	Sequence   int64
	Timestamp  time.Time
	Frequency  float64
	BoxTemp    float64
	Magnitude  sql.NullFloat64
}
