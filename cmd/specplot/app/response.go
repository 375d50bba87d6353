package app

import (
	"math"
	"slices"
	"time"

	"github.com/roman-kulish/spectess/internal/photometer"
	"github.com/roman-kulish/spectess/internal/storage"
)

// Point is the low median frequency measured at one wavelength
type Point struct {
	Wavelength int
	Median     float64
	Samples    int
}

// ResponseData accumulates a session's readings per role and wavelength
type ResponseData struct {
	Session        int64
	TimestampStart time.Time
	TimestampEnd   time.Time
	WavelengthMin  int
	WavelengthMax  int
	Photometers    map[photometer.Role]string

	readings     map[photometer.Role]map[int][]float64
	curves       map[photometer.Role][]Point
	frequencyMin float64
	frequencyMax float64
}

func NewResponseData(session int64) *ResponseData {
	return &ResponseData{
		Session:       session,
		WavelengthMin: math.MaxInt,
		WavelengthMax: math.MinInt,
		Photometers:   make(map[photometer.Role]string),
		readings:      make(map[photometer.Role]map[int][]float64),
	}
}

// Update adds a stored sample
func (d *ResponseData) Update(row *storage.ExportRow) {
	byWave, ok := d.readings[row.Role]
	if !ok {
		byWave = make(map[int][]float64)
		d.readings[row.Role] = byWave
	}
	byWave[row.Wavelength] = append(byWave[row.Wavelength], row.Frequency)

	if _, ok = d.Photometers[row.Role]; !ok {
		d.Photometers[row.Role] = row.Name
	}

	if d.TimestampStart.IsZero() || row.Timestamp.Before(d.TimestampStart) {
		d.TimestampStart = row.Timestamp
	}
	if row.Timestamp.After(d.TimestampEnd) {
		d.TimestampEnd = row.Timestamp
	}
	d.WavelengthMin = min(d.WavelengthMin, row.Wavelength)
	d.WavelengthMax = max(d.WavelengthMax, row.Wavelength)

	d.curves = nil
}

// Empty returns true if no samples were added
func (d *ResponseData) Empty() bool {
	return len(d.readings) == 0
}

// Roles returns the roles with samples, reference first
func (d *ResponseData) Roles() []photometer.Role {
	roles := make([]photometer.Role, 0, len(d.readings))
	for role := range d.readings {
		roles = append(roles, role)
	}
	slices.Sort(roles)
	return roles
}

// Curve returns the response of role ordered by wavelength
func (d *ResponseData) Curve(role photometer.Role) []Point {
	d.compute()
	return d.curves[role]
}

// FrequencyRange returns the lowest and highest median of all curves
func (d *ResponseData) FrequencyRange() (float64, float64) {
	d.compute()
	return d.frequencyMin, d.frequencyMax
}

// compute reduces every wavelength to its low median and tracks the
// frequency range of the curves
func (d *ResponseData) compute() {
	if d.curves != nil {
		return
	}

	d.curves = make(map[photometer.Role][]Point, len(d.readings))
	d.frequencyMin, d.frequencyMax = math.Inf(1), math.Inf(-1)

	for role, byWave := range d.readings {
		points := make([]Point, 0, len(byWave))
		for wave, freqs := range byWave {
			median := freqs[0]
			if stats, err := photometer.ComputeStats(freqs); err == nil {
				median = stats.Median
			}

			points = append(points, Point{Wavelength: wave, Median: median, Samples: len(freqs)})
			d.frequencyMin = math.Min(d.frequencyMin, median)
			d.frequencyMax = math.Max(d.frequencyMax, median)
		}

		slices.SortFunc(points, func(a, b Point) int { return a.Wavelength - b.Wavelength })
		d.curves[role] = points
	}
}
