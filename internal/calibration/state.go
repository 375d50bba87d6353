package calibration

import (
	"strconv"
	"time"

	"github.com/roman-kulish/spectess/internal/photometer"
)

const sessionLayout = "20060102150405"

// NewSessionID returns the session identifier for a run started at t: the
// UTC time as a YYYYMMDDhhmmss integer.
func NewSessionID(t time.Time) int64 {
	id, _ := strconv.ParseInt(t.UTC().Format(sessionLayout), 10, 64)
	return id
}

// State is the configuration of the calibration run and its current position
type State struct {
	SessionID       int64
	Role            photometer.Role
	Save            bool
	SampleCount     int
	StartWavelength int
	WaveIncrement   int
	Wavelength      int

	// SelectedExportSession is the session chosen for export, nil until one is selected
	SelectedExportSession *int64

	bands FilterBands
}

// Filter returns the filter in use at the current wavelength
func (s State) Filter() string {
	return s.bands.Filter(s.Wavelength)
}

// clone returns a copy that does not share the selected export session
func (s *State) clone() State {
	c := *s
	if s.SelectedExportSession != nil {
		v := *s.SelectedExportSession
		c.SelectedExportSession = &v
	}
	return c
}
