package calibration

import (
	"errors"
	"fmt"
)

const (
	// MinWavelength is the shortest wavelength the monochromator is driven to, in nm
	MinWavelength = 350

	// MaxWavelength is the longest wavelength the monochromator is driven to, in nm
	MaxWavelength = 1050
)

// FilterBand is an optical filter used below an upper wavelength bound.
// The last band of a set has no upper bound.
type FilterBand struct {
	Name  string `yaml:"name"`
	Below int    `yaml:"below"` // Exclusive upper bound in nm, 0 for the last band
}

// FilterBands is an ordered set of contiguous filter bands
type FilterBands []FilterBand

// DefaultFilterBands are the filters of the calibration bench
var DefaultFilterBands = FilterBands{
	{Name: "BG38", Below: 570},
	{Name: "OG570", Below: 860},
	{Name: "RG830"},
}

// Validate checks that bounds increase and only the last band is open ended
func (fb FilterBands) Validate() error {
	if len(fb) == 0 {
		return errors.New("calibration.FilterBands: at least one band is required")
	}

	prev := 0
	for i, b := range fb {
		if b.Name == "" {
			return fmt.Errorf("calibration.FilterBands: band %d has no name", i)
		}
		if len(b.Name) > 6 {
			return fmt.Errorf("calibration.FilterBands: band name '%s' is longer than 6 characters", b.Name)
		}

		last := i == len(fb)-1
		switch {
		case last && b.Below != 0:
			return fmt.Errorf("calibration.FilterBands: last band '%s' must not have an upper bound", b.Name)
		case !last && b.Below <= prev:
			return fmt.Errorf("calibration.FilterBands: band '%s' upper bound %d must exceed %d", b.Name, b.Below, prev)
		}
		prev = b.Below
	}
	return nil
}

// Filter returns the name of the filter used at wavelength nm
func (fb FilterBands) Filter(wavelength int) string {
	for _, b := range fb {
		if b.Below == 0 || wavelength < b.Below {
			return b.Name
		}
	}
	return ""
}

// ClampWavelength limits an operator-entered wavelength to the monochromator range
func ClampWavelength(wavelength int) int {
	return min(max(wavelength, MinWavelength), MaxWavelength)
}
