package display

import (
	"github.com/roman-kulish/spectess/internal/calibration"
	"github.com/roman-kulish/spectess/internal/photometer"
)

// Fanout forwards every call to all of its displays in order
type Fanout []calibration.Display

func (f Fanout) AppendLog(role photometer.Role, line string) {
	for _, d := range f {
		d.AppendLog(role, line)
	}
}

func (f Fanout) ResetProgress(role photometer.Role, total int) {
	for _, d := range f {
		d.ResetProgress(role, total)
	}
}

func (f Fanout) AdvanceProgress(role photometer.Role, n int) {
	for _, d := range f {
		d.AdvanceProgress(role, n)
	}
}

func (f Fanout) SetWavelength(wavelength int, filter string) {
	for _, d := range f {
		d.SetWavelength(wavelength, filter)
	}
}

func (f Fanout) EnableCapture(role photometer.Role) {
	for _, d := range f {
		d.EnableCapture(role)
	}
}

func (f Fanout) ResetSwitch(role photometer.Role) {
	for _, d := range f {
		d.ResetSwitch(role)
	}
}

func (f Fanout) ShowMetadata(role photometer.Role, info *photometer.Info) {
	for _, d := range f {
		d.ShowMetadata(role, info)
	}
}
