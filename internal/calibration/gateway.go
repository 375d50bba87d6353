package calibration

import (
	"context"

	"github.com/roman-kulish/spectess/internal/photometer"
	"github.com/roman-kulish/spectess/internal/storage"
)

// Gateway persists photometers, samples and calibration parameters.
// storage.SqliteStore implements it.
type Gateway interface {
	Property(ctx context.Context, section, property string) (string, error)
	SetProperty(ctx context.Context, section, property, value string) error
	UpsertPhotometer(ctx context.Context, info *photometer.Info) (*storage.Photometer, bool, error)
	AppendSamples(ctx context.Context, photometerID int64, samples []storage.Sample) error
	Sessions(ctx context.Context) ([]int64, error)
	Roles(ctx context.Context, session int64) ([]photometer.Role, error)
	ExportSession(ctx context.Context, session int64, mac string) (*storage.ExportReader, error)
}

// Display receives progress and log output. Calls must not block.
type Display interface {
	AppendLog(role photometer.Role, line string)
	ResetProgress(role photometer.Role, total int)
	AdvanceProgress(role photometer.Role, n int)
	SetWavelength(wavelength int, filter string)
	EnableCapture(role photometer.Role)
	ResetSwitch(role photometer.Role)
	ShowMetadata(role photometer.Role, info *photometer.Info)
}
