package photometer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when the photometer does not answer in time
	ErrTimeout = errors.New("photometer timeout")

	// ErrInsufficientData is returned when statistics are requested on fewer than two readings
	ErrInsufficientData = errors.New("insufficient data")

	// ErrCapacityExceeded is returned when appending to a full buffer
	ErrCapacityExceeded = errors.New("buffer capacity exceeded")
)

const (
	RoleReference Role = iota
	RoleTest
)

// Role tells which photometer of a calibration pair is being exercised
type Role int

// ParseRole parses a role label, accepting both the short labels stored in
// the database and the long names.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ref", "reference":
		return RoleReference, nil
	case "test", "tst":
		return RoleTest, nil
	}
	return 0, fmt.Errorf("photometer.Role: unknown role '%s'", s)
}

// String returns the label persisted with every sample
func (r Role) String() string {
	switch r {
	case RoleReference:
		return "REF"
	case RoleTest:
		return "TEST"
	}
	return "Role(" + strconv.Itoa(int(r)) + ")"
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Reading is a single decoded photometer reading
type Reading struct {
	Timestamp      time.Time      // Reception (or device) timestamp, UTC
	Sequence       int64          // Device-assigned sequence number
	Frequency      float64        // Sensor frequency in Hz
	BoxTemperature float64        // Ambient (box) temperature in °C
	SkyTemperature *float64       // Sky temperature in °C, if the sensor reports it
	Magnitude      *float64       // Device-computed magnitude, if reported
	Name           string         // Device-reported name
	Extra          map[string]any // Payload fields not otherwise modeled
}

// Info describes a photometer identity
type Info struct {
	Name       string  `yaml:"name" json:"name"`
	MAC        string  `yaml:"mac" json:"mac"`
	Model      string  `yaml:"model" json:"model"`
	Sensor     string  `yaml:"sensor" json:"sensor"`
	Firmware   string  `yaml:"firmware" json:"firmware"`
	ZeroPoint  float64 `yaml:"zeroPoint" json:"zeroPoint"`
	FreqOffset float64 `yaml:"freqOffset" json:"freqOffset"`
}

// Properties returns the identity as ordered property/value pairs for display
func (i *Info) Properties() [][2]string {
	return [][2]string{
		{"name", i.Name},
		{"mac", i.MAC},
		{"model", i.Model},
		{"sensor", i.Sensor},
		{"firmware", i.Firmware},
		{"zp", strconv.FormatFloat(i.ZeroPoint, 'f', 2, 64)},
		{"freq_offset", strconv.FormatFloat(i.FreqOffset, 'f', -1, 64)},
	}
}

// Magnitude converts a sensor frequency into a magnitude using the
// photometer zero point and frequency offset: zp - 2.5*log10(f - fo).
// It returns false when f does not exceed the frequency offset.
func Magnitude(zeroPoint, freqOffset, freq float64) (float64, bool) {
	if freq <= freqOffset {
		return 0, false
	}
	return zeroPoint - 2.5*math.Log10(freq-freqOffset), true
}

// Device is a photometer that can be queried for its identity and streams readings
type Device interface {
	// Info returns the photometer identity. It fails with ErrTimeout when
	// the photometer cannot be reached.
	Info(ctx context.Context) (*Info, error)

	// Stream sends readings until the context is cancelled or the stream
	// fails. It can be called again after it returns.
	Stream(ctx context.Context, readings chan<- Reading) error
}
