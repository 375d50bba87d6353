package photometer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// payload is the JSON reading emitted by TESS-W photometers
type payload struct {
	Name   string   `json:"name"`
	Seq    *int64   `json:"seq"`
	Freq   *float64 `json:"freq"`
	Mag    *float64 `json:"mag"`
	Tamb   *float64 `json:"tamb"`
	Tsky   *float64 `json:"tsky"`
	Tstamp string   `json:"tstamp"`
}

var payloadFields = map[string]struct{}{
	"name":   {},
	"seq":    {},
	"freq":   {},
	"mag":    {},
	"tamb":   {},
	"tsky":   {},
	"tstamp": {},
}

// ParseLine decodes a single JSON payload line into a Reading. Payloads
// without a timestamp are stamped with received.
func ParseLine(line string, received time.Time) (Reading, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Reading{}, errors.New("invalid payload: not a JSON object")
	}

	var p payload
	if err := json.Unmarshal([]byte(line), &p); err != nil {
		return Reading{}, fmt.Errorf("invalid payload: %w", err)
	}

	switch {
	case p.Freq == nil:
		return Reading{}, errors.New("invalid payload: missing frequency")
	case p.Seq == nil:
		return Reading{}, errors.New("invalid payload: missing sequence number")
	case p.Tamb == nil:
		return Reading{}, errors.New("invalid payload: missing box temperature")
	}

	r := Reading{
		Timestamp:      received.UTC(),
		Sequence:       *p.Seq,
		Frequency:      *p.Freq,
		BoxTemperature: *p.Tamb,
		SkyTemperature: p.Tsky,
		Magnitude:      p.Mag,
		Name:           p.Name,
	}

	if p.Tstamp != "" {
		ts, err := parseTimestamp(p.Tstamp)
		if err != nil {
			return Reading{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		r.Timestamp = ts
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err == nil {
		for k, v := range raw {
			if _, ok := payloadFields[k]; ok {
				continue
			}
			if r.Extra == nil {
				r.Extra = make(map[string]any)
			}
			r.Extra[k] = v
		}
	}

	return r, nil
}

func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var ts time.Time
		if ts, err = time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, err
}
