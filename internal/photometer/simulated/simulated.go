// Package simulated provides a photometer that generates readings locally,
// for bench testing without hardware.
package simulated

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand/v2"
	"time"
)

// Config sets the shape of the generated readings
type Config struct {
	Name      string        // Reported photometer name
	Frequency float64       // Mean frequency in Hz
	Jitter    float64       // Maximum deviation from the mean frequency in Hz
	ZeroPoint float64       // Zero point used to derive magnitudes
	Interval  time.Duration // Time between readings
}

// Transport emits one JSON reading per interval
type Transport struct {
	config Config
}

// NewTransport creates a simulated transport, filling unset settings with defaults
func NewTransport(config Config) *Transport {
	if config.Name == "" {
		config.Name = "stars-sim"
	}
	if config.Frequency <= 0 {
		config.Frequency = 10
	}
	if config.ZeroPoint == 0 {
		config.ZeroPoint = 20.5
	}
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	return &Transport{config: config}
}

// Name returns the transport name
func (t *Transport) Name() string {
	return "simulated:" + t.config.Name
}

// Open starts the generator. Closing the reader stops it.
func (t *Transport) Open(ctx context.Context) (io.ReadCloser, error) {
	pr, pw := io.Pipe()

	go func() {
		ticker := time.NewTicker(t.config.Interval)
		defer ticker.Stop()

		var seq int64
		for {
			select {
			case <-ctx.Done():
				_ = pw.CloseWithError(ctx.Err())
				return
			case <-ticker.C:
			}

			seq++
			line, err := json.Marshal(t.reading(seq))
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if _, err := pw.Write(append(line, '\n')); err != nil {
				return // reader closed
			}
		}
	}()

	return pr, nil
}

func (t *Transport) reading(seq int64) map[string]any {
	freq := t.config.Frequency + (rand.Float64()*2-1)*t.config.Jitter
	freq = math.Round(freq*1000) / 1000

	return map[string]any{
		"udp":  seq,
		"rev":  2,
		"name": t.config.Name,
		"freq": freq,
		"mag":  math.Round((t.config.ZeroPoint-2.5*math.Log10(freq))*100) / 100,
		"tamb": 20 + math.Round(rand.Float64()*100)/100,
		"tsky": -10 + math.Round(rand.Float64()*100)/100,
		"ZP":   t.config.ZeroPoint,
		"seq":  seq,
	}
}
