package app

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/roman-kulish/spectess/internal/photometer"
	"github.com/roman-kulish/spectess/internal/storage"
)

func testResponse() *ResponseData {
	data := NewResponseData(testSession)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var seq int
	for _, role := range []photometer.Role{photometer.RoleTest, photometer.RoleReference} {
		shift := 0.0
		if role == photometer.RoleReference {
			shift = 5
		}
		for wave := 350; wave <= 450; wave += 25 {
			// low median of an even count is the lower central value
			for _, f := range []float64{10.4, 10.0, 10.2, 9.0} {
				seq++
				data.Update(&storage.ExportRow{
					Name:       "stars" + role.String(),
					Role:       role,
					Wavelength: wave,
					Timestamp:  base.Add(time.Duration(seq) * time.Second),
					Frequency:  f + float64(wave-350)/10 + shift,
				})
			}
		}
	}
	return data
}

func TestResponseData(t *testing.T) {
	data := testResponse()

	roles := data.Roles()
	if len(roles) != 2 || roles[0] != photometer.RoleReference || roles[1] != photometer.RoleTest {
		t.Fatalf("Expected roles [REF TEST], got %v", roles)
	}

	curve := data.Curve(photometer.RoleTest)
	if len(curve) != 5 {
		t.Fatalf("Expected 5 points, got %d", len(curve))
	}
	for i, p := range curve {
		wantWave := 350 + i*25
		if p.Wavelength != wantWave {
			t.Errorf("Expected point %d at %d nm, got %d nm", i, wantWave, p.Wavelength)
		}
		if want := 10.0 + float64(wantWave-350)/10; p.Median != want {
			t.Errorf("Expected median %v at %d nm, got %v", want, wantWave, p.Median)
		}
		if p.Samples != 4 {
			t.Errorf("Expected 4 samples at %d nm, got %d", wantWave, p.Samples)
		}
	}

	if data.WavelengthMin != 350 || data.WavelengthMax != 450 {
		t.Errorf("Expected wavelengths 350-450, got %d-%d", data.WavelengthMin, data.WavelengthMax)
	}
	if fMin, fMax := data.FrequencyRange(); fMin != 10.0 || fMax != 25.0 {
		t.Errorf("Expected frequency range 10-25, got %v-%v", fMin, fMax)
	}
	if !data.TimestampStart.Before(data.TimestampEnd) {
		t.Errorf("Expected start before end, got %v and %v", data.TimestampStart, data.TimestampEnd)
	}
}

func TestResponseData_SingleSample(t *testing.T) {
	data := NewResponseData(testSession)
	data.Update(&storage.ExportRow{Role: photometer.RoleTest, Wavelength: 500, Frequency: 12.5})

	curve := data.Curve(photometer.RoleTest)
	if len(curve) != 1 || curve[0].Median != 12.5 {
		t.Errorf("Expected a single point at 12.5 Hz, got %v", curve)
	}

	// a new sample invalidates computed curves
	data.Update(&storage.ExportRow{Role: photometer.RoleTest, Wavelength: 505, Frequency: 13})
	if got := len(data.Curve(photometer.RoleTest)); got != 2 {
		t.Errorf("Expected 2 points, got %d", got)
	}
}

func TestResponseRenderer_Render(t *testing.T) {
	renderer := NewResponseRenderer(RenderConfig{Width: 800, Height: 600})

	img, err := renderer.Render(testResponse())
	if err != nil {
		t.Fatalf("Failed to render: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 800, 600) {
		t.Errorf("Unexpected bounds %v", img.Bounds())
	}

	counts := map[color.RGBA]int{}
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			counts[img.RGBAAt(x, y)]++
		}
	}
	for role, c := range roleColors {
		if counts[c] == 0 {
			t.Errorf("Expected %s curve pixels", role)
		}
	}
}

func TestResponseRenderer_NoAnnotations(t *testing.T) {
	renderer := NewResponseRenderer(RenderConfig{Width: 400, Height: 300, NoAnnotations: true})

	img, err := renderer.Render(testResponse())
	if err != nil {
		t.Fatalf("Failed to render: %v", err)
	}

	// the title area stays blank without annotations
	for x := 0; x < 400; x++ {
		if c := img.RGBAAt(x, defaultTopBorder/2); c != (color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}) {
			t.Fatalf("Expected blank title row, got %v at x=%d", c, x)
		}
	}
}

func TestResponseRenderer_Empty(t *testing.T) {
	if _, err := NewResponseRenderer(RenderConfig{}).Render(NewResponseData(testSession)); err == nil {
		t.Error("Expected error for an empty session")
	}
}

func TestNiceSteps(t *testing.T) {
	if got := calculateNiceWavelengthStep(700, 1470); got != 100 {
		t.Errorf("Expected 100 nm step, got %v", got)
	}
	if got := calculateNiceWavelengthStep(10, 1470); got != 1 {
		t.Errorf("Expected 1 nm step, got %v", got)
	}
	if got := calculateNiceFrequencyStep(10, 600); got != 1 {
		t.Errorf("Expected 1 Hz step, got %v", got)
	}
	if got := formatFrequency(1500); got != "1.5 kHz" {
		t.Errorf("Expected '1.5 kHz', got %q", got)
	}
}
