package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.StepFinished(OutcomeCompleted, 3*time.Second)
	m.StepFinished(OutcomeAborted, time.Second)
	m.ReadingCaptured("TEST")
	m.ReadingCaptured("TEST")
	m.SamplesPersisted("TEST", 17)
	m.SetWavelength(355)

	if v := testutil.ToFloat64(m.steps.WithLabelValues(OutcomeCompleted)); v != 1 {
		t.Errorf("Expected 1 completed step, got %v", v)
	}
	if v := testutil.ToFloat64(m.readingsCaptured.WithLabelValues("TEST")); v != 2 {
		t.Errorf("Expected 2 captured readings, got %v", v)
	}
	if v := testutil.ToFloat64(m.samplesPersisted.WithLabelValues("TEST")); v != 17 {
		t.Errorf("Expected 17 persisted samples, got %v", v)
	}
	if v := testutil.ToFloat64(m.wavelength); v != 355 {
		t.Errorf("Expected wavelength 355, got %v", v)
	}
	if n := testutil.CollectAndCount(m.stepDuration); n != 1 {
		t.Errorf("Expected step duration histogram, got %d series", n)
	}
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics

	// must not panic
	m.StepFinished(OutcomeFailed, 0)
	m.ReadingCaptured("REF")
	m.SamplesPersisted("REF", 1)
	m.SetWavelength(350)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.SetWavelength(400)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "spectess_wavelength_nm 400") {
		t.Errorf("Expected wavelength gauge in exposition, got:\n%s", body)
	}
}
