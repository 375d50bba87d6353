package display

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/spectess/internal/calibration"
	"github.com/roman-kulish/spectess/internal/photometer"
)

var (
	_ calibration.Display = (*Console)(nil)
	_ calibration.Display = (*Feed)(nil)
	_ calibration.Display = Fanout(nil)
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.AppendLog(photometer.RoleTest, "median = 10.000 Hz")
	c.SetWavelength(355, "BG38")
	c.ShowMetadata(photometer.RoleReference, &photometer.Info{Name: "stars3", MAC: "AA:BB:CC:DD:EE:FF", ZeroPoint: 20.5})
	c.EnableCapture(photometer.RoleReference)

	c.ResetProgress(photometer.RoleTest, 3)
	for i := 0; i < 5; i++ {
		c.AdvanceProgress(photometer.RoleTest, 1)
	}

	out := buf.String()
	for _, expected := range []string{
		"[TEST] median = 10.000 Hz",
		"λ = 355 nm, filter BG38",
		"[REF] photometer metadata",
		"mac",
		"AA:BB:CC:DD:EE:FF",
		"20.50",
	} {
		if !strings.Contains(out, expected) {
			t.Errorf("Expected %q in output:\n%s", expected, out)
		}
	}

	if p := c.Progress(photometer.RoleTest); p.Done != 3 || p.Total != 3 {
		t.Errorf("Expected progress capped at 3/3, got %+v", p)
	}
	if !c.CaptureEnabled(photometer.RoleReference) {
		t.Error("Expected capture enabled for REF")
	}

	c.ResetSwitch(photometer.RoleReference)
	if c.CaptureEnabled(photometer.RoleReference) {
		t.Error("Expected capture reset for REF")
	}

	if w, f := c.Wavelength(); w != 355 || f != "BG38" {
		t.Errorf("Expected 355/BG38, got %d/%s", w, f)
	}
}

func TestFanout(t *testing.T) {
	var a, b bytes.Buffer
	ca, cb := NewConsole(&a), NewConsole(&b)

	f := Fanout{ca, cb}
	f.AppendLog(photometer.RoleTest, "hello")
	f.ResetProgress(photometer.RoleTest, 2)
	f.AdvanceProgress(photometer.RoleTest, 1)

	if !strings.Contains(a.String(), "hello") || !strings.Contains(b.String(), "hello") {
		t.Error("Expected line on both displays")
	}
	if ca.Progress(photometer.RoleTest).Done != 1 || cb.Progress(photometer.RoleTest).Done != 1 {
		t.Error("Expected progress on both displays")
	}
}

func TestFeed(t *testing.T) {
	feed := NewFeed()
	srv := httptest.NewServer(feed)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to dial feed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for feed.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if feed.Clients() != 1 {
		t.Fatalf("Expected 1 client, got %d", feed.Clients())
	}

	feed.ResetProgress(photometer.RoleTest, 17)
	feed.AdvanceProgress(photometer.RoleTest, 1)
	feed.SetWavelength(360, "BG38")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var events []Event
	for i := 0; i < 3; i++ {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("Failed to read event %d: %v", i, err)
		}
		events = append(events, ev)
	}

	if events[1].Type != "progress" || events[1].Done != 1 || events[1].Total != 17 {
		t.Errorf("Unexpected progress event: %+v", events[1])
	}
	if events[2].Type != "wavelength" || events[2].Wavelength != 360 || events[2].Filter != "BG38" {
		t.Errorf("Unexpected wavelength event: %+v", events[2])
	}

	_ = conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for feed.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if feed.Clients() != 0 {
		t.Error("Expected client to be removed after disconnect")
	}
}
