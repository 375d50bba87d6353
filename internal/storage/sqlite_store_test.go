package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/spectess/internal/photometer"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	s := NewSqliteStore(filepath.Join(t.TempDir(), "spectess.db"))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return s
}

func testSamples(session int64, role photometer.Role, wave int, base time.Time, n int) []Sample {
	samples := make([]Sample, n)
	for i := range samples {
		samples[i] = Sample{
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			Role:           role,
			Session:        session,
			Sequence:       int64(i + 1),
			Frequency:      10 + float64(i)/10,
			BoxTemperature: 21.5,
			Wavelength:     wave,
			Filter:         "BG38",
		}
	}
	return samples
}

func TestSqliteStore_Properties(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	defaults := map[string]string{
		"nsamples":   "17",
		"wavelength": "350",
		"wave_incr":  "5",
	}
	for property, expected := range defaults {
		value, err := s.Property(ctx, "calibration", property)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", property, err)
		}
		if value != expected {
			t.Errorf("Expected default %s=%s, got %s", property, expected, value)
		}
	}

	if value, err := s.Property(ctx, "database", "uuid"); err != nil || len(value) != 36 {
		t.Errorf("Expected a database uuid, got %q (%v)", value, err)
	}

	if err := s.SetProperty(ctx, "calibration", "nsamples", "25"); err != nil {
		t.Fatalf("Failed to set property: %v", err)
	}
	if value, _ := s.Property(ctx, "calibration", "nsamples"); value != "25" {
		t.Errorf("Expected nsamples=25, got %s", value)
	}

	if _, err := s.Property(ctx, "calibration", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSqliteStore_SeedKeepsEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spectess.db")
	ctx := context.Background()

	s := NewSqliteStore(path)
	if err := s.SetProperty(ctx, "calibration", "wavelength", "400"); err != nil {
		t.Fatalf("Failed to set property: %v", err)
	}
	uid, _ := s.Property(ctx, "database", "uuid")
	_ = s.Close()

	s = NewSqliteStore(path)
	defer s.Close()

	if value, _ := s.Property(ctx, "calibration", "wavelength"); value != "400" {
		t.Errorf("Expected reopened wavelength=400, got %s", value)
	}
	if value, _ := s.Property(ctx, "database", "uuid"); value != uid {
		t.Errorf("Expected stable uuid %s, got %s", uid, value)
	}
}

func TestSqliteStore_UpsertPhotometer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	info := &photometer.Info{Name: "stars3", MAC: "AA:BB:CC:DD:EE:FF", Model: "TESS-W", ZeroPoint: 20.5}

	first, created, err := s.UpsertPhotometer(ctx, info)
	if err != nil {
		t.Fatalf("Failed to upsert photometer: %v", err)
	}
	if !created {
		t.Error("Expected first upsert to create the photometer")
	}

	changed := *info
	changed.Name = "renamed"
	second, created, err := s.UpsertPhotometer(ctx, &changed)
	if err != nil {
		t.Fatalf("Failed to upsert photometer again: %v", err)
	}
	if created {
		t.Error("Expected second upsert to find the stored photometer")
	}
	if second.ID != first.ID {
		t.Errorf("Expected same photometer ID %d, got %d", first.ID, second.ID)
	}
	if second.Name != "stars3" {
		t.Errorf("Expected first-seen name stars3, got %s", second.Name)
	}
	if second.ZeroPoint != 20.5 || second.Model != "TESS-W" {
		t.Errorf("Unexpected stored identity: %+v", second)
	}

	if _, _, err := s.UpsertPhotometer(ctx, &photometer.Info{Name: "nomac"}); err == nil {
		t.Error("Expected error for photometer without MAC")
	}
}

func TestSqliteStore_AppendSamplesAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _, err := s.UpsertPhotometer(ctx, &photometer.Info{Name: "stars3", MAC: "AA:BB:CC:DD:EE:FF"})
	if err != nil {
		t.Fatalf("Failed to upsert photometer: %v", err)
	}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	const session = 20240301120000

	// more than one INSERT batch
	if err := s.AppendSamples(ctx, p.ID, testSamples(session, photometer.RoleTest, 350, base, 200)); err != nil {
		t.Fatalf("Failed to append samples: %v", err)
	}

	count, err := s.CountSamples(ctx, session)
	if err != nil {
		t.Fatalf("Failed to count samples: %v", err)
	}
	if count != 200 {
		t.Errorf("Expected 200 samples, got %d", count)
	}

	// the last sample collides with an already stored one
	batch := testSamples(session, photometer.RoleTest, 355, base.Add(time.Hour), 5)
	batch[4].Timestamp = base

	err = s.AppendSamples(ctx, p.ID, batch)
	if !errors.Is(err, ErrDuplicateSample) {
		t.Fatalf("Expected ErrDuplicateSample, got %v", err)
	}

	if count, _ := s.CountSamples(ctx, session); count != 200 {
		t.Errorf("Expected rolled back batch to leave 200 samples, got %d", count)
	}

	// same timestamp for another role is allowed
	other := testSamples(session, photometer.RoleReference, 350, base, 1)
	if err := s.AppendSamples(ctx, p.ID, other); err != nil {
		t.Errorf("Expected sample of another role to be stored: %v", err)
	}
}

func TestSqliteStore_SessionsAndRoles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _, _ := s.UpsertPhotometer(ctx, &photometer.Info{Name: "stars3", MAC: "AA:BB:CC:DD:EE:FF"})
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = s.AppendSamples(ctx, p.ID, testSamples(20240301120000, photometer.RoleTest, 350, base, 2))
	_ = s.AppendSamples(ctx, p.ID, testSamples(20240302120000, photometer.RoleTest, 350, base.Add(24*time.Hour), 2))
	_ = s.AppendSamples(ctx, p.ID, testSamples(20240302120000, photometer.RoleReference, 350, base.Add(24*time.Hour), 2))

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0] != 20240302120000 || sessions[1] != 20240301120000 {
		t.Errorf("Expected sessions most recent first, got %v", sessions)
	}

	roles, err := s.Roles(ctx, 20240302120000)
	if err != nil {
		t.Fatalf("Failed to list roles: %v", err)
	}
	if len(roles) != 2 {
		t.Errorf("Expected 2 roles, got %v", roles)
	}

	roles, _ = s.Roles(ctx, 20240301120000)
	if len(roles) != 1 || roles[0] != photometer.RoleTest {
		t.Errorf("Expected [TEST], got %v", roles)
	}
}

func TestSqliteStore_ExportSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _, _ := s.UpsertPhotometer(ctx, &photometer.Info{Name: "stars3", MAC: "AA:BB:CC:DD:EE:FF", Model: "TESS-W", FreqOffset: 0.01})
	q, _, _ := s.UpsertPhotometer(ctx, &photometer.Info{Name: "stars1", MAC: "11:22:33:44:55:66"})

	const session = 20240301120000
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// stored out of wavelength order
	_ = s.AppendSamples(ctx, p.ID, testSamples(session, photometer.RoleTest, 355, base.Add(time.Minute), 3))
	_ = s.AppendSamples(ctx, p.ID, testSamples(session, photometer.RoleTest, 350, base, 3))
	_ = s.AppendSamples(ctx, q.ID, testSamples(session, photometer.RoleReference, 350, base.Add(time.Hour), 2))

	r, err := s.ExportSession(ctx, session, "")
	if err != nil {
		t.Fatalf("Failed to export session: %v", err)
	}
	defer r.Close()

	var rows []*ExportRow
	for r.Next(ctx) {
		rows = append(rows, r.Current())
	}
	if err := r.Error(); err != nil {
		t.Fatalf("Export iteration failed: %v", err)
	}

	if len(rows) != 8 {
		t.Fatalf("Expected 8 rows, got %d", len(rows))
	}

	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		if cur.Wavelength < prev.Wavelength || (cur.Wavelength == prev.Wavelength && cur.Sequence < prev.Sequence) {
			t.Errorf("Row %d out of (wavelength, sequence) order: %d/%d after %d/%d",
				i, cur.Wavelength, cur.Sequence, prev.Wavelength, prev.Sequence)
		}
	}

	first := rows[0]
	if first.Session != session || first.Filter != "BG38" {
		t.Errorf("Unexpected first row: %+v", first)
	}
	if !first.Timestamp.Equal(base) && !first.Timestamp.Equal(base.Add(time.Hour)) {
		t.Errorf("Unexpected first row timestamp %v", first.Timestamp)
	}

	// filter by photometer
	r2, err := s.ExportSession(ctx, session, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Failed to export session by mac: %v", err)
	}
	defer r2.Close()

	var n int
	for r2.Next(ctx) {
		n++
		if row := r2.Current(); row.MAC != "AA:BB:CC:DD:EE:FF" || row.Model != "TESS-W" || row.FreqOffset != 0.01 {
			t.Errorf("Unexpected row for filtered export: %+v", row)
		}
	}
	if n != 6 {
		t.Errorf("Expected 6 rows for photometer, got %d", n)
	}
}

func TestSqliteStore_ExportUnknownSession(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.ExportSession(context.Background(), 42, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSqliteStore_CloseTwice(t *testing.T) {
	s := NewSqliteStore(filepath.Join(t.TempDir(), "spectess.db"))
	if _, err := s.Sessions(context.Background()); err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got %v", err)
	}
}
