package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/spectess/internal/photometer"
)

// sampleBatchSize bounds the number of rows in a single multi-row INSERT
const sampleBatchSize = 90

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("not found")

	// ErrPersistenceConflict is returned when inserting a photometer whose MAC
	// is already stored, typically by a concurrent detection
	ErrPersistenceConflict = errors.New("persistence conflict")

	// ErrDuplicateSample is returned when a sample with the same timestamp and
	// role is already stored. The whole batch is rolled back.
	ErrDuplicateSample = errors.New("duplicate sample")
)

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the sqlite database at dbPath.
// Connections are opened lazily; the schema is created on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		dsn := fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		if _, err = db.Exec(seedConfigSQL, uuid.NewString()); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("seeding configuration: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// the schema must exist before a read-only connection can query it
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// Property returns the value of a configuration property.
// Returns ErrNotFound if the property is not set.
func (s *SqliteStore) Property(ctx context.Context, section, property string) (value string, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return "", fmt.Errorf("getting read connection: %w", err)
	}

	var v sql.NullString
	if err = db.QueryRowContext(ctx, selectPropertySQL, section, property).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: property %s.%s", ErrNotFound, section, property)
		}
		return "", fmt.Errorf("querying property: %w", err)
	}
	return v.String, nil
}

// SetProperty creates or replaces a configuration property
func (s *SqliteStore) SetProperty(ctx context.Context, section, property, value string) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.ExecContext(ctx, upsertPropertySQL, section, property, value); err != nil {
		return fmt.Errorf("updating property %s.%s: %w", section, property, err)
	}
	return nil
}

// Photometer returns the photometer with the given MAC address.
// Returns ErrNotFound if no such photometer is stored.
func (s *SqliteStore) Photometer(ctx context.Context, mac string) (*Photometer, error) {
	db, err := s.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}
	return s.photometer(ctx, db, mac)
}

func (s *SqliteStore) photometer(ctx context.Context, db *sql.DB, mac string) (p *Photometer, err error) {
	stmt, err := db.PrepareContext(ctx, selectPhotometerSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var data photometerData
	err = stmt.QueryRowContext(ctx, mac).Scan(
		&data.ID,
		&data.Name,
		&data.MAC,
		&data.Sensor,
		&data.Model,
		&data.Firmware,
		&data.ZeroPoint,
		&data.FreqOffset,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: photometer %s", ErrNotFound, mac)
		}
		return nil, fmt.Errorf("scanning photometer: %w", err)
	}

	return toPhotometer(&data), nil
}

// UpsertPhotometer returns the stored photometer with the MAC of info,
// inserting it first if absent. The first stored identity wins; later
// detections never modify it. created reports whether a row was inserted.
// A concurrent insert of the same MAC fails with ErrPersistenceConflict,
// after which a retry finds the stored row.
func (s *SqliteStore) UpsertPhotometer(ctx context.Context, info *photometer.Info) (p *Photometer, created bool, err error) {
	if info.MAC == "" {
		return nil, false, errors.New("photometer MAC address required")
	}

	db, err := s.getWriteDB()
	if err != nil {
		return nil, false, fmt.Errorf("getting write connection: %w", err)
	}

	p, err = s.photometer(ctx, db, info.MAC)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	stmt, err := db.PrepareContext(ctx, insertPhotometerSQL)
	if err != nil {
		return nil, false, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(
		ctx,
		info.Name,
		info.MAC,
		toNullString(info.Sensor),
		toNullString(info.Model),
		toNullString(info.Firmware),
		info.ZeroPoint,
		info.FreqOffset,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, fmt.Errorf("%w: photometer %s already stored: %w", ErrPersistenceConflict, info.MAC, err)
		}
		return nil, false, fmt.Errorf("inserting photometer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("getting photometer ID: %w", err)
	}

	return &Photometer{
		ID:         id,
		Name:       info.Name,
		MAC:        info.MAC,
		Sensor:     info.Sensor,
		Model:      info.Model,
		Firmware:   info.Firmware,
		ZeroPoint:  info.ZeroPoint,
		FreqOffset: info.FreqOffset,
	}, true, nil
}

// AppendSamples stores all samples for a photometer in a single transaction.
// Either every sample is stored or none is.
func (s *SqliteStore) AppendSamples(ctx context.Context, photometerID int64, samples []Sample) (err error) {
	if len(samples) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	for batch := range slices.Chunk(samples, sampleBatchSize) {
		values := make([]any, 0, len(batch)*10)

		var sb strings.Builder
		sb.WriteString(insertSampleSQL)

		for i, sample := range batch {
			values = append(values,
				photometerID,
				sample.Timestamp.UTC(),
				sample.Role.String(),
				sample.Session,
				sample.Sequence,
				toNullFloat64(sample.Magnitude),
				sample.Frequency,
				sample.BoxTemperature,
				sample.Wavelength,
				sample.Filter,
			)

			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(sampleValuesPlaceholder)
		}

		if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %w", ErrDuplicateSample, err)
			}
			return fmt.Errorf("batch inserting samples: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Sessions returns the distinct sessions that have samples, most recent first
func (s *SqliteStore) Sessions(ctx context.Context) (sessions []int64, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var session int64
		if err = rows.Scan(&session); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Roles returns the distinct roles sampled in a session
func (s *SqliteStore) Roles(ctx context.Context, session int64) (roles []photometer.Role, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectRolesSQL, session)
	if err != nil {
		return nil, fmt.Errorf("querying roles: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var label string
		if err = rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}

		role, err := photometer.ParseRole(label)
		if err != nil {
			return nil, fmt.Errorf("decoding role: %w", err)
		}
		roles = append(roles, role)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return roles, nil
}

// CountSamples returns the number of samples stored for a session
func (s *SqliteStore) CountSamples(ctx context.Context, session int64) (int64, error) {
	db, err := s.getReadDB()
	if err != nil {
		return 0, fmt.Errorf("getting read connection: %w", err)
	}

	var count int64
	if err = db.QueryRowContext(ctx, countSamplesSQL, session).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting samples: %w", err)
	}
	return count, nil
}

// ExportSession creates an ExportReader over the samples of a session joined
// with their photometer identity, ordered by wavelength and sequence number.
// An empty mac selects every photometer of the session. The returned reader
// must be closed after use.
func (s *SqliteStore) ExportSession(ctx context.Context, session int64, mac string) (*ExportReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newExportReader(ctx, db, session, mac)
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.readDB != nil {
			errs = append(errs, s.readDB.Close())
			s.readDB = nil
		}

		if s.writeDB != nil {
			errs = append(errs, s.writeDB.Close())
			s.writeDB = nil
		}

		s.closeErr = errors.Join(errs...)
	})

	return s.closeErr
}
