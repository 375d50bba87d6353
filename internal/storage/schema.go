package storage

const initSchemaSQL = `
    CREATE TABLE IF NOT EXISTS config_t (
        section  TEXT NOT NULL,
        property TEXT NOT NULL,
        value    TEXT,
        PRIMARY KEY (section, property)
    );

    CREATE TABLE IF NOT EXISTS photometer_t (
        phot_id     INTEGER PRIMARY KEY AUTOINCREMENT,
        name        TEXT NOT NULL,
        mac         TEXT NOT NULL UNIQUE,
        sensor      TEXT,
        model       TEXT,
        firmware    TEXT,
        zero_point  REAL,
        freq_offset REAL
    );

    CREATE TABLE IF NOT EXISTS samples_t (
        id       INTEGER PRIMARY KEY AUTOINCREMENT,
        phot_id  INTEGER NOT NULL REFERENCES photometer_t(phot_id),
        tstamp   TIMESTAMP NOT NULL,
        role     VARCHAR(4) NOT NULL,
        session  INTEGER NOT NULL,
        seq      INTEGER NOT NULL,
        mag      REAL,
        freq     REAL NOT NULL,
        temp_box REAL NOT NULL,
        wave     INTEGER NOT NULL,
        filter   VARCHAR(6) NOT NULL,
        UNIQUE (tstamp, role)
    );

    CREATE INDEX IF NOT EXISTS ix_samples_t_phot_id ON samples_t(phot_id);
    CREATE INDEX IF NOT EXISTS ix_samples_t_session ON samples_t(session, wave, seq);
`

// seedConfigSQL inserts the default calibration parameters without
// overwriting operator edits
const seedConfigSQL = `
    INSERT OR IGNORE INTO config_t (section, property, value)
    VALUES
        ('calibration', 'nsamples', '17'),
        ('calibration', 'wavelength', '350'),
        ('calibration', 'wave_incr', '5'),
        ('calibration', 'author', ''),
        ('database', 'uuid', ?)
`

const selectPropertySQL = `
    SELECT value
    FROM config_t
    WHERE section = ? AND property = ?
`

const upsertPropertySQL = `
    INSERT INTO config_t (section, property, value)
    VALUES (?, ?, ?)
    ON CONFLICT (section, property) DO UPDATE SET value = excluded.value
`

const selectPhotometerSQL = `
    SELECT phot_id, name, mac, sensor, model, firmware, zero_point, freq_offset
    FROM photometer_t
    WHERE mac = ?
`

const insertPhotometerSQL = `
    INSERT INTO photometer_t (name, mac, sensor, model, firmware, zero_point, freq_offset)
    VALUES (?, ?, ?, ?, ?, ?, ?)
`

const insertSampleSQL = `
    INSERT INTO samples_t (
        phot_id,
        tstamp,
        role,
        session,
        seq,
        mag,
        freq,
        temp_box,
        wave,
        filter
    )
    VALUES `

const sampleValuesPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

const selectSessionsSQL = `
    SELECT DISTINCT session
    FROM samples_t
    ORDER BY session DESC
`

const selectRolesSQL = `
    SELECT DISTINCT role
    FROM samples_t
    WHERE session = ?
    ORDER BY role
`

const countSamplesSQL = `
    SELECT COUNT(*)
    FROM samples_t
    WHERE session = ?
`

const selectExportSQL = `
    SELECT
        p.name,
        p.mac,
        p.model,
        p.sensor,
        p.freq_offset,
        s.session,
        s.role,
        s.wave,
        s.filter,
        s.seq,
        s.tstamp,
        s.freq,
        s.temp_box,
        s.mag
    FROM samples_t AS s
    JOIN photometer_t AS p ON p.phot_id = s.phot_id
    WHERE s.session = ? AND (? = '' OR p.mac = ?)
    ORDER BY s.wave, s.seq, s.role, s.id
`
