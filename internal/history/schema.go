package history

import (
	"database/sql"

	"codeberg.org/mutker/sysmonitor/internal/errors"
	"codeberg.org/mutker/sysmonitor/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       id             INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp      INTEGER NOT NULL,
	       cpu_percent    REAL,
	       memory_percent REAL,
	       memory_total   INTEGER,
	       disk_read      INTEGER,
	       disk_write     INTEGER,
	       net_sent       INTEGER,
	       net_recv       INTEGER,
	       net_errin      INTEGER,
	       net_errout     INTEGER,
	       load1          REAL,
	       max_temp       REAL,
	       anomaly_count  INTEGER NOT NULL CHECK (anomaly_count >= 0)
	   );
	   CREATE INDEX IF NOT EXISTS samples_timestamp ON samples (timestamp);
	   CREATE TABLE IF NOT EXISTS anomalies (
	       sample_id INTEGER NOT NULL REFERENCES samples (id) ON DELETE CASCADE,
	       position  INTEGER NOT NULL,
	       kind      TEXT NOT NULL,
	       detail    TEXT NOT NULL,
	       PRIMARY KEY (sample_id, position)
	   );`

	insertSampleSQL = `
    INSERT INTO samples (
        timestamp,
        cpu_percent, memory_percent, memory_total,
        disk_read, disk_write,
        net_sent, net_recv, net_errin, net_errout,
        load1, max_temp, anomaly_count
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertAnomalySQL = `
    INSERT INTO anomalies (sample_id, position, kind, detail)
    VALUES (?, ?, ?, ?)`

	pruneSamplesSQL = `DELETE FROM samples WHERE timestamp < ?`

	selectRecentSQL = `
    SELECT id, timestamp,
        cpu_percent, memory_percent, memory_total,
        disk_read, disk_write,
        net_sent, net_recv, net_errin, net_errout,
        load1, max_temp
    FROM samples
    WHERE anomaly_count >= ?
    ORDER BY timestamp DESC, id DESC
    LIMIT ?`

	selectAnomaliesSQL = `
    SELECT kind, detail FROM anomalies
    WHERE sample_id = ?
    ORDER BY position`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				// Only log if it's not the "already committed" error
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
