package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/sysmonitor/internal/errors"
	"codeberg.org/mutker/sysmonitor/internal/logger"
	"codeberg.org/mutker/sysmonitor/internal/monitor"
	_ "github.com/mattn/go-sqlite3"
)

const retentionUnit = 24 * time.Hour

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*Sample
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	now           func() time.Time
	// dropping is set once the buffer overflowed, until a flush succeeds
	dropping bool
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := "file:" + cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// one writer; keeps the foreign_keys pragma on the connection we use
	db.SetMaxOpenConns(1)

	// Validate if schema is current, with backup if needed
	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Int("retention_days", cfg.RetentionDays).
		Msg("History repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*Sample, 0, max(cfg.BatchSize, 1)),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
		now:           time.Now,
	}

	if repo.cfg.MaxBuffered <= 0 {
		repo.cfg.MaxBuffered = defaultMaxBuffered
	}
	repo.cfg.MaxBuffered = max(repo.cfg.MaxBuffered, repo.cfg.BatchSize)

	// Start background goroutine for periodic flushing if batching is enabled
	if cfg.BatchSize > 1 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(sample *Sample) error {
	if sample == nil {
		return errors.New().New(ErrInvalidSample)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, sample)

	if over := len(r.buffer) - r.cfg.MaxBuffered; over > 0 {
		if !r.dropping {
			r.logger.Warn().
				Int("max_buffered", r.cfg.MaxBuffered).
				Msg("History writes are failing, dropping oldest buffered samples")
			r.dropping = true
		}
		r.buffer = append(r.buffer[:0], r.buffer[over:]...)
	}

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.flush()
}

func (r *repository) Close() error {
	// Signal the flusher goroutine to stop
	close(r.shutdownChan)

	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	// Wait for the flusher to finish its final flush
	<-r.flushDoneChan

	if err := r.Flush(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to flush history on close")
	}

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("History repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			if err := r.Flush(); err != nil {
				r.logger.Error().Err(err).Msg("Periodic history flush failed")
			}
		case <-r.shutdownChan:
			return
		}
	}
}

func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	rollback := func(cause error) error {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, cause)
	}

	sampleStmt, err := tx.Prepare(insertSampleSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		return rollback(err)
	}
	defer sampleStmt.Close()

	anomalyStmt, err := tx.Prepare(insertAnomalySQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		return rollback(err)
	}
	defer anomalyStmt.Close()

	for _, s := range r.buffer {
		res, err := sampleStmt.Exec(
			s.Timestamp.UnixMilli(),
			nullFloat(s.CPUPercent),
			nullFloat(s.MemoryPercent),
			nullUint(s.MemoryTotal),
			nullUint(s.DiskRead),
			nullUint(s.DiskWrite),
			nullUint(s.NetSent),
			nullUint(s.NetRecv),
			nullUint(s.NetErrIn),
			nullUint(s.NetErrOut),
			nullFloat(s.Load1),
			nullFloat(s.MaxTemp),
			len(s.Anomalies),
		)
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			return rollback(err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return rollback(err)
		}
		s.ID = id

		for i, a := range s.Anomalies {
			if _, err := anomalyStmt.Exec(id, i, string(a.Kind), a.Detail); err != nil {
				r.logger.Error().Err(err).Msg("Failed to execute insert")
				return rollback(err)
			}
		}
	}

	if r.cfg.RetentionDays > 0 {
		cutoff := r.now().Add(-time.Duration(r.cfg.RetentionDays) * retentionUnit)
		if _, err := tx.Exec(pruneSamplesSQL, cutoff.UnixMilli()); err != nil {
			return rollback(err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed samples to database")
	r.buffer = r.buffer[:0]
	r.dropping = false

	return nil
}

// Prune deletes samples older than before, with their anomalies.
func (r *repository) Prune(before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(pruneSamplesSQL, before.UnixMilli())
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	return res.RowsAffected()
}

// Recent returns up to limit samples, newest first. Buffered samples that
// were not flushed yet are not included.
func (r *repository) Recent(limit int, anomalousOnly bool) ([]Sample, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	minAnomalies := 0
	if anomalousOnly {
		minAnomalies = 1
	}

	rows, err := r.db.Query(selectRecentSQL, minAnomalies, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var (
			s                                     Sample
			ts                                    int64
			cpu, memPct, load, maxTemp            sql.NullFloat64
			memTotal, dRead, dWrite               sql.NullInt64
			netSent, netRecv, netErrIn, netErrOut sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &ts, &cpu, &memPct, &memTotal, &dRead, &dWrite,
			&netSent, &netRecv, &netErrIn, &netErrOut, &load, &maxTemp); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}

		s.Timestamp = time.UnixMilli(ts)
		s.CPUPercent = floatPtr(cpu)
		s.MemoryPercent = floatPtr(memPct)
		s.MemoryTotal = uintPtr(memTotal)
		s.DiskRead = uintPtr(dRead)
		s.DiskWrite = uintPtr(dWrite)
		s.NetSent = uintPtr(netSent)
		s.NetRecv = uintPtr(netRecv)
		s.NetErrIn = uintPtr(netErrIn)
		s.NetErrOut = uintPtr(netErrOut)
		s.Load1 = floatPtr(load)
		s.MaxTemp = floatPtr(maxTemp)
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	for i := range samples {
		anomalies, err := r.anomalies(samples[i].ID)
		if err != nil {
			return nil, err
		}
		samples[i].Anomalies = anomalies
	}

	return samples, nil
}

func (r *repository) anomalies(sampleID int64) ([]Anomaly, error) {
	rows, err := r.db.Query(selectAnomaliesSQL, sampleID)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var kind, detail string
		if err := rows.Scan(&kind, &detail); err != nil {
			return nil, errors.New().Wrap(ErrStorageAccess, err)
		}
		out = append(out, Anomaly{Kind: monitor.Kind(kind), Detail: detail})
	}

	return out, rows.Err()
}

// sqlite integers are signed
func nullUint(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func uintPtr(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	u := uint64(v.Int64)
	return &u
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
