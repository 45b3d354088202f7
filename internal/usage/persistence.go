// Package usage persists per-attempt request records to SQLite so retry and
// failure behavior can be inspected after the fact.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/nghyane/gameday-net/internal/logging"
	"github.com/nghyane/gameday-net/internal/pipeline"
	_ "modernc.org/sqlite"
)

// Persister batches attempt records into SQLite on a background goroutine.
type Persister struct {
	db            *sql.DB
	records       chan pipeline.AttemptRecord
	flushNow      chan chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
	stopChan      chan struct{}
	batchSize     int
	flushInterval time.Duration
	retention     time.Duration
	dbPath        string
}

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultRetention     = 30 * 24 * time.Hour
	defaultQueueSize     = 1000
	cleanupInterval      = 24 * time.Hour
)

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	Retention     time.Duration
}

// NewPersister opens (creating if needed) the database at dbPath and starts
// the write and cleanup loops.
func NewPersister(dbPath string, opts Options) (*Persister, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if strings.HasPrefix(dbPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}

	p := &Persister{
		db:            db,
		records:       make(chan pipeline.AttemptRecord, defaultQueueSize),
		flushNow:      make(chan chan struct{}),
		stopChan:      make(chan struct{}),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		retention:     opts.Retention,
		dbPath:        dbPath,
	}
	p.wg.Add(2)
	go p.writeLoop()
	go p.cleanupLoop()
	return p, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS attempt_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		error_kind TEXT NOT NULL DEFAULT '',
		requested_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attempt_requested_at ON attempt_records(requested_at);
	CREATE INDEX IF NOT EXISTS idx_attempt_path ON attempt_records(method, path);
	`)
	return err
}

// RecordAttempt queues r. It never blocks; when the queue is full the record
// is dropped with a warning.
func (p *Persister) RecordAttempt(r pipeline.AttemptRecord) {
	if p == nil {
		return
	}
	select {
	case p.records <- r:
	default:
		log.Warnf("attempt persistence queue full, dropping record for %s %s", r.Method, r.Path)
	}
}

// Flush writes everything queued so far and waits for it to land.
func (p *Persister) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case p.flushNow <- ack:
	case <-p.stopChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Persister) writeLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	batch := make([]pipeline.AttemptRecord, 0, p.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.writeBatch(batch); err != nil {
			log.Errorf("failed to write attempt batch: %v", err)
		}
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case r := <-p.records:
				batch = append(batch, r)
				if len(batch) >= p.batchSize {
					flush()
				}
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case r := <-p.records:
			batch = append(batch, r)
			if len(batch) >= p.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case ack := <-p.flushNow:
			drain()
			close(ack)
		case <-p.stopChan:
			drain()
			return
		}
	}
}

func (p *Persister) writeBatch(records []pipeline.AttemptRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attempt_records (
			request_id, method, path, attempt, status, latency_ms, error_kind, requested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.RequestID,
			r.Method,
			r.Path,
			r.Attempt,
			r.StatusCode,
			r.Latency.Milliseconds(),
			r.ErrorKind,
			r.Timestamp.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *Persister) cleanupLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := p.Cleanup(context.Background(), time.Now()); err != nil {
				log.Errorf("failed to clean up attempt records: %v", err)
			}
		case <-p.stopChan:
			return
		}
	}
}

// Cleanup removes records older than the retention window ending at now.
func (p *Persister) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	res, err := p.db.ExecContext(ctx, `DELETE FROM attempt_records WHERE requested_at < ?`, now.Add(-p.retention).UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Infof("cleaned up %d attempt records older than %s", n, p.retention)
	}
	return n, nil
}

// Stop flushes pending records and closes the database.
func (p *Persister) Stop() error {
	if p == nil {
		return nil
	}
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.wg.Wait()
		if p.db != nil {
			err = p.db.Close()
		}
	})
	return err
}

func (p *Persister) DBPath() string {
	if p == nil {
		return ""
	}
	return p.dbPath
}
