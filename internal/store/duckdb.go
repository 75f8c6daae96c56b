// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/logging"
	"github.com/tomtom215/tracklog/internal/models"
)

const duckdbSchema = `
CREATE TABLE IF NOT EXISTS listens (
	id             VARCHAR PRIMARY KEY,
	user_key       VARCHAR NOT NULL,
	track_identity VARCHAR NOT NULL,
	listened_at    BIGINT NOT NULL,
	payload        VARCHAR,
	inserted_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_listens_user_ts ON listens (user_key, listened_at);
`

const duckdbMaxConflictRetries = 3

// DuckDB stores listens in a single DuckDB table indexed by (user_key, listened_at).
type DuckDB struct {
	conn      *sql.DB
	path      string
	matcher   fingerprint.Matcher
	opTimeout time.Duration
	locks     partitionLocks
	closed    atomic.Bool
}

// NewDuckDB opens (or creates) the database at cfg.Path. An empty path or
// ":memory:" opens an in-memory database.
func NewDuckDB(cfg config.DuckDBConfig, matcher fingerprint.Matcher, opTimeout time.Duration) (*DuckDB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}
	if path != "" {
		dbDir := filepath.Dir(path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?threads=%d&max_memory=%s", path, numThreads, maxMemory)
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(runtime.NumCPU())
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	s := &DuckDB{conn: conn, path: path, matcher: matcher, opTimeout: opTimeout}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(ctx, duckdbSchema); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", numThreads).Str("max_memory", maxMemory).Msg("DuckDB listen store opened")
	return s, nil
}

// WriteUnique implements ListenStore. The partition mutex serializes writers
// for one user; the transaction keeps the window check and the insert together.
func (s *DuckDB) WriteUnique(ctx context.Context, l *models.Listen) (WriteResult, error) {
	if s.closed.Load() {
		return WriteResult{}, unavailable("duckdb write", ErrClosed)
	}
	ctx, cancel := ensureContext(ctx, s.opTimeout)
	defer cancel()

	mu := s.locks.acquire(l.UserKey)
	defer s.locks.release(mu)

	rec := *l
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.InsertedAt.IsZero() {
		rec.InsertedAt = time.Now().UTC()
	}

	var lastErr error
	for attempt := 0; attempt < duckdbMaxConflictRetries; attempt++ {
		res, err := s.writeUniqueTx(ctx, &rec)
		if err == nil {
			if res.Accepted {
				l.ID, l.InsertedAt = rec.ID, rec.InsertedAt
			}
			return res, nil
		}
		lastErr = err
		if !isTransactionConflict(err) {
			break
		}
		logging.Debug().Err(err).Int("attempt", attempt+1).Msg("DuckDB transaction conflict, retrying")
		select {
		case <-ctx.Done():
			return WriteResult{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return WriteResult{}, unavailable("duckdb write", lastErr)
}

func (s *DuckDB) writeUniqueTx(ctx context.Context, rec *models.Listen) (res WriteResult, err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return WriteResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	from, to := s.matcher.Window(rec.Timestamp)
	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_key, track_identity, listened_at, payload, inserted_at
		FROM listens
		WHERE user_key = ? AND track_identity = ? AND listened_at BETWEEN ? AND ?`,
		rec.UserKey, rec.TrackIdentity, from, to)
	if err != nil {
		return WriteResult{}, fmt.Errorf("window query: %w", err)
	}
	candidates, err := scanListens(rows)
	if err != nil {
		return WriteResult{}, err
	}
	if existing := closestRecord(s.matcher, rec.Timestamp, candidates); existing != nil {
		_ = tx.Rollback()
		return WriteResult{Existing: existing}, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO listens (id, user_key, track_identity, listened_at, payload, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.UserKey, rec.TrackIdentity, rec.Timestamp, payloadString(rec.Payload), rec.InsertedAt)
	if err != nil {
		return WriteResult{}, fmt.Errorf("insert listen: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return WriteResult{}, fmt.Errorf("commit: %w", err)
	}
	return WriteResult{Accepted: true}, nil
}

// FetchRange implements ListenStore.
func (s *DuckDB) FetchRange(ctx context.Context, q RangeQuery) ([]models.Listen, error) {
	if s.closed.Load() {
		return nil, unavailable("duckdb fetch", ErrClosed)
	}
	if q.From > q.To {
		return []models.Listen{}, nil
	}
	ctx, cancel := ensureContext(ctx, s.opTimeout)
	defer cancel()

	query := `
		SELECT id, user_key, track_identity, listened_at, payload, inserted_at
		FROM listens
		WHERE user_key = ? AND listened_at BETWEEN ? AND ?`
	args := []interface{}{q.UserKey, q.From, q.To}
	if q.Limit > 0 {
		query += ` ORDER BY listened_at DESC, inserted_at DESC, id DESC LIMIT ?`
		args = append(args, q.Limit)
	} else {
		query += ` ORDER BY listened_at, inserted_at, id`
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("duckdb fetch", err)
	}
	listens, err := scanListens(rows)
	if err != nil {
		return nil, unavailable("duckdb fetch", err)
	}
	if q.Limit > 0 {
		// Newest-first from the query; flip back to ascending.
		for i, j := 0, len(listens)-1; i < j; i, j = i+1, j-1 {
			listens[i], listens[j] = listens[j], listens[i]
		}
	}
	return finishRange(listens, q), nil
}

// CountListens implements ListenStore.
func (s *DuckDB) CountListens(ctx context.Context, userKey string) (int64, error) {
	if s.closed.Load() {
		return 0, unavailable("duckdb count", ErrClosed)
	}
	ctx, cancel := ensureContext(ctx, s.opTimeout)
	defer cancel()

	var n int64
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM listens WHERE user_key = ?", userKey).Scan(&n); err != nil {
		return 0, unavailable("duckdb count", err)
	}
	return n, nil
}

// Ping implements ListenStore.
func (s *DuckDB) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return unavailable("duckdb ping", ErrClosed)
	}
	ctx, cancel := ensureContext(ctx, s.opTimeout)
	defer cancel()
	return unavailable("duckdb ping", s.conn.PingContext(ctx))
}

// Name implements ListenStore.
func (s *DuckDB) Name() string { return config.StoreBackendDuckDB }

// Checkpoint flushes the DuckDB WAL into the database file.
func (s *DuckDB) Checkpoint(ctx context.Context) error {
	ctx, cancel := ensureContext(ctx, s.opTimeout)
	defer cancel()
	if _, err := s.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// Close checkpoints and closes the database.
func (s *DuckDB) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.path != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.Checkpoint(ctx); err != nil {
			logging.Warn().Err(err).Msg("Failed to checkpoint database before close")
		}
		cancel()
	}
	return s.conn.Close()
}

func scanListens(rows *sql.Rows) ([]models.Listen, error) {
	defer closeWithLog(rows, "rows")

	listens := []models.Listen{}
	for rows.Next() {
		var (
			l       models.Listen
			id      string
			payload sql.NullString
		)
		if err := rows.Scan(&id, &l.UserKey, &l.TrackIdentity, &l.Timestamp, &payload, &l.InsertedAt); err != nil {
			return nil, fmt.Errorf("scan listen: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("scan listen id %q: %w", id, err)
		}
		l.ID = parsed
		if payload.Valid {
			l.Payload = json.RawMessage(payload.String)
		}
		listens = append(listens, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listens: %w", err)
	}
	return listens, nil
}

func payloadString(p json.RawMessage) interface{} {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}

var _ ListenStore = (*DuckDB)(nil)
