// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/logging"
	"github.com/tomtom215/tracklog/internal/models"
)

//go:embed postgres_schema.sql
var postgresSchema string

const postgresSelectColumns = `id, user_key, track_identity, listened_at, payload, inserted_at`

// Postgres stores listens in PostgreSQL. Writers for one user serialize on a
// transaction-scoped advisory lock keyed by the user key.
type Postgres struct {
	pool      *pgxpool.Pool
	matcher   fingerprint.Matcher
	opTimeout time.Duration
	closed    atomic.Bool
}

// NewPostgres connects, verifies the connection and applies the schema.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig, matcher fingerprint.Matcher, opTimeout time.Duration) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logging.Info().
		Str("host", poolCfg.ConnConfig.Host).
		Str("database", poolCfg.ConnConfig.Database).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("PostgreSQL listen store opened")
	return &Postgres{pool: pool, matcher: matcher, opTimeout: opTimeout}, nil
}

// WriteUnique implements ListenStore with a conditional insert inside a
// transaction holding pg_advisory_xact_lock on the partition.
func (s *Postgres) WriteUnique(ctx context.Context, l *models.Listen) (WriteResult, error) {
	if s.closed.Load() {
		return WriteResult{}, unavailable("postgres write", ErrClosed)
	}
	ctx, cancel := ensureContext(ctx, s.opTimeout)
	defer cancel()

	rec := *l
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.InsertedAt.IsZero() {
		rec.InsertedAt = time.Now().UTC()
	}

	res, err := s.writeUniqueTx(ctx, &rec)
	if err != nil {
		return WriteResult{}, unavailable("postgres write", err)
	}
	if res.Accepted {
		l.ID, l.InsertedAt = rec.ID, rec.InsertedAt
	}
	return res, nil
}

func (s *Postgres) writeUniqueTx(ctx context.Context, rec *models.Listen) (WriteResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return WriteResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, rec.UserKey); err != nil {
		return WriteResult{}, fmt.Errorf("partition lock: %w", err)
	}

	from, to := s.matcher.Window(rec.Timestamp)
	tag, err := tx.Exec(ctx, `
		INSERT INTO listens (id, user_key, track_identity, listened_at, payload, inserted_at)
		SELECT $1::uuid, $2::text, $3::text, $4::bigint, $5::json, $6::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM listens
			WHERE user_key = $2 AND track_identity = $3 AND listened_at BETWEEN $7 AND $8
		)`,
		rec.ID, rec.UserKey, rec.TrackIdentity, rec.Timestamp, payloadString(rec.Payload), rec.InsertedAt, from, to)
	if err != nil {
		return WriteResult{}, fmt.Errorf("conditional insert: %w", err)
	}

	if tag.RowsAffected() == 1 {
		if err := tx.Commit(ctx); err != nil {
			return WriteResult{}, fmt.Errorf("commit: %w", err)
		}
		return WriteResult{Accepted: true}, nil
	}

	rows, err := tx.Query(ctx, `SELECT `+postgresSelectColumns+`
		FROM listens
		WHERE user_key = $1 AND track_identity = $2 AND listened_at BETWEEN $3 AND $4`,
		rec.UserKey, rec.TrackIdentity, from, to)
	if err != nil {
		return WriteResult{}, fmt.Errorf("window query: %w", err)
	}
	candidates, err := collectListens(rows)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Existing: closestRecord(s.matcher, rec.Timestamp, candidates)}, nil
}

// FetchRange implements ListenStore.
func (s *Postgres) FetchRange(ctx context.Context, q RangeQuery) ([]models.Listen, error) {
	if s.closed.Load() {
		return nil, unavailable("postgres fetch", ErrClosed)
	}
	if q.From > q.To {
		return []models.Listen{}, nil
	}
	ctx, cancel := ensureContext(ctx, s.opTimeout)
	defer cancel()

	query := `SELECT ` + postgresSelectColumns + `
		FROM listens
		WHERE user_key = $1 AND listened_at BETWEEN $2 AND $3`
	args := []any{q.UserKey, q.From, q.To}
	if q.Limit > 0 {
		query += ` ORDER BY listened_at DESC, inserted_at DESC, id DESC LIMIT $4`
		args = append(args, q.Limit)
	} else {
		query += ` ORDER BY listened_at, inserted_at, id`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("postgres fetch", err)
	}
	listens, err := collectListens(rows)
	if err != nil {
		return nil, unavailable("postgres fetch", err)
	}
	if q.Limit > 0 {
		for i, j := 0, len(listens)-1; i < j; i, j = i+1, j-1 {
			listens[i], listens[j] = listens[j], listens[i]
		}
	}
	return finishRange(listens, q), nil
}

// CountListens implements ListenStore.
func (s *Postgres) CountListens(ctx context.Context, userKey string) (int64, error) {
	if s.closed.Load() {
		return 0, unavailable("postgres count", ErrClosed)
	}
	ctx, cancel := ensureContext(ctx, s.opTimeout)
	defer cancel()

	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listens WHERE user_key = $1`, userKey).Scan(&n)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, unavailable("postgres count", err)
	}
	return n, nil
}

// Ping implements ListenStore.
func (s *Postgres) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return unavailable("postgres ping", ErrClosed)
	}
	ctx, cancel := ensureContext(ctx, s.opTimeout)
	defer cancel()
	return unavailable("postgres ping", s.pool.Ping(ctx))
}

// Name implements ListenStore.
func (s *Postgres) Name() string { return config.StoreBackendPostgres }

// Close implements ListenStore.
func (s *Postgres) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.pool.Close()
	}
	return nil
}

func collectListens(rows pgx.Rows) ([]models.Listen, error) {
	defer rows.Close()

	listens := []models.Listen{}
	for rows.Next() {
		var (
			l       models.Listen
			payload []byte
		)
		if err := rows.Scan(&l.ID, &l.UserKey, &l.TrackIdentity, &l.Timestamp, &payload, &l.InsertedAt); err != nil {
			return nil, fmt.Errorf("scan listen: %w", err)
		}
		if payload != nil {
			l.Payload = json.RawMessage(payload)
		}
		listens = append(listens, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listens: %w", err)
	}
	return listens, nil
}

var _ ListenStore = (*Postgres)(nil)
