// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/logging"
	"github.com/tomtom215/tracklog/internal/models"
)

// Key layout. Canonical user keys never contain '/', so the partition
// prefix is unambiguous.
//
//	l/<user>/<ts:8 bytes, sign-flipped big endian><id:16 bytes>  -> badgerRecord
//	g/<user>                                                       -> record count
const (
	prefixListen = "l/"
	prefixGuard  = "g/"
)

const (
	badgerMaxConflictRetries = 10
	badgerGCRatio            = 0.5
)

type badgerRecord struct {
	ID            uuid.UUID `json:"id"`
	UserKey       string    `json:"user_key"`
	TrackIdentity string    `json:"track_identity"`
	Timestamp     int64     `json:"ts"`
	Payload       []byte    `json:"payload,omitempty"`
	InsertedAt    time.Time `json:"inserted_at"`
}

// Badger stores listens in an embedded BadgerDB keyed for per-user range scans.
type Badger struct {
	db        *badger.DB
	matcher   fingerprint.Matcher
	opTimeout time.Duration
	locks     partitionLocks
	closed    atomic.Bool
	conflicts atomic.Int64
}

// NewBadger opens (or creates) a Badger store.
func NewBadger(cfg config.BadgerConfig, matcher fingerprint.Matcher, opTimeout time.Duration) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Badger listen store opened")
	return &Badger{db: db, matcher: matcher, opTimeout: opTimeout}, nil
}

func partitionPrefix(userKey string) []byte {
	k := make([]byte, 0, len(prefixListen)+len(userKey)+1)
	k = append(k, prefixListen...)
	k = append(k, userKey...)
	return append(k, '/')
}

func encodeTimestamp(ts int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ts)^(1<<63))
	return b[:]
}

func decodeTimestamp(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

func listenKey(userKey string, ts int64, id uuid.UUID) []byte {
	k := partitionPrefix(userKey)
	k = append(k, encodeTimestamp(ts)...)
	return append(k, id[:]...)
}

func guardKey(userKey string) []byte {
	return append([]byte(prefixGuard), userKey...)
}

// WriteUnique implements ListenStore. Every write reads and rewrites the
// partition's guard key, so two transactions for the same user cannot both
// commit; the loser gets badger.ErrConflict and retries against fresh state.
func (s *Badger) WriteUnique(ctx context.Context, l *models.Listen) (WriteResult, error) {
	if s.closed.Load() {
		return WriteResult{}, unavailable("badger write", ErrClosed)
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
	for attempt := 0; attempt < badgerMaxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return WriteResult{}, err
		}
		var res WriteResult
		err := s.db.Update(func(txn *badger.Txn) error {
			var err error
			res, err = s.writeUniqueTxn(txn, &rec)
			return err
		})
		if err == nil {
			if res.Accepted {
				l.ID, l.InsertedAt = rec.ID, rec.InsertedAt
			}
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		s.conflicts.Add(1)
		logging.Debug().Str("user_key", rec.UserKey).Int("attempt", attempt+1).Msg("Badger write conflict, retrying")
	}
	return WriteResult{}, unavailable("badger write", lastErr)
}

func (s *Badger) writeUniqueTxn(txn *badger.Txn, rec *models.Listen) (WriteResult, error) {
	count, err := readCount(txn, rec.UserKey)
	if err != nil {
		return WriteResult{}, err
	}

	from, to := s.matcher.Window(rec.Timestamp)
	candidates, err := scanPartition(txn, rec.UserKey, from, to, 0)
	if err != nil {
		return WriteResult{}, err
	}
	sameTrack := candidates[:0]
	for _, c := range candidates {
		if c.TrackIdentity == rec.TrackIdentity {
			sameTrack = append(sameTrack, c)
		}
	}
	if existing := closestRecord(s.matcher, rec.Timestamp, sameTrack); existing != nil {
		return WriteResult{Existing: existing}, nil
	}

	val, err := json.Marshal(badgerRecord{
		ID:            rec.ID,
		UserKey:       rec.UserKey,
		TrackIdentity: rec.TrackIdentity,
		Timestamp:     rec.Timestamp,
		Payload:       rec.Payload,
		InsertedAt:    rec.InsertedAt,
	})
	if err != nil {
		return WriteResult{}, fmt.Errorf("marshal listen: %w", err)
	}
	if err := txn.Set(listenKey(rec.UserKey, rec.Timestamp, rec.ID), val); err != nil {
		return WriteResult{}, err
	}
	var cnt [8]byte
	binary.BigEndian.PutUint64(cnt[:], uint64(count+1))
	if err := txn.Set(guardKey(rec.UserKey), cnt[:]); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Accepted: true}, nil
}

func readCount(txn *badger.Txn, userKey string) (int64, error) {
	item, err := txn.Get(guardKey(userKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt guard value for %q", userKey)
		}
		n = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return n, err
}

// scanPartition returns records with from <= ts <= to in ascending order.
// With limit > 0 only the newest limit records are read.
func scanPartition(txn *badger.Txn, userKey string, from, to int64, limit int) ([]models.Listen, error) {
	prefix := partitionPrefix(userKey)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = limit > 0
	it := txn.NewIterator(opts)
	defer it.Close()

	var seek []byte
	if opts.Reverse {
		// Past every key with timestamp == to, whatever its id.
		seek = append(append([]byte{}, prefix...), encodeTimestamp(to)...)
		seek = append(seek, bytes.Repeat([]byte{0xFF}, len(uuid.UUID{})+1)...)
	} else {
		seek = append(append([]byte{}, prefix...), encodeTimestamp(from)...)
	}

	listens := []models.Listen{}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.Key()
		if len(key) < len(prefix)+8 {
			continue
		}
		ts := decodeTimestamp(key[len(prefix) : len(prefix)+8])
		if ts < from || ts > to {
			break
		}
		var r badgerRecord
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
			logging.Warn().Err(err).Str("key", fmt.Sprintf("%x", key)).Msg("Badger failed to unmarshal listen")
			continue
		}
		listens = append(listens, models.Listen{
			ID:            r.ID,
			UserKey:       r.UserKey,
			TrackIdentity: r.TrackIdentity,
			Timestamp:     r.Timestamp,
			Payload:       json.RawMessage(r.Payload),
			InsertedAt:    r.InsertedAt,
		})
		if limit > 0 && len(listens) >= limit {
			break
		}
	}
	if opts.Reverse {
		for i, j := 0, len(listens)-1; i < j; i, j = i+1, j-1 {
			listens[i], listens[j] = listens[j], listens[i]
		}
	}
	return listens, nil
}

// FetchRange implements ListenStore.
func (s *Badger) FetchRange(ctx context.Context, q RangeQuery) ([]models.Listen, error) {
	if s.closed.Load() {
		return nil, unavailable("badger fetch", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.From > q.To {
		return []models.Listen{}, nil
	}
	var listens []models.Listen
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		listens, err = scanPartition(txn, q.UserKey, q.From, q.To, q.Limit)
		return err
	})
	if err != nil {
		return nil, unavailable("badger fetch", err)
	}
	return finishRange(listens, q), nil
}

// CountListens implements ListenStore. The count lives in the guard key.
func (s *Badger) CountListens(ctx context.Context, userKey string) (int64, error) {
	if s.closed.Load() {
		return 0, unavailable("badger count", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = readCount(txn, userKey)
		return err
	})
	if err != nil {
		return 0, unavailable("badger count", err)
	}
	return n, nil
}

// Ping implements ListenStore.
func (s *Badger) Ping(context.Context) error {
	if s.closed.Load() || s.db.IsClosed() {
		return unavailable("badger ping", ErrClosed)
	}
	return nil
}

// Name implements ListenStore.
func (s *Badger) Name() string { return config.StoreBackendBadger }

// Conflicts returns how many write transactions were retried after a conflict.
func (s *Badger) Conflicts() int64 { return s.conflicts.Load() }

// RunGC reclaims value log space until nothing more can be rewritten.
func (s *Badger) RunGC() error {
	if s.closed.Load() {
		return ErrClosed
	}
	for {
		err := s.db.RunValueLogGC(badgerGCRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close implements ListenStore.
func (s *Badger) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

var _ ListenStore = (*Badger)(nil)
