// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

/*
Package ingest runs submitted listens through the deduplication layers and
serves per-user listen history.

For one Submit call the layers are consulted in order, and the first one that
recognizes a listen decides it:

 1. the in-call accepted set (duplicates inside the same batch)
 2. the recent-write cache (a hit is proof, a miss proves nothing)
 3. the durable store's atomic conditional insert

Malformed listens are reported and skipped. A storage outage or a canceled
context stops the batch: listens already accepted stay written, the rest are
reported as not processed, and resubmitting the whole batch is safe.
*/
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/tracklog/internal/cache"
	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/logging"
	"github.com/tomtom215/tracklog/internal/metrics"
	"github.com/tomtom215/tracklog/internal/models"
	"github.com/tomtom215/tracklog/internal/store"
	"github.com/tomtom215/tracklog/internal/validation"
)

// DefaultMaxListensPerRequest bounds one submission when no limit is configured.
const DefaultMaxListensPerRequest = 1000

// Pipeline is the ingestion pipeline. It is safe for concurrent use.
type Pipeline struct {
	store      store.ListenStore
	cache      cache.RecentWrites
	matcher    fingerprint.Matcher
	maxListens int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxListens sets the per-submission listen limit. Zero or less disables it.
func WithMaxListens(n int) Option {
	return func(p *Pipeline) { p.maxListens = n }
}

// NewPipeline builds a pipeline. A nil cache behaves like cache.Disabled.
func NewPipeline(s store.ListenStore, c cache.RecentWrites, m fingerprint.Matcher, opts ...Option) *Pipeline {
	if c == nil {
		c = cache.Disabled{}
	}
	p := &Pipeline{store: s, cache: c, matcher: m, maxListens: DefaultMaxListensPerRequest}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is the per-listen report of one Submit call.
type Result struct {
	UserKey  string
	Outcomes []models.Outcome
}

// Summary counts outcomes by status.
func (r Result) Summary() models.SubmitSummary {
	return models.Summarize(r.Outcomes)
}

// HasMalformed reports whether any listen was rejected as malformed.
func (r Result) HasMalformed() bool {
	return r.Summary().Malformed > 0
}

// acceptedSet is the in-call set of accepted timestamps per track.
type acceptedSet map[string][]int64

// Submit deduplicates and stores listens for one user, in submission order.
// The returned Result always has one outcome per input listen. A non-nil
// error means the batch was cut short; see the package documentation.
func (p *Pipeline) Submit(ctx context.Context, rawIdentity string, listens []models.ListenInput) (Result, error) {
	start := time.Now()
	userKey := fingerprint.Canonicalize(rawIdentity)
	res := Result{UserKey: userKey, Outcomes: make([]models.Outcome, len(listens))}
	for i := range res.Outcomes {
		res.Outcomes[i] = models.Outcome{Index: i, Status: models.StatusNotProcessed}
	}

	if p.maxListens > 0 && len(listens) > p.maxListens {
		return res, fmt.Errorf("%w: %d > %d", ErrTooManyListens, len(listens), p.maxListens)
	}

	log := logging.Ctx(ctx).With().Str("user_key", userKey).Int("batch_size", len(listens)).Logger()
	accepted := make(acceptedSet)

	for i := range listens {
		if err := ctx.Err(); err != nil {
			p.finish(res, "canceled", start)
			return res, fmt.Errorf("submit canceled at listen %d: %w", i, err)
		}
		if err := p.processOne(ctx, userKey, i, listens[i], accepted, &res.Outcomes[i]); err != nil {
			result := "unavailable"
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				result = "canceled"
			}
			p.finish(res, result, start)
			log.Warn().Err(err).Int("index", i).Int("accepted", res.Summary().Accepted).
				Msg("Submission stopped; remaining listens not processed")
			return res, fmt.Errorf("submit stopped at listen %d: %w", i, err)
		}
	}

	result := "ok"
	if res.HasMalformed() {
		result = "partial"
	}
	p.finish(res, result, start)

	sum := res.Summary()
	log.Debug().
		Int("accepted", sum.Accepted).
		Int("duplicate", sum.Duplicate).
		Int("malformed", sum.Malformed).
		Dur("duration", time.Since(start)).
		Msg("Submission processed")
	return res, nil
}

// processOne decides one listen and fills out. It returns an error only when
// the batch must stop; out then stays not_processed.
func (p *Pipeline) processOne(ctx context.Context, userKey string, index int, in models.ListenInput, accepted acceptedSet, out *models.Outcome) error {
	if merr := CheckListen(index, in); merr != nil {
		out.Status = models.StatusMalformed
		out.Error = merr.Error()
		return nil
	}
	fp, err := fingerprint.Build(userKey, in)
	if err != nil {
		out.Status = models.StatusMalformed
		out.Error = (&MalformedListenError{Index: index, Reason: err.Error()}).Error()
		return nil
	}
	out.TrackIdentity = fp.TrackIdentity
	out.Timestamp = fp.Timestamp

	// Layer 1: earlier listens of this call.
	if ts, ok := p.matcher.Closest(fp.Timestamp, accepted[fp.TrackIdentity]); ok {
		out.Status, out.Layer, out.MatchedTimestamp = models.StatusDuplicate, models.LayerBatch, &ts
		return nil
	}

	// Layer 2: recent-write cache. Errors degrade to a miss.
	hit, err := p.cache.Probe(ctx, fp)
	metrics.RecordCacheProbe(p.cache.Name(), hit, err)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("cache", p.cache.Name()).Msg("Cache probe failed, falling back to store")
	} else if hit {
		out.Status, out.Layer = models.StatusDuplicate, models.LayerCache
		return nil
	}

	// Layer 3: atomic conditional insert.
	rec := &models.Listen{
		UserKey:       fp.UserKey,
		TrackIdentity: fp.TrackIdentity,
		Timestamp:     fp.Timestamp,
		Payload:       in.Raw,
	}
	wr, err := p.store.WriteUnique(ctx, rec)
	if err != nil {
		return err
	}
	if !wr.Accepted {
		out.Status, out.Layer = models.StatusDuplicate, models.LayerStore
		if wr.Existing != nil {
			ts := wr.Existing.Timestamp
			out.MatchedTimestamp = &ts
		}
		return nil
	}

	out.Status = models.StatusAccepted
	accepted[fp.TrackIdentity] = append(accepted[fp.TrackIdentity], fp.Timestamp)
	err = p.cache.Register(ctx, fp)
	metrics.RecordCacheRegistration(p.cache.Name(), err)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("cache", p.cache.Name()).Msg("Cache registration failed")
	}
	return nil
}

// CheckListen validates one decoded listen. A nil result means it can be
// fingerprinted.
func CheckListen(index int, in models.ListenInput) *MalformedListenError {
	if verr := validation.ValidateStruct(&in); verr != nil {
		return &MalformedListenError{Index: index, Field: verr.FirstField(), Reason: verr.Error()}
	}
	return nil
}

func (p *Pipeline) finish(res Result, result string, start time.Time) {
	for i := range res.Outcomes {
		metrics.RecordListen(string(res.Outcomes[i].Status), string(res.Outcomes[i].Layer))
	}
	metrics.RecordSubmission(result, len(res.Outcomes), time.Since(start))
}
