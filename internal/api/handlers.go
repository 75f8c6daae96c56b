// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/ingest"
	"github.com/tomtom215/tracklog/internal/logging"
	"github.com/tomtom215/tracklog/internal/models"
	"github.com/tomtom215/tracklog/internal/queue"
	"github.com/tomtom215/tracklog/internal/store"
	"github.com/tomtom215/tracklog/internal/validation"
)

// SubmissionPublisher hands a submission to the queue writer.
type SubmissionPublisher interface {
	PublishSubmission(ctx context.Context, sub *queue.SubmissionMessage) (string, error)
}

// Pinger reports durable store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires a Handler. Publisher is nil in direct ingestion mode.
type Deps struct {
	Submitter    queue.Submitter
	Reader       *ingest.Reader
	Publisher    SubmissionPublisher
	Store        Pinger
	MaxListens   int
	MaxBodyBytes int64
}

// Handler implements the HTTP endpoints.
type Handler struct {
	submitter  queue.Submitter
	reader     *ingest.Reader
	publisher  SubmissionPublisher
	store      Pinger
	maxListens int
	maxBody    int64
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	maxListens := d.MaxListens
	if maxListens <= 0 {
		maxListens = ingest.DefaultMaxListensPerRequest
	}
	maxBody := d.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	return &Handler{
		submitter:  d.Submitter,
		reader:     d.Reader,
		publisher:  d.Publisher,
		store:      d.Store,
		maxListens: maxListens,
		maxBody:    maxBody,
	}
}

// SubmitListens handles POST /1/submit-listens.
func (h *Handler) SubmitListens(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing authorization token", nil, nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), nil, nil)
			return
		}
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body", nil, nil)
		return
	}

	var sub models.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidJSON, "request body is not a valid submission", nil, nil)
		return
	}
	if verr := validation.ValidateStruct(&sub); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil, apiErr.Details)
		return
	}
	if sub.ListenType == models.ListenTypeSingle && len(sub.Payload) != 1 {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "listen_type single requires exactly one listen", nil, nil)
		return
	}
	if len(sub.Payload) > h.maxListens {
		respondError(w, r, http.StatusBadRequest, ErrCodeTooManyListens,
			fmt.Sprintf("at most %d listens per submission", h.maxListens), nil, nil)
		return
	}

	inputs := make([]models.ListenInput, len(sub.Payload))
	for i, raw := range sub.Payload {
		inputs[i], _ = models.DecodeListenInput(raw)
	}

	if h.publisher != nil {
		h.enqueue(w, r, identity, sub.ListenType, inputs, start)
		return
	}

	res, err := h.submitter.Submit(r.Context(), identity, inputs)
	data := submitResponse(res.UserKey, res.Outcomes, false)
	switch {
	case err == nil && res.HasMalformed():
		respondError(w, r, http.StatusBadRequest, ErrCodeMalformedListens, "one or more listens are malformed", data, nil)
	case err == nil:
		respondSuccess(w, r, data, start)
	case errors.Is(err, ingest.ErrTooManyListens):
		respondError(w, r, http.StatusBadRequest, ErrCodeTooManyListens, err.Error(), nil, nil)
	case store.IsUnavailable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Submission cut short")
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeStorageUnavailable,
			"listen storage is unavailable, resubmit the batch later", data, nil)
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Submission failed")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, "submission failed", data, nil)
	}
}

// enqueue validates listens locally and publishes the valid ones.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, identity, listenType string, inputs []models.ListenInput, start time.Time) {
	outcomes := make([]models.Outcome, len(inputs))
	valid := make([]json.RawMessage, 0, len(inputs))
	for i := range inputs {
		outcomes[i] = models.Outcome{Index: i, Status: models.StatusQueued}
		if merr := ingest.CheckListen(i, inputs[i]); merr != nil {
			outcomes[i].Status, outcomes[i].Error = models.StatusMalformed, merr.Error()
			continue
		}
		outcomes[i].Timestamp = *inputs[i].ListenedAt
		valid = append(valid, inputs[i].Raw)
	}

	userKey := fingerprint.Canonicalize(identity)
	if len(valid) > 0 {
		_, err := h.publisher.PublishSubmission(r.Context(), &queue.SubmissionMessage{
			UserIdentity:  identity,
			ListenType:    listenType,
			Listens:       valid,
			CorrelationID: logging.CorrelationIDFromContext(r.Context()),
		})
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Failed to queue submission")
			for i := range outcomes {
				if outcomes[i].Status == models.StatusQueued {
					outcomes[i].Status = models.StatusNotProcessed
				}
			}
			respondError(w, r, http.StatusServiceUnavailable, ErrCodeQueueUnavailable,
				"submission queue is unavailable, resubmit the batch later", submitResponse(userKey, outcomes, false), nil)
			return
		}
	}

	data := submitResponse(userKey, outcomes, len(valid) > 0)
	if len(valid) < len(inputs) {
		respondError(w, r, http.StatusBadRequest, ErrCodeMalformedListens, "one or more listens are malformed", data, nil)
		return
	}
	respondSuccess(w, r, data, start)
}

func submitResponse(userKey string, outcomes []models.Outcome, queued bool) models.SubmitResponse {
	return models.SubmitResponse{
		UserKey:  userKey,
		Summary:  models.Summarize(outcomes),
		Outcomes: outcomes,
		Queued:   queued,
	}
}

// Listens handles GET /1/user/{user}/listens.
func (h *Handler) Listens(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	user := userParam(r)

	q := r.URL.Query()
	var query ingest.ListensQuery
	var err error
	if query.MaxTS, err = optionalInt64(q, "max_ts"); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil, nil)
		return
	}
	if query.MinTS, err = optionalInt64(q, "min_ts"); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil, nil)
		return
	}
	if raw := q.Get("count"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "count must be a non-negative integer", nil, nil)
			return
		}
		query.Count = n
	}

	page, err := h.reader.Listens(r.Context(), user, query)
	if err != nil {
		h.readError(w, r, err)
		return
	}

	views := make([]models.ListenView, len(page.Listens))
	for i := range page.Listens {
		views[i] = listenView(user, &page.Listens[i])
	}
	resp := models.ListensResponse{UserName: user, Count: len(views), Listens: views}
	if len(views) > 0 {
		resp.LatestTS = views[0].ListenedAt
	}
	respondSuccess(w, r, resp, start)
}

// ListenCount handles GET /1/user/{user}/listen-count.
func (h *Handler) ListenCount(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	user := userParam(r)
	_, n, err := h.reader.ListenCount(r.Context(), user)
	if err != nil {
		h.readError(w, r, err)
		return
	}
	respondSuccess(w, r, models.ListenCountResponse{UserName: user, Count: n}, start)
}

func (h *Handler) readError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidRange):
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, ingest.ErrInvalidRange.Error(), nil, nil)
	case store.IsUnavailable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Listen read failed")
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeStorageUnavailable, "listen storage is unavailable", nil, nil)
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Listen read failed")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, "listen read failed", nil, nil)
	}
}

func listenView(user string, l *models.Listen) models.ListenView {
	v := models.ListenView{
		UserName:      user,
		ListenedAt:    l.Timestamp,
		InsertedAt:    l.InsertedAt.Unix(),
		TrackIdentity: l.TrackIdentity,
	}
	if len(l.Payload) > 0 {
		v.Listen = l.Payload
	}
	return v
}

// userParam returns the {user} segment as the raw identity. chi matches on
// the escaped path when it differs from the default encoding, and then
// leaves the segment escaped.
func userParam(r *http.Request) string {
	user := chi.URLParam(r, "user")
	if r.URL.RawPath == "" {
		return user
	}
	if unescaped, err := url.PathUnescape(user); err == nil {
		return unescaped
	}
	return user
}

func optionalInt64(q url.Values, name string) (*int64, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer unix timestamp", name)
	}
	return &v, nil
}
