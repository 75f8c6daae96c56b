// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/logging"
)

type identityKey struct{}

// TokenAuth resolves "Authorization: Token <token>" to a user identity from
// a static table.
type TokenAuth struct {
	tokens map[string]string
}

// NewTokenAuth builds a resolver from a token -> identity map.
func NewTokenAuth(tokens map[string]string) *TokenAuth {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &TokenAuth{tokens: copied}
}

// Resolve returns the identity owning token.
func (a *TokenAuth) Resolve(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	// Compare every entry so lookup time does not depend on which token matched.
	var identity string
	found := 0
	for t, user := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			identity = user
			found = 1
		}
	}
	return identity, found == 1
}

// Authenticate rejects requests without a known token and stores the
// resolved identity in the request context.
func (a *TokenAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := a.Resolve(tokenFromHeader(r.Header.Get("Authorization")))
		if !ok {
			respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing authorization token", nil, nil)
			return
		}
		logging.Ctx(r.Context()).Debug().Str("user_key", fingerprint.Canonicalize(identity)).Msg("Token resolved")
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}

// IdentityFromContext returns the identity set by Authenticate.
func IdentityFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey{}).(string)
	return id, ok
}

func tokenFromHeader(h string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Token") {
		return ""
	}
	return strings.TrimSpace(token)
}
