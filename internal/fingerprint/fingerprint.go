// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package fingerprint

import (
	"encoding/binary"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tomtom215/tracklog/internal/models"
)

// Track identity prefixes.
const (
	prefixMBID = "mbid:"
	prefixMSID = "msid:"
	prefixMeta = "meta:"
)

// trackNamespace scopes name-based track UUIDs.
var trackNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/tomtom215/tracklog/track"))

// ErrIncompleteListen is returned by Build when the timestamp or track
// metadata is missing. Callers validate first; this guards direct use.
var ErrIncompleteListen = errors.New("listen has no timestamp or track metadata")

// Fingerprint identifies a listen for deduplication. Two fingerprints with
// equal UserKey and TrackIdentity whose timestamps satisfy a Matcher are the
// same event. Fingerprints of different users never match.
type Fingerprint struct {
	UserKey       string
	TrackIdentity string
	Timestamp     int64
}

// Key renders the fingerprint as "user_key|track_identity|timestamp".
// Neither component can contain '|' (user keys are escaped, track identities
// are prefixed ids or UUIDs), so the rendering is unambiguous.
func (f Fingerprint) Key() string {
	var b strings.Builder
	b.Grow(len(f.UserKey) + len(f.TrackIdentity) + 22)
	b.WriteString(f.UserKey)
	b.WriteByte('|')
	b.WriteString(f.TrackIdentity)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(f.Timestamp, 10))
	return b.String()
}

// SameTrack reports whether f and o belong to the same user and track.
func (f Fingerprint) SameTrack(o Fingerprint) bool {
	return f.UserKey == o.UserKey && f.TrackIdentity == o.TrackIdentity
}

// Build derives the fingerprint of a listen for an already canonical user key.
func Build(userKey string, in models.ListenInput) (Fingerprint, error) {
	if in.ListenedAt == nil || in.TrackMetadata == nil {
		return Fingerprint{}, ErrIncompleteListen
	}
	return Fingerprint{
		UserKey:       userKey,
		TrackIdentity: TrackIdentity(in.TrackMetadata),
		Timestamp:     *in.ListenedAt,
	}, nil
}

// TrackIdentity derives a stable track key from metadata, preferring the
// MusicBrainz recording id, then the MessyBrainz id, then a name-based UUID
// over artist, track and release names. Values are used exactly as
// submitted, so identical payloads always yield identical identities.
func TrackIdentity(m *models.TrackMetadata) string {
	if id := m.StringInfo("recording_mbid"); id != "" {
		return prefixMBID + Canonicalize(id)
	}
	if id := m.StringInfo("recording_msid"); id != "" {
		return prefixMSID + Canonicalize(id)
	}
	return prefixMeta + uuid.NewSHA1(trackNamespace, metadataName(m)).String()
}

// metadataName length-prefixes each field so ("ab","c") and ("a","bc") differ.
func metadataName(m *models.TrackMetadata) []byte {
	fields := [...]string{m.ArtistName, m.TrackName, m.ReleaseName}
	size := 0
	for _, f := range fields {
		size += binary.MaxVarintLen64 + len(f)
	}
	buf := make([]byte, 0, size)
	for _, f := range fields {
		buf = binary.AppendUvarint(buf, uint64(len(f)))
		buf = append(buf, f...)
	}
	return buf
}
