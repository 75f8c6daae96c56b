// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package fingerprint

import "math"

// DefaultToleranceSeconds covers the 9 second drift observed on re-imported
// histories with one second of headroom.
const DefaultToleranceSeconds int64 = 10

// Matcher applies the fuzz tolerance. The zero value matches exact
// timestamps only.
type Matcher struct {
	Tolerance int64
}

// NewMatcher returns a Matcher. Negative tolerances are treated as zero.
func NewMatcher(toleranceSeconds int64) Matcher {
	if toleranceSeconds < 0 {
		toleranceSeconds = 0
	}
	return Matcher{Tolerance: toleranceSeconds}
}

// Matches reports whether |existing - candidate| <= Tolerance.
func (m Matcher) Matches(existing, candidate int64) bool {
	return absDiff(existing, candidate) <= uint64(m.Tolerance)
}

// Window returns the inclusive timestamp range matching ts, clamped to the
// int64 range.
func (m Matcher) Window(ts int64) (from, to int64) {
	from, to = ts-m.Tolerance, ts+m.Tolerance
	if from > ts {
		from = math.MinInt64
	}
	if to < ts {
		to = math.MaxInt64
	}
	return from, to
}

// Closest returns the existing timestamp nearest to candidate among those
// within tolerance. Equal distances resolve to the earlier timestamp.
func (m Matcher) Closest(candidate int64, existing []int64) (int64, bool) {
	var (
		best     int64
		bestDist uint64
		found    bool
	)
	for _, ts := range existing {
		d := absDiff(ts, candidate)
		if d > uint64(m.Tolerance) {
			continue
		}
		if !found || d < bestDist || (d == bestDist && ts < best) {
			best, bestDist, found = ts, d, true
		}
	}
	return best, found
}

// BucketWidth is the width of the buckets used by exact-key indexes.
func (m Matcher) BucketWidth() int64 {
	if m.Tolerance < 1 {
		return 1
	}
	return m.Tolerance
}

// Bucket returns floor(ts / BucketWidth()).
func (m Matcher) Bucket(ts int64) int64 {
	w := m.BucketWidth()
	b := ts / w
	if ts%w != 0 && ts < 0 {
		b--
	}
	return b
}

// ProbeBuckets returns the buckets that can hold a timestamp matching ts.
// With width >= tolerance any match lies in the bucket of ts or an adjacent one.
func (m Matcher) ProbeBuckets(ts int64) [3]int64 {
	b := m.Bucket(ts)
	return [3]int64{b - 1, b, b + 1}
}

func absDiff(a, b int64) uint64 {
	if a > b {
		return uint64(a) - uint64(b)
	}
	return uint64(b) - uint64(a)
}
