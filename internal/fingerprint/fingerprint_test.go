// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package fingerprint

import (
	"math"
	"strings"
	"testing"

	"github.com/tomtom215/tracklog/internal/models"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"testuser1", "testuser1"},
		{"Some.User_name-1", "Some.User_name-1"},
		{"", "~"},
		{"~", "%7E"},
		{"a b", "a%20b"},
		{"%", "%25"},
		{"i have a\\weird\\user, name\"\n", "i%20have%20a%5Cweird%5Cuser%2C%20name%22%0A"},
		{"o'brien", "o%27brien"},
		{"José", "Jos%C3%A9"},
		{"a|b", "a%7Cb"},
	}
	for _, tt := range tests {
		if got := Canonicalize(tt.raw); got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestCanonicalizeRoundTrip(t *testing.T) {
	inputs := []string{
		"", "~", "plain", "i have a\\weird\\user, name\"\n", "%41", "日本語",
		"\x00\xff", "tab\there", "DROP TABLE listens; --",
	}
	seen := make(map[string]string)
	for _, raw := range inputs {
		key := Canonicalize(raw)
		if other, dup := seen[key]; dup {
			t.Fatalf("%q and %q share key %q", raw, other, key)
		}
		seen[key] = raw

		for i := 0; i < len(key); i++ {
			c := key[i]
			if c == '"' || c == '\'' || c == '\\' || c == '\n' || c == ' ' || c > 0x7E {
				t.Errorf("key %q for %q contains unsafe byte %q", key, raw, c)
			}
		}

		back, err := Display(key)
		if err != nil {
			t.Fatalf("Display(%q) error = %v", key, err)
		}
		if back != raw {
			t.Errorf("Display(Canonicalize(%q)) = %q", raw, back)
		}
	}
}

func TestCanonicalizeExhaustiveBytes(t *testing.T) {
	seen := make(map[string]byte, 256)
	for i := 0; i < 256; i++ {
		key := Canonicalize(string([]byte{byte(i)}))
		if prev, dup := seen[key]; dup {
			t.Fatalf("bytes %d and %d collide on %q", prev, i, key)
		}
		seen[key] = byte(i)
	}
}

func TestDisplayRejectsNonCanonical(t *testing.T) {
	for _, key := range []string{"", "%41", "%zz", "%4", "a b", "%7e"} {
		if _, err := Display(key); err == nil {
			t.Errorf("Display(%q) should fail", key)
		}
		if IsCanonical(key) {
			t.Errorf("IsCanonical(%q) = true", key)
		}
	}
}

func TestTrackIdentity(t *testing.T) {
	base := models.TrackMetadata{ArtistName: "Kanye West", TrackName: "Fade", ReleaseName: "The Life of Pablo"}

	a := TrackIdentity(&base)
	b := TrackIdentity(&models.TrackMetadata{ArtistName: "Kanye West", TrackName: "Fade", ReleaseName: "The Life of Pablo"})
	if a != b {
		t.Errorf("identical metadata produced %q and %q", a, b)
	}
	if !strings.HasPrefix(a, prefixMeta) {
		t.Errorf("identity %q should be name based", a)
	}

	shifted := TrackIdentity(&models.TrackMetadata{ArtistName: "Kanye WestF", TrackName: "ade", ReleaseName: "The Life of Pablo"})
	if shifted == a {
		t.Error("field boundaries must be part of the identity")
	}

	withMBID := base
	withMBID.AdditionalInfo = map[string]any{"recording_mbid": "b1a9c0e9-d987-4042-ae91-78d6a3267d69", "recording_msid": "x"}
	if got := TrackIdentity(&withMBID); got != "mbid:b1a9c0e9-d987-4042-ae91-78d6a3267d69" {
		t.Errorf("mbid identity = %q", got)
	}

	withMSID := base
	withMSID.AdditionalInfo = map[string]any{"recording_msid": "6a8a3ba8-bb4e-4a0b-bfb4-5d3f2fa1aa0a"}
	if got := TrackIdentity(&withMSID); got != "msid:6a8a3ba8-bb4e-4a0b-bfb4-5d3f2fa1aa0a" {
		t.Errorf("msid identity = %q", got)
	}

	nonString := base
	nonString.AdditionalInfo = map[string]any{"recording_mbid": 42}
	if got := TrackIdentity(&nonString); got != a {
		t.Errorf("non-string mbid should fall back to metadata, got %q", got)
	}
}

func TestBuildAndKey(t *testing.T) {
	in := models.NewListenInput(1000, models.TrackMetadata{ArtistName: "A", TrackName: "song-X"})
	fp, err := Build("alice", in)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	if fp.Timestamp != 1000 || fp.UserKey != "alice" {
		t.Errorf("unexpected fingerprint %+v", fp)
	}
	if want := "alice|" + fp.TrackIdentity + "|1000"; fp.Key() != want {
		t.Errorf("Key() = %q, want %q", fp.Key(), want)
	}

	other, _ := Build("bob", in)
	if fp.SameTrack(other) {
		t.Error("fingerprints of different users must never match")
	}

	if _, err := Build("alice", models.ListenInput{}); err != ErrIncompleteListen {
		t.Errorf("Build(empty) error = %v, want ErrIncompleteListen", err)
	}
}

func TestMatcher(t *testing.T) {
	m := NewMatcher(DefaultToleranceSeconds)

	tests := []struct {
		a, b int64
		want bool
	}{
		{1000, 1000, true},
		{1000, 1002, true},
		{1000, 1009, true},
		{1009, 1000, true},
		{1000, 1010, true},
		{1000, 1011, false},
		{1000, 989, false},
		{math.MaxInt64, math.MinInt64, false},
	}
	for _, tt := range tests {
		if got := m.Matches(tt.a, tt.b); got != tt.want {
			t.Errorf("Matches(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}

	if !NewMatcher(-5).Matches(7, 7) || NewMatcher(-5).Matches(7, 8) {
		t.Error("negative tolerance should behave as exact match")
	}
}

func TestMatcherWindowClamps(t *testing.T) {
	m := NewMatcher(10)
	if from, to := m.Window(100); from != 90 || to != 110 {
		t.Errorf("Window(100) = [%d, %d]", from, to)
	}
	if _, to := m.Window(math.MaxInt64 - 3); to != math.MaxInt64 {
		t.Errorf("upper bound not clamped: %d", to)
	}
	if from, _ := m.Window(math.MinInt64 + 3); from != math.MinInt64 {
		t.Errorf("lower bound not clamped: %d", from)
	}
}

func TestMatcherClosest(t *testing.T) {
	m := NewMatcher(10)

	if _, ok := m.Closest(1000, nil); ok {
		t.Error("no candidates should not match")
	}
	if _, ok := m.Closest(1000, []int64{980, 1020}); ok {
		t.Error("out of tolerance candidates should not match")
	}
	if got, _ := m.Closest(1000, []int64{992, 1003, 1009}); got != 1003 {
		t.Errorf("Closest = %d, want 1003", got)
	}
	if got, _ := m.Closest(1000, []int64{1004, 996}); got != 996 {
		t.Errorf("tie should prefer earlier timestamp, got %d", got)
	}
}

func TestMatcherBuckets(t *testing.T) {
	m := NewMatcher(10)
	tests := []struct {
		ts   int64
		want int64
	}{
		{0, 0}, {9, 0}, {10, 1}, {-1, -1}, {-10, -1}, {-11, -2},
	}
	for _, tt := range tests {
		if got := m.Bucket(tt.ts); got != tt.want {
			t.Errorf("Bucket(%d) = %d, want %d", tt.ts, got, tt.want)
		}
	}

	// Every matching timestamp lands in one of the probe buckets.
	for ts := int64(-25); ts <= 25; ts++ {
		buckets := m.ProbeBuckets(ts)
		for other := ts - 10; other <= ts+10; other++ {
			b := m.Bucket(other)
			if b != buckets[0] && b != buckets[1] && b != buckets[2] {
				t.Fatalf("match %d of %d in bucket %d outside %v", other, ts, b, buckets)
			}
		}
	}

	if NewMatcher(0).BucketWidth() != 1 {
		t.Error("zero tolerance should use width 1")
	}
}
