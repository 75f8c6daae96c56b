// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

// Package fingerprint decides when two listens are the same event.
//
// It owns three pure pieces of the write path:
//
//   - Canonicalize turns a raw user identity into a partition key.
//   - Build derives the (user, track, timestamp) fingerprint of a listen.
//   - Matcher applies the timestamp fuzz tolerance.
//
// Nothing here does I/O.
package fingerprint

import (
	"errors"
	"strings"
)

// emptyIdentityKey is the key of the empty identity. '~' is always escaped
// by Canonicalize, so no other identity can produce it.
const emptyIdentityKey = "~"

const upperHex = "0123456789ABCDEF"

// ErrInvalidKey is returned by Display for strings Canonicalize never produces.
var ErrInvalidKey = errors.New("not a canonical user key")

// Canonicalize maps a raw user identity to its partition key.
//
// Bytes in [A-Za-z0-9._-] are kept; every other byte (quotes, backslashes,
// newlines, separators, UTF-8 continuation bytes) becomes %XX. The mapping is
// total and injective and its output is safe inside storage keys, SQL string
// literals and log lines.
func Canonicalize(raw string) string {
	if raw == "" {
		return emptyIdentityKey
	}

	n := 0
	for i := 0; i < len(raw); i++ {
		if !isSafe(raw[i]) {
			n++
		}
	}
	if n == 0 {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw) + 2*n)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if isSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0F])
	}
	return b.String()
}

// Display reverses Canonicalize. It is used to show user names in responses
// and never to build keys.
func Display(key string) (string, error) {
	if key == emptyIdentityKey {
		return "", nil
	}
	if key == "" {
		return "", ErrInvalidKey
	}

	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case isSafe(c):
			b.WriteByte(c)
		case c == '%' && i+2 < len(key):
			hi, ok1 := unhex(key[i+1])
			lo, ok2 := unhex(key[i+2])
			if !ok1 || !ok2 {
				return "", ErrInvalidKey
			}
			decoded := hi<<4 | lo
			// A safe byte is never escaped; accepting one would break injectivity.
			if isSafe(decoded) {
				return "", ErrInvalidKey
			}
			b.WriteByte(decoded)
			i += 2
		default:
			return "", ErrInvalidKey
		}
	}
	return b.String(), nil
}

// IsCanonical reports whether key is a value Canonicalize can return.
func IsCanonical(key string) bool {
	_, err := Display(key)
	return err == nil
}

func isSafe(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '.' || c == '_' || c == '-'
}

// unhex accepts upper-case digits only, matching what Canonicalize emits.
func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
