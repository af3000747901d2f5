// Package filename implements Kira's collision-free receipt filename
// allocation policy: given a date and the union of locally and remotely
// known filenames for that date, produce the next "YYYY-MM-DD_N.ext" name.
package filename

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidDate is returned when the supplied date does not match
// YYYY-MM-DD.
var ErrInvalidDate = errors.New("filename: invalid date")

// ErrAllocatorInvariant guards against the allocator ever returning a name
// that fails its own validation — a programmer-error class, never expected
// in practice.
var ErrAllocatorInvariant = errors.New("filename: allocator produced an invalid name")

var dateRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Pattern is the canonical receipt filename pattern: a date prefix, an
// underscore, a positive integer suffix with no leading zero, and an
// extension. "_0" is never valid.
var Pattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})_([1-9]\d*)\.([A-Za-z0-9]+)$`)

// DefaultExt is the extension used for newly allocated receipt filenames.
const DefaultExt = "jpg"

// Valid reports whether name exactly matches the receipt filename pattern.
func Valid(name string) bool {
	return Pattern.MatchString(name)
}

// ParseSuffix extracts the date prefix and integer suffix from a filename
// matching Pattern. ok is false if name does not match.
func ParseSuffix(name string) (date string, suffix int, ok bool) {
	m := Pattern.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}

	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}

	return m[1], n, true
}

// Allocate returns the next collision-free filename for date, given the
// local and remote listings of filenames observed for that date's folder.
// Gaps in existing suffixes are never filled: the result is always
// 1 + the maximum suffix present across both listings for that date, or 1
// if none exist. Deterministic given the same snapshot; callers issuing
// concurrent allocations against a stale snapshot must treat the result as
// potentially colliding (see sync engine's pre-upload existence check).
func Allocate(date string, local, remote []string) (string, error) {
	if !dateRE.MatchString(date) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	maxSuffix := 0

	for _, name := range local {
		if d, n, ok := ParseSuffix(name); ok && d == date && n > maxSuffix {
			maxSuffix = n
		}
	}

	for _, name := range remote {
		if d, n, ok := ParseSuffix(name); ok && d == date && n > maxSuffix {
			maxSuffix = n
		}
	}

	candidate := fmt.Sprintf("%s_%d.%s", date, maxSuffix+1, DefaultExt)

	if !Valid(candidate) {
		return "", fmt.Errorf("%w: %q", ErrAllocatorInvariant, candidate)
	}

	return candidate, nil
}
