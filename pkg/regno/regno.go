// Package regno handles 11-digit registration numbers.
//
// A registration number is laid out as:
//
//	LL MMMMMM SSS
//	|  |      └── sequence suffix (>= 900 means late entry)
//	|  └───────── body, shared by both encodings of a cohort slot
//	└──────────── lead, differs by exactly 1 between regular and LE encodings
//
// The regular and LE 8-digit prefixes of the same cohort are mutually derivable.
package regno

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

const (
	// Length is the number of digits in a registration number.
	Length = 11

	// PrefixLength is the number of digits preceding the sequence suffix.
	PrefixLength = 8

	// LEThreshold is the first sequence suffix of the late-entry category.
	LEThreshold = 900

	// FirstRegular and FirstLE are the first suffixes issued in each category.
	FirstRegular = 1
	FirstLE      = 901
)

// ErrPrefixOutOfRange is returned when the counterpart lead would leave 00..99.
var ErrPrefixOutOfRange = errors.New("counterpart prefix out of range")

var pattern = regexp.MustCompile(`^\d{11}$`)

// Prefixes holds both 8-digit encodings of a registration number's cohort.
type Prefixes struct {
	Regular string
	LE      string
}

// Valid reports whether s is exactly 11 ASCII digits.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// Suffix returns the numeric value of the last three digits.
// s must be Valid.
func Suffix(s string) int {
	n, _ := strconv.Atoi(s[PrefixLength:])
	return n
}

// Prefix returns the first eight digits.
func Prefix(s string) string {
	return s[:PrefixLength]
}

// IsLE reports whether s belongs to the late-entry category.
func IsLE(s string) bool {
	return Suffix(s) >= LEThreshold
}

// CalculatePrefixes derives the regular and LE prefixes from any valid
// registration number. It fails when either prefix is out of range.
func CalculatePrefixes(s string) (Prefixes, error) {
	regular, err := PrefixFor(s, false)
	if err != nil {
		return Prefixes{}, err
	}
	le, err := PrefixFor(s, true)
	if err != nil {
		return Prefixes{}, err
	}
	return Prefixes{Regular: regular, LE: le}, nil
}

// PrefixFor returns the 8-digit prefix of s in the requested category. Only
// the counterpart of s's own category can be out of range.
func PrefixFor(s string, le bool) (string, error) {
	if !Valid(s) {
		return "", fmt.Errorf("invalid registration number %q", s)
	}
	if IsLE(s) == le {
		return Prefix(s), nil
	}

	lead, _ := strconv.Atoi(s[:2])
	body := s[2:PrefixLength]

	if le {
		if lead == 99 {
			return "", fmt.Errorf("%w: LE lead of %s", ErrPrefixOutOfRange, s)
		}
		return fmt.Sprintf("%02d%s", lead+1, body), nil
	}
	if lead == 0 {
		return "", fmt.Errorf("%w: regular lead of %s", ErrPrefixOutOfRange, s)
	}
	return fmt.Sprintf("%02d%s", lead-1, body), nil
}

// WithSuffix appends n as a zero-padded 3-digit suffix to prefix.
func WithSuffix(prefix string, n int) string {
	return fmt.Sprintf("%s%03d", prefix, n)
}

// BatchNumbers returns the step sequential registration numbers starting at start.
func BatchNumbers(start string, step int) []string {
	prefix := Prefix(start)
	base := Suffix(start)

	out := make([]string, step)
	for i := range out {
		out[i] = WithSuffix(prefix, base+i)
	}
	return out
}

// UserBatchStart returns the first registration number of the batch that
// contains s, aligned to the category's first suffix.
func UserBatchStart(s string, step int) string {
	first := FirstRegular
	if IsLE(s) {
		first = FirstLE
	}

	start := floorDiv(Suffix(s)-first, step)*step + first
	if start < first {
		start = first
	}
	return WithSuffix(Prefix(s), start)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
