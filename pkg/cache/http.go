package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CacheControl renders a public Cache-Control directive for ttl.
// shared selects s-maxage (edge caches only) instead of max-age.
func CacheControl(ttl time.Duration, shared bool) string {
	directive := "max-age"
	if shared {
		directive = "s-maxage"
	}
	return fmt.Sprintf("public, %s=%d", directive, int64(ttl/time.Second))
}

// ParseMaxAge reads the lifetime from a Cache-Control header. s-maxage wins
// over max-age. The second return value reports whether either was present
// with a valid value.
func ParseMaxAge(header string) (time.Duration, bool) {
	var maxAge, sMaxAge time.Duration
	var hasMaxAge, hasSMaxAge bool

	for _, part := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		seconds, err := strconv.ParseInt(strings.Trim(strings.TrimSpace(value), `"`), 10, 64)
		if err != nil || seconds < 0 {
			continue
		}

		switch strings.ToLower(strings.TrimSpace(name)) {
		case "s-maxage":
			sMaxAge, hasSMaxAge = time.Duration(seconds)*time.Second, true
		case "max-age":
			maxAge, hasMaxAge = time.Duration(seconds)*time.Second, true
		}
	}

	switch {
	case hasSMaxAge:
		return sMaxAge, true
	case hasMaxAge:
		return maxAge, true
	default:
		return 0, false
	}
}
