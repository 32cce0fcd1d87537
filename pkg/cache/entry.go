package cache

import (
	"time"
)

// Entry is a cached response body.
type Entry struct {
	// Data is the serialized JSON response body
	Data []byte `json:"data"`

	// CacheControl is the directive the entry was stored with
	CacheControl string `json:"cache_control"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry creates an entry that lives for ttl. shared selects s-maxage
// instead of max-age for the recorded directive.
func NewEntry(data []byte, ttl time.Duration, shared bool) *Entry {
	now := time.Now()
	return &Entry{
		Data:         data,
		CacheControl: CacheControl(ttl, shared),
		Expires:      now.Add(ttl),
		CachedAt:     now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
