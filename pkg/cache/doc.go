// Package cache provides the response cache used in front of the result backends.
//
// Entries are keyed by the exact upstream request URL, so the key builder is
// also the URL builder:
//
//	key := cache.Key{
//		BaseURL: "https://backend.example/api/regular/result",
//		RegNo:   "20105123001",
//		Query:   cache.Query{Year: "2024", Semester: "III", ExamHeld: "May/2025"},
//	}
//	target := key.String()
//
// # Stores
//
// Two Store implementations are provided:
//
//   - RedisStore: shared across instances, TTL enforced by Redis
//   - MemoryStore: single process, expired entries dropped on read
//
// Both return ErrCacheMiss for absent or expired entries.
//
//	entry := cache.NewEntry(body, 96*time.Hour, false)
//	if err := store.Set(ctx, key.String(), entry); err != nil {
//		return err
//	}
//
// # TTL
//
// An entry's lifetime is declared as a Cache-Control directive
// ("public, max-age=N" or "public, s-maxage=N") recorded on the entry and
// sent to clients with the cached body.
//
// # Metrics
//
//   - resulta_cache_hits_total{store}
//   - resulta_cache_misses_total{store}
//   - resulta_cache_errors_total{operation}
//   - resulta_cache_written_bytes_total{store}
package cache
