// Package orchestrator serves result batches from the cache, falling back to
// the upstream backend on a miss. Only fully successful batches are cached.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/resulta/resulta-proxy/pkg/bgtask"
	"github.com/resulta/resulta-proxy/pkg/cache"
	"github.com/resulta/resulta-proxy/pkg/logging"
	"github.com/resulta/resulta-proxy/pkg/result"
)

// DefaultTTL is how long a good batch stays cached.
const DefaultTTL = 4 * 24 * time.Hour

// Batch outcomes.
const (
	OutcomeHit           = "hit"
	OutcomeGood          = "good"
	OutcomeBad           = "bad"
	OutcomeInvalid       = "invalid"
	OutcomeInternalError = "internal_error"
)

// InvalidBatchReason is attached when the fetcher produced no batch at all.
const InvalidBatchReason = "Worker Error: Invalid batch format received"

var batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "resulta_batches_total",
	Help: "Total batches served by outcome",
}, []string{"outcome"})

// BatchFetcher fetches one batch from a backend. It reports failures as error
// records and returns nil only when no batch could be formed.
type BatchFetcher interface {
	FetchBatch(ctx context.Context, key cache.Key) result.Batch
}

// Orchestrator combines a cache store with an upstream fetcher.
type Orchestrator struct {
	store   cache.Store
	fetcher BatchFetcher
	tasks   *bgtask.Group
	ttl     time.Duration
	logger  zerolog.Logger
	flight  singleflight.Group
}

// New creates an orchestrator. Cache writes are scheduled on tasks.
func New(store cache.Store, fetcher BatchFetcher, tasks *bgtask.Group, ttl time.Duration) *Orchestrator {
	if store == nil {
		panic("orchestrator: store cannot be nil")
	}
	if fetcher == nil {
		panic("orchestrator: fetcher cannot be nil")
	}
	if tasks == nil {
		tasks = bgtask.New(bgtask.DefaultTimeout)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Orchestrator{
		store:   store,
		fetcher: fetcher,
		tasks:   tasks,
		ttl:     ttl,
		logger:  logging.NewLogger("orchestrator"),
	}
}

// GetCachedOrFetchBatch returns the batch for key. It never panics and never
// returns nil: every failure becomes a single error record.
func (o *Orchestrator) GetCachedOrFetchBatch(ctx context.Context, key cache.Key) (batch result.Batch) {
	cacheKey := key.String()
	logger := o.logger.With().Str("reg_no", key.RegNo).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("key", cacheKey).Msg("Recovered panic in batch orchestration")
			batch = o.internalError(key, fmt.Errorf("%v", r))
		}
	}()

	entry, err := o.store.Get(ctx, cacheKey)
	switch {
	case err == nil:
		var cached result.Batch
		if err := json.Unmarshal(entry.Data, &cached); err != nil {
			logger.Error().Err(err).Str("key", cacheKey).Msg("Cached batch is undecodable")
			return o.internalError(key, fmt.Errorf("decode cached batch: %w", err))
		}
		batchesTotal.WithLabelValues(OutcomeHit).Inc()
		logger.Debug().Int("records", len(cached)).Dur("ttl", entry.TTL()).Msg("Batch cache hit")
		return cached
	case !errors.Is(err, cache.ErrCacheMiss):
		logger.Error().Err(err).Str("key", cacheKey).Msg("Cache lookup failed")
		return o.internalError(key, err)
	}

	logger.Debug().Msg("Batch cache miss")

	v, _, shared := o.flight.Do(cacheKey, func() (v any, _ error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Str("key", cacheKey).Msg("Recovered panic in batch fetch")
				v = o.internalError(key, fmt.Errorf("%v", r))
			}
		}()
		return o.fetch(context.WithoutCancel(ctx), key, cacheKey, logger), nil
	})
	fetched := v.(result.Batch)
	if shared {
		logger.Debug().Msg("Joined in-flight batch fetch")
	}

	// Callers may reorder the slice; singleflight hands every waiter the same one.
	return append(result.Batch(nil), fetched...)
}

func (o *Orchestrator) fetch(ctx context.Context, key cache.Key, cacheKey string, logger zerolog.Logger) result.Batch {
	batch := o.fetcher.FetchBatch(ctx, key)

	if batch == nil {
		batchesTotal.WithLabelValues(OutcomeInvalid).Inc()
		logger.Warn().Msg("Fetcher returned no batch")
		return result.Batch{result.ErrorRecord(key.RegNo, InvalidBatchReason)}
	}

	if batch.IsBad() {
		batchesTotal.WithLabelValues(OutcomeBad).Inc()
		logger.Warn().Int("records", len(batch)).Msg("Bad batch not cached")
		return batch
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return o.internalError(key, fmt.Errorf("encode batch: %w", err))
	}

	batchesTotal.WithLabelValues(OutcomeGood).Inc()
	entry := cache.NewEntry(data, o.ttl, false)
	o.tasks.Go(ctx, "cache_batch", func(ctx context.Context) error {
		if err := o.store.Set(ctx, cacheKey, entry); err != nil {
			return fmt.Errorf("cache batch %s: %w", key.RegNo, err)
		}
		return nil
	})

	return batch
}

func (o *Orchestrator) internalError(key cache.Key, err error) result.Batch {
	batchesTotal.WithLabelValues(OutcomeInternalError).Inc()
	regNo := key.RegNo
	if regNo == "" {
		regNo = result.UnknownRegNo
	}
	return result.Batch{result.ErrorRecord(regNo, "Worker Internal Error: "+err.Error())}
}
