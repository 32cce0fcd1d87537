package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/singleflight"

	"github.com/resulta/resulta-proxy/pkg/bgtask"
	"github.com/resulta/resulta-proxy/pkg/cache"
	"github.com/resulta/resulta-proxy/pkg/upstream"
)

// MethodPurge invalidates the cached exam list.
const MethodPurge = "PURGE"

// PurgeSecretHeader carries the purge secret.
const PurgeSecretHeader = "X-PURGE-SECRET"

// DefaultExamListTTL applies when no TTL is configured.
const DefaultExamListTTL = time.Hour

// CORS for the exam list admits purges from the browser.
const (
	examListMethods = "GET, PURGE, OPTIONS"
	examListHeaders = "Content-Type, " + PurgeSecretHeader
)

var examListPurgesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "resulta_exam_list_purges_total",
	Help: "Total exam list purge requests by result",
}, []string{"result"})

// ExamList proxies and caches the upstream exam list.
type ExamList struct {
	fetcher JSONFetcher
	store   cache.Store
	tasks   *bgtask.Group
	url     string
	ttl     time.Duration
	secret  string
	flight  singleflight.Group
}

// NewExamList creates the exam list proxy. An empty secret rejects every purge.
func NewExamList(fetcher JSONFetcher, store cache.Store, tasks *bgtask.Group, url string, ttl time.Duration, secret string) *ExamList {
	if ttl <= 0 {
		ttl = DefaultExamListTTL
	}
	return &ExamList{
		fetcher: fetcher,
		store:   store,
		tasks:   tasks,
		url:     url,
		ttl:     ttl,
		secret:  secret,
	}
}

// ServeHTTP implements http.Handler.
func (e *ExamList) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", examListMethods)
	w.Header().Set("Access-Control-Allow-Headers", examListHeaders)

	switch r.Method {
	case http.MethodGet:
		e.serveList(w, r)
	case MethodPurge:
		e.purge(w, r)
	default:
		rejectMethod(w, r, examListMethods)
	}
}

func (e *ExamList) serveList(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)
	ctx := r.Context()

	entry, err := e.store.Get(ctx, e.url)
	if err == nil {
		logger.Debug().Dur("ttl", entry.TTL()).Msg("Exam list cache hit")
		w.Header().Set("X-Cache-Status", "HIT")
		w.Header().Set("Cache-Control", hitCacheControl(entry))
		writeRaw(w, http.StatusOK, entry.Data)
		return
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		// Serve from upstream while the store is unavailable.
		logger.Error().Err(err).Msg("Exam list cache lookup failed")
	}

	v, err, _ := e.flight.Do(e.url, func() (any, error) {
		return e.fetcher.GetJSON(context.WithoutCancel(ctx), e.url)
	})
	if err != nil {
		status := http.StatusBadGateway
		var upErr *upstream.UpstreamError
		if errors.As(err, &upErr) && upErr.StatusCode != 0 {
			status = upErr.StatusCode
		}
		logger.Warn().Err(err).Int("status", status).Msg("Exam list fetch failed")
		writeJSON(w, r, status, errorBody{Error: "Failed to fetch from exam list API"})
		return
	}
	data := v.([]byte)

	entry = cache.NewEntry(data, e.ttl, true)
	e.tasks.Go(ctx, "cache_exam_list", func(ctx context.Context) error {
		return e.store.Set(ctx, e.url, entry)
	})

	w.Header().Set("X-Cache-Status", "MISS")
	w.Header().Set("Cache-Control", entry.CacheControl)
	writeRaw(w, http.StatusOK, data)
}

func (e *ExamList) purge(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	given := r.Header.Get(PurgeSecretHeader)
	if e.secret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(e.secret)) != 1 {
		examListPurgesTotal.WithLabelValues("unauthorized").Inc()
		logger.Warn().Bool("secret_configured", e.secret != "").Msg("Rejected exam list purge")
		writeJSON(w, r, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
		return
	}

	if err := e.store.Delete(r.Context(), e.url); err != nil {
		examListPurgesTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("Exam list purge failed")
		writeJSON(w, r, http.StatusInternalServerError, errorBody{Error: "Purge failed"})
		return
	}

	examListPurgesTotal.WithLabelValues("purged").Inc()
	logger.Info().Msg("Exam list purged")
	writeJSON(w, r, http.StatusOK, struct {
		Purged bool `json:"purged"`
	}{Purged: true})
}

// hitCacheControl caps the stored directive at the entry's remaining
// lifetime, so edge caches never outlive the stored copy.
func hitCacheControl(entry *cache.Entry) string {
	stored, ok := cache.ParseMaxAge(entry.CacheControl)
	if !ok {
		return entry.CacheControl
	}
	remaining := (entry.TTL() + time.Second - 1).Truncate(time.Second)
	if remaining >= stored {
		return entry.CacheControl
	}
	return cache.CacheControl(remaining, true)
}
