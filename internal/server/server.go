// Package server wires the result workers, the exam list proxy and the
// operational endpoints into one HTTP handler.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/resulta/resulta-proxy/pkg/bgtask"
	"github.com/resulta/resulta-proxy/pkg/cache"
	"github.com/resulta/resulta-proxy/pkg/logging"
	"github.com/resulta/resulta-proxy/pkg/metrics"
	"github.com/resulta/resulta-proxy/pkg/result"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resulta_http_requests_total",
		Help: "Total HTTP requests by route, method and status code",
	}, []string{"route", "method", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resulta_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by route",
		Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 15, 35, 60, 120},
	}, []string{"route", "method", "code"})
)

// readyTimeout bounds the store ping behind /ready.
const readyTimeout = 2 * time.Second

// BatchSource returns the batch for a key. Implementations report failures
// as error records and do not panic.
type BatchSource interface {
	GetCachedOrFetchBatch(ctx context.Context, key cache.Key) result.Batch
}

// JSONFetcher fetches a JSON document.
type JSONFetcher interface {
	GetJSON(ctx context.Context, target string) ([]byte, error)
}

// Config holds the routing and upstream settings of the server.
type Config struct {
	RegularBackendURL string
	LEBackendURL      string

	// BatchStep is the number of registration numbers per backend batch.
	BatchStep int

	// FetchConcurrency is how many batches a range worker fetches at once.
	FetchConcurrency int

	// RangeWorkers defaults to DefaultRangeWorkers.
	RangeWorkers []RangeWorker

	ExamListURL string
	ExamListTTL time.Duration
	PurgeSecret string
}

// Server serves all routes.
type Server struct {
	cfg      Config
	batches  BatchSource
	store    cache.Store
	examList *ExamList
	logger   zerolog.Logger
}

// New creates a server. upstream serves the exam list; tasks receives its
// cache writes.
func New(cfg Config, batches BatchSource, store cache.Store, upstream JSONFetcher, tasks *bgtask.Group) (*Server, error) {
	if batches == nil || store == nil || upstream == nil || tasks == nil {
		return nil, fmt.Errorf("server: batches, store, upstream and tasks are required")
	}
	if cfg.BatchStep < 1 {
		return nil, fmt.Errorf("server: batch step must be >= 1 (got %d)", cfg.BatchStep)
	}
	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = 1
	}
	if cfg.RangeWorkers == nil {
		cfg.RangeWorkers = DefaultRangeWorkers()
	}
	for _, w := range cfg.RangeWorkers {
		if err := w.validate(); err != nil {
			return nil, err
		}
	}

	return &Server{
		cfg:      cfg,
		batches:  batches,
		store:    store,
		examList: NewExamList(upstream, store, tasks, cfg.ExamListURL, cfg.ExamListTTL, cfg.PurgeSecret),
		logger:   logging.NewLogger("server"),
	}, nil
}

// Handler returns the root handler with access logging and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	for _, w := range s.cfg.RangeWorkers {
		mux.Handle(w.Path, instrument(w.Path, s.rangeHandler(w)))
	}
	mux.Handle("/user", instrument("/user", http.HandlerFunc(s.userHandler)))
	mux.Handle("/exams", instrument("/exams", s.examList))

	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return logging.Middleware(s.logger)(withCORS(mux))
}

func instrument(route string, h http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerDuration(
		httpRequestDuration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(httpRequestsTotal.MustCurryWith(labels), h),
	)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness check failed")
		http.Error(w, "Not Ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
