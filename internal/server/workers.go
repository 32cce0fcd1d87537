package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/resulta/resulta-proxy/pkg/cache"
	"github.com/resulta/resulta-proxy/pkg/regno"
	"github.com/resulta/resulta-proxy/pkg/result"
	"github.com/resulta/resulta-proxy/pkg/sequencer"
)

// Category selects the backend and prefix a range worker uses.
type Category int

const (
	Regular Category = iota
	LateEntry
)

func (c Category) String() string {
	if c == LateEntry {
		return "le"
	}
	return "regular"
}

// RangeWorker serves every batch between two suffixes of one category.
type RangeWorker struct {
	Path     string
	Category Category
	Start    int
	End      int
}

// DefaultRangeWorkers returns the standard deployment: two regular ranges and
// one late-entry range.
func DefaultRangeWorkers() []RangeWorker {
	return []RangeWorker{
		{Path: "/reg1", Category: Regular, Start: 1, End: 60},
		{Path: "/reg2", Category: Regular, Start: 61, End: 120},
		{Path: "/le", Category: LateEntry, Start: 901, End: 960},
	}
}

func (w RangeWorker) validate() error {
	if w.Path == "" || w.Path[0] != '/' {
		return fmt.Errorf("range worker path %q must start with /", w.Path)
	}
	if w.Start < 0 || w.End > 999 || w.Start > w.End {
		return fmt.Errorf("range worker %s: invalid range %d-%d", w.Path, w.Start, w.End)
	}
	return nil
}

type batchParams struct {
	regNo string
	query cache.Query
}

// parseParams validates the query. The returned message is empty on success.
func parseParams(r *http.Request, invalidRegNo, missing string) (batchParams, string) {
	q := r.URL.Query()

	p := batchParams{
		regNo: q.Get("reg_no"),
		query: cache.Query{
			Year:     q.Get("year"),
			Semester: q.Get("semester"),
			ExamHeld: q.Get("exam_held"),
		},
	}
	if !regno.Valid(p.regNo) {
		return p, invalidRegNo
	}
	if !p.query.Complete() {
		return p, missing
	}
	return p, ""
}

func (s *Server) backendFor(c Category) string {
	if c == LateEntry {
		return s.cfg.LEBackendURL
	}
	return s.cfg.RegularBackendURL
}

func (s *Server) rangeHandler(wk RangeWorker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r).With().Str("worker", wk.Path).Logger()

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Msg("Range worker panicked")
				writeJSON(w, r, http.StatusInternalServerError, result.Batch{
					result.ErrorRecord(result.UnknownRegNo, fmt.Sprintf("Worker Critical Error: %v", rec)),
				})
			}
		}()

		if preflight(w, r) {
			return
		}

		p, msg := parseParams(r, `Invalid "reg_no"`, "Missing parameters")
		if msg != "" {
			writeJSON(w, r, http.StatusBadRequest, errorBody{Error: msg})
			return
		}

		prefix, err := regno.PrefixFor(p.regNo, wk.Category == LateEntry)
		if err != nil {
			logger.Debug().Err(err).Str("reg_no", p.regNo).Msg("Rejected registration number")
			writeJSON(w, r, http.StatusBadRequest, errorBody{Error: `Invalid "reg_no"`})
			return
		}
		base := s.backendFor(wk.Category)

		var starts []string
		var tasks []sequencer.Task[result.Batch]
		for i := wk.Start; i <= wk.End; i += s.cfg.BatchStep {
			key := cache.Key{BaseURL: base, RegNo: regno.WithSuffix(prefix, i), Query: p.query}
			starts = append(starts, key.RegNo)
			tasks = append(tasks, func(ctx context.Context) (result.Batch, error) {
				b := s.batches.GetCachedOrFetchBatch(ctx, key)
				if b == nil {
					return nil, errors.New("no batch returned")
				}
				return b, nil
			})
		}

		logger.Debug().
			Str("category", wk.Category.String()).
			Str("prefix", prefix).
			Int("tasks", len(tasks)).
			Int("width", s.cfg.FetchConcurrency).
			Msg("Fetching range")

		outcomes := sequencer.Run(r.Context(), tasks, s.cfg.FetchConcurrency)

		batches := make([]result.Batch, len(outcomes))
		for i, o := range outcomes {
			if !o.OK() {
				logger.Error().Err(o.Err).Str("batch", starts[i]).Msg("Batch task failed")
				batches[i] = result.Batch{result.ErrorRecord(starts[i], "Worker Error: "+o.Err.Error())}
				continue
			}
			batches[i] = o.Value
		}

		writeJSON(w, r, http.StatusOK, result.Merge(batches...))
	})
}

func (s *Server) userHandler(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r).With().Str("worker", "/user").Logger()
	var start string

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Str("batch", start).Msg("User worker panicked")
			reason := fmt.Sprintf("Worker Critical Error: %v", rec)
			batch := result.Batch{result.ErrorRecord(result.UnknownRegNo, reason)}
			if start != "" {
				batch = result.ErrorBatch(start, s.cfg.BatchStep, reason)
			}
			writeJSON(w, r, http.StatusInternalServerError, batch)
		}
	}()

	if preflight(w, r) {
		return
	}

	p, msg := parseParams(r,
		`Invalid or missing "reg_no" parameter (must be 11 digits)`,
		`Missing required parameters: "year", "semester", and "exam_held"`)
	if msg != "" {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: msg})
		return
	}

	category := Regular
	if regno.IsLE(p.regNo) {
		category = LateEntry
	}
	start = regno.UserBatchStart(p.regNo, s.cfg.BatchStep)

	logger.Debug().
		Str("reg_no", p.regNo).
		Str("batch", start).
		Str("category", category.String()).
		Msg("Fetching user batch")

	batch := s.batches.GetCachedOrFetchBatch(r.Context(), cache.Key{
		BaseURL: s.backendFor(category),
		RegNo:   start,
		Query:   p.query,
	})
	if batch == nil {
		batch = result.Batch{result.ErrorRecord(start, "Worker Error: Invalid data format")}
	}

	writeJSON(w, r, http.StatusOK, batch)
}
