package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"
)

const (
	allowMethods = "GET, OPTIONS"
	allowHeaders = "Content-Type"
)

type errorBody struct {
	Error string `json:"error"`
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		next.ServeHTTP(w, r)
	})
}

// preflight answers OPTIONS and rejects anything but GET. It reports whether
// the request was handled.
func preflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return false
	}
	rejectMethod(w, r, allowMethods)
	return true
}

// rejectMethod answers OPTIONS with 204 and any other method with 405.
func rejectMethod(w http.ResponseWriter, r *http.Request, allowed string) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Allow", allowed)
	writeJSON(w, r, http.StatusMethodNotAllowed, errorBody{Error: "Method Not Allowed"})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Encode response")
		status = http.StatusInternalServerError
		data = []byte(`{"error":"Internal Server Error"}`)
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
