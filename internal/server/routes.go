package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jackzampolin/scanrelay/internal/connectivity"
	"github.com/jackzampolin/scanrelay/internal/events"
	"github.com/jackzampolin/scanrelay/internal/journal"
	"github.com/jackzampolin/scanrelay/internal/povalidate"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Get("/outcomes", s.handleOutcomes)
		r.Get("/validations", s.handleValidations)
		r.Get("/connectivity", s.handleConnectivity)
	})
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	EventsSeen   int64  `json:"events_seen"`
	Connectivity string `json:"connectivity,omitempty"`
}

// handleHealth answers 200 while the process is up. Connectivity is
// reported but does not change the status code.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.recorder != nil {
		resp.EventsSeen = s.recorder.Total()
	}
	if s.status != nil {
		switch st := s.status.Last(); {
		case st == nil:
			resp.Connectivity = "unknown"
		case st.Healthy():
			resp.Connectivity = "ok"
		default:
			resp.Connectivity = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// EventsResponse is the response for GET /api/events.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	Total  int64          `json:"total"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "event recorder not configured")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	kind := events.Kind(r.URL.Query().Get("kind"))
	writeJSON(w, http.StatusOK, EventsResponse{
		Events: s.recorder.Recent(limit, kind),
		Total:  s.recorder.Total(),
	})
}

// OutcomesResponse is the response for GET /api/outcomes.
type OutcomesResponse struct {
	Outcomes []journal.Outcome `json:"outcomes"`
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	out, err := s.history.RecentOutcomes(r.Context(), limit)
	if err != nil {
		s.logger.Error("list outcomes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list outcomes")
		return
	}
	if out == nil {
		out = []journal.Outcome{}
	}
	writeJSON(w, http.StatusOK, OutcomesResponse{Outcomes: out})
}

// ValidationsResponse is the response for GET /api/validations.
type ValidationsResponse struct {
	Validations []journal.Validation `json:"validations"`
}

// handleValidations accepts since (RFC 3339 or a duration like 24h),
// status and limit.
func (s *Server) handleValidations(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	f := journal.ValidationFilter{
		Status: povalidate.Status(r.URL.Query().Get("status")),
		Limit:  limit,
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := ParseSince(v, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Since = since
	}

	out, err := s.history.Validations(r.Context(), f)
	if err != nil {
		s.logger.Error("list validations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list validations")
		return
	}
	if out == nil {
		out = []journal.Validation{}
	}
	writeJSON(w, http.StatusOK, ValidationsResponse{Validations: out})
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "connectivity probe not configured")
		return
	}
	st := s.status.Last()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "no probe has run yet")
		return
	}
	code := http.StatusOK
	if !st.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, struct {
		Healthy bool `json:"healthy"`
		connectivity.Status
	}{st.Healthy(), *st})
}

// ParseSince reads an RFC 3339 timestamp, a date, or a duration counted
// back from now.
func ParseSince(v string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q: want a duration, a date or an RFC 3339 time", v)
	}
	return t, nil
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 50, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, 1000), true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
