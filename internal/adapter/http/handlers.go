package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/tide-data-service/internal/coordinator"
	"github.com/couchcryptid/tide-data-service/internal/domain"
)

func harborParam(r *http.Request) string {
	return chi.URLParam(r, "harbor")
}

func (s *Server) handleHarbors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.query.Harbors())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.query.Status(harborParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleView serves the last published view. A view kept after a failed
// cycle is flagged with the X-View-Stale header.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	id := harborParam(r)
	view, err := s.query.GetView(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if st, err := s.query.Status(id); err == nil && st.Stale {
		w.Header().Set("X-View-Stale", "true")
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTides(w http.ResponseWriter, r *http.Request) {
	tides, err := s.query.GetTideEvents(r.Context(), harborParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tides)
}

type coefficientQuery struct {
	Date string `validate:"omitempty,datetime=2006-01-02"`
	Days int    `validate:"gte=0,lte=366"`
}

func (s *Server) handleCoefficients(w http.ResponseWriter, r *http.Request) {
	q := coefficientQuery{Date: r.URL.Query().Get("date")}
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: days %q is not an integer", coordinator.ErrInvalidArgument, raw))
			return
		}
		q.Days = days
	}
	if err := s.validate.Struct(q); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", coordinator.ErrInvalidArgument, err))
		return
	}

	coeffs, err := s.query.GetCoefficients(r.Context(), harborParam(r), q.Date, q.Days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coeffs)
}

func (s *Server) handleWaterLevels(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		s.writeError(w, r, fmt.Errorf("%w: date is required", coordinator.ErrInvalidArgument))
		return
	}
	samples, err := s.query.GetWaterLevels(r.Context(), harborParam(r), date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.WaterLevelSample{date: samples})
}

func (s *Server) handleWaterTemperature(w http.ResponseWriter, r *http.Request) {
	temps, err := s.query.GetWaterTemperature(r.Context(), harborParam(r), r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, temps)
}

type reinitializeResponse struct {
	Harbor        string        `json:"harbor"`
	FailedDomains []domain.Kind `json:"failed_domains"`
}

func (s *Server) handleReinitialize(w http.ResponseWriter, r *http.Request) {
	id := harborParam(r)
	failed, err := s.query.Reinitialize(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if failed == nil {
		failed = []domain.Kind{}
	}
	writeJSON(w, http.StatusOK, reinitializeResponse{Harbor: id, FailedDomains: failed})
}
