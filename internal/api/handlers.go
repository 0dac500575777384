package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roman-kulish/temfield/internal/control"
	"github.com/roman-kulish/temfield/internal/report"
	"github.com/roman-kulish/temfield/internal/result"
	"github.com/roman-kulish/temfield/internal/storage"
	"github.com/roman-kulish/temfield/internal/sweep"
)

var errBadRequest = errors.New("bad request")

type planRequest struct {
	Range sweep.FrequencyRange `json:"range"`
	Dwell float64              `json:"dwell"` // seconds
}

type planResponse struct {
	Points      int       `json:"points"`
	Dwell       float64   `json:"dwell"` // seconds
	ETA         string    `json:"eta"`
	Summary     string    `json:"summary"`
	Frequencies []float64 `json:"frequencies"`
	Lines       []string  `json:"lines"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	status, err := s.ctrl.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) plan(w http.ResponseWriter, r *http.Request) {
	plan, dwell, err := s.ctrl.Plan(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, planResponse{
		Points:      plan.Len(),
		Dwell:       dwell.Seconds(),
		ETA:         sweep.FormatETA(plan.Duration(dwell)),
		Summary:     plan.Summary(dwell),
		Frequencies: plan.Frequencies(),
		Lines:       plan.Lines(),
	})
}

func (s *Server) configure(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: decoding plan: %s", errBadRequest, err.Error()))
		return
	}
	if req.Dwell < 0 {
		s.writeError(w, fmt.Errorf("%w: negative dwell time", errBadRequest))
		return
	}

	dwell := time.Duration(req.Dwell * float64(time.Second))
	if err := s.ctrl.Configure(r.Context(), req.Range, dwell); err != nil {
		s.writeError(w, err)
		return
	}
	s.plan(w, r)
}

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	cmd, err := control.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err = s.ctrl.Dispatch(r.Context(), cmd); err != nil {
		s.writeError(w, err)
		return
	}
	s.status(w, r)
}

func (s *Server) latestTelemetry(w http.ResponseWriter, _ *http.Request) {
	reading := s.telemetry.Get()
	if reading == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.results.Sessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*result.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	session, err := s.results.Session(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) points(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	opts, err := readerOptions(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	points, err := s.results.Points(r.Context(), id, opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if points == nil {
		points = []result.PointWithTelemetry{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) table(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	session, err := s.results.Session(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	stored, err := s.results.Points(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	points := make([]result.Point, len(stored))
	for i, p := range stored {
		points[i] = p.Point
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName(session)))
	if err = report.WriteCSV(w, session, points, time.Now()); err != nil {
		s.logger.Error(fmt.Sprintf("writing table: %s", err.Error()), slog.Int64("sessionID", id))
	}
}

func sessionID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid session id", errBadRequest)
	}
	return id, nil
}

func readerOptions(r *http.Request) ([]storage.ReaderOption, error) {
	q := r.URL.Query()

	var opts []storage.ReaderOption
	if status := q.Get("status"); status != "" {
		opts = append(opts, storage.WithStatus(result.Status(status)))
	}

	if q.Has("min") || q.Has("max") {
		minFreq, maxFreq := 0.0, 1e15
		var err error
		if v := q.Get("min"); v != "" {
			if minFreq, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, fmt.Errorf("%w: invalid min frequency", errBadRequest)
			}
		}
		if v := q.Get("max"); v != "" {
			if maxFreq, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, fmt.Errorf("%w: invalid max frequency", errBadRequest)
			}
		}
		opts = append(opts, storage.WithFreqRange(minFreq, maxFreq))
	}

	if telemetry, _ := strconv.ParseBool(q.Get("telemetry")); telemetry {
		opts = append(opts, storage.WithTelemetry())
	}
	return opts, nil
}
