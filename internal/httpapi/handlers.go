package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/monitor"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	maxBodyBytes        = 1 << 20
)

type targetView struct {
	ID         domain.TargetID   `json:"id"`
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	Kind       domain.TargetKind `json:"kind"`
	Components []string          `json:"components,omitempty"`
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts := s.Checker.Targets()
	out := make([]targetView, 0, len(ts))
	for _, t := range ts {
		v := targetView{ID: t.ID, Name: t.Name, URL: t.URL, Kind: t.Kind}
		for _, c := range t.Components {
			v.Components = append(v.Components, c.ID)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type statusResponse struct {
	Batch     *domain.BatchMeta        `json:"batch"`
	Snapshots []domain.ServiceSnapshot `json:"snapshots"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.Store.Snapshots(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	batch, err := s.Store.LastBatch(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []domain.ServiceSnapshot{}
	}
	writeJSON(w, http.StatusOK, statusResponse{Batch: batch, Snapshots: snaps})
}

func (s *Server) handleTargetStatus(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "targetID"))
	if _, ok := s.Checker.Target(id); !ok {
		s.fail(w, r, fmt.Errorf("%w: %s", domain.ErrUnknownTarget, id))
		return
	}
	snap, err := s.Store.Snapshot(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "targetID"))
	if _, ok := s.Checker.Target(id); !ok {
		s.fail(w, r, fmt.Errorf("%w: %s", domain.ErrUnknownTarget, id))
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := s.Store.History(r.Context(), id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var p checkPayload
	if !s.decode(w, r, &p) {
		return
	}
	res, err := s.Checker.CheckOne(r.Context(), monitor.CheckRequest{TargetID: domain.TargetID(p.TargetID), URL: p.URL})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.Logger.Info("on_demand_check",
		zap.String("target_id", p.TargetID),
		zap.String("url", p.URL),
		zap.String("state", res.State.String()),
		zap.Int64("elapsed_ms", res.ElapsedMs),
	)
	writeJSON(w, http.StatusOK, res)
}

type batchResponse struct {
	OK      bool                  `json:"ok"`
	Results []monitor.CheckResult `json:"results"`
}

func (s *Server) handleCheckBatch(w http.ResponseWriter, r *http.Request) {
	var p batchPayload
	if !s.decode(w, r, &p) {
		return
	}
	reqs := make([]monitor.CheckRequest, len(p.Targets))
	for i, t := range p.Targets {
		reqs[i] = monitor.CheckRequest{TargetID: domain.TargetID(t.ID), URL: t.URL}
	}
	res, err := s.Checker.CheckBatch(r.Context(), reqs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{OK: true, Results: res})
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	if s.RunCycle == nil {
		writeError(w, http.StatusNotImplemented, "cycle trigger disabled")
		return
	}
	// the cycle commits a batch; a client hanging up must not cut it short
	if err := s.RunCycle(context.WithoutCancel(r.Context())); err != nil {
		s.Logger.Warn("manual_cycle_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnknownTarget), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.Logger.Error("request_failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
