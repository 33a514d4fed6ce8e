package trigger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"digestfanout/internal/fanout"
	"digestfanout/internal/lease"
	"digestfanout/internal/runlog"
	"digestfanout/pkg/logx"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleRun always answers 200; the tick outcome is in the body.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := fanout.Options{JobID: strings.TrimSpace(q.Get("job"))}
	if f := q.Get("force"); f != "" {
		force, err := strconv.ParseBool(f)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "force must be a boolean"})
			return
		}
		opts.Force = force
	}
	res := s.runner.Tick(r.Context(), opts)
	s.log.Info("tick via trigger",
		logx.Bool("ok", res.OK),
		logx.Bool("skipped", res.Skipped),
		logx.String("reason", res.Reason),
		logx.Int("jobs", len(res.RanJobs)),
	)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tail := 20
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "tail must be a positive integer"})
			return
		}
		tail = min(n, runlog.DefaultMaxTailLines)
	}
	writeJSON(w, http.StatusOK, s.runner.Status(r.Context(), tail))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	entries, err := s.runner.Month(r.Context(), chi.URLParam(r, "month"))
	switch {
	case errors.Is(err, runlog.ErrBadMonth):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	case err != nil:
		s.log.Warn("read runs failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if entries == nil {
		entries = []runlog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "runs": entries})
}

type unmuteRequest struct {
	Channel string `json:"channel"`
	Key     string `json:"key"`
}

func (s *Server) handleUnmute(w http.ResponseWriter, r *http.Request) {
	var req unmuteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json body"})
		return
	}
	known, err := s.runner.Unmute(r.Context(), strings.TrimSpace(req.Channel), strings.TrimSpace(req.Key))
	switch {
	case errors.Is(err, lease.ErrLocked):
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "tick in progress; retry later"})
	case errors.Is(err, fanout.ErrUnmuteTarget):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
	case err != nil:
		s.log.Warn("unmute failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
	case !known:
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "unknown target"})
	default:
		s.log.Info("target unmuted via trigger", logx.String("channel", req.Channel), logx.String("key", req.Key))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
