package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/goofy"
)

const maxBodySize = 1 << 20

// TestListInfo is one entry of GET /api/test-lists.
type TestListInfo struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
	Error  string `json:"error,omitempty"`
}

// SummaryResponse is the body of GET /api/summary.
type SummaryResponse struct {
	TestListID string        `json:"testListId"`
	Summary    core.Summary  `json:"summary"`
	Current    *core.RunInfo `json:"current,omitempty"`
	Last       *core.RunInfo `json:"last,omitempty"`
}

// RunRequest is the body of POST /api/run and POST /api/restart.
type RunRequest struct {
	Path   string   `json:"path"`
	Filter []string `json:"filter,omitempty"`
}

// StopRequest is the body of POST /api/stop.
type StopRequest struct {
	Reason string `json:"reason"`
}

// BarrierAnswer is the body of POST /api/barriers/{id}.
type BarrierAnswer struct {
	Continue bool `json:"continue"`
}

func (s *Server) handleTestLists(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		tl := s.engine.TestList()
		writeJSON(w, http.StatusOK, []TestListInfo{{ID: tl.ID, Active: true}})
		return
	}

	ids, err := s.manager.Loader().FindIDs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	active := s.engine.TestList().ID
	failed := s.manager.Failed()

	out := make([]TestListInfo, 0, len(ids))
	for _, id := range ids {
		info := TestListInfo{ID: id, Active: id == active}
		if err, ok := failed[id]; ok {
			info.Error = err.Error()
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.TestList().Root)
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.States())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	resp := SummaryResponse{
		TestListID: s.engine.TestList().ID,
		Summary:    s.engine.Summary(),
	}
	if run, ok := s.engine.CurrentRun(); ok {
		resp.Current = &run
	}
	if run, ok := s.engine.LastRun(); ok {
		resp.Last = &run
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("no state store configured"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("no state store configured"))
		return
	}
	path := r.URL.Query().Get("path")
	if _, ok := s.engine.TestList().Lookup(path); !ok || path == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w %q", goofy.ErrUnknownPath, path))
		return
	}
	history, err := s.store.History(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	filter := make([]core.TestStatus, 0, len(req.Filter))
	for _, name := range req.Filter {
		st, err := core.ParseStatus(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter = append(filter, st)
	}
	s.accepted(w, s.engine.RunTests(req.Path, filter...))
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.accepted(w, s.engine.RestartTests(req.Path))
}

func (s *Server) handleAutoRun(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, s.engine.AutoRun())
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, s.engine.RetryFailed())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "stopped by operator"
	}
	s.accepted(w, s.engine.Stop(req.Reason))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, s.engine.ClearState())
}

func (s *Server) handleBarriers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.barriers.Pending())
}

func (s *Server) handleAnswerBarrier(w http.ResponseWriter, r *http.Request) {
	var ans BarrierAnswer
	if !decodeBody(w, r, &ans) {
		return
	}
	if err := s.barriers.Answer(chi.URLParam(r, "id"), ans.Continue); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// accepted maps engine request errors to status codes.
func (s *Server) accepted(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, goofy.ErrUnknownPath):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, goofy.ErrBusy):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, goofy.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}
