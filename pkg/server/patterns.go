package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gridhabit/gridhabit/pkg/executor"
	"github.com/gridhabit/gridhabit/pkg/habit"
	"github.com/gridhabit/gridhabit/pkg/types"
)

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.db.ListPatterns(r.Context(), userID(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, struct {
		Patterns []types.HabitPattern `json:"patterns"`
	}{Patterns: patterns})
}

func (s *Server) handleCreatePattern(w http.ResponseWriter, r *http.Request) {
	var key types.PatternKey
	if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if key.UserID == "" {
		key.UserID = userID(r)
	}
	p, err := s.habits.ManualCreate(r.Context(), key)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, p)
}

func (s *Server) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	p, err := s.db.GetPattern(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleDeletePattern(w http.ResponseWriter, r *http.Request) {
	if err := s.habits.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPatternState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State types.PatternState `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p, err := s.habits.SetState(r.Context(), r.PathValue("id"), req.State)
	if err != nil {
		if errors.Is(err, habit.ErrInvalidTransition) {
			writeJSONError(w, err.Error(), http.StatusConflict)
			return
		}
		writeStorageError(w, err)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleUndoPattern(w http.ResponseWriter, r *http.Request) {
	p, err := s.habits.Undo(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleTestPattern(w http.ResponseWriter, r *http.Request) {
	err := s.exec.ManualTest(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, executor.ErrProtected) {
			writeJSONError(w, err.Error(), http.StatusForbidden)
			return
		}
		writeStorageError(w, err)
		return
	}
	writeJSON(w, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func (s *Server) handlePatternLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	logs, err := s.db.ListHabitLogs(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, struct {
		Logs []types.HabitLogEntry `json:"logs"`
	}{Logs: logs})
}
