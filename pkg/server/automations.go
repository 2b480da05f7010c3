package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gridhabit/gridhabit/pkg/types"
)

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	automations, err := s.db.ListAutomations(r.Context(), userID(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, struct {
		Automations []types.Automation `json:"automations"`
	}{Automations: automations})
}

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var a types.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if a.UserID == "" {
		a.UserID = userID(r)
	}
	if len(a.Schedule.Days) == 0 {
		writeJSONError(w, "schedule must cover at least one day", http.StatusBadRequest)
		return
	}
	if a.Schedule.StartMinute < 0 || a.Schedule.EndMinute >= 24*60 || a.Schedule.StartMinute > a.Schedule.EndMinute {
		writeJSONError(w, "invalid schedule window", http.StatusBadRequest)
		return
	}
	created, err := s.db.CreateAutomation(r.Context(), a)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, created)
}

func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	var a types.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a.ID = r.PathValue("id")
	existing, err := s.db.GetAutomation(r.Context(), a.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	a.UserID = existing.UserID
	a.CreatedAt = existing.CreatedAt
	if err := s.db.UpdateAutomation(r.Context(), a); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, a)
}

func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteAutomation(r.Context(), r.PathValue("id")); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAutomationSavings(w http.ResponseWriter, r *http.Request) {
	a, err := s.db.GetAutomation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	settings, _, err := s.db.GetSettings(r.Context(), a.UserID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	windowDays := settings.EvalWindowDays
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			writeJSONError(w, "invalid days", http.StatusBadRequest)
			return
		}
		windowDays = n
	}
	report, err := s.eval.Evaluate(r.Context(), a.UserID, a, windowDays, 0)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleAutomationSimulate(w http.ResponseWriter, r *http.Request) {
	a, err := s.db.GetAutomation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	est, err := s.eval.Simulate(r.Context(), a.UserID, a, s.meta)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, est)
}
