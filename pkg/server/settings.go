package server

import (
	"encoding/json"
	"net/http"

	"github.com/gridhabit/gridhabit/pkg/types"
)

// SettingsRes is the response type for GetSettings.
type SettingsRes struct {
	Settings types.Settings `json:"settings"`
	Version  int            `json:"version"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, version, err := s.db.GetSettings(r.Context(), userID(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, SettingsRes{Settings: settings, Version: version})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings types.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	settings = settings.Normalize()
	if err := s.db.SetSettings(r.Context(), userID(r), settings, types.CurrentSettingsVersion); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, SettingsRes{Settings: settings, Version: types.CurrentSettingsVersion})
}
