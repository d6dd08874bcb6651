package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/skypro1111/meeting-audio-service/internal/profile"
)

// handleUserProfile serves GET (read) and POST (replace) of the profile
func (h *HTTPServer) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodGet {
		p, err := h.deps.Profiles.Get()
		if err != nil {
			h.logger.Error("Error getting profile", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Profile retrieval failed: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	var p profile.Profile
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid profile: %v", err))
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		writeError(w, http.StatusBadRequest, "Invalid profile: name is required")
		return
	}

	saved, err := h.deps.Profiles.Update(p)
	if err != nil {
		h.logger.Error("Error updating profile", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Profile update failed: %v", err))
		return
	}
	h.logger.Info("User profile updated", slog.String("name", saved.Name))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Profile updated successfully",
		"profile": saved,
	})
}
