package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"chat-relay/internal/auth"
	"chat-relay/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// requireUser resolves the bearer token on a request to its user, writing
// a 401 and returning nil when the request is not authenticated.
func requireUser(w http.ResponseWriter, r *http.Request, authService *auth.Service) *models.User {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		token = ""
	}

	user, err := authService.Admit(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return nil
	}
	return user
}
