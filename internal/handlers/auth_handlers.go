package handlers

import (
	"encoding/json"
	"net/http"

	"chat-relay/internal/auth"
	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/pkg/logger"
)

type AuthHandlers struct {
	authService *auth.Service
	db          database.Database
}

func NewAuthHandlers(authService *auth.Service, db database.Database) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		db:          db,
	}
}

// Login exchanges a provider-verified profile for a credential token,
// creating or refreshing the user record.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var profile models.ExternalProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	response, err := h.authService.ExchangeIdentity(r.Context(), &profile)
	if err != nil {
		logger.Error("Login error: %v", err)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   response.Token,
		"user":    response.User,
	})
}

func (h *AuthHandlers) Profile(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r, h.authService)
	if user == nil {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}

// Logout stamps the user offline. Live connections are not force-closed;
// they expire through their own lifecycle.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r, h.authService)
	if user == nil {
		return
	}

	if err := h.db.SetUserPresence(r.Context(), user.ID, false); err != nil {
		logger.Error("Logout error for user %d: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "logged out successfully",
	})
}
