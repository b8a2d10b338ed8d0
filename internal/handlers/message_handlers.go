package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"chat-relay/internal/auth"
	"chat-relay/internal/chat"
	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/pkg/logger"
)

type MessageHandlers struct {
	authService *auth.Service
	chatService *chat.Service
}

func NewMessageHandlers(authService *auth.Service, chatService *chat.Service) *MessageHandlers {
	return &MessageHandlers{
		authService: authService,
		chatService: chatService,
	}
}

// SendMessage mirrors the socket send path for clients without a live
// connection. The 201 response is the acknowledgement; delivery to the
// receiver's live connection is still attempted.
func (h *MessageHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r, h.authService)
	if user == nil {
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	msg, err := h.chatService.Send(r.Context(), user.ID, req.ReceiverID, req.Content, nil)
	if err != nil {
		if errors.Is(err, chat.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("Send message error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": msg,
	})
}

// GetConversation serves GET /messages/{userId}?page=&limit=.
func (h *MessageHandlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r, h.authService)
	if user == nil {
		return
	}

	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 3 || parts[2] == "" {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	otherID, err := strconv.Atoi(parts[2])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.chatService.History(r.Context(), user.ID, otherID, page, limit)
	if err != nil {
		logger.Error("Get conversation error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve chat history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"messages":   result.Messages,
		"pagination": result.Pagination,
	})
}

// ListContacts serves GET /messages/users/all.
func (h *MessageHandlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r, h.authService)
	if user == nil {
		return
	}

	users, err := h.chatService.Contacts(r.Context(), user.ID)
	if err != nil {
		logger.Error("List contacts error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"users":   users,
	})
}

// MarkRead serves POST /messages/{messageId}/read.
func (h *MessageHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r, h.authService)
	if user == nil {
		return
	}

	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 4 || parts[2] == "" {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	messageID, err := strconv.Atoi(parts[2])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	if err := h.chatService.MarkRead(r.Context(), messageID, user.ID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		logger.Error("Mark read error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to mark message read")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}
