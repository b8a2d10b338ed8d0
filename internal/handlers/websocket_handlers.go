package handlers

import (
	"net/http"

	"chat-relay/internal/auth"
	"chat-relay/internal/chat"
	"chat-relay/internal/presence"
	"chat-relay/internal/ws"
	"chat-relay/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	chatService *chat.Service
	registry    *presence.Registry
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, chatService *chat.Service, registry *presence.Registry) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		chatService: chatService,
		registry:    registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Admission runs before the upgrade: a rejected credential never gets
	// a connection that could carry events.
	tokenStr := r.URL.Query().Get("token")
	user, err := h.authService.Admit(r.Context(), tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := ws.NewClient(conn, user, h.registry, h.chatService)
	h.registry.Connect(r.Context(), user, client)

	go client.WritePump()
	go client.ReadPump()
}
