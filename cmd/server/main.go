package main

import (
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chat-relay/internal/auth"
	"chat-relay/internal/cache"
	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/handlers"
	"chat-relay/internal/kvstore"
	"chat-relay/internal/presence"
	"chat-relay/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize ephemeral store; the relay runs degraded without redis
	store := newEphemeralStore(cfg)
	defer store.Close()

	// Initialize services
	authService := auth.NewService(db, cfg)
	responseCache := cache.New(store)
	registry := presence.NewRegistry(db, store, cfg.Chat.SessionTTL)
	chatService := chat.NewService(db, responseCache, registry, store, cfg.Chat)

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(authService, db)
	messageHandlers := handlers.NewMessageHandlers(authService, chatService)
	wsHandlers := handlers.NewWebSocketHandlers(authService, chatService, registry)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, authHandlers, messageHandlers, wsHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	printAPIEndpoints()

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")
}

func newEphemeralStore(cfg *config.Config) kvstore.Store {
	if !cfg.Redis.Enabled {
		logger.Info("Redis is disabled, using in-memory ephemeral store")
		return kvstore.NewMemoryStore()
	}

	store, err := kvstore.NewRedisStore(cfg.Redis.URL)
	if err != nil {
		logger.Warn("Redis not available, using in-memory ephemeral store: %v", err)
		return kvstore.NewMemoryStore()
	}
	return store
}

func setupRoutes(mux *http.ServeMux, authHandlers *handlers.AuthHandlers, messageHandlers *handlers.MessageHandlers, wsHandlers *handlers.WebSocketHandlers) {
	// Auth routes
	mux.HandleFunc("/auth/login", requireMethod(http.MethodPost, authHandlers.Login))
	mux.HandleFunc("/auth/profile", requireMethod(http.MethodGet, authHandlers.Profile))
	mux.HandleFunc("/auth/logout", requireMethod(http.MethodPost, authHandlers.Logout))

	// Message routes
	mux.HandleFunc("/messages", requireMethod(http.MethodPost, messageHandlers.SendMessage))

	// Message sub-routes
	mux.HandleFunc("/messages/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 3 || parts[2] == "" {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		// /messages/users/all
		if len(parts) == 4 && parts[2] == "users" && parts[3] == "all" && r.Method == http.MethodGet {
			messageHandlers.ListContacts(w, r)
			return
		}

		// /messages/{id}/read
		if len(parts) == 4 && parts[3] == "read" && r.Method == http.MethodPost {
			messageHandlers.MarkRead(w, r)
			return
		}

		// /messages/{userId}
		if len(parts) == 3 && r.Method == http.MethodGet {
			messageHandlers.GetConversation(w, r)
			return
		}

		http.Error(w, "endpoint not found", http.StatusNotFound)
	})

	// WebSocket route
	mux.HandleFunc("/ws", wsHandlers.HandleWebSocket)
}

func requireMethod(method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   POST /auth/login")
	logger.Info("   GET  /auth/profile")
	logger.Info("   POST /auth/logout")
	logger.Info("   POST /messages")
	logger.Info("   GET  /messages/{userId}")
	logger.Info("   POST /messages/{id}/read")
	logger.Info("   GET  /messages/users/all")
}
