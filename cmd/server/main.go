package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"collab-app/internal/auth"
	"collab-app/internal/config"
	"collab-app/internal/database"
	"collab-app/internal/docsync"
	"collab-app/internal/handlers"
	"collab-app/internal/presence"
	"collab-app/internal/rooms"
	"collab-app/internal/websocket"
	"collab-app/pkg/logger"
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

	// Optional cross-instance broadcast bridge
	var bridge *websocket.Bridge
	if cfg.Redis.Addr != "" {
		bridge, err = websocket.NewBridge(cfg.Redis.Addr)
		if err != nil {
			logger.Fatal("Failed to connect to redis: %v", err)
		}
		defer bridge.Close()
		logger.Info("Broadcast bridge enabled via %s", cfg.Redis.Addr)
	}

	// Sync core: presence feeds the registry, the registry gates the engine
	tracker := presence.NewTracker(cfg.Sync.InactivityTimeout)
	registry := rooms.NewRegistry(tracker)
	engine := docsync.NewEngine(registry)

	authService := auth.NewService(db, cfg)
	manager := websocket.NewManager(cfg, registry, tracker, engine, db, bridge)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.RunPresenceSweep(ctx)
	go manager.CleanupHubs(ctx, 5*time.Minute)

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(authService)
	wsHandlers := handlers.NewWebSocketHandlers(authService, manager, cfg)

	// Setup routes
	router := mux.NewRouter()
	router.HandleFunc("/login", authHandlers.Login).Methods(http.MethodPost)
	router.HandleFunc("/register", authHandlers.Register).Methods(http.MethodPost)
	router.HandleFunc("/ws", wsHandlers.HandleWebSocket)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
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
