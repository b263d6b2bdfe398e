package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/agent-relay/backend/api/handlers"
	"github.com/agent-relay/backend/internal/auth"
	"github.com/agent-relay/backend/internal/config"
	"github.com/agent-relay/backend/internal/db"
	"github.com/agent-relay/backend/internal/pty"
	"github.com/agent-relay/backend/internal/repository"
	"github.com/agent-relay/backend/internal/watcher"
	"github.com/agent-relay/backend/internal/ws"
	"github.com/agent-relay/backend/pkg/transcript"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	if err := os.MkdirAll(cfg.Storage.LogDir, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}
	if err := os.MkdirAll(cfg.Watcher.TranscriptDir, 0755); err != nil {
		log.Fatalf("Failed to create transcript directory: %v", err)
	}

	// A missing token would leave every endpoint open; refuse to start.
	authenticator, err := auth.New(cfg.Auth.Token)
	if err != nil {
		log.Fatalf("Failed to initialize authenticator: %v (set auth.token or AUTH_TOKEN)", err)
	}
	authenticator.Start()
	defer authenticator.Stop()

	// Initialize database
	database, err := db.InitDB(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	terminalRepo := repository.NewTerminalRepository(database)

	// Initialize PTY registry
	registry := pty.NewRegistry(cfg.Storage.LogDir)
	registry.IdleTimeout = cfg.Terminal.IdleTimeout
	registry.SetRecorder(terminalRepo)
	registry.Start()
	defer registry.Stop()

	// Initialize transcript watcher
	store := transcript.NewJSONLStore(cfg.Watcher.TranscriptDir)
	w := watcher.New(store)
	w.Start(cfg.Watcher.PollInterval)
	defer w.Stop()

	// Initialize WebSocket handler
	wsHandler := ws.NewHandler(authenticator, w, registry, nil)
	wsHandler.DefaultShell = cfg.Terminal.DefaultShell

	// Initialize handlers
	websocketHandler := handlers.NewWebSocketHandler(wsHandler)
	sessionHandler := handlers.NewSessionHandler(store, terminalRepo)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// WebSocket routes authenticate in-band after upgrade
	websocketHandler.RegisterRoutes(r)

	// REST routes
	api := r.Group("/api")
	api.Use(handlers.RequireAuth(authenticator))
	{
		sessionHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		w.Stop()
		registry.Stop()
		authenticator.Stop()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
