// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-core/internal/config"
	"github.com/capitalize-ai/messaging-core/internal/handler"
	"github.com/capitalize-ai/messaging-core/internal/hub"
	"github.com/capitalize-ai/messaging-core/internal/maintenance"
	"github.com/capitalize-ai/messaging-core/internal/middleware"
	natsclient "github.com/capitalize-ai/messaging-core/internal/nats"
	"github.com/capitalize-ai/messaging-core/internal/service"
	"github.com/capitalize-ai/messaging-core/internal/store"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
	"github.com/capitalize-ai/messaging-core/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messaging-core", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the store
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	// Room registry for the live channel
	rooms := hub.New()
	defer rooms.Close()

	// Event fan-out: through NATS when configured, in-process otherwise
	var (
		publisher service.EventPublisher = hub.NewPublisher(rooms)
		bus       handler.Pinger
	)
	if cfg.NATSURL != "" {
		nc, err := natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer nc.Close()

		bridge := natsclient.NewBridge(nc, rooms, log)
		if err := bridge.Start(); err != nil {
			log.Error("failed to start event bridge", zap.Error(err))
			os.Exit(1)
		}
		publisher = bridge
		bus = nc
	}

	// Initialize services
	accessSvc := service.NewAccessService(st, log)
	cursorSvc := service.NewCursorService(st, accessSvc, publisher, log)
	messageSvc := service.NewMessageService(st, accessSvc, publisher, log)
	historySvc := service.NewHistoryService(st, accessSvc, cursorSvc, log)
	conversationSvc := service.NewConversationService(st, accessSvc, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(st, bus)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, historySvc, cursorSvc, log)
	wsHandler := handler.NewWSHandler(rooms, accessSvc, messageSvc, cursorSvc, log)

	// Background maintenance with its own lifecycle
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go maintenance.New(rooms, st, cfg.MaintenanceInterval, log).Run(sweepCtx)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.Provision(st, log))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/direct", conversationHandler.CreateDirect)
			r.Post("/public", conversationHandler.CreatePublic)

			r.Route("/{ref}", func(r chi.Router) {
				r.Post("/join", conversationHandler.Join)
				r.Get("/messages", messageHandler.History)
				r.Post("/messages", messageHandler.Send)
				r.Post("/read", messageHandler.MarkRead)
			})
		})

		r.Get("/users/available", conversationHandler.AvailablePeers)

		// Live channel
		r.Get("/ws", wsHandler.Serve)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
