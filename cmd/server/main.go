package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prepvox/prepvox/internal/config"
	"github.com/prepvox/prepvox/internal/httpserver"
	"github.com/prepvox/prepvox/internal/llm"
	"github.com/prepvox/prepvox/internal/metrics"
	"github.com/prepvox/prepvox/internal/store"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	deps := httpserver.Deps{
		Metrics: metrics.NewMetrics(),
	}

	if cfg.DatabaseURL != "" {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("database migration failed: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		db, err := store.Open(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		deps.Chats = db
		deps.Sessions = db
		log.Printf("connected to PostgreSQL")
	}

	if cfg.GeminiAPIKey != "" {
		var fallback llm.Generator
		if cfg.OpenAIKey != "" {
			fallback = llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel)
		}
		responder := llm.NewResponder(llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiChatModel), fallback)
		responder.OnFallback = deps.Metrics.ChatFallbacks.Inc
		deps.Responder = responder
	}

	srv := httpserver.New(cfg, deps)

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- srv.Start(cfg.HTTPAddress)
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
