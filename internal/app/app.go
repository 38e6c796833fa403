package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"chatrelay/backend/internal/api"
	"chatrelay/backend/internal/config"
	"chatrelay/backend/internal/llm"
)

// Run wires and starts the chat server process. It returns the process
// exit code so main stays a one-liner.
func Run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	SetupLogger(cfg.LogLevel)
	logConfigSource()

	provider := llm.NewGeminiProvider(cfg.GeminiURL, cfg.GeminiAPIKey, cfg.GeminiModel)
	if !provider.Configured() {
		// Not fatal: the health endpoint reports readiness and the
		// deployment layer decides what to do about it.
		slog.Warn("GEMINI_API_KEY is not set; chat requests will fail until it is configured")
	}

	chatHandler := api.NewChatHandler(provider)
	router := api.NewRouter(chatHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AppPort),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      0, // Disabled for the streaming endpoint
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("Starting chat server", "port", cfg.AppPort, "model", cfg.GeminiModel)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		return 1
	}

	return 0
}

func logConfigSource() {
	if file := viper.ConfigFileUsed(); file != "" {
		slog.Info("Loaded configuration from file", "file", file)
	} else {
		slog.Info("Configuration file not found. Using environment variables and defaults.")
	}
}
