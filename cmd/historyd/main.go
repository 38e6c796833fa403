// The historyd binary serves the history store: a small REST document
// API over SQLite that the chat client persists conversations and
// messages into.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"chatrelay/backend/internal/app"
	"chatrelay/backend/internal/config"
	"chatrelay/backend/internal/database"
	"chatrelay/backend/internal/store"
	"chatrelay/backend/internal/storeapi"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	app.SetupLogger(cfg.LogLevel)

	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err, "path", cfg.DatabasePath)
		return 1
	}
	defer db.Close()

	handler := storeapi.NewHandler(store.NewSQLiteStore(db))
	router := storeapi.NewRouter(handler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HistoryPort),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("Starting history store", "port", cfg.HistoryPort, "database", cfg.DatabasePath)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		return 1
	}

	return 0
}
