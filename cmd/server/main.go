// Command server runs the RAG chat backend: an HTTP API for accounts,
// chat sessions with persisted history, and a retrieval-augmented
// generation gateway backed by a markdown corpus and an Ollama server.
package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-rag-chat-backend/internal/config"
	httpapi "github.com/tbourn/go-rag-chat-backend/internal/http"
	"github.com/tbourn/go-rag-chat-backend/internal/observability"
	"github.com/tbourn/go-rag-chat-backend/internal/rag"
	"github.com/tbourn/go-rag-chat-backend/internal/repo"
	"github.com/tbourn/go-rag-chat-backend/internal/retrieval"
	"github.com/tbourn/go-rag-chat-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Local development convenience; absent .env files are not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting rag-chat-backend")

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup opentelemetry")
	}

	// Retrieval corpus: flatten the markdown once at startup and index it
	// in memory. The server is read-only with respect to the corpus.
	prepared, err := retrieval.PrepareMarkdownInMemory(cfg.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DataPath).Msg("prepare corpus")
	}
	index, err := retrieval.NewIndexFromReader(
		bytes.NewReader(prepared),
		retrieval.WithSource(cfg.DataPath),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("build retrieval index")
	}
	log.Info().Int("chunks", index.Len()).Str("corpus", cfg.DataPath).Msg("retrieval index ready")

	generator := rag.NewOllamaClient(cfg.RAG.OllamaURL, cfg.RAG.Model)
	generator.Temperature = cfg.RAG.Temperature
	generator.TopP = cfg.RAG.TopP
	generator.MaxTokens = cfg.RAG.MaxTokens

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, db, index, generator, cfg)

	// Housekeeping: expired idempotency records are dead weight once past
	// their TTL; sweep them hourly for the lifetime of the process.
	purgeCtx, stopPurge := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-purgeCtx.Done():
				return
			case now := <-ticker.C:
				if n, err := repo.PurgeExpiredIdempotency(purgeCtx, db, now.UTC()); err != nil {
					log.Warn().Err(err).Msg("purge idempotency records")
				} else if n > 0 {
					log.Debug().Int64("purged", n).Msg("purged expired idempotency records")
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")
	stopPurge()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("stopped")
}
