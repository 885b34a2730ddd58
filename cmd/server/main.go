// ConnectWise AI - company directory with a Gemini-backed research assistant.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/connectwise-ai/internal/api"
	"github.com/ashureev/connectwise-ai/internal/catalog"
	"github.com/ashureev/connectwise-ai/internal/chat"
	"github.com/ashureev/connectwise-ai/internal/config"
	"github.com/ashureev/connectwise-ai/internal/identity"
	"github.com/ashureev/connectwise-ai/internal/insight"
	"github.com/ashureev/connectwise-ai/internal/middleware"
	"github.com/ashureev/connectwise-ai/internal/store"
	"github.com/ashureev/connectwise-ai/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "ai_enabled", cfg.AIEnabled())

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	companies, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	slog.Info("Catalog loaded", "companies", companies.Len(), "source", catalogSource(cfg.CatalogPath))

	insightClient, err := insight.NewClient(ctx, insight.Config{
		APIKey: cfg.Insight.APIKey,
		Model:  cfg.Insight.Model,
	}, logger)
	if err != nil {
		return err
	}

	convLog, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}

	chats := chat.NewManager(insightClient, companies, repo, chat.ManagerConfig{
		AskTimeout:      cfg.Insight.Timeout,
		SelectFirst:     true,
		ConversationLog: convLog,
		Logger:          logger,
	})
	defer chats.Close()

	handler := api.NewHandler(repo, companies, chats, api.Options{
		AIEnabled:         insightClient.Enabled(),
		Model:             insightClient.Model(),
		MaxBodyBytes:      cfg.MaxRequestBodySize,
		KeepaliveInterval: cfg.SSE.KeepaliveInterval,
		RetryDelay:        cfg.SSE.RetryDelay,
		Logger:            logger,
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	handler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE streams stay open, so there is no write timeout. Request contexts
	// derive from ctx so open streams end when shutdown begins.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return chat.RunSweeper(gctx, chats, repo, chat.SweeperConfig{
			Interval:          cfg.Session.SweepInterval,
			IdleTTL:           cfg.Session.IdleTTL,
			SnapshotRetention: cfg.Session.SnapshotRetention,
		})
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func catalogSource(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}
