package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/SidGoyal2014/gah-final-submission/internal/agent"
	"github.com/SidGoyal2014/gah-final-submission/internal/api"
	"github.com/SidGoyal2014/gah-final-submission/internal/capability"
	"github.com/SidGoyal2014/gah-final-submission/internal/config"
	"github.com/SidGoyal2014/gah-final-submission/internal/generation"
	"github.com/SidGoyal2014/gah-final-submission/internal/identity"
	"github.com/SidGoyal2014/gah-final-submission/internal/janitor"
	"github.com/SidGoyal2014/gah-final-submission/internal/middleware"
	"github.com/SidGoyal2014/gah-final-submission/internal/presence"
	"github.com/SidGoyal2014/gah-final-submission/internal/probe"
	"github.com/SidGoyal2014/gah-final-submission/internal/profile"
	"github.com/SidGoyal2014/gah-final-submission/internal/router"
	"github.com/SidGoyal2014/gah-final-submission/internal/session"
	"github.com/SidGoyal2014/gah-final-submission/internal/store"
	"github.com/SidGoyal2014/gah-final-submission/internal/upstream"
)

//nolint:gocognit,gocyclo // linear startup wiring
func serve(parent context.Context, logger *slog.Logger, portOverride string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if portOverride != "" {
		cfg.Port = portOverride
	}
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	var dir presence.Directory = presence.NewMemoryDirectory()
	if cfg.RedisURL != "" {
		redisDir, err := presence.NewRedisDirectory(ctx, cfg.RedisURL, 4*cfg.Session.HeartbeatInterval)
		if err != nil {
			slog.Warn("Redis unavailable, presence stays local to this instance", "error", err)
		} else {
			dir = redisDir
			slog.Info("Redis presence directory connected")
		}
	}
	defer func() {
		if closeErr := dir.Close(); closeErr != nil {
			slog.Warn("Failed to close presence directory", "error", closeErr)
		}
	}()

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Generation backend (optional).
	var (
		backend  generation.Backend = generation.Unconfigured{}
		analyzer api.ImageAnalyzer
		searcher capability.Searcher
		cropper  capability.CropAdvisor
	)
	if cfg.GeminiConfigured() {
		client, err := generation.NewGeminiClient(ctx, generation.GeminiConfig{
			APIKey:    cfg.Gemini.APIKey,
			UseVertex: cfg.Gemini.UseVertex,
			Project:   cfg.Gemini.Project,
			Location:  cfg.Gemini.Location,
			LiveModel: cfg.Gemini.LiveModel,
			TextModel: cfg.Gemini.TextModel,
		})
		if err != nil {
			return err
		}
		backend = generation.NewGemini(client, cfg.Gemini.LiveModel, logger)
		textGen := generation.NewTextGenerator(client, cfg.Gemini.TextModel)
		analyzer, searcher, cropper = textGen, textGen, textGen
		slog.Info("Generation backend configured", "live_model", cfg.Gemini.LiveModel, "text_model", cfg.Gemini.TextModel, "vertex", cfg.Gemini.UseVertex)
	} else {
		slog.Warn("No model credentials; sessions will fail setup (set GOOGLE_API_KEY or GOOGLE_GENAI_USE_VERTEXAI)")
	}

	// Capabilities.
	registry, err := capability.LoadRegistry()
	if err != nil {
		return fmt.Errorf("load capability registry: %w", err)
	}
	httpClient := upstream.New(upstream.WithRetries(cfg.Capability.Retries))
	schemes := capability.NewSchemesSource(httpClient, cfg.Upstream.SchemesURL, cfg.Upstream.CrisisSchemesURL, cfg.Capability.CacheSize, cfg.Capability.CacheTTL)
	invoker := capability.NewInvoker(cfg.Capability.Timeout, logger,
		capability.NewCropAdviceSource(cropper),
		capability.NewMarketSource(httpClient, cfg.Upstream.MarketURL, cfg.Upstream.MarketAPIKey, cfg.Capability.MaxRecords),
		schemes.General(),
		schemes.Crisis(),
		capability.NewTutorialSource(httpClient, cfg.Upstream.YouTubeURL, cfg.Upstream.YouTubeAPIKey, cfg.Capability.MaxTutorial),
		capability.NewWebSearchSource(searcher),
	)
	advisor := agent.NewAdvisor(router.New(registry), invoker, registry, logger)
	profiles := profile.NewHTTPResolver(httpClient, cfg.Upstream.ProfileURL, logger)

	hostname, _ := os.Hostname()
	sessions, err := session.NewManager(session.Config{
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		IdleTimeout:       cfg.Session.IdleTimeout,
		QueueSize:         cfg.Session.QueueSize,
		GracePeriod:       cfg.Session.GracePeriod,
		SetupTimeout:      cfg.Session.SetupTimeout,
		ProfileTimeout:    cfg.Session.ProfileTimeout,
		Instance:          hostname,
	}, session.Deps{
		Backend:  backend,
		Advisor:  advisor,
		Profiles: profiles,
		Repo:     repo,
		ConvLog:  conversationLogger,
		Presence: dir,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("initialize session manager: %w", err)
	}

	// Health.
	checker := probe.NewChecker(2 * time.Second)
	checker.Add("database", repo.Ping, true)
	checker.Add("presence", dir.Ping, false)
	checker.Add("generation_backend", func(context.Context) error {
		if !cfg.GeminiConfigured() {
			return generation.ErrUnconfigured
		}
		return nil
	}, false)

	// Retention.
	sweeper, err := janitor.New(repo, cfg.Retention.TurnRetention, cfg.Retention.Schedule, logger)
	if err != nil {
		return err
	}
	sweeper.Start()

	// Router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	api.NewHandler(repo, registry, sessions, checker, analyzer).RegisterRoutes(r)

	wsHandler := session.NewWebSocketHandler(sessions, cfg.FrontendURL, cfg.IsDevelopment())
	r.With(identity.Middleware).Get("/ws/{"+identity.UserIDParam+"}", wsHandler.ServeHTTP)

	// WebSocket sessions are long lived, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	if cfg.GRPCHealthPort != "" {
		grpcHealth := probe.NewGRPCServer(checker, 10*time.Second, logger)
		go func() {
			if err := grpcHealth.Serve(healthCtx, ":"+cfg.GRPCHealthPort); err != nil {
				errCh <- err
			}
		}()
	}

	// Wait for shutdown signal.
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sessions.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Sessions did not close in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	stopHealth()
	if err := sweeper.Stop(shutdownCtx); err != nil {
		slog.Warn("Retention janitor did not stop in time", "error", err)
	}

	slog.Info("Server stopped")
	return runErr
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
