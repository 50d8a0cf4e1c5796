package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatwire/internal/api"
	"github.com/eldtechnologies/chatwire/internal/api/middleware"
	"github.com/eldtechnologies/chatwire/internal/blob"
	"github.com/eldtechnologies/chatwire/internal/chat"
	"github.com/eldtechnologies/chatwire/internal/config"
	"github.com/eldtechnologies/chatwire/internal/handlers"
	"github.com/eldtechnologies/chatwire/internal/identity"
	"github.com/eldtechnologies/chatwire/internal/store"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	ctx := context.Background()

	var ds store.DataStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		ds = pg
		logger.Info().Msg("using postgres store")
	} else {
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open sqlite store")
		}
		ds = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
	}
	defer ds.Close()

	rs, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rs.Close()

	var idp chat.Identity
	if cfg.IdentityFile != "" {
		static, err := identity.Load(cfg.IdentityFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.IdentityFile).Msg("failed to load identity file")
		}
		idp = static
	} else {
		logger.Warn().Msg("no identity file configured, accepting any widget (development only)")
		idp = identity.NewPermissive()
	}

	blobs, err := blob.NewLocalStore(cfg.UploadDir, cfg.BaseURL)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("failed to prepare upload dir")
	}

	svc := chat.NewService(ds, rs, rs, chat.NewRedisLimiter(rs), rs, logger)

	h := handlers.New(handlers.Deps{
		Store:      ds,
		Redis:      rs,
		Streams:    rs,
		Service:    svc,
		Identity:   idp,
		Moderation: rs,
		Blobs:      blobs,
		Logger:     logger,
	})

	router := api.NewRouter(api.RouterConfig{
		Handler: h,
		Auth:    middleware.NewAuthMiddleware(idp),
		RateLimiter: middleware.NewRateLimiter(rs.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		}),
		Logger:    logger,
		UploadDir: blobs.Dir(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket streams stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}

	logger.Info().Msg("server stopped")
}
