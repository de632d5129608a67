// Command profiled serves the owner-scoped profile, credit, credential and address API.
package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hkinc45/dev-kitchen-session/auth"
	"github.com/hkinc45/dev-kitchen-session/config"
	"github.com/hkinc45/dev-kitchen-session/logging"
	"github.com/hkinc45/dev-kitchen-session/notice"
	"github.com/hkinc45/dev-kitchen-session/server"
	"github.com/hkinc45/dev-kitchen-session/store"
	"github.com/hkinc45/dev-kitchen-session/worker"
)

type persistence interface {
	store.Backend
	store.Provisioner
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := logging.New(logging.Options{App: "profiled"})
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(logging.Options{
		App:     "profiled",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		NoColor: cfg.LogNoColor,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open persistence")
	}

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build token verifier")
	}

	var events notice.Publisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("profiled"))
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("failed to connect to NATS")
		}
		defer nc.Drain()
		js, err := nc.JetStream()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open JetStream context")
		}
		if err := worker.EnsureStream(js, cfg.StreamName, worker.ProvisionedSubject(cfg.SubjectPrefix)); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure provisioning stream")
		}
		events = nc
	}

	if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(server.Config{
		Backend:       backend,
		Provisioner:   backend,
		Verifier:      verifier,
		Events:        events,
		SubjectPrefix: cfg.SubjectPrefix,
		Logger:        logging.Component(logger, "http"),
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()
	logger.Info().Str("addr", cfg.ListenAddr).Bool("oidc", cfg.UseOIDC()).Msg("profiled started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return
	}
	logger.Info().Msg("profiled stopped cleanly")
}

func openBackend(cfg config.Config, logger zerolog.Logger) (persistence, error) {
	if cfg.DatabaseDSN == "" {
		logger.Warn().Msg("no database configured, rows are kept in memory")
		return store.NewMemoryBackend(nil), nil
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	backend := store.NewGormBackend(db, nil)
	if err := backend.Migrate(); err != nil {
		return nil, err
	}
	return backend, nil
}

func newVerifier(ctx context.Context, cfg config.Config) (auth.TokenVerifier, error) {
	if cfg.UseOIDC() {
		return auth.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
	}
	return auth.NewMemoryProvider([]byte(cfg.JWTSecret), cfg.TokenTTL, nil), nil
}
