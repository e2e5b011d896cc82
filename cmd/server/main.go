package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dasnai88/KTK-messedger-sub000/internal/adapters/auth"
	router "github.com/dasnai88/KTK-messedger-sub000/internal/adapters/http"
	"github.com/dasnai88/KTK-messedger-sub000/internal/adapters/push"
	"github.com/dasnai88/KTK-messedger-sub000/internal/adapters/store/memory"
	"github.com/dasnai88/KTK-messedger-sub000/internal/adapters/store/postgres"
	"github.com/dasnai88/KTK-messedger-sub000/internal/app"
	"github.com/dasnai88/KTK-messedger-sub000/internal/app/orch"
	"github.com/dasnai88/KTK-messedger-sub000/internal/config"
	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("CONFIG_ENV") == "" || os.Getenv("CONFIG_ENV") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	stores, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open stores")
	}
	defer closeStores()

	dispatcher, closeDispatcher, err := openDispatcher(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up push")
	}
	defer closeDispatcher()

	authn, err := openAuth(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up auth")
	}
	defer authn.Close()

	o := orch.New(stores, dispatcher, orch.Options{
		TypingTTL: cfg.TypingTTL,
		ICEGrace:  cfg.ICEGrace,
		Policy:    app.SimplePolicy{},
	})

	r := router.SetupRouter(ctx, cfg, o, authn)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("real-time server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Int("calls", o.Calls.Active()).Int("online", o.Registry.Count()).Msg("Server exited gracefully")
}

func openStores(ctx context.Context, cfg *config.Config) (orch.Stores, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Str("module", "main").Msg("no database_url, using in-memory stores")
		m := memory.NewStore()
		return orch.Stores{Members: m, Blocks: m, Reads: m, Push: m}, func() {}, nil
	}
	pg, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return orch.Stores{}, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return orch.Stores{}, nil, err
	}
	return orch.Stores{Members: pg, Blocks: pg, Reads: pg, Push: pg}, func() { _ = pg.Close() }, nil
}

func openDispatcher(cfg *config.Config) (core.PushDispatcher, func(), error) {
	if cfg.NatsURL == "" {
		return push.NewLogDispatcher(), func() {}, nil
	}
	nc, err := push.Connect(cfg.NatsURL, "ktk-realtime")
	if err != nil {
		return nil, nil, err
	}
	return push.NewNatsDispatcher(nc, cfg.Push.Subject), func() { _ = nc.Drain() }, nil
}

func openAuth(ctx context.Context, cfg *config.Config) (*auth.JWTAuthenticator, error) {
	if cfg.Auth.JWKSURL != "" {
		return auth.NewJWKS(ctx, cfg.Auth.JWKSURL, cfg.Auth.Issuer)
	}
	return auth.NewHMAC(cfg.Auth.Secret, cfg.Auth.Issuer)
}
