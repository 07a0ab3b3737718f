package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Relay/internal/adapters/http"
	wssignal "github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/files"
	"github.com/dkeye/Relay/internal/settings"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	store := settings.NewStore(cfg.SettingsPath)
	if err := store.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load room settings")
	}

	uploads, err := files.NewStore(cfg.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare upload dir")
	}

	orch := &app.Orchestrator{
		Registry:  core.NewRegistry(),
		Settings:  store,
		Policy:    app.SimplePolicy{},
		Limiter:   app.NewRateLimiter(cfg.AdmitLimit, cfg.AdmitWindow),
		KickGrace: cfg.KickGrace,
	}
	// Hand edits of the settings file moderate live rooms too.
	store.OnChange(func(s *domain.Settings) { orch.ApplySettings(s) })

	ws := wssignal.NewHandler(ctx, orch, wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	r := router.SetupRouter(cfg, router.Deps{
		Orch:         orch,
		Settings:     store,
		Files:        uploads,
		Signal:       ws,
		Admin:        router.NewAdminAuth(cfg.Secret, cfg.AdminTokenTTL),
		LoginLimiter: app.NewRateLimiter(10, time.Minute),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return store.Watch(gctx)
	})
	g.Go(func() error {
		return uploads.RunSweeper(gctx, cfg.SweepInterval, func() time.Duration {
			return store.Current().Retention()
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}
