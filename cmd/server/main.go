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

	router "github.com/sanctumlive/sanctum/internal/adapters/http"
	"github.com/sanctumlive/sanctum/internal/adapters/media"
	wsignal "github.com/sanctumlive/sanctum/internal/adapters/signal"
	"github.com/sanctumlive/sanctum/internal/app"
	"github.com/sanctumlive/sanctum/internal/config"
	"github.com/sanctumlive/sanctum/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	dispatcher := app.NewDispatcher(cfg.Dispatch.QueueSize, app.SimplePolicy{})
	registry := app.NewSessionRegistry(ctx, dispatcher, core.LivenessConfig{
		HeartbeatTimeout: cfg.Liveness.HeartbeatTimeout(),
		GracePeriod:      cfg.Liveness.GracePeriod,
		TickInterval:     cfg.Liveness.TickInterval,
	})
	go registry.Sweep(cfg.Session.SweepInterval)

	provider := media.NewJWTProvider(cfg.Audio.AppID, []byte(cfg.Audio.Secret), cfg.Audio.TokenTTL)
	audio := app.NewAudioCoordinator(provider, registry, app.AudioConfig{
		RenewMargin:       cfg.Audio.RenewMargin,
		MaxRetries:        cfg.Audio.MaxRetries,
		ReconnectAttempts: cfg.Audio.ReconnectAttempts,
	})

	stream := wsignal.NewStreamController(registry, dispatcher, audio, wsignal.NewCommandRateLimiter(30, time.Second))
	stream.ReadLimit = cfg.ReadLimit

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Sessions: registry,
		Audio:    audio,
		Stream:   stream,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Sanctum server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	registry.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
