package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/echo-project/echo-signal/internal/adapters/http"
	signaladapter "github.com/echo-project/echo-signal/internal/adapters/signal"
	"github.com/echo-project/echo-signal/internal/app"
	"github.com/echo-project/echo-signal/internal/app/call"
	"github.com/echo-project/echo-signal/internal/auth"
	"github.com/echo-project/echo-signal/internal/config"
	"github.com/echo-project/echo-signal/internal/presence"
	"github.com/echo-project/echo-signal/internal/store"
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
		log.Fatal().Err(err).Msg("failed to load config")
	}

	presenceStore := openPresence(cfg)
	dataStore := openStore(cfg)
	defer dataStore.Close()
	verifier := buildVerifier(cfg)

	reg := app.NewRegistry(presenceStore)
	tracker := app.NewRoomTracker(reg, presenceStore)
	relay := app.NewRelay(reg, dataStore)
	callLog := call.NewLog(cfg.CallLogCap)
	orch := call.NewOrchestrator(reg, callLog, cfg.RingTimeout)
	limiter := app.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)

	ctl := signaladapter.NewController(cfg, reg, tracker, relay, orch)

	r := router.SetupRouter(ctx, router.Deps{
		Cfg:      cfg,
		Signal:   ctl,
		Store:    dataStore,
		CallLog:  callLog,
		Verifier: verifier,
		Limiter:  limiter,
		Presence: presenceStore,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("echo-signal server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// openPresence picks the shared presence backend: NATS KV when an URL is
// configured and reachable, in-process memory otherwise.
func openPresence(cfg *config.Config) presence.SetStore {
	if cfg.NATSURL == "" {
		return presence.NewMemory()
	}
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("echo-signal"))
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.NATSURL).Msg("NATS unreachable, using in-memory presence")
		return presence.NewMemory()
	}
	kv, err := presence.NewKV(nc)
	if err != nil {
		log.Warn().Err(err).Msg("NATS KV unavailable, using in-memory presence")
		return presence.NewMemory()
	}
	return kv
}

// openStore opens the durable store, degrading to the in-memory fallback
// so a broken data dir never keeps the relay down.
func openStore(cfg *config.Config) store.Store {
	st, err := store.OpenSQLite(cfg.StorePath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.StorePath).Msg("sqlite store unavailable, using in-memory fallback")
		return store.NewMemory()
	}
	log.Info().Str("path", cfg.StorePath).Msg("sqlite store ready")
	return st
}

// buildVerifier prefers the external token service; without one, tokens
// are verified in-process with the same HS256/kid scheme.
func buildVerifier(cfg *config.Config) auth.Verifier {
	if cfg.AuthURL != "" {
		log.Info().Str("url", cfg.AuthURL).Msg("using remote token verifier")
		return auth.NewRemote(cfg.AuthURL)
	}
	local, err := auth.NewLocal(cfg.JWTSecrets, cfg.JWTActiveKID)
	if err != nil {
		log.Fatal().Err(err).Msg("token verifier setup")
	}
	return local
}
