package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"

	"luadrop/pkg/blob"
	"luadrop/pkg/bus"
	"luadrop/pkg/cache"
	"luadrop/pkg/db"
	"luadrop/pkg/render"
	"luadrop/pkg/telemetry"
	"luadrop/services/distributor"
)

type config struct {
	Addr          string        `env:"ADDR, default=:8081"`
	DatabaseDSN   string        `env:"DB_DSN, required"`
	NATSURL       string        `env:"NATS_URL"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `env:"LOOKUP_CACHE_TTL, default=30s"`
	PublicBaseURL string        `env:"PUBLIC_BASE_URL"`
}

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "distributor").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	shutdownTelemetry, traceMiddleware, err := telemetry.Init(ctx, "distributor", log)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}

	pool, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	blobClient, err := blob.NewClientFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("init object store")
	}

	pages, err := render.New()
	if err != nil {
		log.Fatal().Err(err).Msg("init templates")
	}

	var usage distributor.UsageRecorder
	if cfg.NATSURL != "" {
		events, err := bus.New(cfg.NATSURL, nats.Name("distributor"))
		if err != nil {
			log.Fatal().Err(err).Msg("connect message bus")
		}
		defer events.Close()
		usage = distributor.NewBusRecorder(events, log)
	} else {
		log.Warn().Msg("NATS_URL unset, counting usage in-process")
		usage = distributor.NewDirectRecorder(pool, log)
	}

	resolver := distributor.NewPGResolver(pool)
	if cfg.RedisAddr != "" {
		lookup, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer lookup.Close()
		resolver = distributor.NewCachedResolver(lookup, resolver, log)
	}

	proxy, err := distributor.New(resolver, usage, blobClient, pages, pool, cfg.PublicBaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init proxy")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           traceMiddleware(proxy.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", cfg.Addr).Msg("distributor listening")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
		if err := shutdownTelemetry(shutCtx); err != nil {
			log.Error().Err(err).Msg("telemetry shutdown")
		}
	}
}
