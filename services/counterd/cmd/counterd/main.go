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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"

	"luadrop/pkg/bus"
	"luadrop/pkg/db"
	"luadrop/services/counterd"
)

type config struct {
	DatabaseDSN string `env:"DB_DSN, required"`
	NATSURL     string `env:"NATS_URL, required"`
	MetricsAddr string `env:"METRICS_ADDR, default=:9102"`
}

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "counterd").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	pool, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	events, err := bus.New(cfg.NATSURL, nats.Name("counterd"))
	if err != nil {
		log.Fatal().Err(err).Msg("connect message bus")
	}
	defer events.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	log.Info().Str("subject", bus.UsageSubject).Msg("counterd consuming")
	if err := counterd.New(pool, log).Run(ctx, events); err != nil {
		log.Fatal().Err(err).Msg("consumer failed")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutCtx)
	log.Info().Msg("counterd stopped")
}
