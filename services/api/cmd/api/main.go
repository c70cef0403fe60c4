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
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"luadrop/pkg/blob"
	"luadrop/pkg/cache"
	"luadrop/pkg/db"
	"luadrop/pkg/telemetry"
	"luadrop/services/api"
)

type config struct {
	Addr           string        `env:"ADDR, default=:8080"`
	DatabaseDSN    string        `env:"DB_DSN, required"`
	JWTSigningKey  string        `env:"JWT_SIGNING_KEY, required"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS"`
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	CacheTTL       time.Duration `env:"LOOKUP_CACHE_TTL, default=30s"`
}

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	shutdownTelemetry, traceMiddleware, err := telemetry.Init(ctx, "api", log)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}

	pool, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	orm, err := gorm.Open(gormpostgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open orm")
	}

	blobClient, err := blob.NewClientFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("init object store")
	}

	var lookup *cache.Lookup
	if cfg.RedisAddr != "" {
		lookup, err = cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer lookup.Close()
	}

	app, err := api.New(&api.Store{ORM: orm, Pool: pool, Blob: blobClient, Cache: lookup}, api.Config{
		JWTSigningKey:  cfg.JWTSigningKey,
		AllowedOrigins: cfg.AllowedOrigins,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}

	routes, err := app.Routes()
	if err != nil {
		log.Fatal().Err(err).Msg("build routes")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           traceMiddleware(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", cfg.Addr).Msg("api listening")

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
