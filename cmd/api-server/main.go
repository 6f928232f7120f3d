package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medsim/regsim/internal/api"
	"github.com/medsim/regsim/internal/beds"
	"github.com/medsim/regsim/internal/config"
	"github.com/medsim/regsim/internal/db"
	"github.com/medsim/regsim/internal/hospital"
	"github.com/medsim/regsim/internal/mitosis"
	redisclient "github.com/medsim/regsim/internal/redis"
	"github.com/medsim/regsim/internal/registration"
	"github.com/medsim/regsim/internal/seed"
	"github.com/medsim/regsim/internal/settings"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		repo   hospital.Repository
		locker redisclient.Locker
		pool   *pgxpool.Pool
		rdb    *goredis.Client
	)

	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pool, err = db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()
		repo = hospital.NewPgRepository(pool)

		rdb, err = redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	case config.DriverMemory:
		memRepo := hospital.NewMemoryRepository()
		repo = memRepo
		locker = redisclient.NewLocalLocker()

		engine := mitosis.NewEngine(repo, locker, cfg.MitosisRetention, logger)
		if err := bootstrapMemory(ctx, repo, engine, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to bootstrap in-memory data")
		}
	}

	resolver := settings.NewResolver(repo, logger)
	bedSvc := beds.NewService(repo, locker, logger)
	regValidator := registration.NewValidator(repo, logger)
	engine := mitosis.NewEngine(repo, locker, cfg.MitosisRetention, logger)

	router := api.NewRouter(api.RouterConfig{
		Resolver:     resolver,
		Beds:         bedSvc,
		Registration: regValidator,
		Mitosis:      engine,
		PgPool:       pool,
		Redis:        rdb,
		Env:          cfg.Env,
		Version:      version,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.HTTPPort).
			Str("driver", cfg.StorageDriver).
			Str("env", cfg.Env).
			Msg("api server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// bootstrapMemory seeds the static data set and template patients so the
// memory driver is usable out of the box.
func bootstrapMemory(ctx context.Context, repo hospital.Repository, engine *mitosis.Engine, logger zerolog.Logger) error {
	seedResult, err := seed.InitializeSystem(ctx, repo)
	if err != nil {
		return err
	}
	tmplResult, err := engine.InitializeTemplates(ctx)
	if err != nil {
		return err
	}
	logger.Info().
		Int("facilities", seedResult.Facilities).
		Int("beds", seedResult.Beds).
		Int("templates", tmplResult.TemplatesCreated).
		Msg("in-memory data bootstrapped")
	return nil
}

func newLogger(env string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
