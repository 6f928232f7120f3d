package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medsim/regsim/internal/config"
	"github.com/medsim/regsim/internal/db"
	"github.com/medsim/regsim/internal/hospital"
	"github.com/medsim/regsim/internal/mitosis"
	redisclient "github.com/medsim/regsim/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg.Env).With().Str("service", "mitosis-worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		repo   hospital.Repository
		locker redisclient.Locker
	)

	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()
		repo = hospital.NewPgRepository(pool)

		rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	case config.DriverMemory:
		// A standalone worker over a memory store resets nothing shared; it
		// exists for local smoke runs only.
		repo = hospital.NewMemoryRepository()
		locker = redisclient.NewLocalLocker()
	}

	engine := mitosis.NewEngine(repo, locker, cfg.MitosisRetention, logger)

	logger.Info().
		Dur("interval", cfg.MitosisInterval).
		Dur("retention", cfg.MitosisRetention).
		Msg("mitosis worker started")

	ticker := time.NewTicker(cfg.MitosisInterval)
	defer ticker.Stop()

	// First check immediately so a worker restart does not delay an overdue run.
	tick(ctx, engine, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("mitosis worker stopping")
			return
		case <-ticker.C:
			tick(ctx, engine, logger)
		}
	}
}

func tick(ctx context.Context, engine *mitosis.Engine, logger zerolog.Logger) {
	due, err := engine.ShouldRun(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to check run recency")
		return
	}
	if !due.ShouldRun {
		logger.Debug().Str("reason", due.Reason).Msg("skipping run")
		return
	}

	result, err := engine.Run(ctx)
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			logger.Info().Msg("another mitosis run in progress, skipping")
			return
		}
		logger.Error().Err(err).Msg("mitosis run failed")
		return
	}

	logger.Info().
		Int("patients_deleted", result.PatientsDeleted).
		Int("guarantors_deleted", result.GuarantorsDeleted).
		Int("hospital_accounts_deleted", result.HospitalAccountsDeleted).
		Int("templates_updated", result.TemplatesUpdated).
		Msg("mitosis run complete")
}

func newLogger(env string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
