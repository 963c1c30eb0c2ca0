package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teembama/clinic-scheduling/internal/api"
	"github.com/teembama/clinic-scheduling/internal/config"
	"github.com/teembama/clinic-scheduling/internal/db"
	"github.com/teembama/clinic-scheduling/internal/logging"
	"github.com/teembama/clinic-scheduling/internal/metrics"
	redisclient "github.com/teembama/clinic-scheduling/internal/redis"
	"github.com/teembama/clinic-scheduling/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("api-server", "prod", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New("api-server", cfg.Env, cfg.LogLevel)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("clinic_timezone", cfg.ClinicLocation.String()).
		Str("availability_strategy", cfg.AvailabilityStrategy).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	if cfg.AutoMigrate {
		if err := db.Migrate(rootCtx, pgPool); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		log.Info().Msg("schema applied")
	}

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	m := metrics.New()
	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	events := scheduling.MultiSink{
		scheduling.NewEventLogSink(repo),
		redisclient.NewEventPublisher(rdb, cfg.EventChannel),
	}

	svc := scheduling.NewService(repo, locker, events, log,
		scheduling.WithRecorder(m),
		scheduling.WithPublishTimeout(cfg.EventPublishTimeout),
	)
	availability := scheduling.NewAvailability(repo, cfg.ClinicLocation, log,
		scheduling.WithMonthStrategy(scheduling.MonthStrategy(cfg.AvailabilityStrategy)),
		scheduling.WithDayConcurrency(cfg.AvailabilityConcurrency),
		scheduling.WithAvailabilityRecorder(m),
	)

	health := api.NewHealthHandler(
		pgPool.Ping,
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		cfg.Env,
		cfg.Version,
	)

	router := api.NewRouter(api.RouterConfig{
		Bookings:       svc,
		Availability:   availability,
		Health:         health,
		Metrics:        m.Handler(),
		Recorder:       m,
		Logger:         log,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := newHTTPServer(cfg, router)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}

func newHTTPServer(cfg config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
