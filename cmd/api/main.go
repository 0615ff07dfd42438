package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tribuna/internal/api"
	"tribuna/internal/config"
	"tribuna/internal/database"
	"tribuna/internal/domain"
	"tribuna/internal/events"
	"tribuna/internal/logging"
	"tribuna/internal/metrics"
	"tribuna/internal/models"
	"tribuna/internal/notify"
	"tribuna/internal/repository"
	"tribuna/internal/service"
	"tribuna/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

const (
	jobTimeout      = 5 * time.Minute
	healthInterval  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	loc, err := cfg.App.Location()
	if err != nil {
		return err
	}

	stadiums, err := loadStadiums(cfg, &logger)
	if err != nil {
		return err
	}

	db, err := initDatabase(cfg, stadiums, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, seatCache := initSeatCache(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	eventBus := events.NewEventBus()
	events.RegisterAudit(eventBus, &logger)
	events.RegisterMetrics(eventBus)

	sender, senderCloser, err := notify.New(cfg.Notifications, db, &logger)
	if err != nil {
		logger.Error().Err(err).Str("channel", cfg.Notifications.Channel).Msg("init notification sender")
		return err
	}
	defer func() { _ = senderCloser.Close() }()

	notificationWorker := worker.NewNotificationWorker(db, sender, redisClient, worker.Options{
		Retry:        worker.PolicyFromConfig(cfg.Notifications.Retry),
		QueueKey:     cfg.Notifications.Worker.RedisQueue,
		PollInterval: cfg.Notifications.Worker.PollInterval,
		BatchSize:    cfg.Notifications.Worker.BatchSize,
	}, &logger)
	go notificationWorker.Start(ctx)

	settings := service.NewSettingsService(db, eventBus, cfg.Booking.ClosureLeadMinutes, &logger)
	deps := service.Deps{
		Store:    db,
		Cache:    seatCache,
		Notifier: notificationWorker,
		Events:   eventBus,
		Settings: settings,
		Logger:   &logger,
	}
	opts := service.OptionsFromConfig(cfg.Booking, loc)
	services := api.Services{
		Bookings: service.NewBookingService(deps, opts),
		Matches:  service.NewMatchService(deps, opts),
		Users:    service.NewUserService(db, &logger),
		Settings: settings,
	}

	scheduler, err := initScheduler(cfg, loc, db, service.NewSweeper(services.Matches, services.Bookings), &logger)
	if err != nil {
		return err
	}
	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(schedulerDone)
	}()

	startMetrics(ctx, cfg, &logger)

	checks := []api.HealthCheck{{Service: "store", Pinger: db, Critical: true}}
	if redisClient != nil {
		checks = append(checks, api.HealthCheck{
			Service: "seat-cache",
			Pinger:  api.PingFunc(func(ctx context.Context) error { return repository.Ping(ctx, redisClient) }),
		})
	}

	err = startServers(ctx, cfg, services, db, checks, loc, &logger)
	<-schedulerDone
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func loadStadiums(cfg *config.Config, logger *zerolog.Logger) ([]models.Stadium, error) {
	stadiumsPath := os.Getenv("STADIUMS_PATH")
	if stadiumsPath == "" {
		stadiumsPath = cfg.Seed.StadiumsFile
	}
	if stadiumsPath == "" {
		stadiumsPath = "configs/stadiums.yaml"
	}
	data, err := os.ReadFile(stadiumsPath)
	if err != nil {
		logger.Error().Err(err).Str("stadiums_path", stadiumsPath).Msg("read stadiums")
		return nil, err
	}

	var seed struct {
		Stadiums []models.Stadium `yaml:"stadiums"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		logger.Error().Err(err).Str("stadiums_path", stadiumsPath).Msg("parse stadiums")
		return nil, err
	}
	return seed.Stadiums, nil
}

func initDatabase(cfg *config.Config, stadiums []models.Stadium, logger *zerolog.Logger) (*database.DB, error) {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("create database directory")
			return nil, err
		}
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SyncStadiums(context.Background(), stadiums); err != nil {
		_ = db.Close()
		logger.Error().Err(err).Msg("sync stadiums")
		return nil, err
	}
	logger.Info().Int("stadiums", len(stadiums)).Msg("stadiums synced")
	return db, nil
}

// initSeatCache prefers redis and falls back to process memory while redis is down.
func initSeatCache(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.SeatCache) {
	memory := repository.NewMemorySeatCache()
	if cfg.Redis.Address == "" {
		logger.Info().Msg("redis not configured, using in-memory seat cache")
		return nil, memory
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, seat cache starts on memory")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}

	cache := repository.NewFailoverSeatCache(repository.NewRedisSeatCache(redisClient), memory, logger)
	return redisClient, cache
}

func initScheduler(
	cfg *config.Config,
	loc *time.Location,
	db *database.DB,
	sweeper *service.Sweeper,
	logger *zerolog.Logger,
) (*service.Scheduler, error) {
	scheduler := service.NewScheduler(loc, jobTimeout, logging.Component(logger, "scheduler"))

	err := scheduler.AddJob(cfg.Booking.SweepSchedule, "lifecycle-sweep", func(ctx context.Context) error {
		res, err := sweeper.Sweep(ctx)
		if res != (service.SweepResult{}) {
			logger.Info().
				Int("started", res.Started).
				Int("completed", res.Completed).
				Int("bookings_completed", res.BookingsCompleted).
				Int("bookings_expired", res.BookingsExpired).
				Int("errors", res.Errors).
				Msg("lifecycle sweep")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if cfg.Backup.Enabled {
		err = scheduler.AddJob(cfg.Backup.Schedule, "database-backup", func(ctx context.Context) error {
			if _, err := db.Backup(ctx, cfg.Backup.StoragePath); err != nil {
				return err
			}
			removed, err := db.CleanupBackups(cfg.Backup.StoragePath, cfg.Backup.RetentionDays)
			if err != nil {
				return err
			}
			if removed > 0 {
				logger.Info().Int("removed", removed).Msg("old backups removed")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return scheduler, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	cfg *config.Config,
	services api.Services,
	db *database.DB,
	checks []api.HealthCheck,
	loc *time.Location,
	logger *zerolog.Logger,
) error {
	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		srv, err := api.NewGRPCServer(cfg.API, checks, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		grpcServer = srv
		go func() {
			if err := grpcServer.Serve(ctx, healthInterval); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	var httpServer *api.HTTPServer
	if cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, services, db, loc, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Bool("http", cfg.API.HTTP.Enabled).
		Int("http_port", cfg.API.HTTP.Port).
		Bool("grpc", cfg.API.GRPC.Enabled).
		Int("grpc_port", cfg.API.GRPC.Port).
		Msg("tribuna started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
	}

	logger.Info().Msg("tribuna stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
