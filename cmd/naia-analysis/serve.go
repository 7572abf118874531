package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/naia-systems/naia-stack/internal/cache"
	"github.com/naia-systems/naia-stack/internal/config"
	"github.com/naia-systems/naia-stack/internal/feedback"
	"github.com/naia-systems/naia-stack/internal/logging"
	"github.com/naia-systems/naia-stack/internal/messaging"
	"github.com/naia-systems/naia-stack/internal/metrics"
	"github.com/naia-systems/naia-stack/internal/pipeline"
	"github.com/naia-systems/naia-stack/internal/repository"
	"github.com/naia-systems/naia-stack/internal/scheduler"
	"github.com/naia-systems/naia-stack/internal/server"
	"github.com/naia-systems/naia-stack/internal/tsdb"
)

var serveMigrationsPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, log)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveMigrationsPath, "migrations", "migrations", "path to migration files")
}

func serve(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	if err := runMigrations(cfg, serveMigrationsPath); err != nil {
		return err
	}
	log.InfoContext(ctx, "database migrations applied")

	repo, err := repository.NewPostgresRepository(ctx, cfg.Database.Postgres.ConnString())
	if err != nil {
		return fmt.Errorf("metadata store: %w", err)
	}
	defer repo.Close()

	samples, err := tsdb.NewClient(ctx, cfg.TSDB.QuestDB.ConnString(), cfg.TSDB.QuestDB.Table)
	if err != nil {
		return fmt.Errorf("sample store: %w", err)
	}
	defer samples.Close()

	redisClient, redisEnabled := connectRedis(ctx, cfg.Redis, log)
	if redisClient != nil {
		defer redisClient.Close()
	}
	behaviorCache := cache.NewBehaviorCache(redisClient, redisEnabled, cfg.Behavior.CacheTTL)
	stageLock := cache.NewStageLock(redisClient, redisEnabled)

	var pub messaging.Publisher = messaging.Noop{}
	var bridge *feedback.Bridge
	if cfg.NATS.Enabled {
		natsCfg := messaging.DefaultNATSConfig(cfg.NATS.URL)
		natsCfg.MaxRetries = cfg.NATS.MaxRetries
		natsPub, err := messaging.NewNATSPublisher(ctx, natsCfg)
		if err != nil {
			return fmt.Errorf("event publisher: %w", err)
		}
		defer natsPub.Close()
		pub = natsPub

		bridge = feedback.NewBridge(natsPub.Conn(), repo, repo, log)
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("feedback bridge: %w", err)
		}
		defer bridge.Stop()
	} else {
		log.WarnContext(ctx, "event bus disabled, suggestions will not reach reviewers")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	stageMetrics := metrics.New(registry)

	sched := scheduler.New(stageLock, scheduler.Config{LockTimeout: cfg.Scheduler.LockTimeout}, stageMetrics, log)
	sched.Register(
		pipeline.NewBehaviorStage(cfg.Behavior, repo, repo, samples, behaviorCache, pub, log),
		cfg.Behavior.Interval)
	sched.Register(
		pipeline.NewCorrelationStage(cfg.Correlation, repo, repo, samples, behaviorCache, pub, log, ""),
		cfg.Correlation.Interval)
	sched.Register(
		pipeline.NewClusterStage(cfg.Cluster, repo, repo, repo, pub, log),
		cfg.Cluster.Interval)
	sched.Register(
		pipeline.NewMatchStage(cfg.Match, repo, repo, repo, repo, behaviorCache, pub, log),
		cfg.Match.Interval)
	sched.Register(
		pipeline.NewLearnStage(cfg.Learn, repo, repo, repo, pub, log),
		cfg.Learn.Interval)
	sched.Register(
		pipeline.NewMaintenanceStage(cfg.Maintenance, repo, repo, behaviorCache, log),
		cfg.Maintenance.Interval)

	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	if err := sched.Start(schedCtx); err != nil {
		return err
	}

	checks := map[string]server.CheckFunc{
		"postgres": repo.Ping,
		"questdb":  samples.Ping,
	}
	srv := server.New(cfg.Server, registry, checks, log)

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.InfoContext(ctx, "shutting down", "signal", sig.String())
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	cancelSched()
	if err := sched.Stop(); err != nil {
		log.WarnContext(ctx, "scheduler stop failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	log.InfoContext(ctx, "stopped cleanly")
	return nil
}

// connectRedis dials Redis when enabled. The cache and stage lock degrade
// gracefully, so a failed connection logs a warning rather than aborting
// startup.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logging.Logger) (*redis.Client, bool) {
	if !cfg.Enabled {
		return nil, false
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.WarnContext(ctx, "invalid redis url, running without cache", "error", err)
		return nil, false
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WarnContext(ctx, "redis unreachable, running without cache", "error", err)
		client.Close()
		return nil, false
	}
	return client, true
}

func runMigrations(cfg *config.Config, path string) error {
	m, err := migrate.New("file://"+path, cfg.Database.Postgres.ConnString())
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
