package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/carryover"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/linkage"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/mongo"
	redisstore "github.com/sol-namoo/monthlyGrow-sub000/internal/redis"
	"github.com/sol-namoo/monthlyGrow-sub000/pkg/telemetry"
	"github.com/sol-namoo/monthlyGrow-sub000/services/scheduler"
	"github.com/sol-namoo/monthlyGrow-sub000/services/scheduler/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the carry-over scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	serveCmd.Flags().String("mongo-database", "monthlygrow", "MongoDB database name")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("cadence", "0 2 * * *", "cron expression for carry-over passes")
	serveCmd.Flags().String("metrics-addr", ":9093", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("mongo_uri", serveCmd.Flags(), "mongo-uri")
	bindFlag("mongo_database", serveCmd.Flags(), "mongo-database")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("cadence", serveCmd.Flags(), "cadence")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("mongo_uri", "MONGO_URI")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "scheduler")
	instanceID := "scheduler-" + uuid.New().String()[:8]

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "scheduler", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := mongo.Connect(initCtx, cfg.MongoURI, cfg.MongoDatabase)
	cancel()
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	defer func() { _ = db.Client().Disconnect(context.Background()) }()

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	periods := mongo.NewPeriodStore(db)
	items := mongo.NewWorkItemStore(db)
	settings := redisstore.NewSettingsStore(redisClient)
	sync := linkage.NewSynchronizer(periods, items, logger)
	runner := carryover.NewRunner(periods, items, settings, sync, logger,
		carryover.WithTxnRunner(mongo.NewTxnRunner(db)))

	sched, err := scheduler.NewScheduler(runner, redisClient, cfg.Cadence, instanceID, logger)
	if err != nil {
		return fmt.Errorf("parse cadence %q: %w", cfg.Cadence, err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down...")
		runCancel()
	}()

	logger.Info("scheduler starting",
		slog.String("instance_id", instanceID),
		slog.String("cadence", cfg.Cadence),
	)
	sched.Run(runCtx)
	logger.Info("stopped")
	return nil
}
