package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/events"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/kafka"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/linkage"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/mongo"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/progress"
	redisstore "github.com/sol-namoo/monthlyGrow-sub000/internal/redis"
	"github.com/sol-namoo/monthlyGrow-sub000/pkg/telemetry"
	"github.com/sol-namoo/monthlyGrow-sub000/services/tracker"
	"github.com/sol-namoo/monthlyGrow-sub000/services/tracker/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the progress tracker",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("kafka-topic", "tasks.completed", "completion feed topic")
	serveCmd.Flags().String("kafka-group-id", "progress-tracker", "consumer group id")
	serveCmd.Flags().String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	serveCmd.Flags().String("mongo-database", "monthlygrow", "MongoDB database name")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("metrics-addr", ":9094", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("kafka_topic", serveCmd.Flags(), "kafka-topic")
	bindFlag("kafka_group_id", serveCmd.Flags(), "kafka-group-id")
	bindFlag("mongo_uri", serveCmd.Flags(), "mongo-uri")
	bindFlag("mongo_database", serveCmd.Flags(), "mongo-database")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("mongo_uri", "MONGO_URI")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "tracker")
	instanceID := "tracker-" + uuid.New().String()[:8]

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "tracker", cfg.OTelEndpoint)
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
	tasks := mongo.NewTaskStore(db)
	ledger := redisstore.NewCompletionLedger(redisClient)

	sync := linkage.NewSynchronizer(periods, items, logger)
	trk := progress.NewTracker(periods, items, tasks, ledger, sync, logger)

	registry := events.NewRegistry()
	registry.Register(progress.NewHandler(trk, logger))

	brokers := strings.Split(cfg.KafkaBrokers, ",")
	consumer := kafka.NewConsumer(brokers, cfg.KafkaTopic, cfg.KafkaGroupID, logger)
	defer func() { _ = consumer.Close() }()

	svc := tracker.NewService(consumer, registry, instanceID, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down...")
		runCancel()
	}()

	logger.Info("tracker starting",
		slog.String("instance_id", instanceID),
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group_id", cfg.KafkaGroupID),
	)
	if err := svc.Run(runCtx); err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	logger.Info("stopped")
	return nil
}
