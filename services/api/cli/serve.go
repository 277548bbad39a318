package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/carryover"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/linkage"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/mongo"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/progress"
	redisstore "github.com/sol-namoo/monthlyGrow-sub000/internal/redis"
	"github.com/sol-namoo/monthlyGrow-sub000/pkg/telemetry"
	"github.com/sol-namoo/monthlyGrow-sub000/services/api/config"
	"github.com/sol-namoo/monthlyGrow-sub000/services/api/handler"
	"github.com/sol-namoo/monthlyGrow-sub000/services/api/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	serveCmd.Flags().String("mongo-database", "monthlygrow", "MongoDB database name")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().Int("rate-limit", 120, "mutations allowed per owner per minute")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("http_port", serveCmd.Flags(), "http-port")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("mongo_uri", serveCmd.Flags(), "mongo-uri")
	bindFlag("mongo_database", serveCmd.Flags(), "mongo-database")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("rate_limit", serveCmd.Flags(), "rate-limit")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("mongo_uri", "MONGO_URI")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "api")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "api", cfg.OTelEndpoint)
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
	settings := redisstore.NewSettingsStore(redisClient)
	ledger := redisstore.NewCompletionLedger(redisClient)
	limiter := redisstore.NewRateLimiter(redisClient, cfg.RateLimit, time.Minute)

	sync := linkage.NewSynchronizer(periods, items, logger)
	tracker := progress.NewTracker(periods, items, tasks, ledger, sync, logger)
	runner := carryover.NewRunner(periods, items, settings, sync, logger,
		carryover.WithTxnRunner(mongo.NewTxnRunner(db)))

	rest := handler.NewREST(periods, items, sync, tracker, runner, logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1MB limit
	r.Get("/healthz", rest.Healthz)
	r.Get("/readyz", rest.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter, logger))
		rest.Routes(r)
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	go func() {
		logger.Info("api HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down...")
	runCancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return nil
}
