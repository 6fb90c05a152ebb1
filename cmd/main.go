package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quantara/signal-engine/broker"
	"github.com/quantara/signal-engine/broker/binance"
	"github.com/quantara/signal-engine/internal/config"
	"github.com/quantara/signal-engine/internal/database"
	"github.com/quantara/signal-engine/internal/engine"
	"github.com/quantara/signal-engine/internal/gateway"
	"github.com/quantara/signal-engine/internal/insight"
	"github.com/quantara/signal-engine/internal/ledger"
	"github.com/quantara/signal-engine/internal/logger"
	"github.com/quantara/signal-engine/internal/notify"
	"github.com/quantara/signal-engine/internal/outcome"
	"github.com/quantara/signal-engine/internal/registry"
	"github.com/quantara/signal-engine/internal/risk"
	"github.com/quantara/signal-engine/internal/routes"
)

func main() {
	// Parse command line flags
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Printf("Failed to load config from %s, using defaults: %v", *configFile, err)
		cfg = config.Default()
	}

	zlog, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize database
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		zlog.Fatal("failed to open database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zlog.Fatal("failed to migrate database", zap.Error(err))
	}

	ctx := context.Background()

	// Select and initialize the execution client
	client, err := newExecutionClient(ctx, cfg)
	if err != nil {
		zlog.Fatal("failed to initialize broker client", zap.Error(err))
	}
	defer client.Close()

	// Wire the signal processing pipeline
	reg := registry.NewService(db, zlog)
	gate := risk.NewGate(db, zlog)
	led := ledger.NewLedger(db, zlog)
	tracker := outcome.NewTracker(db, zlog, cfg.Outcomes.BreakevenEpsilonPercent)
	dispatcher := notify.NewDispatcher(db, zlog, cfg.Notifications)
	eng := engine.New(db, zlog, cfg.Engine, client, gate, led, tracker, dispatcher)
	insights := insight.NewEngine(db, zlog, cfg.Insights)

	// Background workers
	go insights.Run(ctx)
	go dispatcher.RunDailySummaries(ctx)

	// Set up Gin
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	r.Use(gin.Recovery())

	handler := gateway.NewHandler(reg, eng, led, tracker, insights, gate, zlog)
	routes.SetupRoutes(r, handler)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	zlog.Info("starting server",
		zap.String("addr", addr),
		zap.String("broker", client.Name()),
		zap.String("webhook", fmt.Sprintf("http://%s/api/v1/webhook/:token", addr)))

	if err := r.Run(addr); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}

// newExecutionClient builds the configured broker backend. The simulated
// backend exists for local runs without exchange credentials.
func newExecutionClient(ctx context.Context, cfg *config.Config) (broker.ExecutionClient, error) {
	switch cfg.Broker.Name {
	case "sim":
		return broker.NewSimulator(), nil
	case "binance", "":
		client := binance.NewClient(cfg.Broker.Testnet, cfg.Broker.RateLimit, cfg.Broker.RateLimitBurst)
		err := client.Initialize(ctx, &broker.Credentials{
			APIKey:    cfg.Broker.APIKey,
			SecretKey: cfg.Broker.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Broker.Name)
	}
}
