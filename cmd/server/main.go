package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/smartcity/hardbruecke/internal/config"
	"github.com/smartcity/hardbruecke/internal/dataset"
	"github.com/smartcity/hardbruecke/internal/delivery/http"
	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/internal/model"
	"github.com/smartcity/hardbruecke/internal/pipeline"
	"github.com/smartcity/hardbruecke/internal/repository/postgres"
	"github.com/smartcity/hardbruecke/internal/repository/sqlite"
	"github.com/smartcity/hardbruecke/internal/service"
	"github.com/smartcity/hardbruecke/pkg/logger"
	"github.com/smartcity/hardbruecke/pkg/metrics"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logger.Init(cfg.LogFormat); err != nil {
		log.Fatalf("Logger: %v", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Fatalf("Logger: %v", err)
	}
	lg := logger.Named("main")

	// Dependency Injection: Repositories
	dataRepo, closeRepo := openRepository(ctx, cfg, lg)
	defer closeRepo()

	// Dependency Injection: Regressor
	regressor, featureOrder, modelCheck := loadRegressor(ctx, cfg, lg)

	zurich, _ := time.LoadLocation(cfg.Timezone) // validated by config.Load
	resources := service.Resources(cfg.Resources)
	if err := resources.Validate(); err != nil {
		log.Fatalf("Invalid resources: %v", err)
	}

	opts := []service.PredictionOption{
		service.WithFeatureOrder(featureOrder),
		service.WithResources(resources),
		service.WithClock(func() time.Time { return time.Now().In(zurich) }),
	}
	if cfg.DatasetPath != "" {
		ds, err := dataset.LoadCSV(cfg.DatasetPath)
		if err != nil {
			lg.Warn(ctx, "dataset not loaded, using the open data API only", logger.Error(err))
		} else {
			lg.Info(ctx, "dataset loaded", logger.String("path", cfg.DatasetPath), logger.Int("records", ds.Len()))
			opts = append(opts, service.WithDataset(ds))
		}
	}

	// Dependency Injection: Services
	openData := service.NewOpenDataClient(cfg.OpenDataURL, cfg.OpenDataTimeout())
	predictionSvc := service.NewPredictionService(pipeline.DefaultLocations(), regressor, openData, dataRepo, opts...)
	historySvc := service.NewHistoryService(openData, resources, logger.Named("history"))

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName:      "Hardbruecke API v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: http.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))
	app.Use(http.MetricsMiddleware(metrics.Default()))

	// Routes
	checks := map[string]http.HealthChecker{"storage": dataRepo}
	if modelCheck != nil {
		checks["model"] = modelCheck
	}
	handler := http.NewHandler(predictionSvc, historySvc, checks)
	http.SetupRoutes(app, handler, metrics.GetRegistry())

	// Graceful shutdown
	go func() {
		lg.Info(ctx, "server starting", logger.String("port", cfg.Port), logger.String("env", cfg.Env))
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info(ctx, "shutting down server")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		lg.Error(ctx, "server forced to shutdown", logger.Error(err))
	}
	predictionSvc.WaitBackground()
	lg.Info(ctx, "server exited gracefully")
}

// openRepository selects the configured storage and falls back to memory
// when it cannot be opened.
func openRepository(ctx context.Context, cfg *config.Config, lg logger.Logger) (service.DataRepository, func()) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.Storage {
	case config.StoragePostgres:
		if cfg.DatabaseURL == "" {
			lg.Warn(ctx, "database_url not set, running with in-memory storage")
			break
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			lg.Warn(ctx, "could not connect to database, running with in-memory storage", logger.Error(err))
			break
		}
		repo := postgres.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			lg.Warn(ctx, "could not ensure schema", logger.Error(err))
		}
		lg.Info(ctx, "connected to PostgreSQL")
		return repo, pool.Close
	case config.StorageSQLite:
		repo, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			lg.Warn(ctx, "could not open sqlite, running with in-memory storage", logger.Error(err))
			break
		}
		lg.Info(ctx, "opened SQLite database", logger.String("path", cfg.SQLitePath))
		return repo, func() { _ = repo.Close() }
	}
	return postgres.NewMockRepository(), func() {}
}

// loadRegressor prefers an exported tree, whose feature names then fix the
// input order, over the remote model service.
func loadRegressor(ctx context.Context, cfg *config.Config, lg logger.Logger) (domain.Regressor, []string, http.HealthChecker) {
	if cfg.ModelPath != "" {
		tree, err := model.Load(cfg.ModelPath)
		if err == nil {
			lg.Info(ctx, "decision tree loaded",
				logger.String("path", cfg.ModelPath),
				logger.Any("feature_order", tree.FeatureNames()))
			return tree, tree.FeatureNames(), nil
		}
		lg.Warn(ctx, "decision tree not loaded, using model service", logger.Error(err))
	}
	if cfg.MLServiceURL == "" {
		log.Fatal("Neither model_path nor ml_service_url is configured")
	}
	bridge := service.NewMLBridge(cfg.MLServiceURL)
	return bridge, cfg.FeatureOrder, bridge
}
