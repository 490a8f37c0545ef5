package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/callbridge/internal/api/http"
	"github.com/spec-kit/callbridge/internal/api/http/handlers"
	"github.com/spec-kit/callbridge/internal/backend"
	_ "github.com/spec-kit/callbridge/internal/backend/openproject"
	_ "github.com/spec-kit/callbridge/internal/backend/postgres"
	"github.com/spec-kit/callbridge/internal/config"
	"github.com/spec-kit/callbridge/internal/directory"
	"github.com/spec-kit/callbridge/internal/directory/carddav"
	"github.com/spec-kit/callbridge/internal/events"
	"github.com/spec-kit/callbridge/internal/observability"
	"github.com/spec-kit/callbridge/internal/persistence"
	"github.com/spec-kit/callbridge/internal/service"
	"github.com/spec-kit/callbridge/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticketBackend, err := backend.Open(ctx, cfg.Call.Backend, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open ticket backend", zap.String("backend", cfg.Call.Backend), zap.Error(err))
	}
	defer ticketBackend.Close()

	dir, err := newDirectory(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init directory", zap.Error(err))
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()
	deduper := persistence.NewDeduper(redis, cfg.Call.DedupTTL(), logger)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Call.NotifyWebhookURL)
	notificationService.RegisterHandlers()

	callService := service.NewCallService(cfg.Call, service.CallDependencies{
		Backend:    ticketBackend,
		Directory:  dir,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	})

	var callWorker *worker.CallWorker
	if !cfg.Call.Sync {
		callWorker = worker.StartCallWorker(ctx, callService, logger, cfg.Call.QueueSize)
		defer callWorker.Close()
	}

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, ticketBackend, redis, metrics)
	webhookHandler := handlers.NewWebhookHandler(callService, callWorker, deduper, logger, cfg.Call.Sync)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  healthHandler,
		Webhook: webhookHandler,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func newDirectory(cfg *config.Config, logger *zap.Logger) (directory.Directory, error) {
	switch cfg.Directory.Kind {
	case "carddav":
		if cfg.CardDAV.BaseURL == "" {
			return nil, fmt.Errorf("CARDDAV_BASE_URL required for the carddav directory")
		}
		return carddav.New(cfg.CardDAV, logger), nil
	case "static":
		return directory.LoadStatic(cfg.Directory.StaticPath, cfg.CardDAV.MinSuffixDigits)
	case "none", "":
		return directory.Noop(), nil
	default:
		return nil, fmt.Errorf("unknown directory kind %q", cfg.Directory.Kind)
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
