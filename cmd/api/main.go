package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/nico-hl/ticketkp/internal/api/http"
	"github.com/nico-hl/ticketkp/internal/api/http/handlers"
	"github.com/nico-hl/ticketkp/internal/app"
	"github.com/nico-hl/ticketkp/internal/config"
	"github.com/nico-hl/ticketkp/internal/observability"
	"github.com/nico-hl/ticketkp/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger, app.Options{RunMigrations: cfg.Postgres.RunMigrations})
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	notifications := service.NewNotificationService(a.Dispatcher, logger, cfg.Notification)
	notifications.RegisterHandlers()

	metrics := observability.NewMetrics()
	server := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		BodyLimit:             bodyLimit(cfg.Attachments),
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(server, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(server, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, a.Pingers()),
		Metrics: handlers.NewMetricsHandler(metrics),
		Tickets: handlers.NewTicketsHandler(a.Tickets, handlers.UploadLimits{
			MaxBytes: cfg.Attachments.MaxBytes,
			MaxFiles: cfg.Attachments.MaxFiles,
		}),
		Files: handlers.NewFilesHandler(a.Tickets, a.Signer),
	})

	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.App.Addr()),
			zap.String("storage", cfg.Storage.Backend),
			zap.String("attachments", cfg.Attachments.Backend))
		if err := server.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

// bodyLimit admits a full create request: every file at its limit plus form fields.
func bodyLimit(cfg config.AttachmentConfig) int {
	files := cfg.MaxFiles
	if files < 1 {
		files = 1
	}
	return int(cfg.MaxBytes)*files + 1<<20
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
