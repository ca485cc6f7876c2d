package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/app/repository"
	apiv1 "github.com/custodix/walletcore/internal/api/v1"
	"github.com/custodix/walletcore/internal/pkg/alerts"
	"github.com/custodix/walletcore/internal/pkg/audit"
	"github.com/custodix/walletcore/internal/pkg/cache"
	"github.com/custodix/walletcore/internal/pkg/database"
	"github.com/custodix/walletcore/internal/pkg/dbsafety"
	"github.com/custodix/walletcore/internal/pkg/env"
	"github.com/custodix/walletcore/internal/pkg/locks"
	"github.com/custodix/walletcore/internal/pkg/retryengine"
	"github.com/custodix/walletcore/internal/pkg/router"
	"github.com/custodix/walletcore/internal/pkg/txsafety"
	"github.com/custodix/walletcore/internal/pkg/validator"
	"github.com/custodix/walletcore/internal/pkg/webhookqueue"
)

func main() {
	app, shutdown := NewApplication()
	defer shutdown()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		fiberlog.Info("[Main] Shutting down...")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires every subsystem and returns the HTTP app plus a
// shutdown function that stops background workers in dependency order.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	if err := models.LoadSettings(database.GetDB()); err != nil {
		fiberlog.Warnf("[Main] Failed to load settings, using defaults: %v", err)
	}

	repository.InitGlobalFactory(database.GetDB())
	store := repository.GetGlobalFactory().GetStore()

	// Alert delivery is best-effort: without a broker the services run with
	// alerts disabled rather than refusing to start.
	var notifier *alerts.Publisher
	if p, err := alerts.NewPublisher(); err != nil {
		fiberlog.Warnf("[Main] Alert publisher unavailable: %v", err)
	} else {
		notifier = p
	}

	queueStore, err := webhookqueue.OpenStore(env.GetEnv("WEBHOOK_QUEUE_PATH", "data/webhook_queue"))
	if err != nil {
		log.Fatalf("failed to open webhook queue store: %v", err)
	}
	var queueNotifier webhookqueue.AlertNotifier
	if notifier != nil {
		queueNotifier = notifier
	}
	queue := webhookqueue.NewQueue(queueStore, queueNotifier)

	workers := 4
	if settings := models.GetAppSettings(); settings != nil {
		workers = settings.GetQueueWorkerCount()
	}
	processor := webhookqueue.NewProcessor(queue, workers)

	lockMgr := locks.NewManager()
	auditSvc := audit.NewService(audit.NewRedisSink())
	txSvc := txsafety.NewService(store, lockMgr, auditSvc)

	var validatorNotifier validator.Notifier
	if notifier != nil {
		validatorNotifier = notifier
	}
	validatorSvc := validator.NewService(store, validatorNotifier)
	safetySvc := dbsafety.NewService(store, lockMgr, auditSvc)

	engine := retryengine.NewEngine(store, queue, lockMgr, txSvc)
	if notifier != nil {
		engine.WithNotificationSender(notifier)
	}
	retryMgr := retryengine.NewManager(engine)

	pollInterval := 2 * time.Second
	if v, err := time.ParseDuration(env.GetEnv("PROCESSOR_POLL_INTERVAL", "")); err == nil && v > 0 {
		pollInterval = v
	}
	processor.StartProcessing(25, pollInterval)
	retryMgr.Start()

	app := fiber.New(fiber.Config{
		AppName: "walletcore",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	server := apiv1.NewServer(queue, processor, validatorSvc, safetySvc, retryMgr)
	router.InstallRouter(app, server)

	shutdown := func() {
		retryMgr.Stop()
		processor.Stop()
		if notifier != nil {
			notifier.Close()
		}
		_ = queueStore.Close()
	}
	return app, shutdown
}
