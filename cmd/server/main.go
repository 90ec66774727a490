package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/adapters/feed"
	"github.com/frostdev-ops/pma-monitor/internal/adapters/notify"
	"github.com/frostdev-ops/pma-monitor/internal/adapters/sources"
	"github.com/frostdev-ops/pma-monitor/internal/api"
	"github.com/frostdev-ops/pma-monitor/internal/api/handlers"
	"github.com/frostdev-ops/pma-monitor/internal/config"
	"github.com/frostdev-ops/pma-monitor/internal/core/audit"
	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
	"github.com/frostdev-ops/pma-monitor/internal/core/metrics"
	"github.com/frostdev-ops/pma-monitor/internal/core/monitoring"
	"github.com/frostdev-ops/pma-monitor/internal/core/notifications"
	"github.com/frostdev-ops/pma-monitor/internal/core/workflow"
	"github.com/frostdev-ops/pma-monitor/internal/database"
	"github.com/frostdev-ops/pma-monitor/internal/database/sqlite"
	"github.com/frostdev-ops/pma-monitor/internal/websocket"
	apperrors "github.com/frostdev-ops/pma-monitor/pkg/errors"
	"github.com/frostdev-ops/pma-monitor/pkg/logger"
	"github.com/frostdev-ops/pma-monitor/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	// Initialize logger
	bl := logger.New(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := bl.Logger
	log.WithField("version", version.GetFullVersion()).Info("Starting monitor")

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			log.WithError(err).Fatal("Failed to run migrations")
		}
	}
	auditRepo := sqlite.NewAuditRepository(db)

	// Prometheus
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter := metrics.NewExporter(reg, "pma")

	// Metric sources
	provider := sources.NewMulti(nil)
	if cfg.Sources.System {
		provider.Add(sources.WithBreaker("system", sources.NewSystemProvider("/"), cfg.Sources.Breaker, log))
	}
	if len(cfg.Sources.Queries) > 0 {
		provider.Add(sources.WithBreaker("sql", sources.NewSQLProvider(db, cfg.Sources.Queries), cfg.Sources.Breaker, log))
	}

	queue := feed.NewQueue(1000, log)

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.WithError(err).Fatal("Invalid redis url")
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	var wsHub *websocket.Hub
	if cfg.WebSocket.Enabled {
		wsHub = websocket.NewHub(log, cfg.WebSocket.SendBufferSize)
		go wsHub.Run()
	}

	recorder := audit.NewRecorder(auditRepo, 1024, log)
	recorder.Start()

	rules, workflows, err := loadDefinitions(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to load automation definitions")
	}

	senderDeps := notify.Deps{
		Logger:       log,
		Breaker:      cfg.Sources.Breaker,
		Retry:        apperrors.DefaultRetryPolicy(),
		Redis:        redisClient,
		Hub:          wsHub,
		SMTPPassword: cfg.Notifications.SMTPPassword,
	}

	engine, err := monitoring.NewEngine(monitoring.Deps{
		Config:    cfg,
		Logger:    log,
		Provider:  provider,
		Feed:      queue,
		Exporter:  exporter,
		Recorder:  recorder,
		Rules:     rules,
		Workflows: workflows,
		Senders: func(ch notifications.Channel) (notifications.Sender, error) {
			return notify.Build(ch, senderDeps)
		},
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create monitoring engine")
	}
	if wsHub != nil {
		wsHub.AttachBus(engine.Bus())
	}

	if err := engine.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start monitoring engine")
	}

	h := handlers.NewHandlers(cfg, engine, queue, wsHub, auditRepo, log)
	router := api.NewRouter(cfg, h, bl, exporter, reg)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	if err := engine.Stop(ctx); err != nil {
		log.WithError(err).Error("Monitoring engine did not stop cleanly")
	}
	if err := recorder.Close(ctx); err != nil {
		log.WithError(err).Error("Audit records were not fully written")
	}
	if wsHub != nil {
		wsHub.Stop()
	}
	bl.FlushPending()

	log.WithFields(logrus.Fields{
		"audit_written": recorder.Stats().Written,
		"audit_dropped": recorder.Stats().Dropped,
	}).Info("Server exited")
}

// loadDefinitions reads rules and workflows from the configured files. A
// missing rules file falls back to the built-in rules.
func loadDefinitions(cfg *config.Config) ([]automation.Rule, []workflow.Workflow, error) {
	rules := automation.DefaultRules()
	if cfg.Automation.RulesFile != "" {
		loaded, err := automation.LoadRules(cfg.Automation.RulesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("rules: %w", err)
		}
		rules = loaded
	}

	var workflows []workflow.Workflow
	if cfg.Automation.WorkflowsFile != "" {
		loaded, err := workflow.LoadWorkflows(cfg.Automation.WorkflowsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("workflows: %w", err)
		}
		workflows = loaded
	}
	return rules, workflows, nil
}
