package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/email"
	appointmentHandler "github.com/jwalitptl/clinic-api/internal/handler/appointment"
	dashboardHandler "github.com/jwalitptl/clinic-api/internal/handler/dashboard"
	"github.com/jwalitptl/clinic-api/internal/handler/health"
	inventoryHandler "github.com/jwalitptl/clinic-api/internal/handler/inventory"
	invoiceHandler "github.com/jwalitptl/clinic-api/internal/handler/invoice"
	patientHandler "github.com/jwalitptl/clinic-api/internal/handler/patient"
	promHandler "github.com/jwalitptl/clinic-api/internal/handler/prometheus"
	recordHandler "github.com/jwalitptl/clinic-api/internal/handler/record"
	scheduleHandler "github.com/jwalitptl/clinic-api/internal/handler/schedule"
	"github.com/jwalitptl/clinic-api/internal/handler/system"
	workflowHandler "github.com/jwalitptl/clinic-api/internal/handler/workflow"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/notification"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	"github.com/jwalitptl/clinic-api/internal/router"
	appointmentService "github.com/jwalitptl/clinic-api/internal/service/appointment"
	billingService "github.com/jwalitptl/clinic-api/internal/service/billing"
	dashboardService "github.com/jwalitptl/clinic-api/internal/service/dashboard"
	inventoryService "github.com/jwalitptl/clinic-api/internal/service/inventory"
	medicalService "github.com/jwalitptl/clinic-api/internal/service/medical"
	patientService "github.com/jwalitptl/clinic-api/internal/service/patient"
	scheduleService "github.com/jwalitptl/clinic-api/internal/service/schedule"
	workflowService "github.com/jwalitptl/clinic-api/internal/service/workflow"
	"github.com/jwalitptl/clinic-api/internal/worker"
	"github.com/jwalitptl/clinic-api/pkg/auth"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	"github.com/jwalitptl/clinic-api/pkg/security"
)

const metricsNamespace = "clinic"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level: logger.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(metricsNamespace, registry)

	gateway, closeGateway, err := openGateway(cfg)
	if err != nil {
		log.Fatal(err, "failed to open gateway", "driver", cfg.Database.Driver)
	}
	defer closeGateway()

	broker, badgeStore, err := openBroker(ctx, cfg, log, m)
	if err != nil {
		log.Fatal(err, "failed to connect to redis")
	}
	defer broker.Close()

	var encryptor security.Encryptor
	key, err := cfg.Security.Key()
	if err != nil {
		log.Fatal(err, "invalid encryption key")
	}
	if key != nil {
		if encryptor, err = security.NewAESEncryptor(key); err != nil {
			log.Fatal(err, "failed to initialise encryption")
		}
	} else {
		log.Warn("no encryption key configured; diagnoses are stored in plaintext")
	}

	notices := notification.NewService(broker, log,
		notification.WithEmail(email.NewSMTPService(cfg.SMTP), cfg.SMTP.AlertTo))

	bus := querycache.NewBus(broker, messaging.ChannelInvalidations, instanceID(), log)
	cache := querycache.New(cfg.Cache.CacheOptions(),
		querycache.WithNotifier(notices),
		querycache.WithPublisher(bus),
		querycache.WithLogger(log),
		querycache.WithMetrics(m),
	)
	defer cache.Close()

	// Services
	workflowSvc := workflowService.NewService(gateway.Workflows, cache, log)
	patientSvc := patientService.NewService(gateway.Patients, cache, log)
	billingSvc := billingService.NewService(gateway, workflowSvc, notices, cache, log)
	appointmentSvc := appointmentService.NewService(gateway.Appointments, cache, log)
	inventorySvc := inventoryService.NewService(gateway.Inventory, cache, log)
	scheduleSvc := scheduleService.NewService(gateway.Schedules, cache, log)
	medicalSvc := medicalService.NewService(gateway.Records, encryptor, cache, log)
	dashboardSvc := dashboardService.NewService(gateway, cache, log)

	handlers := router.Handlers{
		Health:       health.NewHandler(gateway.Health),
		Metrics:      promHandler.New(registry),
		Patients:     patientHandler.NewHandler(patientSvc),
		Records:      recordHandler.NewHandler(medicalSvc),
		Appointments: appointmentHandler.NewHandler(appointmentSvc),
		Invoices:     invoiceHandler.NewHandler(billingSvc),
		Workflows:    workflowHandler.NewHandler(workflowSvc),
		Inventory:    inventoryHandler.NewHandler(inventorySvc),
		Schedules:    scheduleHandler.NewHandler(scheduleSvc),
		System:       system.NewHandler(cache, notices),
		Dashboard:    dashboardHandler.NewHandler(dashboardSvc),
	}

	authMiddleware := middleware.NewAuthMiddleware(auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer))
	r := router.NewRouter(authMiddleware, handlers, router.RouterConfig{
		Logger:           log.Zerolog(),
		Registerer:       registry,
		MetricsNamespace: metricsNamespace,
		RequestTimeout:   cfg.Server.RequestTimeout,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit: middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst: cfg.RateLimit.Burst,
		},
		CORSConfig: middleware.CORSConfig{
			AllowOrigins: cfg.CORS.AllowedOrigins,
			AllowMethods: cfg.CORS.AllowedMethods,
			AllowHeaders: cfg.CORS.AllowedHeaders,
		},
		Security: middleware.DefaultSecurityConfig(),
	})

	// Workers
	var wg sync.WaitGroup
	start := func(name string, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
			log.Debug("worker stopped", "worker", name)
		}()
	}
	start("reconnect", worker.NewReconnectWatcher(gateway.Health, cache,
		worker.ReconnectWatcherConfig{Interval: cfg.Workers.ReconnectInterval}, log, m).Start)
	start("badges", worker.NewBadgePublisher(workflowSvc, cache, broker, badgeStore,
		worker.BadgePublisherConfig{TTL: cfg.Workers.BadgeTTL}, log).Start)
	start("invalidations", func(ctx context.Context) {
		if err := bus.Listen(ctx, cache); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(err, "invalidation listener stopped")
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server forced to shutdown")
	}

	wg.Wait()
	cache.Wait()
	notices.Wait()
	log.Info("server exited")
}

// openGateway picks the data layer named by database.driver.
func openGateway(cfg *config.Config) (*repository.Gateway, func(), error) {
	switch cfg.Database.Driver {
	case "memory":
		return memory.New().Gateway(), func() {}, nil
	case "postgres", "":
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewGateway(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// openBroker returns redis when enabled and an in-process broker otherwise.
// Badges are only persisted with redis.
func openBroker(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (messaging.Broker, worker.BadgeStore, error) {
	if !cfg.Redis.Enabled {
		log.Info("redis disabled; using in-process broker")
		return messaging.NewMemoryBroker(), nil, nil
	}
	client, err := redis.NewClient(ctx, cfg.Redis.ToBrokerConfig())
	if err != nil {
		return nil, nil, err
	}
	b := redis.NewRedisBroker(client, log.Zerolog(), m)
	return b, b, nil
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "clinic-api"
	}
	return host + "-" + uuid.NewString()[:8]
}
