// Command server runs the agent backend: the job pipeline, webhook outbox,
// cron scheduler, and ambient HTTP surface. Startup loads config, connects
// to the database, wires the domain services together, and starts the
// router.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/agentbackend/pkg/apisource"
	"github.com/codeready-toolchain/agentbackend/pkg/api"
	"github.com/codeready-toolchain/agentbackend/pkg/config"
	"github.com/codeready-toolchain/agentbackend/pkg/database"
	"github.com/codeready-toolchain/agentbackend/pkg/embedding"
	"github.com/codeready-toolchain/agentbackend/pkg/guard"
	"github.com/codeready-toolchain/agentbackend/pkg/jobqueue"
	"github.com/codeready-toolchain/agentbackend/pkg/notify"
	"github.com/codeready-toolchain/agentbackend/pkg/outbox"
	"github.com/codeready-toolchain/agentbackend/pkg/pubsub"
	"github.com/codeready-toolchain/agentbackend/pkg/scheduler"
	"github.com/codeready-toolchain/agentbackend/pkg/search"
	"github.com/codeready-toolchain/agentbackend/pkg/workitems"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	httpAddr := flag.String("http-addr", getEnv("HTTP_ADDR", ":8080"), "Address the ambient HTTP server listens on")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v — continuing with existing environment", envPath, err)
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	dbClient, err := database.NewClient(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        os.Getenv(cfg.Database.PasswordEnv),
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("error closing database client: %v", err)
		}
	}()
	slog.Info("connected to postgres", "database", cfg.Database.Database)

	// Low-latency job wake-up: pkg/pubsub LISTENs on jobs_ready and signals
	// the processor's poll loop, which otherwise sleeps up to PollInterval.
	wakeCh := make(chan struct{}, 1)
	listener := pubsub.New(dbClient.DSN())
	if err := listener.Start(ctx); err != nil {
		log.Fatalf("failed to start pubsub listener: %v", err)
	}
	defer listener.Stop(ctx)
	listener.RegisterHandler(pubsub.JobsReadyChannel, func([]byte) {
		select {
		case wakeCh <- struct{}{}:
		default:
		}
	})
	if err := listener.Subscribe(ctx, pubsub.JobsReadyChannel); err != nil {
		log.Fatalf("failed to subscribe to %s: %v", pubsub.JobsReadyChannel, err)
	}

	jobStore := jobqueue.NewStore(dbClient.DB)
	workItemStore := workitems.NewStore(dbClient.DB, jobStore)
	outboxStore := outbox.NewStore(dbClient.DB)
	apiSourceStore := apisource.NewStore(dbClient.DB)

	dedupGuard := guard.NewDedupGuard(cfg.Dedup.Window)
	rateGuard := guard.NewRateGuard(cfg.Rate.Window, cfg.Rate.LimitByChannel, cfg.Rate.DefaultLimit)
	guardedOutbox := outbox.NewGuardedEnqueuer(outboxStore, dedupGuard, rateGuard)

	fetcher := apisource.NewFetcher(cfg.Embedding.CacheTTL, nil)
	apiSourceService := apisource.NewService(apiSourceStore, fetcher)

	handlers := &jobqueue.Handlers{
		WorkItems:  workItemStore,
		Outbox:     guardedOutbox,
		APISources: apiSourceService,
		// Digests is left nil: no DigestSource implementation exists yet
		// (no notification-read-state model to aggregate over), so
		// digest.daily jobs complete as a silent skip per jobqueue's
		// documented nil-dependency behavior.
	}

	processor := jobqueue.NewProcessor(jobStore, hostname(), jobqueue.ProcessorConfig{
		WorkerCount:    cfg.Scheduler.Workers,
		BatchSize:      cfg.Job.BatchSize,
		LockDuration:   cfg.Job.LockDuration,
		HandlerTimeout: cfg.Job.HandlerTimeout,
		MaxAttempts:    cfg.Job.MaxAttempts,
		BackoffBase:    cfg.Job.BackoffBase,
		BackoffCap:     cfg.Job.BackoffCap,
	}, nil, wakeCh)
	handlers.Register(processor)
	processor.Start(ctx)
	defer processor.Stop()

	schedulerSvc := scheduler.NewService(dbClient.DB, jobStore, scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval,
		DigestHour:   cfg.Scheduler.DigestHour,
	}, scheduler.MissedTimestampSweep{}, scheduler.DigestSweep{Hour: cfg.Scheduler.DigestHour}, scheduler.APIRefreshSweep{})
	schedulerSvc.Start(ctx)
	defer schedulerSvc.Stop()

	var notifier *notify.Service
	if cfg.Notify.Enabled {
		notifier = notify.NewService(notify.Config{
			Token:            os.Getenv(cfg.Notify.TokenEnv),
			Channel:          cfg.Notify.Channel,
			BacklogThreshold: cfg.Notify.BacklogThreshold,
		})
	}

	delivery := outbox.NewDelivery(outboxStore, outbox.Config{
		BaseURL:        cfg.Outbox.BaseURL,
		Secret:         os.Getenv(cfg.Outbox.HMACSecretEnv),
		BearerToken:    os.Getenv(cfg.Outbox.HookTokenEnv),
		BatchSize:      cfg.Outbox.BatchSize,
		MaxAttempts:    cfg.Outbox.MaxAttempts,
		BackoffBase:    cfg.Outbox.BackoffBase,
		BackoffCap:     cfg.Outbox.BackoffCap,
		RequestTimeout: cfg.Outbox.RequestTimeout,
		SSRF:           outbox.SSRFConfig{AllowedCIDRs: cfg.SSRF.PrivateCIDRsAllow},
	}, notifier)
	go delivery.Run(ctx, cfg.Outbox.DrainInterval)
	defer delivery.Stop()

	// No embedding.Embedder provider is wired regardless of cfg.Embedding.Provider:
	// computing embeddings is out of scope, so the engine falls back to
	// text-only scoring until a concrete provider is supplied.
	embedder := embedding.NewClient(cfg.Embedding.CacheTTL)
	searchEngine := search.NewEngine(dbClient.DB, embedder)

	server := api.NewServer(dbClient, jobStore, searchEngine)
	go func() {
		if err := server.Start(*httpAddr); err != nil {
			slog.Error("http server stopped", "error", err)
		}
	}()
	slog.Info("agentbackend started", "http_addr", *httpAddr, "config_dir", *configDir)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down http server", "error", err)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "agentbackend"
	}
	return h
}
