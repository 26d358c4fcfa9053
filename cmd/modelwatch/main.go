package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"modelwatch/internal/api"
	"modelwatch/internal/config"
	"modelwatch/internal/notify"
	"modelwatch/internal/probe"
	"modelwatch/internal/runner"
	"modelwatch/internal/scheduler"
	"modelwatch/internal/stats"
	"modelwatch/internal/storage"
	"modelwatch/internal/storage/memory"
	"modelwatch/internal/storage/postgres"
	"modelwatch/internal/storage/sqlite"
)

func main() {
	// The main function is the entry point of the application.
	// It's responsible for initializing components, starting the scheduler
	// and server, and handling graceful shutdown.
	if err := run(); err != nil {
		log.Fatalf("application failed: %v", err)
	}
	log.Println("application shut down gracefully")
}

func run() error {
	// Load application configuration from environment variables.
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Create a context that is canceled on OS signals like SIGINT or SIGTERM.
	// This is the foundation for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize the storage layer.
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStore()
	log.Println("database connection successful")

	// Sweep ledger records past the retention horizon.
	if cfg.RetentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)
		if purged, err := store.PurgeOutcomesBefore(ctx, cutoff); err != nil {
			log.Printf("retention sweep failed: %v", err)
		} else if purged > 0 {
			log.Printf("purged %d outcomes older than %d days", purged, cfg.RetentionDays)
		}
	}

	clk := clock.New()
	loc := cfg.Location()
	endpoint := probe.Endpoint{BaseURL: cfg.APIBaseURL, APIKey: cfg.APIKey}
	prober := probe.New(cfg.ProbeTimeout)

	// Assemble the notification channels from configuration.
	var channels []notify.Channel
	if cfg.SMTPEnabled {
		channels = append(channels, &notify.EmailChannel{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       cfg.AdminEmail,
		})
	}
	if cfg.WebhookEnabled {
		channels = append(channels, notify.NewWebhookChannel(cfg.WebhookURL))
	}
	dispatcher := notify.NewDispatcher(store, clk, notify.Options{
		Location:         loc,
		QuietHoursStart:  cfg.QuietHoursStart,
		QuietHoursEnd:    cfg.QuietHoursEnd,
		NotifyOnRecovery: cfg.NotifyOnRecovery,
		CustomText:       cfg.CustomText,
	}, channels...)

	// The runner is the sole writer of probe outcomes.
	gate := runner.New(store, prober, dispatcher, clk, endpoint, cfg.RetryDelay)

	sched, err := scheduler.New(store, gate, clk, loc, cfg.IntervalMinutes, cfg.AnchorHour, cfg.AnchorMinute, cfg.MaxConcurrency)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	aggregator := stats.New(store, clk, loc)
	server := api.NewServer(cfg.HTTPPort, api.Deps{
		Store:     store,
		Scheduler: sched,
		Stats:     aggregator,
		Catalog:   prober,
		Endpoint:  endpoint,
	})

	// Start the services.
	sched.Start()
	server.Start()

	log.Println("application is running...")

	// Block here until the context is canceled (e.g., by pressing Ctrl+C).
	<-ctx.Done()

	// --- Graceful shutdown logic ---
	log.Println("shutdown signal received, starting graceful shutdown...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	// Stop the scheduler first to prevent new cycles from starting, then
	// drop pending confirmation retries.
	sched.Stop()
	gate.Stop()

	// Then, shut down the HTTP server, allowing in-flight requests to finish.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown error: %w", err)
	}

	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Storer, func(), error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		log.Println("initializing SQLite database connection...")
		store, err := sqlite.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "postgres":
		log.Println("initializing PostgreSQL connection pool...")
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "memory":
		log.Println("using in-memory storage (data is not persisted)")
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}
