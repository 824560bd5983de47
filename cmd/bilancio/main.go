package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bilancio/internal/amqp"
	"bilancio/internal/config"
	"bilancio/internal/log"
	"bilancio/internal/scheduler"
	"bilancio/internal/services"
	"bilancio/internal/storage"
)

func main() {
	// Load .env for local development, ignore errors elsewhere.
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     log.Level(cfg.LogLevel),
		Component: "bilancio",
		JSON:      cfg.LogJSON,
	})
	log.SetDefault(logger)

	logger.Info("Starting bilancio")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	// The AMQP sink is optional: without it the engine still materializes
	// transactions, it just publishes no events.
	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			defer client.Close()
			events = client
			logger.Info("AMQP event sink initialized", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP disabled, events will not be published")
	}

	engine := services.NewScheduleEngine(store, events)
	balances := services.NewBalanceService(store, events)
	budgets := services.NewBudgetManager(store)
	orchestrator := services.NewOrchestrator(store, balances, budgets, engine, cfg.SweepConcurrency)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(engine, orchestrator, cfg.DailyCron, cfg.MonthlyCron)
	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Catch up anything that came due while the process was down.
	sched.RunDaily(ctx, time.Now())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	cancel()
	sched.Stop()
	logger.Info("Shutdown complete")
}
