// Command notifier consumes the events the scheduler publishes and
// dispatches them as notifications. It is the consumer-side counterpart of
// the bilancio daemon and requires the AMQP sink to be configured.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"bilancio/internal/amqp"
	"bilancio/internal/config"
	"bilancio/internal/log"
	"bilancio/internal/notify"
	"bilancio/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     log.Level(cfg.LogLevel),
		Component: "notifier",
		JSON:      cfg.LogJSON,
	})
	log.SetDefault(logger)

	logger.Info("Starting notifier")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required: the notifier has nothing to consume without it")
		os.Exit(1)
	}

	store, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	dispatcher := notify.NewDispatcher(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := client.Consume(ctx, func(ev amqp.Event) error {
			return dispatcher.Handle(ctx, ev)
		})
		if err != nil && err != context.Canceled {
			logger.Error("Event consumption failed", "error", err)
		}
		cancel()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Consumer stopped")
	}

	cancel()
	logger.Info("Shutdown complete")
}
