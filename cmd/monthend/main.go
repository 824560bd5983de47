// Command monthend runs the month-end automation once and exits. It is
// the manual escape hatch for a missed boundary: the same steps the
// scheduler triggers, runnable for one owner or for everyone.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"bilancio/internal/amqp"
	"bilancio/internal/config"
	"bilancio/internal/log"
	"bilancio/internal/services"
	"bilancio/internal/storage"
)

func main() {
	ownerID := flag.Int64("owner", 0, "run for a single owner id (default: all owners)")
	asOf := flag.String("as-of", "", "boundary date YYYY-MM-DD (default: now)")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.Load()
	log.SetDefault(log.New(log.Config{
		Level:     slog.LevelWarn,
		Component: "monthend",
		JSON:      cfg.LogJSON,
	}))

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	now := time.Now()
	if *asOf != "" {
		parsed, err := time.Parse("2006-01-02", *asOf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -as-of date %q: %v\n", *asOf, err)
			os.Exit(1)
		}
		now = parsed
	}

	store, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open storage:", err)
		os.Exit(1)
	}
	defer store.Close()

	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err == nil {
			defer client.Close()
			events = client
		}
	}

	engine := services.NewScheduleEngine(store, events)
	balances := services.NewBalanceService(store, events)
	budgets := services.NewBudgetManager(store)
	orchestrator := services.NewOrchestrator(store, balances, budgets, engine, cfg.SweepConcurrency)

	ctx := context.Background()

	var reports []*services.MonthEndReport
	if *ownerID != 0 {
		reports = append(reports, orchestrator.PerformMonthEndAutomation(ctx, *ownerID, now))
	} else {
		reports, err = orchestrator.PerformMonthEndAutomationForAllUsers(ctx, now)
		if err != nil {
			fmt.Fprintln(os.Stderr, "month-end sweep:", err)
			os.Exit(1)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		fmt.Fprintln(os.Stderr, "encode reports:", err)
		os.Exit(1)
	}

	for _, r := range reports {
		if r.Failed() {
			os.Exit(2)
		}
	}
}
