// Command obligations manages recurring obligation templates from the
// command line: add, list, deactivate, and a manual processing run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"bilancio/internal/config"
	"bilancio/internal/core"
	"bilancio/internal/log"
	"bilancio/internal/services"
	"bilancio/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	cfg := config.Load()
	log.SetDefault(log.New(log.Config{
		Level:     slog.LevelWarn,
		Component: "obligations",
		JSON:      cfg.LogJSON,
	}))

	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration: %v", err)
	}

	store, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		fatal("open storage: %v", err)
	}
	defer store.Close()

	engine := services.NewScheduleEngine(store, nil)
	ctx := context.Background()

	switch os.Args[1] {
	case "add":
		runAdd(ctx, store, engine, os.Args[2:])
	case "list":
		runList(ctx, engine, os.Args[2:])
	case "deactivate":
		runDeactivate(ctx, engine, os.Args[2:])
	case "process":
		runProcess(ctx, engine, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func runAdd(ctx context.Context, store *storage.SQLiteRepository, engine *services.ScheduleEngine, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	owner := fs.Int64("owner", 0, "owner id (required)")
	email := fs.String("email", "", "owner email, created when no -owner is given")
	amount := fs.String("amount", "", "amount, e.g. 12.50 (required)")
	direction := fs.String("direction", "expense", "income or expense")
	category := fs.String("category", "", "category (required)")
	description := fs.String("description", "", "free-form description")
	frequency := fs.String("frequency", "monthly", "daily, weekly, bi-weekly, monthly, quarterly or yearly")
	start := fs.String("start", "", "first occurrence YYYY-MM-DD (required)")
	end := fs.String("end", "", "last valid date YYYY-MM-DD (optional)")
	remindDays := fs.Int("remind-days", 0, "publish a reminder this many days before each occurrence")
	fs.Parse(args)

	ownerID := *owner
	if ownerID == 0 {
		if *email == "" {
			fatal("either -owner or -email is required")
		}
		id, err := store.CreateOwner(ctx, *email)
		if err != nil {
			fatal("create owner: %v", err)
		}
		ownerID = id
		fmt.Printf("created owner %d (%s)\n", id, *email)
	}

	cents, err := core.ParseDecimalToCents(*amount)
	if err != nil {
		fatal("invalid -amount %q: %v", *amount, err)
	}
	startDate, err := parseDate(*start)
	if err != nil {
		fatal("invalid -start: %v", err)
	}
	var endDate core.Date
	if *end != "" {
		if endDate, err = parseDate(*end); err != nil {
			fatal("invalid -end: %v", err)
		}
	}

	o := &core.RecurringObligation{
		OwnerID:          ownerID,
		Amount:           core.Money{Cents: cents},
		Direction:        core.Direction(*direction),
		Category:         *category,
		Description:      *description,
		Frequency:        core.Frequency(*frequency),
		StartDate:        startDate,
		EndDate:          endDate,
		Remind:           *remindDays > 0,
		RemindDaysBefore: *remindDays,
	}
	if err := engine.CreateObligation(ctx, o); err != nil {
		fatal("create obligation: %v", err)
	}
	fmt.Printf("obligation %d: %s %s %s, first occurrence %s\n",
		o.ID, o.Frequency, o.Direction, o.Amount, o.NextOccurrence.Format("2006-01-02"))
}

func runList(ctx context.Context, engine *services.ScheduleEngine, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	owner := fs.Int64("owner", 0, "owner id (required)")
	fs.Parse(args)
	if *owner == 0 {
		fatal("-owner is required")
	}

	obligations, err := engine.ListObligations(ctx, *owner)
	if err != nil {
		fatal("list obligations: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tAMOUNT\tDIRECTION\tFREQUENCY\tNEXT\tACTIVE")
	for _, o := range obligations {
		next := o.NextOccurrence.Format("2006-01-02")
		if !o.IsActive {
			next = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%t\n",
			o.ID, o.Category, o.Amount, o.Direction, o.Frequency, next, o.IsActive)
	}
	w.Flush()
}

func runDeactivate(ctx context.Context, engine *services.ScheduleEngine, args []string) {
	fs := flag.NewFlagSet("deactivate", flag.ExitOnError)
	id := fs.Int64("id", 0, "obligation id (required)")
	fs.Parse(args)
	if *id == 0 {
		fatal("-id is required")
	}

	if err := engine.DeactivateObligation(ctx, *id); err != nil {
		fatal("deactivate obligation %d: %v", *id, err)
	}
	fmt.Printf("obligation %d deactivated\n", *id)
}

func runProcess(ctx context.Context, engine *services.ScheduleEngine, args []string) {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	owner := fs.Int64("owner", 0, "restrict to a single owner id")
	fs.Parse(args)

	var (
		report *services.ProcessingReport
		err    error
	)
	if *owner != 0 {
		report, err = engine.ProcessDueObligationsForOwner(ctx, *owner, time.Now())
	} else {
		report, err = engine.ProcessDueObligations(ctx, time.Now())
	}
	if err != nil {
		fatal("process due obligations: %v", err)
	}

	fmt.Printf("run %s: %d processed, %d expired, %d errors\n",
		report.RunID, len(report.Processed), len(report.Expired), len(report.Errors))
	for _, e := range report.Errors {
		fmt.Printf("  obligation %d: %s\n", e.ObligationID, e.Message)
	}
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return core.Date{}, err
	}
	return core.DateOf(t), nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: obligations <command> [flags]

commands:
  add         create a recurring obligation (and optionally its owner)
  list        list an owner's obligations
  deactivate  stop an obligation permanently
  process     materialize everything currently due`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
