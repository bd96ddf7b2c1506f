package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"curtailsync/config"
	"curtailsync/internal/calc"
	"curtailsync/internal/ingest"
	"curtailsync/internal/reconcile"
	"curtailsync/internal/rollup"
	"curtailsync/internal/schedule"
	"curtailsync/internal/units"
	"curtailsync/logger"
	"curtailsync/pkg/difficulty"
	"curtailsync/pkg/elexon"
	"curtailsync/pkg/storage/postgres"

	"go.uber.org/zap"
)

const usage = `usage: curtaild <command> [args]

commands:
  status                          coverage report across all curtailment dates
  reconcile [batchSize]           repair incomplete dates (resumes a pending checkpoint)
  date YYYY-MM-DD                 ingest + calculate + rollup one date
  range START END [batchSize]     repair every date in the inclusive range
  critical DATE                   slow single-row repair for a stubborn date
  spot-fix DATE PERIOD UNIT       recompute one exact combination
  collect                         run daily ingestion at UTC midnight`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	if err := run(cfg, log, os.Args[1], os.Args[2:]); err != nil {
		log.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

// app bundles the wired pipeline components.
type app struct {
	store     *postgres.PostgresClient
	pipeline  *ingest.Pipeline
	engine    *calc.Engine
	rollup    *rollup.Rollup
	reconcile *reconcile.Engine
}

func wire(cfg *config.Config, log *zap.Logger) (*app, error) {
	store, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	registry, err := units.Resolve(cfg.Units.MappingFile)
	if err != nil {
		return nil, fmt.Errorf("unit mapping is required: %w", err)
	}
	log.Info("unit registry loaded", zap.Int("units", registry.Count()))

	profiles, err := calc.ProfilesFromConfig(cfg.Pipeline.Profiles)
	if err != nil {
		return nil, fmt.Errorf("device profiles: %w", err)
	}

	apiClient := elexon.NewClient(cfg.Elexon)
	diffClient := difficulty.NewClient(cfg.Difficulty.BaseURL, cfg.Difficulty.Timeout)

	pipeline := ingest.New(apiClient, store, registry, cfg.Pipeline.FetchConcurrency, log)
	engine := calc.NewEngine(store, diffClient, profiles, cfg.Difficulty.BlockReward, cfg.Pipeline.WriteBatchSize, log)
	roll := rollup.New(store, log)
	recon := reconcile.NewEngine(store, pipeline, engine, roll, log)

	return &app{
		store:     store,
		pipeline:  pipeline,
		engine:    engine,
		rollup:    roll,
		reconcile: recon,
	}, nil
}

func run(cfg *config.Config, log *zap.Logger, command string, args []string) error {
	a, err := wire(cfg, log)
	if err != nil {
		return err
	}
	defer a.store.Close()

	ctx := context.Background()

	switch command {
	case "status":
		return cmdStatus(ctx, a)

	case "reconcile":
		batch, err := optionalBatchSize(args, 0)
		if err != nil {
			return err
		}
		result, err := a.reconcile.Reconcile(ctx, batch)
		if err != nil {
			return err
		}
		printRepairResult(result)
		return nil

	case "date":
		if len(args) != 1 {
			return fmt.Errorf("usage: curtaild date YYYY-MM-DD")
		}
		date, err := parseDate(args[0])
		if err != nil {
			return err
		}
		return cmdDate(ctx, a, date)

	case "range":
		if len(args) < 2 {
			return fmt.Errorf("usage: curtaild range START END [batchSize]")
		}
		start, err := parseDate(args[0])
		if err != nil {
			return err
		}
		end, err := parseDate(args[1])
		if err != nil {
			return err
		}
		batch, err := optionalBatchSize(args[2:], 0)
		if err != nil {
			return err
		}
		dates, err := datesBetween(start, end)
		if err != nil {
			return err
		}
		result, err := a.reconcile.ProcessDates(ctx, dates, batch)
		if err != nil {
			return err
		}
		printRepairResult(result)
		return nil

	case "critical":
		if len(args) != 1 {
			return fmt.Errorf("usage: curtaild critical DATE")
		}
		date, err := parseDate(args[0])
		if err != nil {
			return err
		}
		repaired, err := a.reconcile.RepairCritical(ctx, date)
		if err != nil {
			return err
		}
		fmt.Printf("critical repair: %d calculations written for %s\n", repaired, date)
		return nil

	case "spot-fix":
		if len(args) != 3 {
			return fmt.Errorf("usage: curtaild spot-fix DATE PERIOD UNIT")
		}
		date, err := parseDate(args[0])
		if err != nil {
			return err
		}
		period, err := strconv.Atoi(args[1])
		if err != nil || period < 1 || period > ingest.PeriodsPerDay {
			return fmt.Errorf("invalid settlement period %q (1-%d)", args[1], ingest.PeriodsPerDay)
		}
		return a.reconcile.SpotFix(ctx, date, period, args[2])

	case "collect":
		job := &schedule.DailyJob{
			Process: func(date string) {
				if err := cmdDate(ctx, a, date); err != nil {
					log.Error("daily collection failed", zap.String("date", date), zap.Error(err))
				}
			},
			Logger: log,
		}
		job.Start()
		select {}

	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

// cmdDate runs the full pipeline for one date: ingest, calculate, rollup.
func cmdDate(ctx context.Context, a *app, date string) error {
	result, err := a.pipeline.IngestDate(ctx, date)
	if err != nil {
		return err
	}

	calcs, err := a.engine.CalculateDate(ctx, date)
	if err != nil {
		return err
	}

	if err := a.rollup.RollupForDate(ctx, date); err != nil {
		return err
	}

	fmt.Printf("%s: %d records (%.2f MWh, £%.2f), %d calculations, %d/%d periods ok\n",
		date, result.Records, result.TotalVolumeMWh, result.TotalPaymentGBP,
		calcs, result.PeriodsOK, ingest.PeriodsPerDay)
	return nil
}

func cmdStatus(ctx context.Context, a *app) error {
	report, err := a.reconcile.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("dates: %d (complete %d, partial %d, missing %d)\n",
		report.Dates, report.Complete, report.Partial, report.Missing)
	fmt.Printf("calculations: %d of %d expected\n", report.ActualTotal, report.ExpectedTotal)

	for _, st := range report.Incomplete {
		fmt.Printf("  %s  %s  %5.1f%%  (%d/%d, gap %d)  %.2f MWh  £%.2f\n",
			st.Date, st.State, st.Completion, st.Actual, st.Expected, st.Gap(),
			st.CurtailedMWh, st.PaymentGBP)
	}
	return nil
}

func printRepairResult(r *reconcile.RepairResult) {
	fmt.Printf("processed %d, succeeded %d, failed %d, timeouts %d\n",
		r.Processed, r.Succeeded, r.Failed, r.Timeouts)
	for _, d := range r.FailedDates {
		fmt.Printf("  failed: %s\n", d)
	}
}

func parseDate(s string) (string, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t.Format("2006-01-02"), nil
}

func optionalBatchSize(args []string, fallback int) (int, error) {
	if len(args) == 0 {
		return fallback, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid batch size %q", args[0])
	}
	return n, nil
}

func datesBetween(start, end string) ([]string, error) {
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	if e.Before(s) {
		return nil, fmt.Errorf("range end %s before start %s", end, start)
	}

	var dates []string
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format("2006-01-02"))
	}
	return dates, nil
}
