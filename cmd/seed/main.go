package main

import (
	"context"
	"flag"
	"os"
	"time"

	repository "github.com/okian/coachboard/internal/adapters/repository"
	"github.com/okian/coachboard/internal/config"
	"github.com/okian/coachboard/internal/seed"
	"github.com/okian/coachboard/pkg/logger"
)

const (
	defaultYears   = 5
	defaultTimeout = 5 * time.Minute
)

func main() {
	var (
		years  = flag.Int("years", defaultYears, "Evaluations per athlete, one per year")
		dryRun = flag.Bool("dry-run", false, "Generate evaluations without writing them")
		help   = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	err := run(ctx, *years, *dryRun)
	cancel()
	if err != nil {
		logger.Get().Error(context.Background(), "seeding failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, years int, dryRun bool) error {
	log := logger.Get()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel))
	}
	if cfg.Driver() == config.DriverMemory && !dryRun {
		log.Warn(ctx, "seeding the in-memory store; nothing will persist")
	}

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			log.Warn(ctx, "close store failed", logger.Error(err))
		}
	}()

	res, err := seed.New(store, seed.WithYears(years), seed.WithDryRun(dryRun)).Run(ctx)
	if err != nil {
		return err
	}
	log.Info(ctx, "done",
		logger.Int("athletes", res.Athletes),
		logger.Int("evaluations", res.Evaluations),
		logger.Int64("inserted", res.Inserted),
		logger.Int64("updated", res.Updated),
		logger.Bool("dryRun", res.DryRun))
	return nil
}

func showHelp() {
	os.Stdout.WriteString(`coachboard seed
===============

Writes a yearly evaluation history for every stored athlete.

Usage:
  go run ./cmd/seed [options]

Options:
  -years int
        Evaluations per athlete, one per year (default 5)
  -dry-run
        Generate evaluations without writing them
  -help
        Show this help message

The store is selected the same way as for the server: COACH_MONGO_URI
(or MONGODB_URI) and COACH_MONGO_DB (or MONGODB_DB) for MongoDB,
COACH_FIRESTORE_PROJECT for Firestore.
`)
}
