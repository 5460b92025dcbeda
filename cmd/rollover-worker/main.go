package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"budgetbook/internal/cli"
	applog "budgetbook/internal/log"
	"budgetbook/internal/services"
)

func main() {
	once := flag.Bool("once", false, "run a single rollover cycle and exit")
	skipInitial := flag.Bool("skip-initial", false, "wait for the first tick instead of running at startup")
	flag.Parse()

	cfg, logger := cli.Bootstrap(applog.ComponentWorker)
	logger.Info("Starting rollover-worker",
		"interval", cfg.RolloverInterval,
		applog.FieldBackend, cfg.StoreBackend,
		"once", *once)

	s := cli.OpenStore(context.Background(), logger, cfg)
	defer s.Close()

	w := &worker{
		processor: cli.NewRolloverProcessor(context.Background(), logger, cfg, cli.NewRepository(s, logger)),
		logger:    logger,
		now:       time.Now,
	}

	if *once {
		if err := w.cycle(context.Background()); errors.Is(err, services.ErrEnumeration) {
			s.Close()
			os.Exit(1)
		}
		return
	}

	ctx, done := cli.GracefulShutdown(logger.Logger, 30*time.Second, nil)
	w.loop(ctx, cfg.RolloverInterval, !*skipInitial)
	cli.WaitForShutdown(ctx, done)
	logger.Info("Rollover-worker shutdown complete")
}
