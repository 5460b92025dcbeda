package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"budgetbook/internal/cli"
	applog "budgetbook/internal/log"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentWorker)
	ctx := context.Background()

	s := cli.OpenStore(ctx, logger, cfg)

	h := &handler{
		processor: cli.NewRolloverProcessor(ctx, logger, cfg, cli.NewRepository(s, logger)),
		logger:    logger,
	}
	// lambda.StartWithOptions never returns.
	lambda.StartWithOptions(h.Handle, lambda.WithEnableSIGTERM(closeOnShutdown(s, logger)))
}
