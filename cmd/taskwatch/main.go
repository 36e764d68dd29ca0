package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/nhle/taskwatch/internal/cli"
	"github.com/nhle/taskwatch/internal/model"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cli.Execute(ctx, version)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, model.ErrMissingSecret):
		os.Exit(2)
	default:
		os.Exit(1)
	}
}
