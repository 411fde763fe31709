package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gear6io/stratum/cli"
	"github.com/gear6io/stratum/pkg/errors"
	"github.com/pterm/pterm"
)

func main() {
	// Cancelling stops in-flight commits between retries
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, os.Args[1:]...); err != nil {
		pterm.Error.Println(errors.FormatError(err))
		stop()
		os.Exit(1)
	}
}
