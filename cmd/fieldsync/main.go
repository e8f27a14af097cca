// fieldsync drives the text-field sync engine from the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"fieldsync/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
