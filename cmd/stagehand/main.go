package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cliadapter "github.com/example/stagehand/internal/adapters/cli"
	"github.com/example/stagehand/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.RootCmd().ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}
	var exitErr *cliadapter.ExitError
	if errors.As(err, &exitErr) {
		// The adapter already reported the failure.
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(cliadapter.ExitFailure)
}
