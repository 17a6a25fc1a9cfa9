package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"newsagent/api/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRoot(cli.Env{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "newsagent: %v\n", err)
		os.Exit(1)
	}
}
