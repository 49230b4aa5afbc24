package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/rtcore/cmd"
	"github.com/tphakala/rtcore/internal/buildinfo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(buildinfo.Current())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
