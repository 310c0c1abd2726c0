// Package main provides notifyctl, a headless notifysync client for driving a
// backend from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "notifyctl:", err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already called
	}
}
