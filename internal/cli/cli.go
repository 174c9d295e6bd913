// Package cli provides the command-line interface for t0quant
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"

// Run starts the CLI application
func Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
