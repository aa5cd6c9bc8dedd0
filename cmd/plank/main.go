package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/christopherhwood/plank/internal/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := commands.RootCmd()
	rootCmd.AddCommand(commands.ResolveCmd())
	rootCmd.AddCommand(commands.GraphCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
