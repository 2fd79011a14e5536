package main

import (
	"context"   // For context management, especially for graceful shutdown
	"os"        // For operating system functionalities, like signal handling
	"os/signal" // For listening to OS signals
	"syscall"   // For specific system calls, like SIGINT and SIGTERM

	"go.uber.org/zap" // For structured logging

	"jobctl/cmd/jobctl/cmd"
	"jobctl/core/logger"
)

// main is the entry point of the jobctl application.
func main() {
	ctx := logger.WithComponentName(context.Background(), "main")

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info(ctx, "Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()
	}()

	code := cmd.Execute(ctx)
	cancel()

	// Flush buffered logs. Sync on stderr fails on some platforms and there is nothing to do about it.
	_ = logger.Logger.Sync()
	os.Exit(code)
}
