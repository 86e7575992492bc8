package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/onexay/pushwatch/internal/config"
	"github.com/onexay/pushwatch/internal/httpserver"
)

func main() {
	logger := config.NewLogger(config.Load().Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := httpserver.NewServer(ctx, logger)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server terminated", "error", err)
		os.Exit(1)
	}
}
