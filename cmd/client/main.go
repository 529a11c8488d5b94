package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/okulov/vaultsync/internal/client/cli"
	"github.com/okulov/vaultsync/internal/client/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	app := cli.NewApp(cfg)
	app.Run(ctx)
}
