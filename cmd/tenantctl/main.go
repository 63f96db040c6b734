package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/tenantry/internal/server/config"
	"github.com/dmitrijs2005/tenantry/internal/tenantctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	cfg := config.LoadConfig()
	app := tenantctl.NewApp(cfg)

	err := app.Run(ctx, os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}
