package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"verification-service/internal/config"
	"verification-service/internal/factory"
	"verification-service/internal/util"
)

func main() {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	if err := cfg.Validate(); err != nil {
		util.Fatal("Invalid configuration", util.ErrorField(err))
	}

	f, err := factory.NewFactory(cfg, factory.RoleWorker)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	w, err := f.Worker(ctx)
	if err != nil {
		util.Fatal("Failed to create SMS worker", util.ErrorField(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.RunAudit(ctx)
	})
	g.Go(func() error {
		util.Info("Starting SMS worker",
			util.String("environment", cfg.Environment),
			util.Int("concurrency", cfg.Worker.Concurrency),
			util.String("provider", cfg.SMS.Provider),
		)
		return w.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		util.Error("Worker exited with error", util.ErrorField(err))
		f.Close()
		os.Exit(1)
	}
	util.Info("Worker shutdown completed")
}
