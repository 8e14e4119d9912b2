package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"openflow/internal/jobs"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(false)
	if log != nil {
		defer log.Sync()
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.rdb == nil {
		return errors.New("worker requires a reachable REDIS_ADDR")
	}

	jobServer, _ := jobs.NewJobServer(cfg.RedisAddr, cfg.DispatchConcurrency, a.pool.Queries, a.dispatcher, a.bus, log)
	if err := jobServer.Start(); err != nil {
		return err
	}
	log.Info("Dispatch worker started", zap.Int("concurrency", cfg.DispatchConcurrency))

	<-ctx.Done()
	jobServer.Stop()
	log.Info("Dispatch worker stopped")
	return nil
}
