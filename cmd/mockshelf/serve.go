package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mockshelf/mockshelf/internal/api"
	"github.com/mockshelf/mockshelf/internal/config"
	"github.com/mockshelf/mockshelf/internal/filecache"
	"github.com/mockshelf/mockshelf/internal/media"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.EnvConfig) error {
	startTime := time.Now()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire data dir lock: %w", err)
	}
	if !locked {
		return errors.New("another mockshelf instance is using " + cfg.DataDir())
	}
	defer lock.Unlock()

	a.logger.Info("starting mockshelf",
		"version", config.Version,
		"data_dir", cfg.DataDir(),
		"config_file", cfg.SourcePath(),
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a.probeEncoder(probeCtx)
	cancel()

	server := api.NewServer(api.ServerConfig{
		Host:      cfg.Host(),
		Port:      cfg.Port(),
		Assets:    a.assets,
		Store:     a.store,
		Media:     media.NewServer(a.logger),
		Pipeline:  a.pipeline,
		Logger:    a.logger,
		StartTime: startTime,
		Version:   config.Version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		every := cfg.FileCacheTTL()
		if every <= 0 {
			every = filecache.DefaultTTL
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := a.files.Prune(); n > 0 {
					a.logger.Debug("pruned design file cache", "entries", n)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
