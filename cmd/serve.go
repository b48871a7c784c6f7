package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/abx/internal/server"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// Serve runs the sync daemon until interrupted: the fast position loop, the
// slow discovery loop, and the optional status HTTP server.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := r.buildStack(ctx, config, cmd.Bool("dry-run"))
	if err != nil {
		return err
	}
	defer st.close()

	interval := time.Duration(config.Sync.IntervalS) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return st.syncer.Loop(gctx, interval)
	})
	group.Go(func() error {
		return st.discovery.Loop(gctx)
	})

	if config.Server.Enabled {
		srv := server.New(st.store, config.Server, interval, config.Sync.Mode, st.registry, r.logger)
		group.Go(func() error {
			return srv.Listen(gctx)
		})
	}

	r.logger.Info("daemon started",
		"interval", interval,
		"mode", config.Sync.Mode,
		"server", config.Server.Enabled,
		"audible_ready", st.audible.Ready())

	err = group.Wait()
	st.store.Save()
	r.logger.Info("daemon stopped")

	// A signal-driven shutdown is a clean exit; anything else bubbles up.
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
