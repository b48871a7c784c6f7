package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/abx/internal/shared"
	"github.com/desertthunder/abx/internal/state"
	"github.com/urfave/cli/v3"
)

// WatchAdd adds one or more ASINs to the watchlist so the next pass picks
// them up even when neither service reports activity.
func (r *Runner) WatchAdd(ctx context.Context, cmd *cli.Command) error {
	asins := cmd.Args().Slice()
	if len(asins) == 0 {
		return fmt.Errorf("%w: at least one ASIN is required", shared.ErrMissingArgument)
	}

	config := r.loadConfig(cmd)
	store := state.NewStore(config.State.Path, config.State.Persist, config.Sync.WatchlistMaxSize, r.logger)
	store.Load()

	store.Touch(asins...)
	store.Save()

	for _, asin := range asins {
		r.writePlain("watching %s\n", asin)
	}
	return nil
}

// WatchList prints the current watchlist in eviction order, oldest first.
func (r *Runner) WatchList(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)
	store := state.NewStore(config.State.Path, config.State.Persist, config.Sync.WatchlistMaxSize, r.logger)
	store.Load()

	watchlist := store.WatchlistSnapshot()
	if len(watchlist) == 0 {
		return r.writePlain("watchlist is empty\n")
	}

	for _, asin := range watchlist {
		r.writePlain("%s\n", asin)
	}
	return nil
}
