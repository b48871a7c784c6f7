package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/abx/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes a starter config file for the user to edit.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("output")

	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}

	r.writePlain("created %s\n", path)
	r.writePlain("edit it with your Audible auth path and Audiobookshelf URL/token, then run `abx serve`\n")
	return nil
}

// SetupDatabase initializes the resolution cache database and brings its
// schema up to date.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)
	if config.State.CachePath == "" {
		return fmt.Errorf("%w: state.cache_path is not set", shared.ErrMissingConfig)
	}

	db, err := shared.NewDatabase(config.State.CachePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if cmd.Bool("rollback") {
		if err := shared.RollbackMigration(db); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		r.writePlain("rolled back the latest migration on %s\n", config.State.CachePath)
		return nil
	}

	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	r.writePlain("resolution cache ready at %s\n", config.State.CachePath)
	return nil
}
