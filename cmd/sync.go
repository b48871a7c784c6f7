package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/desertthunder/abx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Sync runs a single reconciliation pass and prints the result.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	st, err := r.buildStack(ctx, config, cmd.Bool("dry-run"))
	if err != nil {
		return err
	}
	defer st.close()

	result, err := st.syncer.RunPass(ctx, nil)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, true)
	}
	return r.printPassResult(result)
}

func (r *Runner) printPassResult(result *tasks.PassResult) error {
	r.writePlainHeader("Sync Pass")
	r.writePlain("Candidates:        %d\n", result.Candidates)
	r.writePlain("Reconciled:        %d\n", result.Reconciled)
	r.writePlain("Pushed to Audible: %d\n", result.PushedAudible)
	r.writePlain("Pushed to shelf:   %d\n", result.PushedShelf)
	if result.Errors > 0 {
		return r.writePlain("Errors:            %d\n", result.Errors)
	}
	return nil
}
