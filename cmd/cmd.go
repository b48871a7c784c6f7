// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// serveCommand runs the long-lived sync daemon.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"daemon"},
		Usage:   "Run the sync daemon (fast position loop, slow discovery loop, status server)",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Log position pushes instead of writing them",
			},
		},
		Action: r.Serve,
	}
}

// syncCommand runs a single reconciliation pass and exits.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run a single sync pass and exit",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Log position pushes instead of writing them",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output pass result as JSON",
			},
		},
		Action: r.Sync,
	}
}

// statusCommand inspects the persisted sync state without touching any API.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show tracked items and last sync times from the state file",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Status,
	}
}

// watchCommand manages the watchlist.
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Manage the sync watchlist",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add one or more ASINs to the watchlist",
				ArgsUsage: "<asin>...",
				Flags:     []cli.Flag{configFlag()},
				Action:    r.WatchAdd,
			},
			{
				Name:   "list",
				Usage:  "List watchlisted ASINs, most recently active last",
				Flags:  []cli.Flag{configFlag()},
				Action: r.WatchList,
			},
		},
	}
}

// setupCommand handles first-run setup.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Create a starter config.toml",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path for the new config file",
						Value:   "config.toml",
					},
				},
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize the resolution cache database and run migrations",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead of applying",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// tuiCommand returns the top-level TUI command for interactive browsing and syncing.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch interactive TUI for tracked audiobooks",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "offline",
				Usage: "Browse local state only, no API clients",
			},
		},
		Action: r.TUI,
	}
}
