package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/abx/internal/engine"
	"github.com/desertthunder/abx/internal/repositories"
	"github.com/desertthunder/abx/internal/services"
	"github.com/desertthunder/abx/internal/shared"
	"github.com/desertthunder/abx/internal/state"
	"github.com/desertthunder/abx/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config *shared.Config
	logger *log.Logger
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *shared.Config
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config: opts.Config,
		logger: opts.Logger,
		output: opts.Output,
	}
}

// SetLogger swaps the runner's logger, e.g. to a file logger for the TUI.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		serveCommand, syncCommand, statusCommand, watchCommand, setupCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig resolves the effective config for a command invocation: the
// --config flag when the file exists, otherwise the runner's config.
func (r *Runner) loadConfig(cmd *cli.Command) *shared.Config {
	path := cmd.String("config")
	if path == "" {
		return r.config
	}
	if _, err := os.Stat(path); err != nil {
		return r.config
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		r.logger.Warn("failed to load config, using defaults", "path", path, "error", err)
		return r.config
	}
	return config
}

// stack bundles the fully wired daemon components for serve, sync, and tui.
type stack struct {
	store     *state.Store
	engine    *engine.Engine
	audible   *services.AudibleClient
	shelf     *services.ShelfClient
	syncer    *tasks.Syncer
	discovery *tasks.Discovery
	registry  *prometheus.Registry
	close     func()
}

// buildStack wires clients, state, and loops from config. The Audible side
// may come up not-ready (missing or stale auth); the shelf side must be
// reachable.
func (r *Runner) buildStack(ctx context.Context, config *shared.Config, dryRun bool) (*stack, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var cache services.ResolutionCache
	closers := []func(){}

	if config.State.CachePath != "" {
		db, err := shared.NewDatabase(config.State.CachePath)
		if err != nil {
			r.logger.Warn("resolution cache unavailable", "path", config.State.CachePath, "error", err)
		} else if err := shared.RunMigrations(db); err != nil {
			r.logger.Warn("resolution cache migration failed", "error", err)
			db.Close()
		} else {
			cache = repositories.NewResolutionCacheAdapter(repositories.NewResolutionRepository(db), r.logger)
			closers = append(closers, func() { db.Close() })
		}
	}

	audible := services.NewAudibleClient(config.Audible, r.logger)
	if err := audible.Initialize(ctx); err != nil {
		r.logger.Warn("audible client not ready, reads will be empty", "error", err)
	}

	shelf := services.NewShelfClient(config.Shelf, cache, r.logger)
	if err := shelf.Initialize(ctx); err != nil {
		for _, fn := range closers {
			fn()
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}

	if dryRun || config.Sync.DryRun {
		r.logger.Info("dry run enabled, no positions will be written")
		audible.SetDryRun(true)
		shelf.SetDryRun(true)
	}

	store := state.NewStore(config.State.Path, config.State.Persist, config.Sync.WatchlistMaxSize, r.logger)
	store.Load()

	eng := engine.New(store, engine.Config{
		ToleranceS:        config.Sync.ToleranceS,
		CooldownS:         config.Sync.CooldownS,
		ConflictMinDeltaS: config.Sync.ConflictMinDeltaS,
		Mode:              config.Sync.Mode,
	}, r.logger)

	registry := prometheus.NewRegistry()
	metrics := tasks.NewMetrics(registry)

	syncer := tasks.NewSyncer(store, eng, audible, shelf, config.Audible.RecentlyPlayedLimit, r.logger, metrics)
	discovery := tasks.NewDiscovery(store, audible,
		time.Duration(config.Audible.DeepScanIntervalS)*time.Second,
		time.Duration(config.Audible.LibraryDiscoveryIntervalS)*time.Second,
		r.logger)

	return &stack{
		store:     store,
		engine:    eng,
		audible:   audible,
		shelf:     shelf,
		syncer:    syncer,
		discovery: discovery,
		registry:  registry,
		close: func() {
			for _, fn := range closers {
				fn()
			}
		},
	}, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
