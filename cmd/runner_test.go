package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/abx/internal/shared"
	"github.com/urfave/cli/v3"
)

func newTestRunner(t *testing.T) (*Runner, *bytes.Buffer) {
	t.Helper()

	config := shared.DefaultConfig()
	config.State.Path = filepath.Join(t.TempDir(), "state.json")
	config.State.Persist = true
	config.State.CachePath = ""
	config.Sync.WatchlistMaxSize = 50
	config.Sync.Mode = shared.ModeBidirectional

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config: config,
		Logger: shared.NewLogger(os.Stderr),
		Output: output,
	})
	return runner, output
}

func runCommand(t *testing.T, r *Runner, args ...string) error {
	t.Helper()
	app := &cli.Command{Name: "abx", Commands: r.register()}
	return app.Run(context.Background(), append([]string{"abx"}, args...))
}

func TestNewRunner(t *testing.T) {
	t.Run("with all dependencies provided", func(t *testing.T) {
		config := shared.DefaultConfig()
		logger := shared.NewLogger(nil)
		output := &bytes.Buffer{}

		runner := NewRunner(RunnerOpts{Config: config, Logger: logger, Output: output})

		if runner.config != config {
			t.Error("expected config to be set")
		}
		if runner.logger != logger {
			t.Error("expected logger to be set")
		}
		if runner.output != output {
			t.Error("expected output to be set")
		}
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		if runner.config == nil {
			t.Error("expected default config to be set")
		}
	})

	t.Run("with nil output uses stdout", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		if runner.output != os.Stdout {
			t.Error("expected output to default to os.Stdout")
		}
	})
}

func TestWriteHelpers(t *testing.T) {
	t.Run("writeJSON appends newline", func(t *testing.T) {
		runner, output := newTestRunner(t)

		if err := runner.writeJSON(map[string]int{"count": 3}, false); err != nil {
			t.Fatalf("writeJSON failed: %v", err)
		}
		if got := output.String(); got != "{\"count\":3}\n" {
			t.Errorf("unexpected output: %q", got)
		}
	})

	t.Run("writePlainHeader frames the title", func(t *testing.T) {
		runner, output := newTestRunner(t)

		runner.writePlainHeader("Sync Status")
		if !strings.Contains(output.String(), "Sync Status") {
			t.Errorf("expected header to contain title, got %q", output.String())
		}
	})
}

func TestWatchCommands(t *testing.T) {
	t.Run("add and list", func(t *testing.T) {
		runner, output := newTestRunner(t)

		if err := runCommand(t, runner, "watch", "add", "B001", "B002"); err != nil {
			t.Fatalf("watch add failed: %v", err)
		}
		if !strings.Contains(output.String(), "watching B001") {
			t.Errorf("expected add confirmation, got %q", output.String())
		}

		output.Reset()
		if err := runCommand(t, runner, "watch", "list"); err != nil {
			t.Fatalf("watch list failed: %v", err)
		}
		listed := output.String()
		if !strings.Contains(listed, "B001") || !strings.Contains(listed, "B002") {
			t.Errorf("expected both ASINs listed, got %q", listed)
		}
	})

	t.Run("add without arguments fails", func(t *testing.T) {
		runner, _ := newTestRunner(t)

		err := runCommand(t, runner, "watch", "add")
		if err == nil {
			t.Fatal("expected an error for missing ASIN")
		}
	})

	t.Run("watchlist persists across runners", func(t *testing.T) {
		runner, _ := newTestRunner(t)

		if err := runCommand(t, runner, "watch", "add", "B003"); err != nil {
			t.Fatalf("watch add failed: %v", err)
		}

		output := &bytes.Buffer{}
		second := NewRunner(RunnerOpts{
			Config: runner.config,
			Logger: shared.NewLogger(os.Stderr),
			Output: output,
		})
		if err := runCommand(t, second, "watch", "list"); err != nil {
			t.Fatalf("watch list failed: %v", err)
		}
		if !strings.Contains(output.String(), "B003") {
			t.Errorf("expected persisted ASIN, got %q", output.String())
		}
	})
}

func TestStatusCommand(t *testing.T) {
	t.Run("plain output", func(t *testing.T) {
		runner, output := newTestRunner(t)

		if err := runCommand(t, runner, "watch", "add", "B001"); err != nil {
			t.Fatalf("watch add failed: %v", err)
		}
		output.Reset()

		if err := runCommand(t, runner, "status"); err != nil {
			t.Fatalf("status failed: %v", err)
		}
		got := output.String()
		if !strings.Contains(got, "Watchlist size") {
			t.Errorf("expected summary labels, got %q", got)
		}
		if !strings.Contains(got, "B001") {
			t.Errorf("expected tracked item, got %q", got)
		}
	})

	t.Run("json output", func(t *testing.T) {
		runner, output := newTestRunner(t)

		if err := runCommand(t, runner, "status", "--json"); err != nil {
			t.Fatalf("status --json failed: %v", err)
		}
		got := output.String()
		if !strings.Contains(got, "\"summary\"") || !strings.Contains(got, "watchlist_size") {
			t.Errorf("expected JSON summary, got %q", got)
		}
	})
}

func TestSetupConfigCommand(t *testing.T) {
	runner, output := newTestRunner(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := runCommand(t, runner, "setup", "config", "--output", path); err != nil {
		t.Fatalf("setup config failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}
	if !strings.Contains(output.String(), "created") {
		t.Errorf("expected confirmation, got %q", output.String())
	}

	if err := runCommand(t, runner, "setup", "config", "--output", path); err == nil {
		t.Error("expected an error when config already exists")
	}
}

func TestSetupDatabaseCommand(t *testing.T) {
	runner, output := newTestRunner(t)
	runner.config.State.CachePath = filepath.Join(t.TempDir(), "cache.db")

	if err := runCommand(t, runner, "setup", "database"); err != nil {
		t.Fatalf("setup database failed: %v", err)
	}
	if !strings.Contains(output.String(), "resolution cache ready") {
		t.Errorf("expected confirmation, got %q", output.String())
	}

	t.Run("rollback undoes the latest migration", func(t *testing.T) {
		output.Reset()
		if err := runCommand(t, runner, "setup", "database", "--rollback"); err != nil {
			t.Fatalf("rollback failed: %v", err)
		}
		if !strings.Contains(output.String(), "rolled back") {
			t.Errorf("expected rollback confirmation, got %q", output.String())
		}

		if err := runCommand(t, runner, "setup", "database", "--rollback"); err == nil {
			t.Error("expected an error with nothing left to roll back")
		}
	})

	t.Run("missing cache path fails", func(t *testing.T) {
		bare, _ := newTestRunner(t)
		if err := runCommand(t, bare, "setup", "database"); err == nil {
			t.Error("expected an error without a cache path")
		}
	})
}
