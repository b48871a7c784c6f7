package main

import (
	"context"
	"os"

	"github.com/desertthunder/abx/internal/shared"
	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "./config.toml"

func main() {
	logger := shared.NewLogger(nil)

	config := shared.DefaultConfig()
	if _, err := os.Stat(defaultConfigPath); err == nil {
		loaded, err := shared.LoadConfig(defaultConfigPath)
		if err != nil {
			logger.Fatal("failed to load config", "path", defaultConfigPath, "error", err)
		}
		config = loaded
	}

	runner := NewRunner(RunnerOpts{Config: config, Logger: logger})

	app := &cli.Command{
		Name:     "abx",
		Usage:    "keep audiobook listening positions in sync between Audible and Audiobookshelf",
		Version:  "0.2.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Fatal("command failed", "error", err)
	}
}
