// Package cli provides the itchmirror command-line interface.
// It supports an optional YAML configuration file and a .env file.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/subosito/gotenv"
	"github.com/urfave/cli/v2"

	"github.com/clean-dependency-project/itchmirror/internal/config"
)

// NewApp creates the CLI application with the real collaborators.
func NewApp() *cli.App {
	return NewAppWithDeps(DefaultDeps())
}

// NewAppWithDeps creates the CLI application around deps.
func NewAppWithDeps(deps Deps) *cli.App {
	cmd := &commands{deps: deps}
	return &cli.App{
		Name:      "itchmirror",
		Usage:     "Mirror your itch.io catalog: builds, cover art and metadata",
		UsageText: "itchmirror [options] <output-dir>\nitchmirror [global options] command [command options]",
		ArgsUsage: "<output-dir>",
		Version:   "1.0.0",
		Compiled:  time.Now(),
		Writer:    deps.Stdout,
		ErrWriter: deps.Stderr,
		Authors: []*cli.Author{
			{
				Name:  "Clean Dependency Project",
				Email: "info@example.com",
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultFileName,
				Usage:   "path to the YAML configuration file (optional unless set explicitly)",
				EnvVars: []string{"ITCHMIRROR_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"ITCHMIRROR_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "json",
				Usage:   "log format (json, text)",
				EnvVars: []string{"ITCHMIRROR_LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "also write logs to this file, rotated by size",
				EnvVars: []string{"ITCHMIRROR_LOG_FILE"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "itch.io API key",
				EnvVars: []string{"ITCHMIRROR_API_KEY", "API_KEY"},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output directory (or pass it as the first argument)",
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"n"},
				Usage:   "print the files a sync would create without changing anything",
			},
			&cli.BoolFlag{
				Name:  "published-only",
				Usage: "skip games that are not published",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Value: config.DefaultConcurrency,
				Usage: "work items in flight per phase (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "draw per-phase progress bars on stderr",
			},
		},
		Action: cmd.sync,
		Commands: []*cli.Command{
			{
				Name:  "history",
				Usage: "List recent sync runs from the ledger",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "number of runs to show (0 shows all)",
					},
					&cli.UintFlag{
						Name:  "run",
						Usage: "show one run with the uploads it installed",
					},
				},
				Action: cmd.history,
			},
			{
				Name:  "config",
				Usage: "Manage the configuration file",
				Subcommands: []*cli.Command{
					{
						Name:      "init",
						Usage:     "Write the default configuration",
						ArgsUsage: "[path]",
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "force",
								Usage: "overwrite an existing file",
							},
						},
						Action: cmd.configInit,
					},
				},
			},
		},
	}
}

// commands holds the actions of the application.
type commands struct {
	deps Deps
}

// loadConfig reads the --config file. A file named explicitly must exist.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(c.String("config"), c.IsSet("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from path when the file exists. Variables
// already present in the environment are kept.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// outputDir returns --output or the first positional argument.
func outputDir(c *cli.Context) string {
	if dir := strings.TrimSpace(c.String("output")); dir != "" {
		return dir
	}
	return strings.TrimSpace(c.Args().First())
}
