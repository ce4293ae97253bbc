// Package cli provides command-line interface components with testable abstractions.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/clean-dependency-project/itchmirror/internal/butler"
	"github.com/clean-dependency-project/itchmirror/internal/catalog"
	"github.com/clean-dependency-project/itchmirror/internal/config"
	"github.com/clean-dependency-project/itchmirror/internal/fetch"
	"github.com/clean-dependency-project/itchmirror/internal/mirror"
	"github.com/clean-dependency-project/itchmirror/internal/storage"
)

// Daemon is a started installer daemon with a client connected to it.
type Daemon interface {
	mirror.Daemon

	// Version returns the daemon's version handshake.
	Version(ctx context.Context) (butler.VersionInfo, error)

	// LoginWithAPIKey logs the daemon in with the catalog API key.
	LoginWithAPIKey(ctx context.Context, apiKey string) (butler.Profile, error)

	// Close stops the daemon process.
	Close() error
}

// HistoryStore abstracts the sync ledger for testing.
type HistoryStore interface {
	mirror.Ledger

	// GetRun returns one run with its installed uploads.
	GetRun(id uint) (*storage.SyncRun, error)

	// ListRuns returns the most recent runs first.
	ListRuns(limit int) ([]storage.SyncRun, error)

	// Close closes the database connection.
	Close() error
}

// Deps holds the collaborators the commands are built from.
type Deps struct {
	Stdout io.Writer
	Stderr io.Writer

	StartDaemon func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Daemon, error)
	NewCatalog  func(cfg *config.Config, logger *slog.Logger) catalog.Client
	NewAssets   func(cfg *config.Config, logger *slog.Logger) mirror.AssetFetcher
	OpenHistory func(cfg *config.Config) (HistoryStore, error)
}

// DefaultDeps wires the real daemon, HTTP clients and SQLite ledger.
func DefaultDeps() Deps {
	return Deps{
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		StartDaemon: startButler,
		NewCatalog:  newCatalogClient,
		NewAssets:   newAssetFetcher,
		OpenHistory: openHistory,
	}
}

// butlerSession ties a client to the daemon process it talks to.
type butlerSession struct {
	*butler.Client
	daemon *butler.Daemon
}

func (s *butlerSession) Close() error {
	return s.daemon.Close()
}

func startButler(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Daemon, error) {
	executable, err := butler.Locate(cfg.Butler.Executable)
	if err != nil {
		return nil, err
	}
	logger.Debug("found butler", "path", executable)

	daemon, err := butler.Start(ctx, butler.DaemonOptions{
		Executable:   executable,
		DatabasePath: cfg.Butler.GetDatabasePath(cfg.Config.GetTempDir()),
		StartTimeout: cfg.Butler.GetStartTimeout(),
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	client := butler.NewClient(daemon.Endpoint(), butler.WithLogger(logger))
	return &butlerSession{Client: client, daemon: daemon}, nil
}

func newCatalogClient(cfg *config.Config, logger *slog.Logger) catalog.Client {
	return catalog.NewClient(catalog.Config{
		BaseURL:   cfg.Config.APIBaseURL,
		UserAgent: cfg.Config.UserAgent,
		Timeout:   cfg.Config.GetHTTPTimeout(),
		Logger:    logger,
	})
}

func newAssetFetcher(cfg *config.Config, logger *slog.Logger) mirror.AssetFetcher {
	return fetch.New(fetch.Config{
		Timeout:   cfg.Config.GetHTTPTimeout(),
		UserAgent: cfg.Config.UserAgent,
		Logger:    logger,
	})
}

func openHistory(cfg *config.Config) (HistoryStore, error) {
	db, err := storage.InitDB(storage.Config{
		DatabasePath: cfg.Storage.DatabasePath,
		LogLevel:     "warn",
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}
