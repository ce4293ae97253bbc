package cli

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/clean-dependency-project/itchmirror/internal/butler"
	"github.com/clean-dependency-project/itchmirror/internal/catalog"
	"github.com/clean-dependency-project/itchmirror/internal/fetch"
	"github.com/clean-dependency-project/itchmirror/internal/storage"
)

// mockDaemon implements Daemon for testing.
type mockDaemon struct {
	versionFn      func(ctx context.Context) (butler.VersionInfo, error)
	loginFn        func(ctx context.Context, apiKey string) (butler.Profile, error)
	fetchUploadsFn func(ctx context.Context, gameID int64) ([]butler.Upload, error)
	queueFn        func(ctx context.Context, params butler.QueueInstallParams) (butler.InstallJob, error)
	performFn      func(ctx context.Context, job butler.InstallJob) error
	closeFn        func() error

	queued    atomic.Int32
	performed atomic.Int32
	closed    bool
}

// Version implements Daemon.
func (m *mockDaemon) Version(ctx context.Context) (butler.VersionInfo, error) {
	if m.versionFn != nil {
		return m.versionFn(ctx)
	}
	return butler.VersionInfo{Version: "v15.24.0", VersionString: "v15.24.0, built on Jan 1 2024"}, nil
}

// LoginWithAPIKey implements Daemon.
func (m *mockDaemon) LoginWithAPIKey(ctx context.Context, apiKey string) (butler.Profile, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, apiKey)
	}
	return butler.Profile{ID: 1, User: butler.User{ID: 7, Username: "dev"}}, nil
}

// FetchGameUploads implements Daemon.
func (m *mockDaemon) FetchGameUploads(ctx context.Context, gameID int64, _ butler.NotificationFunc) ([]butler.Upload, error) {
	if m.fetchUploadsFn != nil {
		return m.fetchUploadsFn(ctx, gameID)
	}
	return []butler.Upload{{ID: gameID * 10, Filename: fmt.Sprintf("build-%d.zip", gameID)}}, nil
}

// QueueInstall implements Daemon.
func (m *mockDaemon) QueueInstall(ctx context.Context, params butler.QueueInstallParams, _ butler.NotificationFunc) (butler.InstallJob, error) {
	m.queued.Add(1)
	if m.queueFn != nil {
		return m.queueFn(ctx, params)
	}
	return butler.InstallJob{ID: fmt.Sprintf("job-%d", params.Upload.ID), StagingFolder: params.StagingFolder}, nil
}

// PerformInstall implements Daemon.
func (m *mockDaemon) PerformInstall(ctx context.Context, job butler.InstallJob, _ butler.NotificationFunc) error {
	m.performed.Add(1)
	if m.performFn != nil {
		return m.performFn(ctx, job)
	}
	return nil
}

// Close implements Daemon.
func (m *mockDaemon) Close() error {
	m.closed = true
	if m.closeFn != nil {
		return m.closeFn()
	}
	return nil
}

// mockCatalog implements catalog.Client for testing.
type mockCatalog struct {
	fetchCatalogFn func(ctx context.Context, apiKey string, filter catalog.Filter) ([]catalog.Game, error)
}

// FetchCatalog implements catalog.Client.
func (m *mockCatalog) FetchCatalog(ctx context.Context, apiKey string, filter catalog.Filter) ([]catalog.Game, error) {
	if m.fetchCatalogFn != nil {
		return m.fetchCatalogFn(ctx, apiKey, filter)
	}
	return filter.Apply([]catalog.Game{
		{ID: 1, Title: "Alpha", Published: true},
		{ID: 2, Title: "Beta"},
	}), nil
}

// mockAssets implements mirror.AssetFetcher for testing.
type mockAssets struct {
	fetchAssetFn func(ctx context.Context, url, dest string) (fetch.Result, error)
}

// FetchAsset implements mirror.AssetFetcher.
func (m *mockAssets) FetchAsset(ctx context.Context, url, dest string) (fetch.Result, error) {
	if m.fetchAssetFn != nil {
		return m.fetchAssetFn(ctx, url, dest)
	}
	return fetch.Result{URL: url, Path: dest}, nil
}

// mockHistoryStore implements HistoryStore for testing.
type mockHistoryStore struct {
	startRunFn      func(run *storage.SyncRun) error
	recordInstallFn func(install *storage.InstalledUpload) error
	finishRunFn     func(id uint, result storage.RunResult) error
	getRunFn        func(id uint) (*storage.SyncRun, error)
	listRunsFn      func(limit int) ([]storage.SyncRun, error)

	closed bool
}

// StartRun implements HistoryStore.
func (m *mockHistoryStore) StartRun(run *storage.SyncRun) error {
	if m.startRunFn != nil {
		return m.startRunFn(run)
	}
	run.ID = 1
	return nil
}

// RecordInstall implements HistoryStore.
func (m *mockHistoryStore) RecordInstall(install *storage.InstalledUpload) error {
	if m.recordInstallFn != nil {
		return m.recordInstallFn(install)
	}
	return nil
}

// FinishRun implements HistoryStore.
func (m *mockHistoryStore) FinishRun(id uint, result storage.RunResult) error {
	if m.finishRunFn != nil {
		return m.finishRunFn(id, result)
	}
	return nil
}

// GetRun implements HistoryStore.
func (m *mockHistoryStore) GetRun(id uint) (*storage.SyncRun, error) {
	if m.getRunFn != nil {
		return m.getRunFn(id)
	}
	return nil, fmt.Errorf("%w: %d", storage.ErrRunNotFound, id)
}

// ListRuns implements HistoryStore.
func (m *mockHistoryStore) ListRuns(limit int) ([]storage.SyncRun, error) {
	if m.listRunsFn != nil {
		return m.listRunsFn(limit)
	}
	return nil, nil
}

// Close implements HistoryStore.
func (m *mockHistoryStore) Close() error {
	m.closed = true
	return nil
}
