package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clean-dependency-project/itchmirror/internal/butler"
	"github.com/clean-dependency-project/itchmirror/internal/catalog"
	"github.com/clean-dependency-project/itchmirror/internal/config"
	"github.com/clean-dependency-project/itchmirror/internal/fetch"
	"github.com/clean-dependency-project/itchmirror/internal/logger"
	"github.com/clean-dependency-project/itchmirror/internal/metadata"
	"github.com/clean-dependency-project/itchmirror/internal/storage"
)

type fakeCatalog struct {
	games []catalog.Game
	err   error
	calls int
}

func (f *fakeCatalog) FetchCatalog(_ context.Context, apiKey string, filter catalog.Filter) ([]catalog.Game, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return filter.Apply(f.games), nil
}

// fakeDaemon creates the folders a real daemon would and records the order of
// every call.
type fakeDaemon struct {
	mu         sync.Mutex
	uploads    map[int64][]butler.Upload
	fetchDelay map[int64]time.Duration
	queueErr   map[int64]error
	events     []string
	queued     map[string]butler.QueueInstallParams
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		uploads:    make(map[int64][]butler.Upload),
		fetchDelay: make(map[int64]time.Duration),
		queueErr:   make(map[int64]error),
		queued:     make(map[string]butler.QueueInstallParams),
	}
}

func (d *fakeDaemon) record(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *fakeDaemon) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *fakeDaemon) count(prefix string) int {
	n := 0
	for _, e := range d.Events() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func (d *fakeDaemon) FetchGameUploads(ctx context.Context, gameID int64, onNotify butler.NotificationFunc) ([]butler.Upload, error) {
	if delay := d.fetchDelay[gameID]; delay > 0 {
		time.Sleep(delay)
	}
	d.record(fmt.Sprintf("fetch:%d", gameID))
	return d.uploads[gameID], nil
}

func (d *fakeDaemon) QueueInstall(ctx context.Context, params butler.QueueInstallParams, onNotify butler.NotificationFunc) (butler.InstallJob, error) {
	d.record(fmt.Sprintf("queue:%d", params.Upload.ID))
	if err := d.queueErr[params.Upload.ID]; err != nil {
		return butler.InstallJob{}, err
	}
	onNotify(butler.Notification{Method: "Log", Params: json.RawMessage(`{"level":"info","message":"queued download"}`)})

	job := butler.InstallJob{
		ID:            fmt.Sprintf("job-%d", params.Upload.ID),
		InstallFolder: params.InstallFolder,
		StagingFolder: params.StagingFolder,
	}
	d.mu.Lock()
	d.queued[job.ID] = params
	d.mu.Unlock()
	return job, nil
}

func (d *fakeDaemon) PerformInstall(ctx context.Context, job butler.InstallJob, onNotify butler.NotificationFunc) error {
	d.record("perform:" + job.ID)
	d.mu.Lock()
	params, ok := d.queued[job.ID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", job.ID)
	}
	if err := os.MkdirAll(job.StagingFolder, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(params.InstallFolder, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(params.InstallFolder, params.Upload.Filename), []byte("build"), 0644)
}

type fakeAssets struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeAssets) FetchAsset(ctx context.Context, url, dest string) (fetch.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if f.err != nil {
		return fetch.Result{}, f.err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fetch.Result{}, err
	}
	return fetch.Result{URL: url, Path: dest, Size: 3}, os.WriteFile(dest, []byte("img"), 0644)
}

func (f *fakeAssets) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func ptr(s string) *string { return &s }

// testCatalog is three games with two uploads each.
func testCatalog() ([]catalog.Game, map[int64][]butler.Upload) {
	games := []catalog.Game{
		{ID: 1, Title: "Star: Fall?", Published: true, PublishedAt: ptr("2020-01-01 10:00:00"),
			CoverURL: "https://img.example/1/cover.png"},
		{ID: 2, Title: "Moon Base", Published: true, PublishedAt: ptr("2022-06-15 10:00:00"),
			CoverURL: "https://img.example/2/cover.jpg", StillCoverURL: "https://img.example/2/still.gif"},
		{ID: 3, Title: "Deep Sea", Published: true, PublishedAt: ptr("2021-03-10 10:00:00")},
	}
	uploads := map[int64][]butler.Upload{
		1: {{ID: 11, Filename: "StarFall-Linux.ZIP"}, {ID: 12, Filename: "starfall.exe", DisplayName: "Windows <x64>"}},
		2: {{ID: 21, Filename: "moon.zip", DisplayName: "Moon Base Mac"}, {ID: 22, Filename: "moon-linux.tar.gz"}},
		3: {{ID: 31, Filename: "deep.zip"}, {ID: 32, Filename: "deep-soundtrack.zip", DisplayName: "OST"}},
	}
	return games, uploads
}

type harness struct {
	catalog  *fakeCatalog
	daemon   *fakeDaemon
	assets   *fakeAssets
	syncer   *Syncer
	output   string
	temp     string
	logs     *bytes.Buffer
	ledgerDB *storage.DB
}

func newHarness(t *testing.T, games []catalog.Game, uploads map[int64][]butler.Upload) *harness {
	t.Helper()

	daemon := newFakeDaemon()
	daemon.uploads = uploads

	logs := &bytes.Buffer{}
	log, err := logger.NewWithWriter("debug", "json", &syncWriter{w: logs})
	require.NoError(t, err)

	db, err := storage.InitDB(storage.Config{DatabasePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		catalog:  &fakeCatalog{games: games},
		daemon:   daemon,
		assets:   &fakeAssets{},
		output:   filepath.Join(t.TempDir(), "out"),
		temp:     t.TempDir(),
		logs:     logs,
		ledgerDB: db,
	}
	h.syncer = New(Config{
		Catalog:  h.catalog,
		Daemon:   h.daemon,
		Assets:   h.assets,
		Metadata: metadata.NewWriter(log),
		Ledger:   db,
		Logger:   log,
	})
	return h
}

func (h *harness) options(dryRun bool) Options {
	return Options{
		APIKey:      "key",
		OutputRoot:  h.output,
		TempRoot:    h.temp,
		DryRun:      dryRun,
		Concurrency: 3,
	}
}

// syncWriter serializes log writes from concurrent goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func metadataFiles(t *testing.T, root string) []string {
	t.Helper()
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return filepath.SkipAll
		}
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == "metadata.json" {
			found = append(found, path)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(found)
	return found
}

func TestRun_DryRunMatchesRealRun(t *testing.T) {
	games, uploads := testCatalog()

	dry := newHarness(t, games, uploads)
	dryReport, err := dry.syncer.Run(context.Background(), dry.options(true))
	require.NoError(t, err)

	assert.Zero(t, dry.daemon.count("queue:"), "dry run must not queue installs")
	assert.Zero(t, dry.daemon.count("perform:"), "dry run must not perform installs")
	assert.Zero(t, dry.assets.Calls(), "dry run must not download assets")
	_, statErr := os.Stat(dry.output)
	assert.True(t, os.IsNotExist(statErr), "dry run must not create the output directory")

	// Same roots, so the two runs plan comparable paths.
	live := newHarness(t, games, uploads)
	live.output, live.temp = dry.output, dry.temp
	realReport, err := live.syncer.Run(context.Background(), live.options(false))
	require.NoError(t, err)

	assert.Equal(t, dryReport.Paths(), realReport.Paths())
	for _, p := range dryReport.Paths() {
		_, err := os.Stat(p)
		assert.NoError(t, err, "planned path %s was not created by the real run", p)
	}

	// 6 uploads x (install + staging) + 2 covers + 2 thumbnails + 3 per-game + 1 aggregate
	assert.Len(t, dryReport.Paths(), 12+2+2+3+1)
}

func TestRun_PlannedPaths(t *testing.T) {
	games, uploads := testCatalog()
	h := newHarness(t, games, uploads)

	rep, err := h.syncer.Run(context.Background(), h.options(true))
	require.NoError(t, err)

	paths := rep.Paths()
	assert.Contains(t, paths, filepath.Join(h.output, "Star Fall", "StarFall-Linux"))
	assert.Contains(t, paths, filepath.Join(h.output, "Star Fall", "Windows x64"))
	assert.Contains(t, paths, filepath.Join(h.temp, "staging", "Moon Base", "Moon Base Mac"))
	assert.Contains(t, paths, filepath.Join(h.output, "Moon Base", "moon-linux.tar.gz"))
	assert.Contains(t, paths, filepath.Join(h.output, "Star Fall", "cover.png"))
	assert.Contains(t, paths, filepath.Join(h.output, "Star Fall", "still_cover.png"))
	assert.Contains(t, paths, filepath.Join(h.output, "Moon Base", "still_cover.gif"))
	assert.Contains(t, paths, filepath.Join(h.output, "metadata.json"))
	for _, p := range paths {
		assert.NotContains(t, p, filepath.Join("Deep Sea", "cover"), "game without images plans no assets")
	}
	assert.True(t, sort.StringsAreSorted(paths))
}

func TestRun_QueueFailureStopsBeforePerform(t *testing.T) {
	games := []catalog.Game{
		{ID: 1, Title: "One", CoverURL: "https://img.example/1.png"},
		{ID: 2, Title: "Two"},
		{ID: 3, Title: "Three"},
	}
	uploads := map[int64][]butler.Upload{
		1: {{ID: 101, Filename: "one.zip"}},
		2: {{ID: 102, Filename: "two.zip"}},
		3: {{ID: 103, Filename: "three.zip"}},
	}
	h := newHarness(t, games, uploads)
	h.daemon.queueErr[102] = &butler.RPCError{Method: "Install.Queue", Code: 500, Message: "no space left"}

	opts := h.options(false)
	opts.Concurrency = 1
	_, err := h.syncer.Run(context.Background(), opts)

	require.Error(t, err)
	assert.ErrorIs(t, err, butler.ErrRPC)
	assert.Contains(t, err.Error(), "Two")
	assert.Zero(t, h.daemon.count("perform:"))
	assert.Zero(t, h.assets.Calls())
	assert.Empty(t, metadataFiles(t, h.output))

	runs, err := h.ledgerDB.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].ErrorMessage, "no space left")
}

func TestRun_AllQueuesBeforeAnyPerform(t *testing.T) {
	games, uploads := testCatalog()
	h := newHarness(t, games, uploads)

	_, err := h.syncer.Run(context.Background(), h.options(false))
	require.NoError(t, err)

	events := h.daemon.Events()
	lastQueue, firstPerform := -1, len(events)
	for i, e := range events {
		if strings.HasPrefix(e, "queue:") {
			lastQueue = i
		}
		if strings.HasPrefix(e, "perform:") && i < firstPerform {
			firstPerform = i
		}
	}
	assert.Less(t, lastQueue, firstPerform, "events: %v", events)
	assert.Equal(t, 6, h.daemon.count("perform:"))
}

func TestRun_PublishedOnly(t *testing.T) {
	games := []catalog.Game{
		{ID: 1, Title: "Released", Published: true, PublishedAt: ptr("2021-01-01 00:00:00")},
		{ID: 2, Title: "Draft", Published: false},
		{ID: 3, Title: "Also Released", Published: true, PublishedAt: ptr("2022-01-01 00:00:00")},
	}
	uploads := map[int64][]butler.Upload{
		1: {{ID: 10, Filename: "released.zip"}},
		2: {{ID: 20, Filename: "draft.zip"}},
	}
	h := newHarness(t, games, uploads)

	opts := h.options(false)
	opts.Filter = catalog.Filter{PublishedOnly: true}
	_, err := h.syncer.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(h.output, "Also Released", "metadata.json"),
		filepath.Join(h.output, "Released", "metadata.json"),
		filepath.Join(h.output, "metadata.json"),
	}, metadataFiles(t, h.output))
	assert.Zero(t, h.daemon.count("fetch:2"), "unpublished game must not be resolved")

	data, err := os.ReadFile(filepath.Join(h.output, "metadata.json"))
	require.NoError(t, err)
	var written []catalog.Game
	require.NoError(t, json.Unmarshal(data, &written))
	require.Len(t, written, 2)
	assert.Equal(t, int64(3), written[0].ID)
	assert.Equal(t, int64(1), written[1].ID)
}

func TestRun_AggregateSortedNewestFirst(t *testing.T) {
	games, uploads := testCatalog()
	h := newHarness(t, games, uploads)

	_, err := h.syncer.Run(context.Background(), h.options(false))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(h.output, "metadata.json"))
	require.NoError(t, err)
	var written []catalog.Game
	require.NoError(t, json.Unmarshal(data, &written))

	var dates []string
	for _, g := range written {
		dates = append(dates, g.PublishedAtKey()[:10])
	}
	assert.Equal(t, []string{"2022-06-15", "2021-03-10", "2020-01-01"}, dates)
}

func TestRun_RecordsLedger(t *testing.T) {
	games, uploads := testCatalog()
	h := newHarness(t, games, uploads)

	_, err := h.syncer.Run(context.Background(), h.options(false))
	require.NoError(t, err)

	runs, err := h.ledgerDB.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.StatusSuccess, runs[0].Status)
	assert.Equal(t, 3, runs[0].GameCount)
	assert.Equal(t, 6, runs[0].UploadCount)
	assert.Equal(t, 4, runs[0].AssetCount)

	run, err := h.ledgerDB.GetRun(runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, run.Uploads, 6)
}

func TestRun_DryRunSkipsLedger(t *testing.T) {
	games, uploads := testCatalog()
	h := newHarness(t, games, uploads)

	_, err := h.syncer.Run(context.Background(), h.options(true))
	require.NoError(t, err)

	runs, err := h.ledgerDB.ListRuns(0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_SurfacesDaemonLogs(t *testing.T) {
	games, uploads := testCatalog()
	h := newHarness(t, games, uploads)

	_, err := h.syncer.Run(context.Background(), h.options(false))
	require.NoError(t, err)

	logs := h.logs.String()
	assert.Contains(t, logs, `"msg":"queued download"`)
	assert.Contains(t, logs, `"game":"Moon Base"`)
	assert.Contains(t, logs, `"upload":"Moon Base Mac"`)
}

func TestRun_Errors(t *testing.T) {
	games, uploads := testCatalog()

	t.Run("missing output directory", func(t *testing.T) {
		h := newHarness(t, games, uploads)
		opts := h.options(false)
		opts.OutputRoot = ""
		_, err := h.syncer.Run(context.Background(), opts)
		assert.ErrorIs(t, err, config.ErrMissingOutputDir)
		assert.Zero(t, h.catalog.calls)
	})

	t.Run("catalog failure", func(t *testing.T) {
		h := newHarness(t, games, uploads)
		h.catalog.err = catalog.ErrAuth
		_, err := h.syncer.Run(context.Background(), h.options(false))
		assert.ErrorIs(t, err, catalog.ErrAuth)
		assert.Empty(t, h.daemon.Events())
	})

	t.Run("asset failure skips metadata", func(t *testing.T) {
		h := newHarness(t, games, uploads)
		h.assets.err = fetch.ErrDownloadFailed
		_, err := h.syncer.Run(context.Background(), h.options(false))
		assert.ErrorIs(t, err, fetch.ErrDownloadFailed)
		assert.Empty(t, metadataFiles(t, h.output))
	})
}

func TestResolveUploads_KeepsGameOrder(t *testing.T) {
	games, uploads := testCatalog()
	h := newHarness(t, games, uploads)
	// First game answers last.
	h.daemon.fetchDelay[1] = 30 * time.Millisecond
	h.daemon.fetchDelay[2] = 10 * time.Millisecond

	pairs, err := h.syncer.resolveUploads(context.Background(), games, 3)
	require.NoError(t, err)

	var ids []int64
	for _, p := range pairs {
		ids = append(ids, p.Upload.ID)
		assert.Equal(t, p.Upload.ID/10, p.Game.ID, "upload %d carries the wrong game", p.Upload.ID)
	}
	assert.Equal(t, []int64{11, 12, 21, 22, 31, 32}, ids)
}

func TestPlanRun_WarnsOnSharedInstallFolder(t *testing.T) {
	games := []catalog.Game{{ID: 1, Title: "Twins"}}
	uploads := map[int64][]butler.Upload{
		1: {{ID: 1, Filename: "build.zip"}, {ID: 2, Filename: "BUILD.ZIP", DisplayName: "build"}},
	}
	h := newHarness(t, games, uploads)

	_, err := h.syncer.Run(context.Background(), h.options(true))
	require.NoError(t, err)
	assert.Contains(t, h.logs.String(), "uploads share an install folder")
}

func TestPlanRun_SharedGameFolder(t *testing.T) {
	games := []catalog.Game{
		{ID: 1, Title: "Twin: Peaks", CoverURL: "https://img.example/first.png"},
		{ID: 2, Title: "Twin Peaks", CoverURL: "https://img.example/second.png"},
	}
	h := newHarness(t, games, map[int64][]butler.Upload{})

	_, err := h.syncer.Run(context.Background(), h.options(false))
	require.NoError(t, err)

	assert.Contains(t, h.logs.String(), "games share a folder")
	h.assets.mu.Lock()
	calls := append([]string(nil), h.assets.calls...)
	h.assets.mu.Unlock()
	// Cover and thumbnail both fall back to the cover URL.
	assert.Equal(t, []string{"https://img.example/second.png", "https://img.example/second.png"}, calls,
		"each shared image target is fetched once, for the later game")

	data, err := os.ReadFile(filepath.Join(h.output, "Twin Peaks", "metadata.json"))
	require.NoError(t, err)
	var written catalog.Game
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, int64(2), written.ID)
}

func TestResolveUploads_LogsPlatforms(t *testing.T) {
	games := []catalog.Game{{ID: 1, Title: "Ports"}}
	uploads := map[int64][]butler.Upload{
		1: {{ID: 10, Filename: "ports-win.zip", Platforms: butler.Platforms{Windows: "all"}}},
	}
	h := newHarness(t, games, uploads)

	_, err := h.syncer.resolveUploads(context.Background(), games, 1)
	require.NoError(t, err)

	logs := h.logs.String()
	assert.Contains(t, logs, `"msg":"upload found"`)
	assert.Contains(t, logs, `"platforms":["windows"]`)
	assert.Contains(t, logs, `"compatible":`)
}

func TestRun_DryRunSummarizesRoles(t *testing.T) {
	games, uploads := testCatalog()
	h := newHarness(t, games, uploads)

	_, err := h.syncer.Run(context.Background(), h.options(true))
	require.NoError(t, err)

	logs := h.logs.String()
	assert.Contains(t, logs, `"msg":"dry run complete"`)
	assert.Contains(t, logs, `"install-folder":6`)
	assert.Contains(t, logs, `"catalog-metadata":1`)
}
