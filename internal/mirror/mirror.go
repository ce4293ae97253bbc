// Package mirror runs the catalog synchronization pipeline: fetch the catalog,
// resolve uploads, queue and perform installs, fetch images and write
// metadata. Phases are separated by barriers; work inside a phase runs
// concurrently and the first failure cancels the run.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clean-dependency-project/itchmirror/internal/butler"
	"github.com/clean-dependency-project/itchmirror/internal/catalog"
	"github.com/clean-dependency-project/itchmirror/internal/config"
	"github.com/clean-dependency-project/itchmirror/internal/fetch"
	"github.com/clean-dependency-project/itchmirror/internal/logger"
	"github.com/clean-dependency-project/itchmirror/internal/plan"
	"github.com/clean-dependency-project/itchmirror/internal/progress"
	"github.com/clean-dependency-project/itchmirror/internal/report"
	"github.com/clean-dependency-project/itchmirror/internal/storage"
)

const DefaultConcurrency = 4

// Daemon is the subset of the installer daemon used by the pipeline.
type Daemon interface {
	FetchGameUploads(ctx context.Context, gameID int64, onNotify butler.NotificationFunc) ([]butler.Upload, error)
	QueueInstall(ctx context.Context, params butler.QueueInstallParams, onNotify butler.NotificationFunc) (butler.InstallJob, error)
	PerformInstall(ctx context.Context, job butler.InstallJob, onNotify butler.NotificationFunc) error
}

// AssetFetcher downloads one image to a path.
type AssetFetcher interface {
	FetchAsset(ctx context.Context, url, dest string) (fetch.Result, error)
}

// MetadataWriter persists game records.
type MetadataWriter interface {
	WriteGameMetadata(game catalog.Game, path string) error
	WriteAggregateMetadata(games []catalog.Game, path string) error
}

// Ledger records run history. It never affects what a run does.
type Ledger interface {
	StartRun(run *storage.SyncRun) error
	RecordInstall(install *storage.InstalledUpload) error
	FinishRun(id uint, result storage.RunResult) error
}

// Config wires the collaborators of a Syncer. Ledger and Progress are optional.
type Config struct {
	Catalog  catalog.Client
	Daemon   Daemon
	Assets   AssetFetcher
	Metadata MetadataWriter
	Ledger   Ledger
	Progress progress.Tracker
	Logger   *slog.Logger
}

// Options select what one run does.
type Options struct {
	APIKey      string
	OutputRoot  string
	TempRoot    string
	DryRun      bool
	Filter      catalog.Filter
	Concurrency int
}

// Install is one (game, upload) pair moving through the install phases.
type Install struct {
	Game   catalog.Game
	Upload butler.Upload
	Paths  plan.UploadPaths
	Job    butler.InstallJob
}

func (in Install) String() string {
	return fmt.Sprintf("%q upload %d (%s)", in.Game.Title, in.Upload.ID, in.Upload.Name())
}

// Syncer mirrors a catalog to disk.
type Syncer struct {
	catalog  catalog.Client
	daemon   Daemon
	assets   AssetFetcher
	metadata MetadataWriter
	ledger   Ledger
	progress progress.Tracker
	logger   *slog.Logger
}

// New creates a Syncer.
func New(cfg Config) *Syncer {
	if cfg.Progress == nil {
		cfg.Progress = progress.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return &Syncer{
		catalog:  cfg.Catalog,
		daemon:   cfg.Daemon,
		assets:   cfg.Assets,
		metadata: cfg.Metadata,
		ledger:   cfg.Ledger,
		progress: cfg.Progress,
		logger:   cfg.Logger,
	}
}

// plannedRun is everything a run will touch, computed before any mutation.
type plannedRun struct {
	games         []catalog.Game
	installs      []Install
	assets        []plan.Asset
	metadataPaths []string
	aggregatePath string
}

// Run executes one sync. The returned report holds every planned path and is
// returned even when the run fails. In dry-run mode only the catalog fetch
// and upload resolution talk to the outside; nothing is queued, downloaded
// or written.
func (s *Syncer) Run(ctx context.Context, opts Options) (*report.Report, error) {
	rep := report.New()

	if opts.OutputRoot == "" {
		return rep, config.ErrMissingOutputDir
	}
	outputRoot, err := filepath.Abs(opts.OutputRoot)
	if err != nil {
		return rep, fmt.Errorf("resolve output directory: %w", err)
	}
	tempRoot := opts.TempRoot
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	limit := opts.Concurrency
	if limit < 1 {
		limit = DefaultConcurrency
	}

	planner := &plan.Planner{OutputRoot: outputRoot, TempRoot: tempRoot, OnPlan: rep.Add}

	start := time.Now()
	s.logger.Info("fetching catalog", "published_only", opts.Filter.PublishedOnly)
	games, err := s.catalog.FetchCatalog(ctx, opts.APIKey, opts.Filter)
	if err != nil {
		return rep, fmt.Errorf("fetch catalog: %w", err)
	}
	s.logger.Info("catalog fetched", "games", len(games))

	pairs, err := s.resolveUploads(ctx, games, limit)
	if err != nil {
		return rep, err
	}
	s.logger.Info("uploads resolved", "games", len(games), "uploads", len(pairs))

	run := s.planRun(planner, games, pairs)

	if opts.DryRun {
		s.logger.Info("dry run complete",
			"planned_paths", rep.Len(),
			"planned_by_role", rep.CountByRole())
		return rep, nil
	}

	runID := s.startLedgerRun(outputRoot, opts)
	err = s.execute(ctx, run, limit, runID)
	s.finishLedgerRun(runID, run, err)
	if err != nil {
		return rep, err
	}

	s.logger.Info("sync complete",
		"games", len(run.games),
		"uploads", len(run.installs),
		"assets", len(run.assets),
		"duration_ms", time.Since(start).Milliseconds())
	return rep, nil
}

// planRun derives every path of the run through the planner.
func (s *Syncer) planRun(planner *plan.Planner, games []catalog.Game, pairs []Install) plannedRun {
	run := plannedRun{games: games, installs: pairs}

	owners := make(map[string]string, len(pairs))
	for i := range run.installs {
		in := &run.installs[i]
		in.Paths = planner.PlanUploadPaths(in.Game, in.Upload)
		if prev, ok := owners[in.Paths.InstallFolder]; ok {
			s.logger.Warn("uploads share an install folder",
				"folder", in.Paths.InstallFolder,
				"first", prev,
				"second", in.String())
			continue
		}
		owners[in.Paths.InstallFolder] = in.String()
	}

	dirs := make(map[string]catalog.Game, len(games))
	for _, game := range games {
		dir := plan.GameDir(game)
		if prev, ok := dirs[dir]; ok {
			s.logger.Warn("games share a folder, later metadata and images replace earlier ones",
				"folder", filepath.Join(planner.OutputRoot, dir),
				"first", fmt.Sprintf("%q (%d)", prev.Title, prev.ID),
				"second", fmt.Sprintf("%q (%d)", game.Title, game.ID))
			continue
		}
		dirs[dir] = game
	}

	// One fetch per target; the later game owns a shared target.
	targets := make(map[string]int)
	for _, game := range games {
		for _, asset := range planner.PlanAssetPaths(game).List() {
			if i, ok := targets[asset.Path]; ok {
				run.assets[i] = asset
				continue
			}
			targets[asset.Path] = len(run.assets)
			run.assets = append(run.assets, asset)
		}
	}
	for _, game := range games {
		run.metadataPaths = append(run.metadataPaths, planner.PlanMetadataPath(game))
	}
	run.aggregatePath = planner.PlanAggregateMetadataPath()
	return run
}

// execute runs the mutating phases in order. Each phase completes before the
// next begins.
func (s *Syncer) execute(ctx context.Context, run plannedRun, limit int, runID uint) error {
	if err := s.queueInstalls(ctx, run.installs, limit); err != nil {
		return err
	}
	if err := s.performInstalls(ctx, run.installs, limit, runID); err != nil {
		return err
	}
	if err := s.fetchAssets(ctx, run.assets, limit); err != nil {
		return err
	}
	return s.writeMetadata(run)
}

func (s *Syncer) writeMetadata(run plannedRun) error {
	for i, game := range run.games {
		if err := s.metadata.WriteGameMetadata(game, run.metadataPaths[i]); err != nil {
			return fmt.Errorf("write metadata for %q: %w", game.Title, err)
		}
	}
	if err := s.metadata.WriteAggregateMetadata(run.games, run.aggregatePath); err != nil {
		return fmt.Errorf("write catalog metadata: %w", err)
	}
	s.logger.Info("metadata written", "games", len(run.games), "path", run.aggregatePath)
	return nil
}

func (s *Syncer) startLedgerRun(outputRoot string, opts Options) uint {
	if s.ledger == nil {
		return 0
	}
	rec := &storage.SyncRun{OutputDir: outputRoot, PublishedOnly: opts.Filter.PublishedOnly}
	if err := s.ledger.StartRun(rec); err != nil {
		s.logger.Warn("failed to record run start", "error", err)
		return 0
	}
	return rec.ID
}

func (s *Syncer) finishLedgerRun(runID uint, run plannedRun, runErr error) {
	if s.ledger == nil || runID == 0 {
		return
	}
	result := storage.RunResult{
		Status:      storage.StatusSuccess,
		GameCount:   len(run.games),
		UploadCount: len(run.installs),
		AssetCount:  len(run.assets),
	}
	if runErr != nil {
		result.Status = storage.StatusFailed
		result.Err = runErr
	}
	if err := s.ledger.FinishRun(runID, result); err != nil {
		s.logger.Warn("failed to record run result", "run_id", runID, "error", err)
	}
}

// notifier surfaces daemon notifications of one call as log records.
func (s *Syncer) notifier(attrs ...any) butler.NotificationFunc {
	return func(n butler.Notification) {
		if msg, ok := n.AsLog(); ok {
			s.logger.Log(context.Background(), butler.SlogLevel(msg.Level), msg.Message,
				append([]any{"source", "butler"}, attrs...)...)
			return
		}
		if p, ok := n.AsProgress(); ok {
			s.logger.Debug("install progress",
				append([]any{"progress", p.Progress, "bps", p.BPS}, attrs...)...)
		}
	}
}
