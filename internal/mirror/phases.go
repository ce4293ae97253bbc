package mirror

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/clean-dependency-project/itchmirror/internal/butler"
	"github.com/clean-dependency-project/itchmirror/internal/catalog"
	"github.com/clean-dependency-project/itchmirror/internal/plan"
	"github.com/clean-dependency-project/itchmirror/internal/storage"
)

// resolveUploads asks the daemon for the uploads of every game. The result
// follows game order, with each game's uploads in the order the daemon
// returned them.
func (s *Syncer) resolveUploads(ctx context.Context, games []catalog.Game, limit int) ([]Install, error) {
	perGame := make([][]Install, len(games))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, game := range games {
		g.Go(func() error {
			uploads, err := s.daemon.FetchGameUploads(gctx, game.ID, s.notifier("game", game.Title))
			if err != nil {
				return fmt.Errorf("fetch uploads for %q (%d): %w", game.Title, game.ID, err)
			}
			pairs := make([]Install, 0, len(uploads))
			for _, upload := range uploads {
				s.logger.Debug("upload found",
					"game", game.Title,
					"upload", upload.Name(),
					"platforms", upload.Platforms.List(),
					"compatible", upload.Compatible())
				pairs = append(pairs, Install{Game: game, Upload: upload})
			}
			perGame[i] = pairs
			s.logger.Debug("uploads fetched", "game", game.Title, "uploads", len(uploads))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Install
	for _, pairs := range perGame {
		out = append(out, pairs...)
	}
	return out, nil
}

// queueInstalls queues every upload with the daemon, storing the returned job.
func (s *Syncer) queueInstalls(ctx context.Context, installs []Install, limit int) error {
	phase := s.progress.Start("queue", len(installs))
	defer phase.Done()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range installs {
		in := &installs[i]
		g.Go(func() error {
			params := butler.DirectInstall(in.Game, in.Upload, in.Paths.InstallFolder, in.Paths.StagingFolder)
			job, err := s.daemon.QueueInstall(gctx, params, s.notifier("game", in.Game.Title, "upload", in.Upload.Name()))
			if err != nil {
				return fmt.Errorf("queue install of %s: %w", in, err)
			}
			if job.StagingFolder == "" {
				job.StagingFolder = in.Paths.StagingFolder
			}
			in.Job = job
			phase.Increment()
			s.logger.Debug("install queued", "game", in.Game.Title, "upload", in.Upload.Name(), "job", job.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("installs queued", "count", len(installs))
	return nil
}

// performInstalls runs every queued job. It must only be called once all
// queue calls have succeeded.
func (s *Syncer) performInstalls(ctx context.Context, installs []Install, limit int, runID uint) error {
	phase := s.progress.Start("install", len(installs))
	defer phase.Done()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range installs {
		in := &installs[i]
		g.Go(func() error {
			attrs := []any{"game", in.Game.Title, "upload", in.Upload.Name()}
			s.logger.Info("installing", append(attrs, "folder", in.Paths.InstallFolder)...)
			if err := s.daemon.PerformInstall(gctx, in.Job, s.notifier(attrs...)); err != nil {
				return fmt.Errorf("perform install of %s: %w", in, err)
			}
			phase.Increment()
			s.recordInstall(runID, in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("installs performed", "count", len(installs))
	return nil
}

func (s *Syncer) recordInstall(runID uint, in *Install) {
	if s.ledger == nil || runID == 0 {
		return
	}
	err := s.ledger.RecordInstall(&storage.InstalledUpload{
		RunID:         runID,
		GameID:        in.Game.ID,
		GameTitle:     in.Game.Title,
		UploadID:      in.Upload.ID,
		UploadName:    in.Upload.Name(),
		InstallFolder: in.Paths.InstallFolder,
		JobID:         in.Job.ID,
	})
	if err != nil {
		s.logger.Warn("failed to record install", "upload", in.Upload.ID, "error", err)
	}
}

// fetchAssets downloads cover and thumbnail images.
func (s *Syncer) fetchAssets(ctx context.Context, assets []plan.Asset, limit int) error {
	phase := s.progress.Start("assets", len(assets))
	defer phase.Done()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, asset := range assets {
		g.Go(func() error {
			if _, err := s.assets.FetchAsset(gctx, asset.URL, asset.Path); err != nil {
				return fmt.Errorf("fetch %s: %w", asset.Role, err)
			}
			phase.Increment()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("assets fetched", "count", len(assets))
	return nil
}
