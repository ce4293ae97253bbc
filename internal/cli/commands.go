package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/clean-dependency-project/itchmirror/internal/catalog"
	"github.com/clean-dependency-project/itchmirror/internal/config"
	"github.com/clean-dependency-project/itchmirror/internal/metadata"
	"github.com/clean-dependency-project/itchmirror/internal/mirror"
	"github.com/clean-dependency-project/itchmirror/internal/progress"
	"github.com/clean-dependency-project/itchmirror/internal/report"
	"github.com/clean-dependency-project/itchmirror/internal/version"
)

var (
	ErrStorageDisabled = errors.New("sync history is disabled in configuration")
	ErrUnexpectedArgs  = errors.New("unexpected arguments")
)

// checkArgs rejects anything after the output directory. Flags placed after
// it are not parsed, so a trailing --dry-run would otherwise be ignored.
func checkArgs(c *cli.Context) error {
	args := c.Args().Slice()
	if strings.TrimSpace(c.String("output")) != "" && len(args) > 0 {
		return fmt.Errorf("%w %q: the output directory is already set with --output", ErrUnexpectedArgs, args)
	}
	if len(args) > 1 {
		return fmt.Errorf("%w %q: flags must come before the output directory (itchmirror [options] <output-dir>)",
			ErrUnexpectedArgs, args[1:])
	}
	return nil
}

// sync implements the default action: mirror the catalog into the output
// directory, or list what would be written with --dry-run.
func (cmd *commands) sync(c *cli.Context) error {
	if err := checkArgs(c); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	apiKey := strings.TrimSpace(c.String("api-key"))
	if apiKey == "" {
		return fmt.Errorf("%w: set ITCHMIRROR_API_KEY or API_KEY", config.ErrMissingAPIKey)
	}
	out := outputDir(c)
	if out == "" {
		return fmt.Errorf("%w: pass it as the first argument or with --output", config.ErrMissingOutputDir)
	}
	concurrency := cfg.Config.Concurrency
	if c.IsSet("concurrency") {
		concurrency = c.Int("concurrency")
	}
	if concurrency < 1 {
		return config.ErrInvalidConcurrency
	}
	dryRun := c.Bool("dry-run")

	log, closeLog, err := newLogger(c, cfg, cmd.deps.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	log.Info("starting sync",
		"output_dir", out,
		"dry_run", dryRun,
		"published_only", c.Bool("published-only"),
		"concurrency", concurrency)

	ctx := c.Context
	daemon, err := cmd.deps.StartDaemon(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := daemon.Close(); closeErr != nil {
			log.Warn("failed to stop butler", "error", closeErr)
		}
	}()

	info, err := daemon.Version(ctx)
	if err != nil {
		return err
	}
	log.Info("butler ready", "version", info.VersionString)
	if err := version.New().CheckMinimum(info.Version, cfg.Butler.MinVersion); err != nil {
		return err
	}

	profile, err := daemon.LoginWithAPIKey(ctx, apiKey)
	if err != nil {
		return err
	}
	log.Info("logged in", "user", profile.User.Username, "profile_id", profile.ID)

	var ledger mirror.Ledger
	if !dryRun && cfg.Storage.Enabled {
		store, err := cmd.deps.OpenHistory(cfg)
		if err != nil {
			log.Warn("sync history unavailable, run will not be recorded",
				"database", cfg.Storage.DatabasePath, "error", err)
		} else {
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					log.Warn("failed to close sync history", "error", closeErr)
				}
			}()
			ledger = store
		}
	}

	var tracker progress.Tracker = progress.Noop{}
	if c.Bool("progress") && !dryRun {
		tracker = progress.NewBars(cmd.deps.Stderr)
	}

	syncer := mirror.New(mirror.Config{
		Catalog:  cmd.deps.NewCatalog(cfg, log),
		Daemon:   daemon,
		Assets:   cmd.deps.NewAssets(cfg, log),
		Metadata: metadata.NewWriter(log),
		Ledger:   ledger,
		Progress: tracker,
		Logger:   log,
	})

	rep, err := syncer.Run(ctx, mirror.Options{
		APIKey:      apiKey,
		OutputRoot:  out,
		TempRoot:    cfg.Config.GetTempDir(),
		DryRun:      dryRun,
		Filter:      catalog.Filter{PublishedOnly: c.Bool("published-only")},
		Concurrency: concurrency,
	})
	if err != nil {
		return err
	}

	if dryRun {
		return rep.Print(cmd.deps.Stdout)
	}
	report.PrintSuccess(cmd.deps.Stdout)
	return nil
}

// history prints recent runs from the ledger.
func (cmd *commands) history(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !cfg.Storage.Enabled {
		return ErrStorageDisabled
	}

	store, err := cmd.deps.OpenHistory(cfg)
	if err != nil {
		return fmt.Errorf("failed to open sync history: %w", err)
	}
	defer func() { _ = store.Close() }()

	if c.IsSet("run") {
		return cmd.printRun(store, c.Uint("run"))
	}

	runs, err := store.ListRuns(c.Int("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(cmd.deps.Stdout, "no sync runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(cmd.deps.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSTATUS\tGAMES\tUPLOADS\tASSETS\tOUTPUT")
	for _, run := range runs {
		duration := "-"
		if run.FinishedAt != nil {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			duration,
			run.Status,
			run.GameCount,
			run.UploadCount,
			run.AssetCount,
			run.OutputDir)
	}
	return tw.Flush()
}

// printRun prints one run and the uploads it installed.
func (cmd *commands) printRun(store HistoryStore, id uint) error {
	run, err := store.GetRun(id)
	if err != nil {
		return err
	}

	w := cmd.deps.Stdout
	_, _ = fmt.Fprintf(w, "run %d: %s\n", run.ID, run.Status)
	_, _ = fmt.Fprintf(w, "started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		_, _ = fmt.Fprintf(w, "finished: %s\n", run.FinishedAt.Local().Format(time.DateTime))
	}
	_, _ = fmt.Fprintf(w, "output:   %s\n", run.OutputDir)
	if run.ErrorMessage != "" {
		_, _ = fmt.Fprintf(w, "error:    %s\n", run.ErrorMessage)
	}
	if len(run.Uploads) == 0 {
		_, err := fmt.Fprintln(w, "no uploads installed")
		return err
	}

	_, _ = fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "GAME\tUPLOAD\tJOB\tFOLDER")
	for _, up := range run.Uploads {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", up.GameTitle, up.UploadName, up.JobID, up.InstallFolder)
	}
	return tw.Flush()
}

// configInit writes the default configuration file.
func (cmd *commands) configInit(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = config.DefaultFileName
	}

	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.deps.Stdout, "wrote %s\n", path)
	return err
}
