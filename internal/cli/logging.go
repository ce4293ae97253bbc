package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/clean-dependency-project/itchmirror/internal/config"
	"github.com/clean-dependency-project/itchmirror/internal/logger"
)

// newLogger builds the run logger from the log flags. Records go to stderr
// and, with --log-file, to a rotating file as well. The returned func closes
// the file.
func newLogger(c *cli.Context, cfg *config.Config, stderr io.Writer) (*slog.Logger, func(), error) {
	w := stderr
	closeFn := func() {}

	if path := strings.TrimSpace(c.String("log-file")); path != "" {
		file := logger.RotatingFile(logger.FileConfig{
			Path:       path,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
		w = io.MultiWriter(stderr, file)
		closeFn = func() { _ = file.Close() }
	}

	l, err := logger.NewWithWriter(c.String("log-level"), c.String("log-format"), w)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return l, closeFn, nil
}
