// Package metadata writes the per-game and catalog-wide JSON snapshots.
package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/clean-dependency-project/itchmirror/internal/catalog"
	"github.com/clean-dependency-project/itchmirror/internal/logger"
)

var ErrWriteFailed = errors.New("metadata write failed")

// Writer serializes game records to disk.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a Writer. A nil logger discards output.
func NewWriter(l *slog.Logger) *Writer {
	if l == nil {
		l = logger.Discard()
	}
	return &Writer{logger: l}
}

// WriteGameMetadata writes the full record of one game to path.
func (w *Writer) WriteGameMetadata(game catalog.Game, path string) error {
	data, err := Encode(game)
	if err != nil {
		return fmt.Errorf("%w: encoding %q: %v", ErrWriteFailed, game.Title, err)
	}
	if err := writeFileIfChanged(path, data, w.logger); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
	}
	return nil
}

// WriteAggregateMetadata writes every game, newest published first, to path.
func (w *Writer) WriteAggregateMetadata(games []catalog.Game, path string) error {
	sorted := SortByPublishedDesc(games)
	if sorted == nil {
		sorted = []catalog.Game{}
	}
	data, err := Encode(sorted)
	if err != nil {
		return fmt.Errorf("%w: encoding catalog: %v", ErrWriteFailed, err)
	}
	if err := writeFileIfChanged(path, data, w.logger); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
	}
	w.logger.Debug("catalog metadata written", "path", path, "games", len(sorted))
	return nil
}

// SortByPublishedDesc returns a copy of games ordered by published_at,
// newest first. Games with equal timestamps keep their catalog order and
// games without a timestamp come last.
func SortByPublishedDesc(games []catalog.Game) []catalog.Game {
	if games == nil {
		return nil
	}
	out := make([]catalog.Game, len(games))
	copy(out, games)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAtKey() > out[j].PublishedAtKey()
	})
	return out
}

// Encode renders v as tab-indented JSON without HTML escaping.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "\t")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// writeFileIfChanged writes content to path unless the file already holds it.
func writeFileIfChanged(path string, content []byte, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		logger.Debug("file unchanged, skipping", "path", path)
		return nil
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	logger.Debug("file written", "path", path)
	return nil
}
