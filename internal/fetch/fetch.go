// Package fetch downloads cover and thumbnail images directly over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/clean-dependency-project/itchmirror/internal/logger"
)

const (
	DefaultTimeout   = 60 * time.Second
	DefaultUserAgent = "itchmirror/1.0"
)

var ErrDownloadFailed = errors.New("asset download failed")

// HTTPClient defines the interface for HTTP operations
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result describes a finished download.
type Result struct {
	URL      string
	Path     string
	Size     int64
	Duration time.Duration
}

// Fetcher downloads single assets to disk.
type Fetcher struct {
	httpClient HTTPClient
	userAgent  string
	logger     *slog.Logger
}

// Config holds configuration for the fetcher.
type Config struct {
	Timeout    time.Duration
	UserAgent  string
	HTTPClient HTTPClient
	Logger     *slog.Logger
}

// New creates a Fetcher, filling unset fields with defaults.
func New(config Config) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}
	return &Fetcher{
		httpClient: config.HTTPClient,
		userAgent:  config.UserAgent,
		logger:     config.Logger,
	}
}

// FetchAsset downloads url to dest. The body is written to a temporary file
// next to dest and renamed into place, so dest never holds a partial image.
func (f *Fetcher) FetchAsset(ctx context.Context, url, dest string) (Result, error) {
	start := time.Now()
	result := Result{URL: url, Path: dest}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result, fmt.Errorf("%w: %s: creating request: %v", ErrDownloadFailed, url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("%w: %s: status %s", ErrDownloadFailed, url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return result, fmt.Errorf("%w: creating directory for %s: %v", ErrDownloadFailed, dest, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return result, fmt.Errorf("%w: creating temp file for %s: %v", ErrDownloadFailed, dest, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return result, fmt.Errorf("%w: %s: writing %s: %v", ErrDownloadFailed, url, dest, err)
	}
	if err := tmp.Close(); err != nil {
		return result, fmt.Errorf("%w: closing %s: %v", ErrDownloadFailed, tmpPath, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return result, fmt.Errorf("%w: moving into %s: %v", ErrDownloadFailed, dest, err)
	}
	committed = true

	result.Size = size
	result.Duration = time.Since(start)
	f.logger.Debug("asset downloaded",
		"url", url,
		"path", dest,
		"size_bytes", size,
		"duration_ms", result.Duration.Milliseconds())
	return result, nil
}
