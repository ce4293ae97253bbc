// Package catalog fetches the authenticated creator's game list from the
// itch.io server-side API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/clean-dependency-project/itchmirror/internal/logger"
)

const (
	// DefaultBaseURL is the default itch.io API base URL
	DefaultBaseURL = "https://itch.io/api/1"

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 60 * time.Second

	// DefaultUserAgent is the default User-Agent header
	DefaultUserAgent = "itchmirror/1.0"
)

var (
	// ErrNetwork indicates a transport failure or a server-side error
	ErrNetwork = errors.New("network error")

	// ErrAuth indicates the API rejected the credentials
	ErrAuth = errors.New("authentication failed")

	// ErrMalformedResponse indicates the payload is not a catalog
	ErrMalformedResponse = errors.New("malformed catalog response")
)

// APIError represents a non-successful API answer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e APIError) Error() string {
	return fmt.Sprintf("catalog API error: %d %s", e.StatusCode, e.Message)
}

func (e APIError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNetwork:
		return e.StatusCode == 0 || e.StatusCode >= 500
	case ErrMalformedResponse:
		return e.StatusCode >= 400 && e.StatusCode < 500 &&
			e.StatusCode != http.StatusUnauthorized && e.StatusCode != http.StatusForbidden
	}
	return false
}

// Client fetches a creator catalog.
type Client interface {
	FetchCatalog(ctx context.Context, apiKey string, filter Filter) ([]Game, error)
}

// HTTPClient defines the interface for HTTP operations
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration for the catalog client
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient HTTPClient
	Logger     *slog.Logger
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

type client struct {
	config Config
}

// NewClient creates a catalog client, filling unset fields with defaults.
func NewClient(config Config) Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{
			Timeout: config.Timeout,
		}
	}
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}
	return &client{config: config}
}

type myGamesResponse struct {
	Games  *[]Game  `json:"games"`
	Errors []string `json:"errors"`
}

// FetchCatalog performs one GET of {base}/{apiKey}/my-games.
func (c *client) FetchCatalog(ctx context.Context, apiKey string, filter Filter) ([]Game, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: empty API key", ErrAuth)
	}

	apiURL, err := url.JoinPath(c.config.BaseURL, url.PathEscape(apiKey), "my-games")
	if err != nil {
		return nil, fmt.Errorf("failed to construct API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		// url.Error embeds the request URL, which contains the key.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%w: fetching catalog: %v", ErrNetwork, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading catalog: %v", ErrNetwork, err)
	}

	var payload myGamesResponse
	decodeErr := json.Unmarshal(body, &payload)

	if decodeErr == nil && len(payload.Errors) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrAuth, payload.Errors)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}
	if payload.Games == nil {
		return nil, fmt.Errorf("%w: missing games array", ErrMalformedResponse)
	}

	games := filter.Apply(*payload.Games)
	c.config.Logger.Debug("fetched catalog",
		"total", len(*payload.Games),
		"selected", len(games),
		"published_only", filter.PublishedOnly)
	return games, nil
}
