package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"clubotel-scraper/config"
)

// Fetcher retrieves the HTML body of a results page
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// ErrEmptyBody is returned when a page loads with no content
var ErrEmptyBody = errors.New("empty response body")

// FetchError is returned once every retry attempt for a URL has failed
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// New builds the fetcher backend selected in cfg, wrapped with retries.
// The returned closer releases browser resources and must be called.
func New(cfg config.ScrapeConfig, logger *slog.Logger) (Fetcher, io.Closer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		base   Fetcher
		closer io.Closer = nopCloser{}
		err    error
	)

	switch cfg.Fetcher {
	case "", "http":
		base, err = NewHTTPFetcher(HTTPOptions{
			UserAgent:         cfg.UserAgent,
			Timeout:           cfg.Timeout(),
			ProxyTemplate:     cfg.ProxyTemplate,
			ProxyURL:          cfg.ProxyURL,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	case "colly":
		base, err = NewCollyFetcher(cfg.UserAgent, cfg.Timeout(), logger)
	case "rod":
		var rf *RodFetcher
		rf, err = NewRodFetcher(cfg.BrowserDataDir, logger)
		base, closer = rf, rf
	case "chromedp":
		var cf *ChromedpFetcher
		cf, err = NewChromedpFetcher(cfg.UserAgent, cfg.Timeout())
		base, closer = cf, cf
	default:
		return nil, nil, fmt.Errorf("unknown fetcher %q", cfg.Fetcher)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s fetcher: %w", cfg.Fetcher, err)
	}

	retrying := NewRetrying(base, RetryPolicy{
		Attempts:     cfg.Retry.Attempts,
		InitialDelay: cfg.Retry.InitialDelay(),
		Factor:       cfg.Retry.Factor,
	}, logger)
	return retrying, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
