package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher implements the Fetcher interface using colly
type CollyFetcher struct {
	collector *colly.Collector
	logger    *slog.Logger
}

// NewCollyFetcher creates a new CollyFetcher instance
func NewCollyFetcher(userAgent string, timeout time.Duration, logger *slog.Logger) (*CollyFetcher, error) {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	if timeout > 0 {
		c.SetRequestTimeout(timeout)
	}

	// Pacing is done by the orchestrator; the rule only caps parallel requests
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 8,
	}); err != nil {
		return nil, fmt.Errorf("failed to set limit rule: %w", err)
	}

	return &CollyFetcher{
		collector: c,
		logger:    logger,
	}, nil
}

// Fetch implements the Fetcher interface
func (cf *CollyFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Clones share the HTTP backend and limit rules but not callbacks
	c := cf.collector.Clone()

	var (
		body     string
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 && (r.StatusCode < 200 || r.StatusCode > 299) {
			fetchErr = &StatusError{URL: url, StatusCode: r.StatusCode}
			return
		}
		fetchErr = err
	})

	visitErr := c.Visit(url)
	c.Wait()

	if fetchErr != nil {
		return "", fetchErr
	}
	if visitErr != nil {
		return "", fmt.Errorf("failed to visit URL: %w", visitErr)
	}
	if strings.TrimSpace(body) == "" {
		cf.logger.Debug("Colly returned empty body", "url", url)
		return "", ErrEmptyBody
	}
	return body, nil
}
