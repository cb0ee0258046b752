package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// HTTPOptions configures HTTPFetcher
type HTTPOptions struct {
	UserAgent         string
	Timeout           time.Duration
	ProxyTemplate     string  // request goes to the template with {url} replaced by the escaped target
	ProxyURL          string  // forward proxy
	RequestsPerSecond float64 // 0 disables the cap
}

// HTTPFetcher fetches pages with a plain GET
type HTTPFetcher struct {
	client        *http.Client
	userAgent     string
	proxyTemplate string
	limiter       *rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher with an instrumented transport
func NewHTTPFetcher(opts HTTPOptions) (*HTTPFetcher, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.ProxyURL != "" {
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hf := &HTTPFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		userAgent:     opts.UserAgent,
		proxyTemplate: opts.ProxyTemplate,
	}
	if opts.RequestsPerSecond > 0 {
		hf.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return hf, nil
}

// Fetch implements the Fetcher interface
func (hf *HTTPFetcher) Fetch(ctx context.Context, target string) (string, error) {
	if hf.limiter != nil {
		if err := hf.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	reqURL := ProxiedURL(hf.proxyTemplate, target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if hf.userAgent != "" {
		req.Header.Set("User-Agent", hf.userAgent)
	}
	req.Header.Set("Accept-Language", "he-IL,he;q=0.9,en;q=0.8")

	resp, err := hf.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", ErrEmptyBody
	}
	return string(body), nil
}

// ProxiedURL substitutes the escaped target into a {url} proxy template
func ProxiedURL(template, target string) string {
	if template == "" {
		return target
	}
	return strings.ReplaceAll(template, "{url}", url.QueryEscape(target))
}
