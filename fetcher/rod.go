package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodFetcher implements the Fetcher interface using rod (headless browser)
type RodFetcher struct {
	browser *rod.Browser
	logger  *slog.Logger
}

// Linux Chrome/Chromium locations tried before rod downloads its own build
var chromePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
}

// NewRodFetcher launches a headless browser. userDataDir should be on disk
// (a mounted volume in containers) to keep memory down.
func NewRodFetcher(userDataDir string, logger *slog.Logger) (*RodFetcher, error) {
	if userDataDir != "" {
		if err := os.MkdirAll(userDataDir, 0755); err != nil {
			logger.Warn("Failed to create browser data directory", "dir", userDataDir, "error", err)
			userDataDir = ""
		}
	}

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		NoSandbox(true).
		Leakless(false).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-extensions").
		Set("disable-background-networking").
		Set("blink-settings", "imagesEnabled=false").
		Set("lang", "he-IL")
	if userDataDir != "" {
		l = l.UserDataDir(userDataDir)
	}

	for _, path := range chromePaths {
		if _, err := os.Stat(path); err == nil {
			l = l.Bin(path)
			break
		}
	}

	browserURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w\n\nNote: On Linux, you may need to install Chromium dependencies:\n  apt-get update && apt-get install -y chromium chromium-sandbox", err)
	}

	browser := rod.New().ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &RodFetcher{
		browser: browser,
		logger:  logger,
	}, nil
}

// Close closes the browser
func (rf *RodFetcher) Close() error {
	if rf.browser != nil {
		return rf.browser.Close()
	}
	return nil
}

// Fetch implements the Fetcher interface
func (rf *RodFetcher) Fetch(ctx context.Context, url string) (string, error) {
	page, err := rf.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("failed to navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("failed to load page: %w", err)
	}

	// The results matrix renders after load; a timeout here still leaves usable HTML
	if err := page.Timeout(10 * time.Second).WaitStable(time.Second); err != nil {
		rf.logger.Debug("Page did not stabilize", "url", url, "error", err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to get HTML: %w", err)
	}
	if strings.TrimSpace(html) == "" {
		return "", ErrEmptyBody
	}
	return html, nil
}
