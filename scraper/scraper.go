package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"clubotel-scraper/fetcher"
	"clubotel-scraper/models"
	"clubotel-scraper/parser"

	"github.com/google/uuid"
)

// Fast mode worker bounds
const (
	MinFastWorkers = 6
	MaxFastWorkers = 8
)

// Result is the outcome of scraping one stay window
type Result struct {
	Window       models.StayWindow
	URL          string
	Observations []models.PriceObservation
	Prices       models.PricePair
	Pass         parser.Pass
	Err          error
}

// OK reports whether the page was fetched, whether or not it had prices
func (r Result) OK() bool {
	return r.Err == nil
}

// HandleFunc receives each window's result
type HandleFunc func(Result)

// ProgressFunc is called after every window with the completed and total counts
type ProgressFunc func(completed, total int)

// URLBuilder maps a window to its results page URL
type URLBuilder func(models.StayWindow) (string, error)

// RunStats summarizes an orchestration run
type RunStats struct {
	RunID     string        `json:"run_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Empty     int           `json:"empty"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Options configures an Orchestrator
type Options struct {
	Workers     int           // normal-mode pool size, 1 is sequential
	FastWorkers int           // fast-mode pool size, clamped to [6, 8]
	Delay       time.Duration // pause after each window
}

// Orchestrator scrapes a list of windows with a bounded worker pool
type Orchestrator struct {
	fetcher   fetcher.Fetcher
	extractor *parser.Extractor
	buildURL  URLBuilder
	opts      Options
	workers   int
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
}

// NewOrchestrator creates an Orchestrator running in normal mode
func NewOrchestrator(f fetcher.Fetcher, ex *parser.Extractor, buildURL URLBuilder, opts Options, logger *slog.Logger) *Orchestrator {
	if ex == nil {
		ex = parser.NewExtractor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		fetcher:   f,
		extractor: ex,
		buildURL:  buildURL,
		opts:      opts,
		logger:    logger,
		sleep:     sleepContext,
	}
	o.workers = o.Concurrency(false)
	return o
}

// Concurrency returns the pool size for the given mode
func (o *Orchestrator) Concurrency(fast bool) int {
	if fast {
		n := o.opts.FastWorkers
		if n < MinFastWorkers {
			n = MinFastWorkers
		}
		if n > MaxFastWorkers {
			n = MaxFastWorkers
		}
		return n
	}
	if o.opts.Workers < 1 {
		return 1
	}
	return o.opts.Workers
}

// Mode returns a copy of o sized for fast or normal mode
func (o *Orchestrator) Mode(fast bool) *Orchestrator {
	c := *o
	c.workers = o.Concurrency(fast)
	return &c
}

// Run scrapes every window. Per-window failures are logged and counted, never
// returned. handle and progress are called one at a time, in completion order.
func (o *Orchestrator) Run(ctx context.Context, windows []models.StayWindow, handle HandleFunc, progress ProgressFunc) RunStats {
	start := time.Now()
	total := len(windows)
	stats := RunStats{RunID: uuid.NewString(), Total: total}
	logger := o.logger.With("run_id", stats.RunID)

	if total == 0 {
		logger.Info("No windows to scrape")
		return stats
	}

	workers := o.workers
	if workers > total {
		workers = total
	}
	logger.Info("Starting scrape", "windows", total, "workers", workers, "delay", o.opts.Delay)

	var (
		cursor    atomic.Int64
		mu        sync.Mutex
		completed int
		wg        sync.WaitGroup
	)

	report := func(r Result) {
		mu.Lock()
		defer mu.Unlock()

		if handle != nil {
			handle(r)
		}
		switch {
		case r.Err != nil:
			stats.Failed++
		case len(r.Observations) == 0:
			stats.Empty++
		default:
			stats.Succeeded++
		}
		completed++
		if progress != nil {
			progress(completed, total)
		}
	}

	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for ctx.Err() == nil {
				i := int(cursor.Add(1)) - 1
				if i >= total {
					return
				}
				report(o.scrapeWindow(ctx, logger, id, windows[i]))

				if o.opts.Delay > 0 {
					if err := o.sleep(ctx, o.opts.Delay); err != nil {
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()

	stats.Duration = time.Since(start)
	logger.Info("Scrape finished",
		"total", stats.Total,
		"succeeded", stats.Succeeded,
		"empty", stats.Empty,
		"failed", stats.Failed,
		"completed", completed,
		"duration", stats.Duration.Round(time.Millisecond))
	return stats
}

func (o *Orchestrator) scrapeWindow(ctx context.Context, logger *slog.Logger, workerID int, w models.StayWindow) Result {
	result := Result{Window: w, Pass: parser.PassNone}

	url, err := o.buildURL(w)
	if err != nil {
		result.Err = fmt.Errorf("failed to build URL for %s: %w", w.Key(), err)
		logger.Error("Error building URL", "worker_id", workerID, "window", w.Key(), "error", err)
		return result
	}
	result.URL = url

	body, err := o.fetcher.Fetch(ctx, url)
	if err != nil {
		result.Err = err
		logger.Warn("Error fetching window", "worker_id", workerID, "window", w.Key(), "error", err)
		return result
	}

	obs, pass, err := o.extractor.ExtractHTML(body)
	if err != nil {
		result.Err = err
		logger.Error("Error parsing HTML", "worker_id", workerID, "window", w.Key(), "error", err)
		return result
	}
	result.Observations = obs
	result.Pass = pass
	result.Prices = models.MinByPlan(obs)

	if len(obs) == 0 {
		logger.Info("No prices found", "worker_id", workerID, "window", w.Key())
		return result
	}
	logger.Debug("Window scraped",
		"worker_id", workerID,
		"window", w.Key(),
		"pass", pass,
		"observations", len(obs),
		"room_only", ptrValue(result.Prices.RoomOnly),
		"breakfast", ptrValue(result.Prices.Breakfast))
	return result
}

func ptrValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
