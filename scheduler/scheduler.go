package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"clubotel-scraper/cache"
	"clubotel-scraper/daterange"
	"clubotel-scraper/models"
	"clubotel-scraper/scraper"
)

// ErrRefreshInProgress is returned when a refresh is requested while one runs
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Request describes one refresh
type Request struct {
	Start  time.Time
	End    time.Time
	Policy daterange.Policy
	Fast   bool
	Force  bool // re-scrape fresh entries too
}

// RunSummary reports what a refresh did
type RunSummary struct {
	Start    string           `json:"start"`
	End      string           `json:"end"`
	Policy   daterange.Policy `json:"policy"`
	Fast     bool             `json:"fast"`
	Windows  int              `json:"windows"`
	Pending  int              `json:"pending"`
	Improved int              `json:"improved"`
	Entries  int              `json:"entries"`
	Stats    scraper.RunStats `json:"stats"`
}

// CompleteFunc is called after every finished refresh with the cache contents
type CompleteFunc func(ctx context.Context, summary RunSummary, rows []models.StaySummary)

// FailFunc is called when a refresh fails
type FailFunc func(ctx context.Context, summary RunSummary, err error)

// Options configures a Scheduler
type Options struct {
	Policy       daterange.Policy // used when a request leaves it empty
	Interval     time.Duration    // prefetch period
	FastPrefetch bool
}

// Scheduler runs refreshes on demand and in the background
type Scheduler struct {
	store        *cache.Store
	orchestrator *scraper.Orchestrator
	tracker      *scraper.Tracker
	opts         Options
	logger       *slog.Logger
	now          func() time.Time

	running atomic.Bool

	hooksMu   sync.Mutex
	hooks     []CompleteFunc
	failHooks []FailFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(store *cache.Store, orchestrator *scraper.Orchestrator, tracker *scraper.Tracker, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Policy == "" {
		opts.Policy = daterange.PolicyWeekly
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:        store,
		orchestrator: orchestrator,
		tracker:      tracker,
		opts:         opts,
		logger:       logger,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// OnComplete registers a hook run after each refresh
func (s *Scheduler) OnComplete(fn CompleteFunc) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// OnFailure registers a hook run when a refresh fails
func (s *Scheduler) OnFailure(fn FailFunc) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.failHooks = append(s.failHooks, fn)
}

// Tracker returns the progress tracker
func (s *Scheduler) Tracker() *scraper.Tracker {
	return s.tracker
}

// Store returns the price cache
func (s *Scheduler) Store() *cache.Store {
	return s.store
}

// Running reports whether a refresh is in flight
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// DefaultRequest covers today through three months ahead
func (s *Scheduler) DefaultRequest() Request {
	start, end := daterange.DefaultBounds(s.now())
	return Request{Start: start, End: end, Policy: s.opts.Policy}
}

// Refresh generates the windows for req, scrapes the missing or stale ones and
// merges the results into the cache. Only one refresh runs at a time.
func (s *Scheduler) Refresh(ctx context.Context, req Request) (RunSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrRefreshInProgress
	}
	defer s.running.Store(false)
	return s.refresh(ctx, req)
}

// RefreshAsync starts a refresh in the background. It fails immediately with
// ErrRefreshInProgress instead of queueing.
func (s *Scheduler) RefreshAsync(req Request) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	go func() {
		defer s.running.Store(false)
		if _, err := s.refresh(s.ctx, req); err != nil {
			s.logger.Error("Background refresh failed", "error", err)
		}
	}()
	return nil
}

func (s *Scheduler) refresh(ctx context.Context, req Request) (RunSummary, error) {
	req = s.normalize(req)
	summary := RunSummary{
		Start:  req.Start.Format(models.DateLayout),
		End:    req.End.Format(models.DateLayout),
		Policy: req.Policy,
		Fast:   req.Fast,
	}
	logger := s.logger.With("start", summary.Start, "end", summary.End, "policy", req.Policy, "fast", req.Fast)

	windows := daterange.Generate(req.Start, req.End, req.Policy)
	summary.Windows = len(windows)
	// An empty work set, such as a reversed range, leaves the cache untouched
	if len(windows) > 0 {
		s.store.SetBounds(req.Start, req.End)
	}

	var pending []models.StayWindow
	if req.Force {
		pending = dedup(windows)
	} else {
		pending = s.store.Pending(windows)
	}
	summary.Pending = len(pending)
	logger.Info("Refreshing prices", "windows", summary.Windows, "pending", summary.Pending)

	s.tracker.Begin(len(pending))
	summary.Stats = s.orchestrator.Mode(req.Fast).Run(ctx, pending, func(r scraper.Result) {
		// Failed fetches leave the entry stale so the next run retries it
		if !r.OK() {
			return
		}
		if _, changed := s.store.Merge(r.Window, r.Prices); changed {
			summary.Improved++
		}
	}, s.tracker.Advance)
	s.tracker.Finish()

	summary.Entries = s.store.Len()
	if err := s.store.Save(context.WithoutCancel(ctx)); err != nil {
		logger.Error("Error saving cache", "error", err)
		err = fmt.Errorf("refresh %s..%s: %w", summary.Start, summary.End, err)
		s.runFailHooks(ctx, summary, err)
		return summary, err
	}

	logger.Info("Refresh complete",
		"run_id", summary.Stats.RunID,
		"improved", summary.Improved,
		"entries", summary.Entries,
		"failed", summary.Stats.Failed)

	s.runHooks(ctx, summary)
	return summary, nil
}

func (s *Scheduler) normalize(req Request) Request {
	if req.Start.IsZero() || req.End.IsZero() {
		def := s.DefaultRequest()
		if req.Start.IsZero() {
			req.Start = def.Start
		}
		if req.End.IsZero() {
			req.End = def.End
		}
	}
	req.Start, req.End = models.TruncateDay(req.Start), models.TruncateDay(req.End)
	if req.Policy == "" {
		req.Policy = s.opts.Policy
	}
	return req
}

func (s *Scheduler) runHooks(ctx context.Context, summary RunSummary) {
	s.hooksMu.Lock()
	hooks := append([]CompleteFunc(nil), s.hooks...)
	s.hooksMu.Unlock()
	if len(hooks) == 0 {
		return
	}

	rows := s.store.Snapshot()
	for _, hook := range hooks {
		hook(ctx, summary, rows)
	}
}

func (s *Scheduler) runFailHooks(ctx context.Context, summary RunSummary, err error) {
	s.hooksMu.Lock()
	hooks := append([]FailFunc(nil), s.failHooks...)
	s.hooksMu.Unlock()

	for _, hook := range hooks {
		hook(ctx, summary, err)
	}
}

func dedup(windows []models.StayWindow) []models.StayWindow {
	seen := make(map[string]bool, len(windows))
	out := make([]models.StayWindow, 0, len(windows))
	for _, w := range windows {
		if !seen[w.Key()] {
			seen[w.Key()] = true
			out = append(out, w)
		}
	}
	return out
}

// Start starts background prefetching in a goroutine
func (s *Scheduler) Start() {
	s.done = make(chan struct{})
	go s.run()
}

// Stop stops the prefetch loop and cancels a prefetch in flight
func (s *Scheduler) Stop() {
	s.cancel()
	if s.done != nil {
		<-s.done
	}
	s.logger.Info("Scheduler stopped")
}

// run is the prefetch loop: one refresh immediately, then one per interval
func (s *Scheduler) run() {
	defer close(s.done)

	interval := s.opts.Interval
	if interval <= 0 {
		interval = cache.DefaultStaleAfter
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.prefetch()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.prefetch()
		}
	}
}

func (s *Scheduler) prefetch() {
	req := s.DefaultRequest()
	req.Fast = s.opts.FastPrefetch
	if _, err := s.Refresh(s.ctx, req); err != nil {
		if errors.Is(err, ErrRefreshInProgress) {
			s.logger.Debug("Skipping prefetch, refresh in progress")
			return
		}
		s.logger.Error("Prefetch failed", "error", err)
	}
}
