package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"clubotel-scraper/cache"
	"clubotel-scraper/daterange"
	"clubotel-scraper/db"
	"clubotel-scraper/models"
	"clubotel-scraper/scraper"
)

func page(roomOnly, breakfast int) string {
	return fmt.Sprintf(`<div class="planprice"><span class="PriceD" price="%d"></span></div>
<div roomdata="לינה בלבד"></div>
<div class="planprice"><span class="PriceD" price="%d"></span></div>
<div roomdata="כולל ארוחת בוקר"></div>`, roomOnly, breakfast)
}

type scriptedFetcher struct {
	mu      sync.Mutex
	pages   []string // served in order, last one repeats
	calls   int
	failing map[string]bool
	gate    chan struct{}
	started chan struct{}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for substr := range f.failing {
		if strings.Contains(url, substr) {
			return "", errors.New("fetch failed after 3 attempts")
		}
	}
	i := f.calls
	if i >= len(f.pages) {
		i = len(f.pages) - 1
	}
	f.calls++
	return f.pages[i], nil
}

type failingBlobs struct{ db.BlobStore }

func (failingBlobs) Put(ctx context.Context, key string, data []byte) error {
	return errors.New("disk full")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, f *scriptedFetcher, blobs db.BlobStore) *Scheduler {
	t.Helper()
	store := cache.New(blobs)
	orch := scraper.NewOrchestrator(f, nil,
		daterange.URLBuilder("https://www.clubhotels.co.il/BE_Results.aspx", map[string]string{"hotel": "1_1"}),
		scraper.Options{Workers: 1, FastWorkers: 6}, quietLogger())
	return NewScheduler(store, orch, scraper.NewTracker(), Options{}, quietLogger())
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := daterange.ParseDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestRefreshMergesAndSkipsFresh(t *testing.T) {
	f := &scriptedFetcher{pages: []string{page(850, 1100), page(850, 1100), page(900, 1050)}}
	blobs := db.NewMemoryStore()
	s := newTestScheduler(t, f, blobs)
	ctx := context.Background()

	req := Request{Start: mustDate(t, "2024-03-03"), End: mustDate(t, "2024-03-10")}
	summary, err := s.Refresh(ctx, req)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if summary.Windows != 2 || summary.Pending != 2 || summary.Improved != 2 || summary.Entries != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if p := s.Tracker().Snapshot(); p.Status != models.StatusDone || p.Completed != 2 || p.Total != 2 {
		t.Errorf("progress = %+v", p)
	}

	got, ok := s.Store().Get("2024-03-07-2024-03-10")
	if !ok || *got.RoomOnly != 850 || *got.Breakfast != 1100 {
		t.Fatalf("entry = %+v, %v", got, ok)
	}

	// Both entries are fresh now
	summary, err = s.Refresh(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Pending != 0 || f.calls != 2 {
		t.Errorf("second refresh pending = %d, fetch calls = %d", summary.Pending, f.calls)
	}

	// Forced refresh re-scrapes and keeps the lower room-only price
	req.Force = true
	if _, err := s.Refresh(ctx, req); err != nil {
		t.Fatal(err)
	}
	for _, sum := range s.Store().Snapshot() {
		if *sum.RoomOnly != 850 || *sum.Breakfast != 1050 {
			t.Errorf("%s = %d/%d, want 850/1050", sum.Key(), *sum.RoomOnly, *sum.Breakfast)
		}
	}

	if _, ok, _ := blobs.Get(ctx, cache.StorageKey); !ok {
		t.Error("cache was not saved")
	}
}

func TestRefreshFailedWindowStaysPending(t *testing.T) {
	f := &scriptedFetcher{
		pages:   []string{page(850, 1100)},
		failing: map[string]bool{"in=2024-03-07": true},
	}
	s := newTestScheduler(t, f, db.NewMemoryStore())
	req := Request{Start: mustDate(t, "2024-03-03"), End: mustDate(t, "2024-03-10")}

	summary, err := s.Refresh(context.Background(), req)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if summary.Stats.Failed != 1 || summary.Entries != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if p := s.Tracker().Snapshot(); p.Completed != p.Total {
		t.Errorf("progress did not complete: %+v", p)
	}

	windows := daterange.Generate(req.Start, req.End, daterange.PolicyWeekly)
	pending := s.Store().Pending(windows)
	if len(pending) != 1 || pending[0].In() != "2024-03-07" {
		t.Errorf("pending = %v", pending)
	}
}

func TestRefreshInProgress(t *testing.T) {
	f := &scriptedFetcher{
		pages:   []string{page(850, 1100)},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	s := newTestScheduler(t, f, db.NewMemoryStore())
	req := Request{Start: mustDate(t, "2024-03-03"), End: mustDate(t, "2024-03-07")}

	done := make(chan error, 1)
	go func() {
		_, err := s.Refresh(context.Background(), req)
		done <- err
	}()
	<-f.started

	if !s.Running() {
		t.Error("Running() = false during refresh")
	}
	if _, err := s.Refresh(context.Background(), req); !errors.Is(err, ErrRefreshInProgress) {
		t.Errorf("concurrent Refresh() error = %v, want ErrRefreshInProgress", err)
	}

	close(f.gate)
	if err := <-done; err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}
	if s.Running() {
		t.Error("Running() = true after refresh")
	}
}

func TestRefreshSaveFailure(t *testing.T) {
	f := &scriptedFetcher{pages: []string{page(850, 1100)}}
	s := newTestScheduler(t, f, failingBlobs{db.NewMemoryStore()})

	var failed error
	s.OnFailure(func(ctx context.Context, summary RunSummary, err error) {
		failed = err
	})
	s.OnComplete(func(context.Context, RunSummary, []models.StaySummary) {
		t.Error("complete hook ran for a failed refresh")
	})

	_, err := s.Refresh(context.Background(), Request{Start: mustDate(t, "2024-03-03"), End: mustDate(t, "2024-03-07")})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Refresh() error = %v", err)
	}
	if failed == nil || failed.Error() != err.Error() {
		t.Errorf("failure hook got %v, want %v", failed, err)
	}
}

func TestRefreshEndBeforeStart(t *testing.T) {
	f := &scriptedFetcher{pages: []string{page(850, 1100)}}
	s := newTestScheduler(t, f, db.NewMemoryStore())
	summary, err := s.Refresh(context.Background(), Request{Start: mustDate(t, "2024-03-10"), End: mustDate(t, "2024-03-03")})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Windows != 0 || f.calls != 0 {
		t.Errorf("summary = %+v, calls = %d", summary, f.calls)
	}
}

func TestRefreshKeepsPricesOutsideRange(t *testing.T) {
	f := &scriptedFetcher{pages: []string{page(850, 1100)}}
	s := newTestScheduler(t, f, db.NewMemoryStore())
	ctx := context.Background()

	if _, err := s.Refresh(ctx, Request{Start: mustDate(t, "2024-03-03"), End: mustDate(t, "2024-03-31")}); err != nil {
		t.Fatal(err)
	}
	before := s.Store().Len()
	if before < 2 {
		t.Fatalf("month refresh stored %d entries", before)
	}

	tests := []struct {
		name       string
		start, end string
	}{
		{"reversed", "2024-03-10", "2024-03-03"},
		{"narrower", "2024-03-07", "2024-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Refresh(ctx, Request{Start: mustDate(t, tt.start), End: mustDate(t, tt.end)}); err != nil {
				t.Fatal(err)
			}
			if n := s.Store().Len(); n != before {
				t.Errorf("store has %d entries after %s refresh, want %d", n, tt.name, before)
			}
		})
	}

	// Only the narrower run moved the bounds
	start, end, ok := s.Store().Bounds()
	if !ok || start.Format(models.DateLayout) != "2024-03-07" || end.Format(models.DateLayout) != "2024-03-10" {
		t.Errorf("Bounds() = %v %v %v", start, end, ok)
	}
}

func TestRefreshCancelledKeepsProgress(t *testing.T) {
	f := &scriptedFetcher{pages: []string{page(850, 1100)}}
	s := newTestScheduler(t, f, db.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.Refresh(ctx, Request{Start: mustDate(t, "2024-03-03"), End: mustDate(t, "2024-03-10")})
	if err != nil {
		t.Fatal(err)
	}
	p := s.Tracker().Snapshot()
	if p.Status != models.StatusDone || p.Total != summary.Pending || p.Completed != 0 {
		t.Errorf("progress = %+v, want done 0/%d", p, summary.Pending)
	}
}

func TestOnComplete(t *testing.T) {
	f := &scriptedFetcher{pages: []string{page(850, 1100)}}
	s := newTestScheduler(t, f, db.NewMemoryStore())

	var gotRows []models.StaySummary
	var gotSummary RunSummary
	s.OnComplete(func(ctx context.Context, summary RunSummary, rows []models.StaySummary) {
		gotSummary, gotRows = summary, rows
	})

	if _, err := s.Refresh(context.Background(), Request{Start: mustDate(t, "2024-03-03"), End: mustDate(t, "2024-03-10")}); err != nil {
		t.Fatal(err)
	}
	if len(gotRows) != 2 || gotSummary.Windows != 2 {
		t.Errorf("hook got %d rows, summary %+v", len(gotRows), gotSummary)
	}
}

func TestDefaultRequest(t *testing.T) {
	s := newTestScheduler(t, &scriptedFetcher{pages: []string{""}}, db.NewMemoryStore())
	s.now = func() time.Time { return time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC) }
	req := s.DefaultRequest()
	if req.Start.Format(models.DateLayout) != "2024-03-05" || req.End.Format(models.DateLayout) != "2024-06-05" {
		t.Errorf("DefaultRequest() = %v..%v", req.Start, req.End)
	}
	if req.Policy != daterange.PolicyWeekly {
		t.Errorf("Policy = %s", req.Policy)
	}
}

func TestStartStop(t *testing.T) {
	f := &scriptedFetcher{pages: []string{page(850, 1100)}}
	s := newTestScheduler(t, f, db.NewMemoryStore())
	s.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	s.opts.Interval = time.Hour

	finished := make(chan struct{}, 1)
	s.OnComplete(func(context.Context, RunSummary, []models.StaySummary) {
		select {
		case finished <- struct{}{}:
		default:
		}
	})

	s.Start()
	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("prefetch did not run")
	}
	s.Stop()

	if s.Store().Len() == 0 {
		t.Error("prefetch stored nothing")
	}
}
