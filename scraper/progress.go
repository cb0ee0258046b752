package scraper

import (
	"sync"

	"clubotel-scraper/models"
)

// Tracker holds the process-wide progress of the current run
type Tracker struct {
	mu    sync.Mutex
	state models.ScrapeProgress
	subs  map[chan models.ScrapeProgress]struct{}
}

// NewTracker creates an idle Tracker
func NewTracker() *Tracker {
	return &Tracker{
		state: models.ScrapeProgress{Status: models.StatusIdle},
		subs:  make(map[chan models.ScrapeProgress]struct{}),
	}
}

// Begin marks a run of total windows as started
func (t *Tracker) Begin(total int) {
	t.set(models.ScrapeProgress{Status: models.StatusRunning, Total: total})
}

// Advance records progress; it has the ProgressFunc signature.
// Counts never go backwards within a run.
func (t *Tracker) Advance(completed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status == models.StatusRunning && completed < t.state.Completed {
		return
	}
	t.state = models.ScrapeProgress{Status: models.StatusRunning, Total: total, Completed: completed}
	t.broadcast()
}

// Finish marks the run done. Completed keeps the real count, so a cancelled
// run shows how far it got.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Status = models.StatusDone
	t.broadcast()
}

// Reset returns the tracker to idle
func (t *Tracker) Reset() {
	t.set(models.ScrapeProgress{Status: models.StatusIdle})
}

// Snapshot returns the current progress
func (t *Tracker) Snapshot() models.ScrapeProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Running reports whether a run is in progress
func (t *Tracker) Running() bool {
	return t.Snapshot().Status == models.StatusRunning
}

// Subscribe returns a channel receiving progress updates. Slow readers only
// see the latest value. Call the returned func to unsubscribe.
func (t *Tracker) Subscribe() (<-chan models.ScrapeProgress, func()) {
	ch := make(chan models.ScrapeProgress, 1)

	t.mu.Lock()
	t.subs[ch] = struct{}{}
	ch <- t.state
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, ch)
			t.mu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) set(p models.ScrapeProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = p
	t.broadcast()
}

// broadcast must be called with mu held
func (t *Tracker) broadcast() {
	for ch := range t.subs {
		select {
		case ch <- t.state:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- t.state
		}
	}
}
