package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"clubotel-scraper/db"
	"clubotel-scraper/models"
)

// StorageKey is the blob key the session cache is saved under
const StorageKey = "clubotel_prices_cache"

// DefaultStaleAfter is how long a checked entry stays fresh
const DefaultStaleAfter = 30 * time.Minute

// Store is the best-known price per stay window for one session.
// Prices for a key only ever go down.
type Store struct {
	mu    sync.RWMutex
	items map[string]models.StaySummary
	start string
	end   string

	blobs      db.BlobStore
	staleAfter time.Duration
	now        func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithStaleAfter overrides the freshness window
func WithStaleAfter(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty Store persisted through blobs
func New(blobs db.BlobStore, opts ...Option) *Store {
	s := &Store{
		items:      make(map[string]models.StaySummary),
		blobs:      blobs,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// blob is the persisted shape
type blob struct {
	Start string                        `json:"start"`
	End   string                        `json:"end"`
	Items map[string]models.StaySummary `json:"items"`
}

// Load replaces the in-memory state with the persisted blob. A missing blob
// leaves the store empty.
func (s *Store) Load(ctx context.Context) error {
	data, ok, err := s.blobs.Get(ctx, StorageKey)
	if err != nil {
		return fmt.Errorf("failed to load cache: %w", err)
	}

	var b blob
	if ok {
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("failed to decode cache: %w", err)
		}
	}

	items := make(map[string]models.StaySummary, len(b.Items))
	for _, sum := range b.Items {
		if _, err := sum.Window(); err != nil {
			continue
		}
		items[sum.Key()] = sum
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
	s.start, s.end = b.Start, b.End
	return nil
}

// Save persists the current state
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	b := blob{Start: s.start, End: s.end, Items: make(map[string]models.StaySummary, len(s.items))}
	for k, v := range s.items {
		b.Items[k] = v.Clone()
	}
	s.mu.RUnlock()

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err := s.blobs.Put(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}
	return nil
}

// Clear drops every entry and the persisted blob
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.items = make(map[string]models.StaySummary)
	s.start, s.end = "", ""
	s.mu.Unlock()

	if err := s.blobs.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Bounds returns the session date range, ok is false when none is set
func (s *Store) Bounds() (start, end time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.start == "" || s.end == "" {
		return time.Time{}, time.Time{}, false
	}
	start, err1 := time.Parse(models.DateLayout, s.start)
	end, err2 := time.Parse(models.DateLayout, s.end)
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// SetBounds records the session range. Known prices are kept whatever the
// range, so a narrower range never loses them. A reversed range is ignored.
func (s *Store) SetBounds(start, end time.Time) {
	if end.Before(start) {
		return
	}
	in, out := start.Format(models.DateLayout), end.Format(models.DateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.start, s.end = in, out
}

// fresh must be called with mu held
func (s *Store) fresh(sum models.StaySummary, now time.Time) bool {
	return now.Sub(sum.LastChecked) < s.staleAfter
}

// IsFresh reports whether key was checked within the staleness window
func (s *Store) IsFresh(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.items[key]
	return ok && s.fresh(sum, s.now())
}

// Pending returns the windows that are missing or stale, in input order,
// without duplicates.
func (s *Store) Pending(windows []models.StayWindow) []models.StayWindow {
	now := s.now()
	seen := make(map[string]bool, len(windows))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []models.StayWindow
	for _, w := range windows {
		key := w.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		if sum, ok := s.items[key]; ok && s.fresh(sum, now) {
			continue
		}
		pending = append(pending, w)
	}
	return pending
}

// Merge folds a scrape's candidate prices into the entry for w. A missing
// entry is created from the candidate, even an empty one, so a stay with no
// offers is recorded as checked. An existing entry keeps the per-plan minimum
// and always has its check time bumped. Returns the stored summary and whether
// any price was set or lowered.
func (s *Store) Merge(w models.StayWindow, candidate models.PricePair) (models.StaySummary, bool) {
	key := w.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	existing, ok := s.items[key]
	if !ok {
		sum := models.StaySummary{
			CheckIn:     w.In(),
			CheckOut:    w.Out(),
			RoomOnly:    copyPtr(candidate.RoomOnly),
			Breakfast:   copyPtr(candidate.Breakfast),
			LastChecked: now,
		}
		s.items[key] = sum
		return sum.Clone(), !candidate.Empty()
	}

	improved := lower(candidate.RoomOnly, existing.RoomOnly) || lower(candidate.Breakfast, existing.Breakfast)
	if improved {
		existing.RoomOnly = minPrice(existing.RoomOnly, candidate.RoomOnly)
		existing.Breakfast = minPrice(existing.Breakfast, candidate.Breakfast)
	}
	existing.LastChecked = now
	s.items[key] = existing
	return existing.Clone(), improved
}

// Get returns a copy of the entry for key
func (s *Store) Get(key string) (models.StaySummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.items[key]
	if !ok {
		return models.StaySummary{}, false
	}
	return sum.Clone(), true
}

// Snapshot returns copies of all entries sorted by check-in then check-out
func (s *Store) Snapshot() []models.StaySummary {
	s.mu.RLock()
	out := make([]models.StaySummary, 0, len(s.items))
	for _, sum := range s.items {
		out = append(out, sum.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CheckIn != out[j].CheckIn {
			return out[i].CheckIn < out[j].CheckIn
		}
		return out[i].CheckOut < out[j].CheckOut
	})
	return out
}

// Len returns the number of entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// lower reports whether candidate is known and beats existing
func lower(candidate, existing *int) bool {
	return candidate != nil && (existing == nil || *candidate < *existing)
}

func minPrice(a, b *int) *int {
	switch {
	case a == nil:
		return copyPtr(b)
	case b == nil:
		return a
	case *b < *a:
		return copyPtr(b)
	default:
		return a
	}
}

func copyPtr(p *int) *int {
	if p == nil {
		return nil
	}
	return models.IntPtr(*p)
}
