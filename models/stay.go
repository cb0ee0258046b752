package models

import (
	"fmt"
	"time"
)

// DateLayout is the date format used by the booking engine and the cache keys
const DateLayout = "2006-01-02"

// Sanity bounds for a scraped stay price (NIS). Anything outside is parse noise.
const (
	MinSanePrice = 300
	MaxSanePrice = 50000
)

// StayWindow is a check-in/check-out pair, the unit of pricing
type StayWindow struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// NewStayWindow builds a window from two calendar dates
func NewStayWindow(checkIn, checkOut time.Time) StayWindow {
	return StayWindow{CheckIn: TruncateDay(checkIn), CheckOut: TruncateDay(checkOut)}
}

// Key uniquely identifies the window, e.g. "2024-03-07-2024-03-10"
func (w StayWindow) Key() string {
	return w.In() + "-" + w.Out()
}

// In returns the check-in date formatted as YYYY-MM-DD
func (w StayWindow) In() string {
	return w.CheckIn.Format(DateLayout)
}

// Out returns the check-out date formatted as YYYY-MM-DD
func (w StayWindow) Out() string {
	return w.CheckOut.Format(DateLayout)
}

// Nights returns the number of nights in the stay
func (w StayWindow) Nights() int {
	return DaysBetween(w.CheckIn, w.CheckOut)
}

// Valid reports whether check-out is strictly after check-in
func (w StayWindow) Valid() bool {
	return w.CheckOut.After(w.CheckIn)
}

func (w StayWindow) String() string {
	return fmt.Sprintf("%s → %s", w.In(), w.Out())
}

// ParseWindowKey is the inverse of StayWindow.Key
func ParseWindowKey(key string) (StayWindow, error) {
	if len(key) != 2*len(DateLayout)+1 || key[len(DateLayout)] != '-' {
		return StayWindow{}, fmt.Errorf("invalid window key %q", key)
	}
	in, err := time.Parse(DateLayout, key[:len(DateLayout)])
	if err != nil {
		return StayWindow{}, fmt.Errorf("invalid check-in in key %q: %w", key, err)
	}
	out, err := time.Parse(DateLayout, key[len(DateLayout)+1:])
	if err != nil {
		return StayWindow{}, fmt.Errorf("invalid check-out in key %q: %w", key, err)
	}
	return StayWindow{CheckIn: in, CheckOut: out}, nil
}

// TruncateDay drops the time of day, keeping the calendar date in UTC
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole calendar days from a to b
func DaysBetween(a, b time.Time) int {
	return int(TruncateDay(b).Sub(TruncateDay(a)).Hours() / 24)
}
