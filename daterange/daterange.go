package daterange

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"clubotel-scraper/models"
)

// Policy selects which stay windows are generated for a date range
type Policy string

const (
	PolicyWeekly Policy = "weekly" // Sun→Thu and Thu→Sun stays
	PolicyShort  Policy = "short"  // every 1-3 night stay
	PolicyBoth   Policy = "both"
)

// DefaultMonths is how far ahead the default range reaches
const DefaultMonths = 3

// ParsePolicy validates a policy name, defaulting to weekly
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyWeekly:
		return PolicyWeekly, nil
	case PolicyShort:
		return PolicyShort, nil
	case PolicyBoth:
		return PolicyBoth, nil
	}
	return "", fmt.Errorf("unknown date policy %q (want weekly, short or both)", s)
}

// Generate produces the stay windows for [start, end] under the given policy
func Generate(start, end time.Time, policy Policy) []models.StayWindow {
	switch policy {
	case PolicyShort:
		return ShortStays(start, end)
	case PolicyBoth:
		return Combine(Weekly(start, end), ShortStays(start, end))
	default:
		return Weekly(start, end)
	}
}

// Weekly emits Sunday check-ins for 4 nights and Thursday check-ins for 3 nights,
// keeping only windows whose check-out is not after end.
func Weekly(start, end time.Time) []models.StayWindow {
	start, end = models.TruncateDay(start), models.TruncateDay(end)
	var windows []models.StayWindow
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		var nights int
		switch d.Weekday() {
		case time.Sunday:
			nights = 4
		case time.Thursday:
			nights = 3
		default:
			continue
		}
		out := d.AddDate(0, 0, nights)
		if !out.After(end) {
			windows = append(windows, models.StayWindow{CheckIn: d, CheckOut: out})
		}
	}
	return windows
}

// ShortStays emits every 1, 2 and 3 night stay starting in [start, end],
// ordered by check-in and then by nights.
func ShortStays(start, end time.Time) []models.StayWindow {
	start, end = models.TruncateDay(start), models.TruncateDay(end)
	var windows []models.StayWindow
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		for nights := 1; nights <= 3; nights++ {
			out := d.AddDate(0, 0, nights)
			if out.After(end) {
				break
			}
			windows = append(windows, models.StayWindow{CheckIn: d, CheckOut: out})
		}
	}
	return windows
}

// Combine concatenates window lists in order. Duplicates are kept; the cache
// dedups by key.
func Combine(lists ...[]models.StayWindow) []models.StayWindow {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	combined := make([]models.StayWindow, 0, n)
	for _, l := range lists {
		combined = append(combined, l...)
	}
	return combined
}

// DefaultBounds returns today .. today+3 months
func DefaultBounds(now time.Time) (time.Time, time.Time) {
	start := models.TruncateDay(now)
	return start, start.AddDate(0, DefaultMonths, 0)
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// BuildURL sets the fixed booking-engine params plus in/out dates on base.
// Params already present on base are kept unless overridden.
func BuildURL(base string, params map[string]string, w models.StayWindow) (string, error) {
	parsedURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}

	query := parsedURL.Query()
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("in", w.In())
	query.Set("out", w.Out())

	newURL := *parsedURL
	newURL.RawQuery = query.Encode()
	return newURL.String(), nil
}

// URLBuilder binds BuildURL to a fixed base and params
func URLBuilder(base string, params map[string]string) func(models.StayWindow) (string, error) {
	return func(w models.StayWindow) (string, error) {
		return BuildURL(base, params, w)
	}
}
