package models

import (
	"testing"
	"time"
)

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestStayWindowKey(t *testing.T) {
	w := NewStayWindow(date("2024-03-07"), date("2024-03-10"))
	if got := w.Key(); got != "2024-03-07-2024-03-10" {
		t.Errorf("Key() = %q", got)
	}
	if w.Nights() != 3 {
		t.Errorf("Nights() = %d, want 3", w.Nights())
	}

	parsed, err := ParseWindowKey(w.Key())
	if err != nil {
		t.Fatalf("ParseWindowKey() error = %v", err)
	}
	if !parsed.CheckIn.Equal(w.CheckIn) || !parsed.CheckOut.Equal(w.CheckOut) {
		t.Errorf("ParseWindowKey() = %v, want %v", parsed, w)
	}
}

func TestParseWindowKeyInvalid(t *testing.T) {
	for _, key := range []string{"", "2024-03-07", "2024-03-07_2024-03-10", "2024-13-07-2024-03-10"} {
		if _, err := ParseWindowKey(key); err == nil {
			t.Errorf("ParseWindowKey(%q) expected error", key)
		}
	}
}

func TestMinByPlan(t *testing.T) {
	obs := []PriceObservation{
		{Price: 900, MealPlan: RoomOnly},
		{Price: 850, MealPlan: RoomOnly},
		{Price: 1100, MealPlan: Breakfast},
		{Price: 120, MealPlan: Breakfast}, // below sanity bound
		{Price: 99999, MealPlan: RoomOnly},
	}
	pair := MinByPlan(obs)
	if pair.RoomOnly == nil || *pair.RoomOnly != 850 {
		t.Errorf("RoomOnly = %v, want 850", pair.RoomOnly)
	}
	if pair.Breakfast == nil || *pair.Breakfast != 1100 {
		t.Errorf("Breakfast = %v, want 1100", pair.Breakfast)
	}

	if !MinByPlan(nil).Empty() {
		t.Error("MinByPlan(nil) should be empty")
	}
}

func TestStaySummaryClone(t *testing.T) {
	s := StaySummary{CheckIn: "2024-03-07", CheckOut: "2024-03-10", RoomOnly: IntPtr(850)}
	c := s.Clone()
	*c.RoomOnly = 1
	if *s.RoomOnly != 850 {
		t.Error("Clone() shares price pointer with original")
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		p    ScrapeProgress
		want int
	}{
		{ScrapeProgress{Total: 0}, -1},
		{ScrapeProgress{Total: 4, Completed: 1}, 25},
		{ScrapeProgress{Total: 4, Completed: 4}, 100},
	}
	for _, tt := range tests {
		if got := tt.p.Percent(); got != tt.want {
			t.Errorf("Percent(%+v) = %d, want %d", tt.p, got, tt.want)
		}
	}
}
