package models

import "time"

// MealPlan is one of the two rate categories tracked per stay
type MealPlan string

const (
	RoomOnly  MealPlan = "room_only"
	Breakfast MealPlan = "breakfast"
)

// PriceObservation is a single price found on a results page
type PriceObservation struct {
	Price    int
	MealPlan MealPlan
}

// Sane reports whether the price is inside the sanity bounds
func (o PriceObservation) Sane() bool {
	return SanePrice(o.Price)
}

// SanePrice reports whether p is a plausible stay price
func SanePrice(p int) bool {
	return p >= MinSanePrice && p <= MaxSanePrice
}

// PricePair holds the best known price per meal plan; nil means never observed
type PricePair struct {
	RoomOnly  *int `json:"room_only"`
	Breakfast *int `json:"breakfast"`
}

// Empty reports whether neither plan has a price
func (p PricePair) Empty() bool {
	return p.RoomOnly == nil && p.Breakfast == nil
}

// MinByPlan reduces a page's observations to the minimum price per meal plan
func MinByPlan(observations []PriceObservation) PricePair {
	var pair PricePair
	for _, o := range observations {
		if !o.Sane() {
			continue
		}
		switch o.MealPlan {
		case RoomOnly:
			pair.RoomOnly = minPtr(pair.RoomOnly, o.Price)
		case Breakfast:
			pair.Breakfast = minPtr(pair.Breakfast, o.Price)
		}
	}
	return pair
}

func minPtr(cur *int, v int) *int {
	if cur == nil || v < *cur {
		return IntPtr(v)
	}
	return cur
}

// IntPtr returns a pointer to a copy of v
func IntPtr(v int) *int {
	return &v
}

// StaySummary is the best-known price record for one stay window
type StaySummary struct {
	CheckIn     string    `json:"in"`
	CheckOut    string    `json:"out"`
	RoomOnly    *int      `json:"room_only"`
	Breakfast   *int      `json:"breakfast"`
	LastChecked time.Time `json:"last_checked"`
}

// Key returns the cache key of the summary's window
func (s StaySummary) Key() string {
	return s.CheckIn + "-" + s.CheckOut
}

// Window parses the summary's dates back into a StayWindow
func (s StaySummary) Window() (StayWindow, error) {
	return ParseWindowKey(s.Key())
}

// Prices returns the summary's prices as a pair
func (s StaySummary) Prices() PricePair {
	return PricePair{RoomOnly: s.RoomOnly, Breakfast: s.Breakfast}
}

// Clone returns a deep copy so callers cannot mutate cached pointers
func (s StaySummary) Clone() StaySummary {
	c := s
	if s.RoomOnly != nil {
		c.RoomOnly = IntPtr(*s.RoomOnly)
	}
	if s.Breakfast != nil {
		c.Breakfast = IntPtr(*s.Breakfast)
	}
	return c
}
