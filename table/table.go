package table

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"clubotel-scraper/models"
)

// Row is one display line of the price table
type Row struct {
	CheckIn           string    `json:"in"`
	CheckOut          string    `json:"out"`
	Nights            int       `json:"nights"`
	RoomOnly          *int      `json:"room_only"`
	Breakfast         *int      `json:"breakfast"`
	RoomOnlyPerNight  *int      `json:"room_only_per_night"`
	BreakfastPerNight *int      `json:"breakfast_per_night"`
	LastChecked       time.Time `json:"last_checked"`
}

// SortKey names a sortable column
type SortKey string

const (
	SortCheckIn           SortKey = "in"
	SortNights            SortKey = "nights"
	SortRoomOnly          SortKey = "room_only"
	SortBreakfast         SortKey = "breakfast"
	SortRoomOnlyPerNight  SortKey = "room_only_per_night"
	SortBreakfastPerNight SortKey = "breakfast_per_night"
)

// Project turns cache summaries into rows with nights and per-night prices
func Project(summaries []models.StaySummary) []Row {
	rows := make([]Row, 0, len(summaries))
	for _, s := range summaries {
		w, err := s.Window()
		if err != nil {
			continue
		}
		nights := w.Nights()
		rows = append(rows, Row{
			CheckIn:           s.CheckIn,
			CheckOut:          s.CheckOut,
			Nights:            nights,
			RoomOnly:          s.RoomOnly,
			Breakfast:         s.Breakfast,
			RoomOnlyPerNight:  perNight(s.RoomOnly, nights),
			BreakfastPerNight: perNight(s.Breakfast, nights),
			LastChecked:       s.LastChecked,
		})
	}
	return rows
}

func perNight(total *int, nights int) *int {
	if total == nil || nights <= 0 {
		return nil
	}
	return models.IntPtr(int(math.Round(float64(*total) / float64(nights))))
}

// ParseSortKey validates a column name
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortCheckIn, nil
	case SortCheckIn, SortNights, SortRoomOnly, SortBreakfast, SortRoomOnlyPerNight, SortBreakfastPerNight:
		return k, nil
	}
	return "", fmt.Errorf("unknown sort column %q", s)
}

// Sort orders rows in place by key. Rows missing the value sort last in
// either direction; ties fall back to check-in then check-out.
func Sort(rows []Row, key SortKey, desc bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch key {
		case SortNights:
			if a.Nights != b.Nights {
				return (a.Nights < b.Nights) != desc
			}
		case SortRoomOnly, SortBreakfast, SortRoomOnlyPerNight, SortBreakfastPerNight:
			av, bv := priceOf(a, key), priceOf(b, key)
			if (av == nil) != (bv == nil) {
				return av != nil
			}
			if av != nil && *av != *bv {
				return (*av < *bv) != desc
			}
		default:
			if a.CheckIn != b.CheckIn {
				return (a.CheckIn < b.CheckIn) != desc
			}
			if a.CheckOut != b.CheckOut {
				return (a.CheckOut < b.CheckOut) != desc
			}
			return false
		}
		if a.CheckIn != b.CheckIn {
			return a.CheckIn < b.CheckIn
		}
		return a.CheckOut < b.CheckOut
	})
}

func priceOf(r Row, key SortKey) *int {
	switch key {
	case SortRoomOnly:
		return r.RoomOnly
	case SortBreakfast:
		return r.Breakfast
	case SortRoomOnlyPerNight:
		return r.RoomOnlyPerNight
	case SortBreakfastPerNight:
		return r.BreakfastPerNight
	}
	return nil
}

// FormatNIS renders a price as "₪1,234", or "—" when unknown
func FormatNIS(p *int) string {
	if p == nil {
		return "—"
	}
	return "₪" + groupThousands(*p)
}

func groupThousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// FormatText renders rows as a plain-text table, one stay per line
func FormatText(rows []Row) string {
	if len(rows) == 0 {
		return "No prices yet."
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%s → %s (%dn)  room only %s (%s/n)  breakfast %s (%s/n)\n",
			r.CheckIn, r.CheckOut, r.Nights,
			FormatNIS(r.RoomOnly), FormatNIS(r.RoomOnlyPerNight),
			FormatNIS(r.Breakfast), FormatNIS(r.BreakfastPerNight))
	}
	return b.String()
}
