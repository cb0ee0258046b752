package table

import (
	"clubotel-scraper/config"
)

// Filter applies filter criteria to table rows
type Filter struct {
	cfg config.FilterConfig
}

// NewFilter creates a new Filter instance
func NewFilter(cfg config.FilterConfig) *Filter {
	return &Filter{
		cfg: cfg,
	}
}

// ApplyFilters filters rows based on the configuration
func (f *Filter) ApplyFilters(rows []Row) []Row {
	var filtered []Row

	for _, row := range rows {
		if f.matchesFilters(row) {
			filtered = append(filtered, row)
		}
	}

	return filtered
}

// matchesFilters checks if a row matches all filter criteria
func (f *Filter) matchesFilters(row Row) bool {
	if f.cfg.MinNights > 0 && row.Nights < f.cfg.MinNights {
		return false
	}
	if f.cfg.MaxNights > 0 && row.Nights > f.cfg.MaxNights {
		return false
	}

	// Rows with no known price are kept; an unscraped stay isn't out of range
	cheapest := cheapestTotal(row)
	if cheapest == nil {
		return true
	}
	if *cheapest < f.cfg.MinPrice {
		return false
	}
	if f.cfg.MaxPrice > 0 && *cheapest > f.cfg.MaxPrice {
		return false
	}
	return true
}

func cheapestTotal(row Row) *int {
	switch {
	case row.RoomOnly == nil:
		return row.Breakfast
	case row.Breakfast == nil || *row.RoomOnly <= *row.Breakfast:
		return row.RoomOnly
	default:
		return row.Breakfast
	}
}
