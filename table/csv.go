package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// CSVHeader is the in,out,room_only,breakfast summary layout followed by the derived columns
var CSVHeader = []string{"in", "out", "room_only", "breakfast", "nights", "room_only_per_night", "breakfast_per_night"}

// WriteCSV writes rows with a header; unknown prices are empty cells
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.CheckIn,
			r.CheckOut,
			cell(r.RoomOnly),
			cell(r.Breakfast),
			strconv.Itoa(r.Nights),
			cell(r.RoomOnlyPerNight),
			cell(r.BreakfastPerNight),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
