package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"clubotel-scraper/config"
	"clubotel-scraper/models"
	"clubotel-scraper/scheduler"
	"clubotel-scraper/table"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const maxSheetNameLength = 100

// Header is the first row of every exported price sheet
var Header = []interface{}{"Check-in", "Check-out", "Nights", "Room only", "Breakfast", "Room only / night", "Breakfast / night", "Last checked"}

// Writer exports price tables to Google Sheets
type Writer struct {
	service       *sheets.Service
	spreadsheetID string
	logger        *slog.Logger
}

// NewWriter creates a Google Sheets writer. Credentials come from
// credentialsPath when set, otherwise from credentialsJSON.
func NewWriter(ctx context.Context, spreadsheetID, credentialsPath, credentialsJSON string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spreadsheetID == "" {
		return nil, errors.New("spreadsheet ID is empty")
	}

	creds, err := readCredentials(credentialsPath, credentialsJSON)
	if err != nil {
		return nil, err
	}

	service, err := sheets.NewService(ctx, option.WithCredentialsJSON(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Writer{
		service:       service,
		spreadsheetID: spreadsheetID,
		logger:        logger.With("spreadsheet_id", spreadsheetID),
	}, nil
}

// NewWriterFromConfig creates a writer for cfg.SpreadsheetURL. CredentialsFile
// may hold either a path or the service account JSON itself, which is how
// GOOGLE_SHEETS_CREDENTIALS is usually set.
func NewWriterFromConfig(ctx context.Context, cfg config.SheetsConfig, logger *slog.Logger) (*Writer, error) {
	spreadsheetID := ExtractSpreadsheetID(cfg.SpreadsheetURL)
	if spreadsheetID == "" {
		return nil, fmt.Errorf("could not extract spreadsheet ID from URL: %q", cfg.SpreadsheetURL)
	}
	path, inline := splitCredentials(cfg.CredentialsFile)
	return NewWriter(ctx, spreadsheetID, path, inline, logger)
}

func splitCredentials(s string) (path, inline string) {
	if strings.HasPrefix(strings.TrimSpace(s), "{") {
		return "", s
	}
	return s, ""
}

// readCredentials loads and validates service account JSON
func readCredentials(path, inline string) ([]byte, error) {
	var credsJSON []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		credsJSON = data
	} else {
		inline = strings.TrimSpace(inline)
		if inline == "" {
			return nil, errors.New("credentials not found: set a credentials file or GOOGLE_SHEETS_CREDENTIALS")
		}
		credsJSON = []byte(inline)
	}

	var creds map[string]interface{}
	if err := json.Unmarshal(credsJSON, &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON: %w", err)
	}
	if creds["type"] != "service_account" {
		return nil, fmt.Errorf("credentials must be a service account JSON file (type: service_account), got type: %v", creds["type"])
	}
	return credsJSON, nil
}

// CreateSheetAndWriteRows inserts a new sheet at the front of the spreadsheet
// and writes rows to it. meta, when set, becomes the first row.
// Returns the sheet name and sheet ID (gid) that was created.
func (w *Writer) CreateSheetAndWriteRows(ctx context.Context, sheetName string, rows []table.Row, meta string) (string, int64, error) {
	sheetName = sanitizeSheetName(sheetName)

	batchUpdateRequest := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title: sheetName,
						Index: 0,
					},
				},
			},
		},
	}

	resp, err := w.service.Spreadsheets.BatchUpdate(w.spreadsheetID, batchUpdateRequest).Context(ctx).Do()
	if err != nil {
		return "", 0, fmt.Errorf("failed to create sheet: %w", err)
	}

	var sheetID int64
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
		sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}
	w.logger.Info("Created sheet", "sheet", sheetName, "sheet_id", sheetID)

	valueRange := &sheets.ValueRange{Values: buildValues(rows, meta)}
	_, err = w.service.Spreadsheets.Values.Update(w.spreadsheetID, fmt.Sprintf("'%s'!A1", sheetName), valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return "", 0, fmt.Errorf("failed to write to sheet: %w", err)
	}

	w.logger.Info("Wrote price table", "sheet", sheetName, "rows", len(rows))
	return sheetName, sheetID, nil
}

// ExportHook returns a refresh hook that writes each finished run to its own
// sheet. filter may be nil.
func (w *Writer) ExportHook(filter *table.Filter) scheduler.CompleteFunc {
	return func(ctx context.Context, summary scheduler.RunSummary, rows []models.StaySummary) {
		out := table.Project(rows)
		if filter != nil {
			out = filter.ApplyFilters(out)
		}
		table.Sort(out, table.SortCheckIn, false)

		name := SheetName(summary.Stats.RunID, time.Now())
		meta := fmt.Sprintf("Range %s → %s, policy %s", summary.Start, summary.End, summary.Policy)
		if _, _, err := w.CreateSheetAndWriteRows(ctx, name, out, meta); err != nil {
			w.logger.Error("Error exporting prices", "run_id", summary.Stats.RunID, "error", err)
		}
	}
}

// SheetName names the sheet for one run: timestamp plus a short run ID
func SheetName(runID string, at time.Time) string {
	name := "Prices " + at.Format("2006-01-02 1504")
	if len(runID) >= 8 {
		name += " " + runID[:8]
	}
	return name
}

// buildValues lays out rows for the Sheets API. Unknown prices are empty cells.
func buildValues(rows []table.Row, meta string) [][]interface{} {
	values := make([][]interface{}, 0, len(rows)+2)
	if meta != "" {
		values = append(values, []interface{}{meta})
	}
	values = append(values, Header)
	for _, r := range rows {
		lastChecked := ""
		if !r.LastChecked.IsZero() {
			lastChecked = r.LastChecked.Format(time.RFC3339)
		}
		values = append(values, []interface{}{
			r.CheckIn,
			r.CheckOut,
			r.Nights,
			cell(r.RoomOnly),
			cell(r.Breakfast),
			cell(r.RoomOnlyPerNight),
			cell(r.BreakfastPerNight),
			lastChecked,
		})
	}
	return values
}

func cell(p *int) interface{} {
	if p == nil {
		return ""
	}
	return *p
}

// sanitizeSheetName removes characters Google Sheets rejects in sheet names
func sanitizeSheetName(name string) string {
	invalidChars := []string{"/", "\\", "?", "*", "[", "]", ":", "'"}
	result := name
	for _, char := range invalidChars {
		result = strings.ReplaceAll(result, char, "_")
	}
	result = strings.TrimSpace(result)
	if runes := []rune(result); len(runes) > maxSheetNameLength {
		result = string(runes[:maxSheetNameLength])
	}
	if result == "" {
		result = "Sheet1"
	}
	return result
}

// ExtractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL
// such as https://docs.google.com/spreadsheets/d/ID/edit?usp=sharing
func ExtractSpreadsheetID(url string) string {
	parts := strings.Split(url, "/d/")
	if len(parts) < 2 {
		return ""
	}

	idPart := parts[1]
	if idx := strings.IndexAny(idPart, "/?#"); idx != -1 {
		idPart = idPart[:idx]
	}
	return strings.TrimSpace(idPart)
}
