package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clubotel-scraper/cache"
	"clubotel-scraper/daterange"
	"clubotel-scraper/db"
	"clubotel-scraper/models"
	"clubotel-scraper/scheduler"
	"clubotel-scraper/scraper"
	"clubotel-scraper/table"
)

const resultsPage = `<div class="planprice"><span class="PriceD" price="850"></span></div>
<div roomdata="לינה בלבד"></div>
<div class="planprice"><span class="PriceD" price="1100"></span></div>
<div roomdata="כולל ארוחת בוקר"></div>`

type gatedFetcher struct {
	gate chan struct{}
}

func (f *gatedFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return resultsPage, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, f *gatedFetcher) (*Server, *scheduler.Scheduler) {
	t.Helper()
	logger := quietLogger()
	orch := scraper.NewOrchestrator(f, nil,
		daterange.URLBuilder("https://www.clubhotels.co.il/BE_Results.aspx", nil),
		scraper.Options{Workers: 1}, logger)
	sched := scheduler.NewScheduler(cache.New(db.NewMemoryStore()), orch, scraper.NewTracker(), scheduler.Options{}, logger)
	t.Cleanup(sched.Stop)
	return New(sched, logger), sched
}

func TestPricesJSONWithRefresh(t *testing.T) {
	srv, _ := newTestServer(t, &gatedFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/lowest_two_prices_json?refresh=1&start=2024-03-03&end=2024-03-10&sort=in", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	var rows []table.Row
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].CheckIn != "2024-03-03" || rows[0].Nights != 4 || *rows[0].RoomOnly != 850 || *rows[0].Breakfast != 1100 {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	if !strings.Contains(rec.Body.String(), `"room_only":850`) || !strings.Contains(rec.Body.String(), `"in":"2024-03-03"`) {
		t.Errorf("unexpected JSON field names: %s", rec.Body.String())
	}
}

func TestPricesJSONEmpty(t *testing.T) {
	srv, _ := newTestServer(t, &gatedFetcher{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lowest_two_prices_json", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}

func TestBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, &gatedFetcher{})
	for _, target := range []string{
		"/lowest_two_prices_json?sort=stars",
		"/lowest_two_prices_json?refresh=1&start=03/07/2024",
		"/lowest_two_prices?refresh=1&policy=monthly",
	} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, rec.Code)
		}
	}
}

func TestPricesCSV(t *testing.T) {
	srv, sched := newTestServer(t, &gatedFetcher{})
	w, _ := models.ParseWindowKey("2024-03-07-2024-03-10")
	sched.Store().Merge(w, models.PricePair{RoomOnly: models.IntPtr(850)})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lowest_two_prices", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[1][0] != "2024-03-07" || records[1][2] != "850" || records[1][3] != "" {
		t.Errorf("records = %v", records)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	f := &gatedFetcher{gate: make(chan struct{})}
	srv, sched := newTestServer(t, f)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh?start=2024-03-03&end=2024-03-10", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first POST status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("second POST status = %d, want 409", rec.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))
		var progress models.ScrapeProgress
		if err := json.Unmarshal(rec.Body.Bytes(), &progress); err != nil {
			t.Fatal(err)
		}
		if progress.Status == models.StatusRunning {
			if progress.Total != 2 || progress.Completed != 0 {
				t.Errorf("progress during refresh = %+v", progress)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("refresh never reported running, last = %+v", progress)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(f.gate)
	for sched.Running() {
		if time.Now().After(deadline) {
			t.Fatal("refresh did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sched.Store().Len() != 2 {
		t.Errorf("store has %d entries, want 2", sched.Store().Len())
	}
	if p := sched.Tracker().Snapshot(); p.Status != models.StatusDone || p.Completed != 2 {
		t.Errorf("final progress = %+v", p)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &gatedFetcher{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &gatedFetcher{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/refresh", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /refresh status = %d, want 405", rec.Code)
	}
}
