package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"clubotel-scraper/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("User-Agent") != "test-agent" {
				t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
			}
			w.Write([]byte("<html>ok</html>"))
		case "/empty":
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "nope", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	hf, err := NewHTTPFetcher(HTTPOptions{UserAgent: "test-agent", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	body, err := hf.Fetch(ctx, srv.URL+"/ok")
	if err != nil || body != "<html>ok</html>" {
		t.Errorf("Fetch(/ok) = %q, %v", body, err)
	}

	_, err = hf.Fetch(ctx, srv.URL+"/down")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Fetch(/down) error = %v, want StatusError 503", err)
	}

	if _, err := hf.Fetch(ctx, srv.URL+"/empty"); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("Fetch(/empty) error = %v, want ErrEmptyBody", err)
	}
}

func TestHTTPFetcherProxyTemplate(t *testing.T) {
	var gotTarget string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTarget = r.URL.Query().Get("url")
		w.Write([]byte("proxied"))
	}))
	defer srv.Close()

	hf, err := NewHTTPFetcher(HTTPOptions{ProxyTemplate: srv.URL + "/raw?url={url}"})
	if err != nil {
		t.Fatal(err)
	}
	target := "https://www.clubhotels.co.il/BE_Results.aspx?in=2024-03-07&out=2024-03-10"
	if _, err := hf.Fetch(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	if gotTarget != target {
		t.Errorf("proxy received url %q, want %q", gotTarget, target)
	}
}

func TestProxiedURL(t *testing.T) {
	if got := ProxiedURL("", "https://a/b"); got != "https://a/b" {
		t.Errorf("ProxiedURL without template = %q", got)
	}
	got := ProxiedURL("https://p/raw?url={url}", "https://a/b?x=1&y=2")
	want := "https://p/raw?url=" + url.QueryEscape("https://a/b?x=1&y=2")
	if got != want {
		t.Errorf("ProxiedURL() = %q, want %q", got, want)
	}
}

type stubFetcher struct {
	calls   int32
	failFor int32
	err     error
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) (string, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if n <= s.failFor {
		return "", s.err
	}
	return "<html/>", nil
}

func TestRetrying(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name         string
		failFor      int32
		wantErr      bool
		wantCalls    int32
		wantSleeps   []time.Duration
		wantAttempts int
	}{
		{"first try", 0, false, 1, nil, 0},
		{"second try", 1, false, 2, []time.Duration{2 * time.Second}, 0},
		{"third try", 2, false, 3, []time.Duration{2 * time.Second, 3 * time.Second}, 0},
		{"exhausted", 5, true, 3, []time.Duration{2 * time.Second, 3 * time.Second}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubFetcher{failFor: tt.failFor, err: cause}
			r := NewRetrying(stub, DefaultRetryPolicy, quietLogger())
			var sleeps []time.Duration
			r.sleep = func(ctx context.Context, d time.Duration) error {
				sleeps = append(sleeps, d)
				return nil
			}

			_, err := r.Fetch(context.Background(), "https://example.test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Fetch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if stub.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", stub.calls, tt.wantCalls)
			}
			if len(sleeps) != len(tt.wantSleeps) {
				t.Fatalf("sleeps = %v, want %v", sleeps, tt.wantSleeps)
			}
			for i := range sleeps {
				if sleeps[i] != tt.wantSleeps[i] {
					t.Errorf("sleep[%d] = %v, want %v", i, sleeps[i], tt.wantSleeps[i])
				}
			}

			if tt.wantErr {
				var fe *FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("error %T is not *FetchError", err)
				}
				if fe.Attempts != tt.wantAttempts || !errors.Is(err, cause) {
					t.Errorf("FetchError = %+v", fe)
				}
			}
		})
	}
}

func TestRetryingStopsOnCancel(t *testing.T) {
	stub := &stubFetcher{failFor: 10, err: errors.New("boom")}
	r := NewRetrying(stub, DefaultRetryPolicy, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := r.Fetch(ctx, "https://example.test")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if stub.calls != 1 {
		t.Errorf("calls = %d, want 1", stub.calls)
	}
}

func TestNewUnknownFetcher(t *testing.T) {
	cfg := config.GetDefaultConfig().Scrape
	cfg.Fetcher = "curl"
	if _, _, err := New(cfg, quietLogger()); err == nil || !strings.Contains(err.Error(), "curl") {
		t.Errorf("New() error = %v", err)
	}
}

func TestNewHTTP(t *testing.T) {
	cfg := config.GetDefaultConfig().Scrape
	f, closer, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	if _, ok := f.(*Retrying); !ok {
		t.Errorf("New() = %T, want *Retrying", f)
	}
}
