package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type rainRecorder struct {
	calls int
	rain  bool
}

func (r *rainRecorder) SetRain(active bool) {
	r.calls++
	r.rain = active
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("appid") != "key" || r.URL.Query().Get("q") != "Utrecht,NL" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("key", "Utrecht,NL")
	c.BaseURL = srv.URL
	return c, &hits
}

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func withClock(c *Client) *fakeClock {
	clk := &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	c.now = clk.now
	return clk
}

func TestNewClientWithoutKey(t *testing.T) {
	if NewClient("", "x") != nil {
		t.Error("expected nil client without API key")
	}
}

func TestFetchParsesConditions(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		adverse bool
	}{
		{"clear", `{"main":{"temp":18},"weather":[{"main":"Clear","description":"clear sky"}],"wind":{"speed":3}}`, false},
		{"drizzle", `{"main":{"temp":9},"weather":[{"main":"Drizzle","description":"light drizzle"}],"wind":{"speed":4}}`, true},
		{"snow", `{"main":{"temp":-2},"weather":[{"main":"Snow","description":"snow"}],"wind":{"speed":2}}`, true},
		{"gale", `{"main":{"temp":12},"weather":[{"main":"Clouds","description":"overcast"}],"wind":{"speed":20}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			cond, err := c.Fetch(context.Background())
			if err != nil {
				t.Fatalf("Fetch failed: %v", err)
			}
			if cond.Adverse() != tt.adverse {
				t.Errorf("Adverse() = %v, want %v (%+v)", cond.Adverse(), tt.adverse, cond)
			}
			if cond.Description == "" || cond.Group == "" {
				t.Errorf("expected group and description, got %+v", cond)
			}
		})
	}
}

func TestFetchCaches(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"main":{"temp":10},"weather":[{"main":"Rain","description":"rain"}]}`))
	})

	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 API call, got %d", hits.Load())
	}
}

func TestFetchBacksOffOnError(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})

	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatal("expected backoff error")
	}
	if hits.Load() != 1 {
		t.Errorf("expected backoff to suppress the second call, got %d calls", hits.Load())
	}
}

func TestFetchRefreshesAfterCacheExpiry(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"weather":[{"main":"Clear","description":"clear sky"}]}`))
	})
	clk := withClock(c)

	c.Fetch(context.Background())
	clk.advance(4 * time.Minute)
	c.Fetch(context.Background())
	if hits.Load() != 1 {
		t.Fatalf("expected cached result within TTL, got %d calls", hits.Load())
	}

	clk.advance(2 * time.Minute)
	c.Fetch(context.Background())
	if hits.Load() != 2 {
		t.Errorf("expected refresh after TTL, got %d calls", hits.Load())
	}
}

func TestBackoffGrowsAndResets(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"weather":[{"main":"Snow","description":"light snow"}]}`))
	})
	clk := withClock(c)

	want := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 10 * time.Minute, 10 * time.Minute}
	for i, d := range want {
		if _, err := c.Fetch(context.Background()); err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
		if got := c.Backoff(); got != d {
			t.Fatalf("attempt %d: expected backoff %s, got %s", i, d, got)
		}
		clk.advance(d)
	}
	if hits.Load() != int32(len(want)) {
		t.Errorf("expected one call per expired backoff, got %d", hits.Load())
	}

	failing.Store(false)
	cond, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !cond.Adverse() || c.Backoff() != 0 {
		t.Errorf("expected snow and backoff reset, got %+v backoff %s", cond, c.Backoff())
	}
}

func TestFetchKeepsLastObservationOnFailure(t *testing.T) {
	var failing atomic.Bool
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"weather":[{"main":"Rain","description":"light rain"}]}`))
	})
	clk := withClock(c)

	if _, err := c.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	failing.Store(true)
	clk.advance(6 * time.Minute)

	cond, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("expected last observation, got error %v", err)
	}
	if cond.Group != "rain" {
		t.Errorf("expected cached rain, got %+v", cond)
	}
	if c.Backoff() != time.Minute {
		t.Errorf("expected backoff to start, got %s", c.Backoff())
	}
}

func TestApply(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"main":{"temp":10},"weather":[{"main":"Rain","description":"moderate rain"}]}`))
	})

	rec := &rainRecorder{}
	if err := c.Apply(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if rec.calls != 1 || !rec.rain {
		t.Errorf("expected rain set, got %+v", rec)
	}

	broken := NewClient("key", "Utrecht,NL")
	broken.BaseURL = "http://127.0.0.1:0"
	rec = &rainRecorder{}
	if err := broken.Apply(context.Background(), rec); err == nil {
		t.Error("expected error from unreachable API")
	}
	if rec.calls != 0 {
		t.Error("rain must be left alone on error")
	}
}
