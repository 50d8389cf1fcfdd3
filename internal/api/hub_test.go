package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/commutersim/internal/engine"
)

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestHubStreamsSimulation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(quietLogger())
	go hub.Run(ctx)

	s, h := newTestServer(t, hub)
	s.Hub = hub

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := readEnvelope(t, conn)
	if hello.Type != MessageStatus {
		t.Fatalf("expected status hello, got %q", hello.Type)
	}

	s.Sim.Step()

	day := readEnvelope(t, conn)
	if day.Type != MessageDay {
		t.Fatalf("expected day message, got %q", day.Type)
	}
	var report engine.DayReport
	if err := json.Unmarshal(day.Data, &report); err != nil {
		t.Fatal(err)
	}
	if report.Day != 1 || report.Record.Cars+report.Record.Bikes != 100 {
		t.Errorf("unexpected report %+v", report.Record)
	}

	finished := readEnvelope(t, conn)
	if finished.Type != MessageFinished {
		t.Fatalf("expected finished message, got %q", finished.Type)
	}
	var summary engine.RunSummary
	if err := json.Unmarshal(finished.Data, &summary); err != nil {
		t.Fatal(err)
	}
	if summary.Day != 1 || summary.History.Days != 1 {
		t.Errorf("unexpected summary day=%d days=%d", summary.Day, summary.History.Days)
	}

	if hub.Clients() != 1 {
		t.Errorf("expected 1 client, got %d", hub.Clients())
	}

	s.Sim.Reset()
	if env := readEnvelope(t, conn); env.Type != MessageReset {
		t.Errorf("expected reset message, got %q", env.Type)
	}
}

func TestHubDisconnectsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(quietLogger())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, map[string]string{"hello": "world"})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readEnvelope(t, conn)

	cancel()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if hub.Clients() != 0 {
		t.Errorf("expected no clients after shutdown, got %d", hub.Clients())
	}
}

func TestStreamDisabledWithoutHub(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/stream", "", false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
