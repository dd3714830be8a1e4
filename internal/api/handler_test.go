package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.olrik.dev/dawnhost/internal/datafiles"
	"go.olrik.dev/dawnhost/internal/events"
	"go.olrik.dev/dawnhost/internal/metrics"
	"go.olrik.dev/dawnhost/internal/supervisor"
)

func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)})))
	t.Cleanup(func() { slog.SetDefault(old) })
}

type fakeSidecar struct {
	running  bool
	startErr error
	starts   int
}

func (f *fakeSidecar) Start(ctx context.Context) (bool, error) {
	f.starts++
	if f.startErr != nil {
		return false, f.startErr
	}
	f.running = true
	return true, nil
}

func (f *fakeSidecar) Stop() (bool, error) {
	was := f.running
	f.running = false
	return was, nil
}

func (f *fakeSidecar) Status() bool { return f.running }

func (f *fakeSidecar) Details(ctx context.Context) supervisor.Status {
	return supervisor.Status{Running: f.running, Port: 8000}
}

func newTestHandler(t *testing.T) (*Handler, *fakeSidecar, string, *events.Bus) {
	t.Helper()
	root := t.TempDir()
	sidecar := &fakeSidecar{}
	bus := events.NewBus(10)
	return NewHandler(sidecar, datafiles.NewReader(root), bus, metrics.NewCollector()), sidecar, root, bus
}

func do(t *testing.T, h *Handler, method, path string) (int, Result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var res Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("%s %s: invalid JSON body: %v", method, path, err)
	}
	return rec.Code, res
}

func TestSidecarRoutes(t *testing.T) {
	quietLogger(t)
	h, sidecar, _, _ := newTestHandler(t)

	if code, res := do(t, h, "GET", "/api/sidecar/status"); code != 200 || res.Value != false {
		t.Errorf("status before start = %d %+v", code, res)
	}

	if code, res := do(t, h, "POST", "/api/sidecar/start"); code != 200 || !res.OK || res.Value != true {
		t.Errorf("start = %d %+v", code, res)
	}
	if sidecar.starts != 1 {
		t.Errorf("Expected 1 start, got %d", sidecar.starts)
	}

	code, res := do(t, h, "GET", "/api/sidecar")
	details, _ := res.Value.(map[string]any)
	if code != 200 || details["running"] != true || details["port"] != float64(8000) {
		t.Errorf("details = %d %+v", code, res)
	}

	if code, res := do(t, h, "POST", "/api/sidecar/stop"); code != 200 || res.Value != true {
		t.Errorf("stop = %d %+v", code, res)
	}
	if code, res := do(t, h, "POST", "/api/sidecar/stop"); code != 200 || res.Value != false {
		t.Errorf("second stop = %d %+v", code, res)
	}
}

func TestStartSidecar_Error(t *testing.T) {
	quietLogger(t)
	h, sidecar, _, _ := newTestHandler(t)
	sidecar.startErr = errors.New("digest mismatch")

	code, res := do(t, h, "POST", "/api/sidecar/start")
	if code != http.StatusInternalServerError || res.OK || res.Error != "digest mismatch" {
		t.Errorf("start = %d %+v", code, res)
	}
}

func TestStartSidecar_WrongMethod(t *testing.T) {
	quietLogger(t)
	h, _, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/sidecar/start", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestCheckHealth(t *testing.T) {
	quietLogger(t)
	h, _, _, _ := newTestHandler(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	if code, res := do(t, h, "GET", "/api/health/"+port); code != 200 || res.Value != true {
		t.Errorf("health of listening port = %d %+v", code, res)
	}
	if code, res := do(t, h, "GET", "/api/health/70000"); code != http.StatusBadRequest || res.OK {
		t.Errorf("health of invalid port = %d %+v", code, res)
	}
}

func TestPassthroughRoutes(t *testing.T) {
	quietLogger(t)
	h, _, root, _ := newTestHandler(t)

	if code, res := do(t, h, "GET", "/api/manifest"); code != 200 || !res.OK || res.Value != nil {
		t.Errorf("missing manifest = %d %+v", code, res)
	}

	os.MkdirAll(filepath.Join(root, "vault"), 0755)
	os.WriteFile(filepath.Join(root, "vault", "manifest.json"), []byte(`{"v":1}`), 0644)
	os.MkdirAll(filepath.Join(root, "mesh"), 0755)
	os.WriteFile(filepath.Join(root, "mesh", "agent_feed.jsonl"), []byte("a\nb\nc\n"), 0644)

	if _, res := do(t, h, "GET", "/api/manifest"); res.Value != `{"v":1}` {
		t.Errorf("manifest = %+v", res)
	}

	_, res := do(t, h, "GET", "/api/feed?limit=2")
	lines, _ := res.Value.([]any)
	if len(lines) != 2 || lines[0] != "b" || lines[1] != "c" {
		t.Errorf("feed = %+v", res)
	}

	if code, _ := do(t, h, "GET", "/api/feed?limit=abc"); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", code)
	}
}

func TestStreamEvents(t *testing.T) {
	quietLogger(t)
	h, _, _, bus := newTestHandler(t)

	bus.Publish(events.TopicResourceState, map[string]any{"throttled": false})

	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/events/resource_state?history=1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readData := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("Stream ended: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}

	if got := readData(); got != `{"throttled":false}` {
		t.Errorf("history event = %q", got)
	}

	bus.Publish(events.TopicResourceState, map[string]any{"throttled": true})
	if got := readData(); got != `{"throttled":true}` {
		t.Errorf("live event = %q", got)
	}
}

func TestMetricsRoute(t *testing.T) {
	quietLogger(t)
	h, _, _, _ := newTestHandler(t)
	router := h.Router()

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/sidecar/status", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), `dawnhost_api_requests_total{code="200",route="/api/sidecar/status"} 1`) {
		t.Errorf("Expected request counter in metrics output:\n%s", body)
	}
}

func TestCheckLoopback(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:7420", false},
		{"localhost:7420", false},
		{"[::1]:7420", false},
		{"0.0.0.0:7420", true},
		{":7420", true},
		{"192.168.1.10:7420", true},
		{"no-port", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := CheckLoopback(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckLoopback(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	quietLogger(t)
	h, _, _, _ := newTestHandler(t)

	srv, err := Listen("127.0.0.1:0", h.Router())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	resp, err := http.Get("http://" + srv.Addr() + "/api/sidecar/status")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestListen_RejectsNonLoopback(t *testing.T) {
	if _, err := Listen("0.0.0.0:0", http.NotFoundHandler()); !errors.Is(err, ErrNotLoopback) {
		t.Errorf("Expected ErrNotLoopback, got %v", err)
	}
}
