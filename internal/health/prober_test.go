package health

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"
)

func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)})))
	t.Cleanup(func() { slog.SetDefault(old) })
}

// listen opens a loopback listener and returns its port
func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln, ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a port that nothing is listening on
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestCheck_Listening(t *testing.T) {
	quietLogger(t)
	_, port := listen(t)

	if !Check(context.Background(), port, time.Second) {
		t.Errorf("Expected port %d to be healthy", port)
	}
}

func TestCheck_Closed(t *testing.T) {
	quietLogger(t)
	port := closedPort(t)

	if Check(context.Background(), port, time.Second) {
		t.Errorf("Expected port %d to be unhealthy", port)
	}
}

func TestCheck_CancelledContext(t *testing.T) {
	quietLogger(t)
	_, port := listen(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if Check(ctx, port, time.Second) {
		t.Error("Expected cancelled probe to report unhealthy")
	}
}

func TestCheck_DefaultTimeout(t *testing.T) {
	quietLogger(t)
	_, port := listen(t)

	if !Check(context.Background(), port, 0) {
		t.Error("Expected zero timeout to fall back to the default")
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	results []bool
}

func (r *recordingObserver) ObserveHealth(port int, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, healthy)
}

func (r *recordingObserver) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.results...)
}

func TestProber_ReportsAndStops(t *testing.T) {
	quietLogger(t)
	port := closedPort(t)

	obs := &recordingObserver{}
	p := &Prober{Port: port, Interval: 10 * time.Millisecond, Timeout: 100 * time.Millisecond, Observer: obs}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(obs.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Prober never reported")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	for i, healthy := range obs.snapshot() {
		if healthy {
			t.Errorf("Result %d: expected unhealthy for closed port", i)
		}
	}
}

func TestNewProber_Defaults(t *testing.T) {
	p := NewProber(8000)
	if p.Port != 8000 || p.Interval != DefaultInterval || p.Timeout != DefaultTimeout {
		t.Errorf("Unexpected defaults: %+v", p)
	}
}
