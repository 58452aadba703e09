package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dynamicruntime/dnclient/core"
)

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

// Requirement: the watcher polls immediately on Start and folds one entry
// per distinct node, discovering nodes behind a round-robin balancer.
func TestHealthWatcher_DiscoversNodes(t *testing.T) {
	transport := NewFakeTransport()
	var mu sync.Mutex
	polls := 0
	transport.Handler = func(method, endpoint string, payload any) (*core.Response, error) {
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		nodeID := "node-a"
		if n%2 == 0 {
			nodeID = "node-b"
		}
		body := fmt.Sprintf(`{"nodeId":%q,"currentTime":"2026-01-02T03:04:05Z","uptime":"1h"}`, nodeID)
		resp, err := core.ParseResponse([]byte(body))
		return resp, err
	}
	watcher := NewHealthWatcher(transport)
	watcher.SetInterval(2 * time.Millisecond)

	watcher.Start(context.Background())
	defer watcher.Close()
	waitFor(t, time.Second, func() bool { return watcher.RefreshCount() >= 2 })

	if !watcher.Loaded() {
		t.Error("Loaded() should be true after the first poll")
	}
	nodes := watcher.Nodes()
	if len(nodes) != 2 || nodes[0].NodeID != "node-a" || nodes[1].NodeID != "node-b" {
		t.Errorf("Nodes() = %+v, want node-a then node-b", nodes)
	}
}

// Requirement: polling stops on its own at the refresh cap and no request is
// issued past it.
func TestHealthWatcher_StopsAtRefreshCap(t *testing.T) {
	transport := NewFakeTransport()
	transport.Respond(http.MethodGet, "/health/info",
		`{"nodeId":"node-a","currentTime":"2026-01-02T03:04:05Z","uptime":"1h"}`)
	watcher := NewHealthWatcher(transport)
	watcher.SetInterval(time.Millisecond)
	watcher.cap = 3

	watcher.Start(context.Background())
	defer watcher.Close()
	waitFor(t, time.Second, func() bool { return !watcher.Refreshing() })

	if got := watcher.RefreshCount(); got != 3 {
		t.Errorf("RefreshCount() = %d, want the cap", got)
	}
	calls := transport.CallCount(http.MethodGet, "/health/info")
	if calls != 3 {
		t.Errorf("polls = %d, want exactly the cap", calls)
	}

	// Give the ticker time to misbehave if it were still running.
	time.Sleep(20 * time.Millisecond)
	if got := transport.CallCount(http.MethodGet, "/health/info"); got != calls {
		t.Errorf("polls continued after the cap: %d -> %d", calls, got)
	}

	label := watcher.RefreshLabel()
	if !strings.Contains(label, "Stopped, After Reaching Cap on Refreshes") {
		t.Errorf("RefreshLabel() = %q", label)
	}
}

// Requirement: a failed poll records the problem without counting a refresh.
func TestHealthWatcher_RecordsFetchProblems(t *testing.T) {
	transport := NewFakeTransport()
	transport.Fail(http.MethodGet, "/health/info", errors.New("connection refused"))
	watcher := NewHealthWatcher(transport)
	watcher.SetInterval(time.Millisecond)

	watcher.Start(context.Background())
	defer watcher.Close()
	waitFor(t, time.Second, func() bool { return watcher.Loaded() })

	if got := watcher.Message(); got != "connection refused" {
		t.Errorf("Message() = %q", got)
	}
	if got := watcher.RefreshCount(); got != 0 {
		t.Errorf("RefreshCount() = %d, want 0", got)
	}
}

// Requirement: Close stops polling and may be called repeatedly.
func TestHealthWatcher_CloseIsIdempotent(t *testing.T) {
	transport := NewFakeTransport()
	transport.Respond(http.MethodGet, "/health/info",
		`{"nodeId":"node-a","currentTime":"2026-01-02T03:04:05Z","uptime":"1h"}`)
	watcher := NewHealthWatcher(transport)
	watcher.SetInterval(time.Millisecond)

	watcher.Start(context.Background())
	waitFor(t, time.Second, func() bool { return watcher.RefreshCount() >= 1 })
	watcher.Close()
	watcher.Close()

	if watcher.Refreshing() {
		t.Error("Refreshing() should be false after Close")
	}
	calls := transport.CallCount(http.MethodGet, "/health/info")
	time.Sleep(10 * time.Millisecond)
	if got := transport.CallCount(http.MethodGet, "/health/info"); got != calls {
		t.Errorf("polls continued after Close: %d -> %d", calls, got)
	}
}

// Requirement: a close before any Start is a no-op.
func TestHealthWatcher_CloseWithoutStart(t *testing.T) {
	watcher := NewHealthWatcher(NewFakeTransport())
	watcher.Close()
}

func TestFormatNodeTimeShouldRenderDisplayForm(t *testing.T) {
	got := FormatNodeTime("2026-01-02T15:04:05Z")
	want := "Jan 2, 2026, 3:04:05 PM"
	if got != want {
		t.Errorf("FormatNodeTime() = %q, want %q", got, want)
	}
	if got := FormatNodeTime("not a time"); got != "not a time" {
		t.Errorf("unparseable input should pass through, got %q", got)
	}
}
