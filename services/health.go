package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dynamicruntime/dnclient/core"
)

const (
	defaultHealthInterval = 2 * time.Second
	defaultRefreshCap     = 20
)

// HealthWatcher polls /health/info, folding one entry per distinct node into
// its view of the cluster. Behind a round-robin load balancer the repeated
// polls gradually discover every node. Polling stops on its own once the
// refresh cap is reached; Close releases the timer deterministically.
type HealthWatcher struct {
	transport core.Transport
	interval  time.Duration
	cap       int

	mu           sync.Mutex
	nodes        map[string]core.NodeHealth
	refreshCount int
	refreshing   bool
	loaded       bool
	message      string

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewHealthWatcher builds a watcher with the two second interval and the
// twenty refresh cap of the portal's dashboard.
func NewHealthWatcher(t core.Transport) *HealthWatcher {
	return &HealthWatcher{
		transport: t,
		interval:  defaultHealthInterval,
		cap:       defaultRefreshCap,
		nodes:     make(map[string]core.NodeHealth),
	}
}

// SetInterval adjusts the polling interval; it only has effect before Start.
func (w *HealthWatcher) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// Start polls once immediately and then on every tick until the cap is
// reached, Close is called, or ctx is canceled.
func (w *HealthWatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.cancel = cancel
	w.done = make(chan struct{})
	w.refreshing = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Close stops polling and releases the timer. It is idempotent and safe to
// call while a poll is in flight.
func (w *HealthWatcher) Close() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	w.closeOnce.Do(func() {
		cancel()
		<-done
	})
}

func (w *HealthWatcher) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.refreshing = false
			w.mu.Unlock()
			return
		case <-ticker.C:
			w.mu.Lock()
			capped := w.refreshCount >= w.cap
			if capped {
				w.refreshing = false
			}
			w.mu.Unlock()
			if capped {
				return
			}
			w.poll(ctx)
		}
	}
}

func (w *HealthWatcher) poll(ctx context.Context) {
	resp, err := w.transport.Get(ctx, "/health/info")

	w.mu.Lock()
	defer w.mu.Unlock()
	w.loaded = true
	if err != nil {
		w.message = err.Error()
		return
	}
	if !resp.IsSuccess() {
		w.message = resp.Message
		return
	}
	var node core.NodeHealth
	if decodeErr := resp.Decode(&node); decodeErr != nil || node.NodeID == "" {
		w.message = "Health payload is missing a node id."
		return
	}
	w.nodes[node.NodeID] = node
	w.refreshCount++
	w.message = ""
}

// Loaded reports whether the first health call has returned.
func (w *HealthWatcher) Loaded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loaded
}

// Message returns the last fetch problem, or "".
func (w *HealthWatcher) Message() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.message
}

// RefreshCount returns how many successful refreshes have been folded in.
func (w *HealthWatcher) RefreshCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refreshCount
}

// Refreshing reports whether polling is still active.
func (w *HealthWatcher) Refreshing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refreshing
}

// RefreshLabel renders the refresh counter, flagging the stopped state once
// the cap ends polling.
func (w *HealthWatcher) RefreshLabel() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.refreshing {
		return fmt.Sprintf("%d", w.refreshCount)
	}
	return fmt.Sprintf("%d (Stopped, After Reaching Cap on Refreshes)", w.refreshCount)
}

// Nodes returns the accumulated nodes sorted by node id for stable display.
func (w *HealthWatcher) Nodes() []core.NodeHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	nodes := make([]core.NodeHealth, 0, len(w.nodes))
	for _, n := range w.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return nodes
}

// FormatNodeTime renders a node timestamp for display; input that does not
// parse is shown as-is.
func FormatNodeTime(value string) string {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return t.Format("Jan 2, 2006, 3:04:05 PM")
}
