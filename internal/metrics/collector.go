// Package metrics keeps the daemon's in-memory counters and gauges,
// surfaced through daemon.status and the dashboard API.
package metrics

import (
	"sync"
	"time"

	"github.com/maxclaw/internal/bus"
)

// Well-known counter names. Components may add their own; these are
// the ones the status surfaces report.
const (
	CounterSessionsStarted   = "sessions_started"
	CounterSessionsEnded     = "sessions_ended"
	CounterSessionsQueued    = "sessions_queued"
	CounterSchedulesRun      = "schedules_run"
	CounterScheduleFailures  = "schedule_failures"
	CounterNotificationsSent = "notifications_sent"
	CounterSearchQueries     = "search_queries"
	CounterRPCRequests       = "rpc_requests"
)

// Snapshot is a point-in-time copy of every counter and gauge.
type Snapshot struct {
	Timestamp     time.Time        `json:"timestamp"`
	UptimeSeconds int64            `json:"uptimeSeconds"`
	Counters      map[string]int64 `json:"counters"`
	Gauges        map[string]int64 `json:"gauges"`
}

// Collector aggregates daemon activity. All methods are safe for
// concurrent use.
type Collector struct {
	mu         sync.RWMutex
	startedAt  time.Time
	counters   map[string]int64
	gauges     map[string]int64
	history    []Snapshot
	maxHistory int
}

func NewCollector() *Collector {
	return &Collector{
		startedAt:  time.Now(),
		counters:   make(map[string]int64),
		gauges:     make(map[string]int64),
		maxHistory: 1000,
	}
}

// StartedAt returns when this collector (and so the daemon) came up.
func (c *Collector) StartedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startedAt
}

// Inc bumps a counter by one.
func (c *Collector) Inc(name string) {
	c.Add(name, 1)
}

// Add bumps a counter by delta.
func (c *Collector) Add(name string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += delta
}

// Counter reads a single counter, zero when never written.
func (c *Collector) Counter(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// SetGauge records an instantaneous value.
func (c *Collector) SetGauge(name string, value int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = value
}

// Gauge reads a single gauge.
func (c *Collector) Gauge(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[name]
}

// TakeSnapshot copies the current state and appends it to the bounded
// history ring.
func (c *Collector) TakeSnapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Timestamp:     time.Now(),
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
		Counters:      make(map[string]int64, len(c.counters)),
		Gauges:        make(map[string]int64, len(c.gauges)),
	}
	for k, v := range c.counters {
		snap.Counters[k] = v
	}
	for k, v := range c.gauges {
		snap.Gauges[k] = v
	}

	c.history = append(c.history, snap)
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}
	return snap
}

// History returns a copy of the snapshot ring.
func (c *Collector) History() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, len(c.history))
	copy(out, c.history)
	return out
}

// ResetHistory clears the snapshot ring without touching live values.
func (c *Collector) ResetHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// Observe wires the collector to bus traffic so session lifecycle
// counts accrue without the session layer knowing about metrics.
// Returns the subscription id.
func (c *Collector) Observe(b *bus.Bus) string {
	return b.Subscribe("session:*", func(msg *bus.Message) error {
		switch msg.Topic {
		case "session:started":
			c.Inc(CounterSessionsStarted)
		case "session:ended":
			c.Inc(CounterSessionsEnded)
		}
		return nil
	})
}
