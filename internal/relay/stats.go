// Package relay tracks the connection-count and uptime metrics the gateway
// reports through its status surface. The counter is owned here and read
// only through Snapshot; handlers report hi/bye events instead of touching
// shared globals.
package relay

import (
	"sync/atomic"
	"time"
)

// Stats owns the live connection counter.
type Stats struct {
	connections atomic.Int64
	started     time.Time
}

// Snapshot is a point-in-time view of the published metrics.
type Snapshot struct {
	Connections   int64 `json:"connections"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func NewStats() *Stats {
	return &Stats{started: time.Now()}
}

// Hi records a peer connecting.
func (s *Stats) Hi() {
	s.connections.Add(1)
}

// Bye records a peer disconnecting. The counter never goes below zero even
// if bye events outnumber hi events.
func (s *Stats) Bye() {
	for {
		n := s.connections.Load()
		if n <= 0 {
			return
		}
		if s.connections.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Connections returns the current connection count.
func (s *Stats) Connections() int64 {
	return s.connections.Load()
}

// Snapshot returns the metrics to publish.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Connections:   s.connections.Load(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
}
