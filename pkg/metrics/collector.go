// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-platid.
//
// go-platid is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"runtime"
	"time"
)

// DefaultCollectInterval is how often the daemon samples runtime gauges
const DefaultCollectInterval = 30 * time.Second

// Collector samples process gauges for the daemon
type Collector struct {
	interval time.Duration
	started  time.Time
}

// NewCollector returns a collector that samples every interval. A
// non-positive interval uses DefaultCollectInterval.
func NewCollector(interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{interval: interval, started: time.Now()}
}

// Run samples immediately and then on every tick until ctx is done. It
// always returns nil so it can run under an errgroup.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Sample()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sample updates the goroutine, heap and uptime gauges once
func (c *Collector) Sample() {
	if !enabled.Load() {
		return
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	Goroutines.Set(float64(runtime.NumGoroutine()))
	MemoryAllocBytes.Set(float64(mem.HeapAlloc))
	ServerUptime.Set(time.Since(c.started).Seconds())
}
