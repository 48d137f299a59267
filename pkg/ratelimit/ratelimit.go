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

// Package ratelimit limits how often a single verifier address may open
// attestation connections.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCleanupInterval = 10 * time.Minute
	defaultMaxIdle         = 30 * time.Minute
)

// Limiter keeps one token bucket per verifier address
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    rate.Limit
	burst   int
	enabled bool

	cleanupInterval time.Duration
	maxIdle         time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// Stats is a snapshot of limiter state
type Stats struct {
	Enabled       bool    `json:"enabled"`
	ActiveClients int     `json:"active_clients"`
	RatePerMinute float64 `json:"rate_per_minute"`
	Burst         int     `json:"burst"`
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`

	// ConnectionsPerMinute sets the sustained rate per client address.
	ConnectionsPerMinute int `yaml:"connections_per_minute"`

	// Burst allows short bursts above the sustained rate.
	// If not set, defaults to ConnectionsPerMinute.
	Burst int `yaml:"burst"`

	// CleanupInterval controls how often idle clients are forgotten.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// MaxIdle is how long a client can be idle before cleanup.
	// Defaults to 30 minutes.
	MaxIdle time.Duration `yaml:"max_idle"`
}

// New creates a limiter from config. A nil or disabled configuration
// allows everything and starts no background work.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{}
	}

	l := &Limiter{
		clients:         make(map[string]*client),
		rate:            rate.Limit(float64(config.ConnectionsPerMinute) / 60.0),
		burst:           config.Burst,
		enabled:         config.Enabled,
		cleanupInterval: config.CleanupInterval,
		maxIdle:         config.MaxIdle,
		stop:            make(chan struct{}),
	}
	if l.burst == 0 {
		l.burst = config.ConnectionsPerMinute
	}
	if l.cleanupInterval == 0 {
		l.cleanupInterval = defaultCleanupInterval
	}
	if l.maxIdle == 0 {
		l.maxIdle = defaultMaxIdle
	}

	if l.enabled {
		go l.cleanupWorker()
	}
	return l
}

// Allow reports whether a connection from clientID is within its limit
// and consumes a token when it is.
func (l *Limiter) Allow(clientID string) bool {
	if !l.enabled {
		return true
	}

	l.mu.Lock()
	c, ok := l.clients[clientID]
	if !ok {
		c = &client{bucket: rate.NewLimiter(l.rate, l.burst)}
		l.clients[clientID] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.bucket.Allow()
}

// AllowAddr applies Allow to the host part of addr, so that every source
// port of one verifier shares a bucket.
func (l *Limiter) AllowAddr(addr net.Addr) bool {
	if !l.enabled {
		return true
	}
	return l.Allow(ClientID(addr))
}

// ClientID extracts the host from addr
func ClientID(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (l *Limiter) cleanupWorker() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now())
		case <-l.stop:
			return
		}
	}
}

// cleanup forgets clients idle for longer than maxIdle at now
func (l *Limiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, c := range l.clients {
		if now.Sub(c.lastSeen) > l.maxIdle {
			delete(l.clients, id)
		}
	}
}

// Stop stops the cleanup worker. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Stats returns a snapshot of the limiter
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Enabled:       l.enabled,
		ActiveClients: len(l.clients),
		RatePerMinute: float64(l.rate) * 60,
		Burst:         l.burst,
	}
}

// IsEnabled reports whether limiting is active
func (l *Limiter) IsEnabled() bool {
	return l.enabled
}
