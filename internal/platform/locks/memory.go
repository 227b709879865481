// Package locks provides short lived per-key leases used to serialise payment callbacks.
package locks

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryGuard keeps leases in process.
type MemoryGuard struct {
	mu     sync.Mutex
	clock  func() time.Time
	leases map[string]lease
	seq    uint64
}

type lease struct {
	token     uint64
	expiresAt time.Time
}

// NewMemoryGuard constructs an empty guard. A nil clock defaults to time.Now.
func NewMemoryGuard(clock func() time.Time) *MemoryGuard {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryGuard{clock: clock, leases: make(map[string]lease)}
}

// Acquire takes the lease for key when nobody holds an unexpired one.
func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, ErrKeyRequired
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if current, ok := g.leases[key]; ok && now.Before(current.expiresAt) {
		return nil, false, nil
	}
	g.seq++
	token := g.seq
	g.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}

	release := func(context.Context) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if current, ok := g.leases[key]; ok && current.token == token {
			delete(g.leases, key)
		}
	}
	return release, true, nil
}

// Held reports whether an unexpired lease exists for key.
func (g *MemoryGuard) Held(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, ok := g.leases[strings.TrimSpace(key)]
	return ok && g.clock().Before(current.expiresAt), nil
}
