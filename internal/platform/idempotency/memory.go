package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps claims in process. It serves tests and single instance runs without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	entry
	expires time.Time
}

// MemoryOption customises MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{now: time.Now, entries: make(map[string]memoryEntry)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Claim implements Store. Expired entries are dropped on the way.
func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, hold time.Duration) (Claim, error) {
	if hold <= 0 {
		hold = DefaultHold
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
	if existing, ok := s.entries[key]; ok {
		return existing.claim(fingerprint)
	}
	s.entries[key] = memoryEntry{entry: entry{Fingerprint: fingerprint}, expires: now.Add(hold)}
	return Claim{State: ClaimAcquired}, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, snap Snapshot, keep time.Duration) error {
	if keep <= 0 {
		keep = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && existing.Fingerprint != fingerprint {
		return ErrKeyReused
	}
	snap.Body = append([]byte(nil), snap.Body...)
	s.entries[key] = memoryEntry{
		entry:   entry{Fingerprint: fingerprint, Done: true, Snapshot: snap},
		expires: s.now().Add(keep),
	}
	return nil
}

// Abandon implements Store. Only the owner of the claim can drop it.
func (s *MemoryStore) Abandon(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok && existing.Fingerprint == fingerprint {
		delete(s.entries, key)
	}
	return nil
}
