// Package session owns the wallet connection state machine: connect,
// disconnect, account-change tracking, and the mobile handoff recovery
// flow for wallets that live in an external application.
package session

import (
	"context"
	"sync"
	"time"
)

// Handoff is the durable record of a connect attempt that left the
// process for an external wallet application. At most one unexpired
// handoff exists at a time; last writer wins.
type Handoff struct {
	ProviderID  string        `json:"provider_id"`
	InitiatedAt time.Time     `json:"initiated_at"`
	TTL         time.Duration `json:"ttl"`
}

// Expired reports whether the record is past its TTL. Stores re-validate
// expiry before trusting a loaded record.
func (h Handoff) Expired(now time.Time) bool {
	return now.Sub(h.InitiatedAt) > h.TTL
}

// HandoffStore persists the pending handoff across a process suspension.
type HandoffStore interface {
	Save(ctx context.Context, h Handoff) error
	// Load returns the stored record and whether one exists.
	Load(ctx context.Context) (Handoff, bool, error)
	Clear(ctx context.Context) error
}

// MemoryHandoffStore keeps the handoff in process memory. Suitable for
// tests and single-process deployments that do not survive restarts.
type MemoryHandoffStore struct {
	mu  sync.Mutex
	rec Handoff
	set bool
}

// NewMemoryHandoffStore creates an empty store.
func NewMemoryHandoffStore() *MemoryHandoffStore {
	return &MemoryHandoffStore{}
}

func (s *MemoryHandoffStore) Save(ctx context.Context, h Handoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = h
	s.set = true
	return nil
}

func (s *MemoryHandoffStore) Load(ctx context.Context) (Handoff, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return Handoff{}, false, nil
	}
	return s.rec, true, nil
}

func (s *MemoryHandoffStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = Handoff{}
	s.set = false
	return nil
}
