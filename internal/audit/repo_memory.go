package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in insertion order. Used by tests and the in-memory API wiring.
type MemoryRepo struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a snapshot of everything appended so far.
func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

// ForCall returns the events that reference callID.
func (r *MemoryRepo) ForCall(callID string) []Event {
	return r.filter(func(e Event) bool { return e.CallID == callID })
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
