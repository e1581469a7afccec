package usecase

import (
	"sync"

	"scenesense/internal/domain"
	"scenesense/internal/ports"
)

// stateStore is the single serialization point for session state. Every
// change replaces the whole snapshot under one lock and is published in
// order; producers never mutate fields of a published snapshot in place.
type stateStore struct {
	mu     sync.Mutex
	snap   domain.Snapshot
	events ports.EventSink
}

func newStateStore(initial domain.Snapshot, events ports.EventSink) *stateStore {
	return &stateStore{snap: initial, events: events}
}

// Update applies mutate to a copy of the current snapshot, installs the
// result, and publishes it. Publication happens under the store lock so
// observers see snapshots in the order they were produced.
func (s *stateStore) Update(mutate func(domain.Snapshot) domain.Snapshot) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := mutate(s.snap.Clone())
	s.snap = next
	published := next.Clone()
	s.events.SnapshotChanged(published)
	return published
}

// UpdateIf applies mutate only when cond holds for the current snapshot.
// It returns the resulting (or unchanged) snapshot and whether the update
// happened. The check and the replacement are atomic, which is what makes
// the Running phase a usable mutual-exclusion gate.
func (s *stateStore) UpdateIf(cond func(domain.Snapshot) bool, mutate func(domain.Snapshot) domain.Snapshot) (domain.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !cond(s.snap) {
		return s.snap.Clone(), false
	}
	next := mutate(s.snap.Clone())
	s.snap = next
	published := next.Clone()
	s.events.SnapshotChanged(published)
	return published, true
}

// Snapshot returns a copy of the current state.
func (s *stateStore) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}
