package usecase

import (
	"sync"
	"testing"

	"scenesense/internal/domain"
)

func TestStoreUpdatePublishesInOrder(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	store := newStateStore(domain.Snapshot{}, events)

	for i := 0; i < 5; i++ {
		store.Update(func(s domain.Snapshot) domain.Snapshot {
			s.ContinuousFrameCount++
			return s
		})
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.snapshots) != 5 {
		t.Fatalf("expected 5 publications, got %d", len(events.snapshots))
	}
	for i, snap := range events.snapshots {
		if snap.ContinuousFrameCount != i+1 {
			t.Fatalf("publication %d out of order: %d", i, snap.ContinuousFrameCount)
		}
	}
}

func TestStoreUpdateIfIsAtomic(t *testing.T) {
	t.Parallel()

	store := newStateStore(domain.Snapshot{InferencePhase: domain.InferenceIdle}, &fakeEventSink{})

	var wg sync.WaitGroup
	wins := make(chan struct{}, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := store.UpdateIf(
				func(s domain.Snapshot) bool { return s.InferencePhase != domain.InferenceRunning },
				func(s domain.Snapshot) domain.Snapshot {
					s.InferencePhase = domain.InferenceRunning
					return s
				},
			)
			if ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("the running gate must admit exactly one winner, got %d", winners)
	}
}

func TestStoreSnapshotDoesNotAliasState(t *testing.T) {
	t.Parallel()

	store := newStateStore(domain.Snapshot{
		Transcript: []domain.ChatTurn{{Role: domain.RoleSceneDescription, Text: "a dog"}},
	}, &fakeEventSink{})

	snap := store.Snapshot()
	snap.Transcript[0].Text = "mutated"

	if store.Snapshot().Transcript[0].Text != "a dog" {
		t.Fatalf("snapshot aliases internal transcript")
	}
}
