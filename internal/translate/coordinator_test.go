package translate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTranslateBeforePrepareReportsNoResult(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(&fakeTranslator{result: "hola"}, nil, nil)

	if _, ok := c.Translate(context.Background(), "hello", ToTarget); ok {
		t.Fatalf("translator must not be used before Prepare succeeds")
	}
	if got := c.BestEffort(context.Background(), "hello", ToTarget); got != "hello" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestTranslateAfterPrepare(t *testing.T) {
	t.Parallel()

	target := &fakeTranslator{result: "hola"}
	c := NewCoordinator(target, nil, nil)

	c.Prepare(context.Background())
	waitReady(t, c, ToTarget)

	got, ok := c.Translate(context.Background(), "hello", ToTarget)
	if !ok || got != "hola" {
		t.Fatalf("unexpected translation: %q ok=%v", got, ok)
	}
	if got := c.BestEffort(context.Background(), "hello", ToTarget); got != "hola" {
		t.Fatalf("unexpected best effort: %q", got)
	}
}

func TestPrepareFailureLeavesDirectionUnready(t *testing.T) {
	t.Parallel()

	broken := &fakeTranslator{prepareErr: errors.New("server down")}
	working := &fakeTranslator{result: "hello"}
	c := NewCoordinator(broken, working, nil)

	c.Prepare(context.Background())
	waitReady(t, c, ToNative)

	if c.Ready(ToTarget) {
		t.Fatalf("failed Prepare must leave direction unready")
	}
	if _, ok := c.Translate(context.Background(), "hi", ToTarget); ok {
		t.Fatalf("unready direction must not translate")
	}
	if got, ok := c.Translate(context.Background(), "hola", ToNative); !ok || got != "hello" {
		t.Fatalf("independent direction must still work, got %q ok=%v", got, ok)
	}
}

func TestTranslateFailureFallsBack(t *testing.T) {
	t.Parallel()

	flaky := &fakeTranslator{translateErr: errors.New("timeout")}
	c := NewCoordinator(flaky, nil, nil)
	c.Prepare(context.Background())
	waitReady(t, c, ToTarget)

	if _, ok := c.Translate(context.Background(), "hello", ToTarget); ok {
		t.Fatalf("failed call must report no result")
	}
	if got := c.BestEffort(context.Background(), "hello", ToTarget); got != "hello" {
		t.Fatalf("best effort must never return empty, got %q", got)
	}
}

func TestEmptyTranslationFallsBack(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(&fakeTranslator{result: ""}, nil, nil)
	c.Prepare(context.Background())
	waitReady(t, c, ToTarget)

	if got := c.BestEffort(context.Background(), "hello", ToTarget); got != "hello" {
		t.Fatalf("empty translation must fall back, got %q", got)
	}
}

func waitReady(t *testing.T, c *Coordinator, dir Direction) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.Ready(dir) {
		if time.Now().After(deadline) {
			t.Fatalf("direction %s never became ready", dir)
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeTranslator struct {
	mu           sync.Mutex
	result       string
	prepareErr   error
	translateErr error
}

func (f *fakeTranslator) Prepare(_ context.Context) error {
	return f.prepareErr
}

func (f *fakeTranslator) Translate(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.translateErr != nil {
		return "", f.translateErr
	}
	return f.result, nil
}
