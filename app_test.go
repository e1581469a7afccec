package main

import (
	"errors"
	"testing"

	"scenesense/internal/domain"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:   "Startup failed",
		domain.ErrorCodeProvision: "Model download failed",
		domain.ErrorCodeModelLoad: "Model load failed",
		domain.ErrorCodeInference: "Scene analysis failed",
		domain.ErrorCodeCapture:   "Camera capture failed",
		domain.ErrorCodeSpeech:    "Speech error",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
}

func TestGetSnapshotWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	snap := app.GetSnapshot()
	if snap.ModelPhase != domain.ModelNotLoaded {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	app.bootErr = errors.New("boot")
	snap = app.GetSnapshot()
	if snap.ModelPhase != domain.ModelError || snap.ErrorMessage != "boot" {
		t.Fatalf("unexpected boot snapshot: %+v", snap)
	}
}
