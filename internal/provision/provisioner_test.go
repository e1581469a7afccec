package provision

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestEnsureDownloadsMissingArtifacts(t *testing.T) {
	t.Parallel()

	var requests int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		switch r.URL.Path {
		case "/model.gguf":
			w.Write([]byte("model-bytes"))
		case "/mmproj.gguf":
			w.Write([]byte("projector-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	p := New(Config{
		BaseURL:       server.URL,
		Dir:           dir,
		ModelFile:     "model.gguf",
		ProjectorFile: "mmproj.gguf",
	}, server.Client(), nil)

	var progress []Progress
	artifacts, err := p.Ensure(context.Background(), func(pr Progress) {
		progress = append(progress, pr)
	})
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	model, err := os.ReadFile(artifacts.ModelPath)
	if err != nil || string(model) != "model-bytes" {
		t.Fatalf("unexpected model contents: %q err=%v", model, err)
	}
	projector, err := os.ReadFile(artifacts.ProjectorPath)
	if err != nil || string(projector) != "projector-bytes" {
		t.Fatalf("unexpected projector contents: %q err=%v", projector, err)
	}

	if len(progress) == 0 {
		t.Fatalf("expected progress callbacks")
	}
	last := progress[len(progress)-1]
	if last.Fraction != 1 {
		t.Fatalf("expected final fraction 1, got %f", last.Fraction)
	}

	if atomic.LoadInt64(&requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", requests)
	}
}

func TestEnsurePresentArtifactsCostNoRequests(t *testing.T) {
	t.Parallel()

	var requests int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.Write([]byte("fresh"))
	}))
	defer server.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "model.gguf"), []byte("cached-model"), 0o644); err != nil {
		t.Fatalf("seed model: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mmproj.gguf"), []byte("cached-proj"), 0o644); err != nil {
		t.Fatalf("seed projector: %v", err)
	}

	p := New(Config{
		BaseURL:       server.URL,
		Dir:           dir,
		ModelFile:     "model.gguf",
		ProjectorFile: "mmproj.gguf",
	}, server.Client(), nil)

	artifacts, err := p.Ensure(context.Background(), nil)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if atomic.LoadInt64(&requests) != 0 {
		t.Fatalf("expected zero requests, got %d", requests)
	}

	contents, _ := os.ReadFile(artifacts.ModelPath)
	if string(contents) != "cached-model" {
		t.Fatalf("cached artifact was overwritten: %q", contents)
	}
}

func TestEnsureOverwritesStaleTmp(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("good-bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	stale := filepath.Join(dir, "model.gguf.tmp")
	if err := os.WriteFile(stale, []byte("half-written-garbage"), 0o644); err != nil {
		t.Fatalf("seed stale tmp: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mmproj.gguf"), []byte("cached"), 0o644); err != nil {
		t.Fatalf("seed projector: %v", err)
	}

	p := New(Config{
		BaseURL:       server.URL,
		Dir:           dir,
		ModelFile:     "model.gguf",
		ProjectorFile: "mmproj.gguf",
	}, server.Client(), nil)

	artifacts, err := p.Ensure(context.Background(), nil)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	contents, _ := os.ReadFile(artifacts.ModelPath)
	if string(contents) != "good-bytes" {
		t.Fatalf("stale tmp leaked into artifact: %q", contents)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("tmp file should be gone after promotion")
	}
}

func TestEnsureFailureLeavesNoPartialArtifact(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	p := New(Config{
		BaseURL:       server.URL,
		Dir:           dir,
		ModelFile:     "model.gguf",
		ProjectorFile: "mmproj.gguf",
	}, server.Client(), nil)

	if _, err := p.Ensure(context.Background(), nil); err == nil {
		t.Fatalf("expected download failure")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty models dir, found %v", entries)
	}
}

func TestThreadCount(t *testing.T) {
	t.Parallel()

	cases := map[int]int{
		1:  2,
		2:  2,
		4:  2,
		6:  3,
		8:  4,
		16: 4,
		32: 4,
	}
	for cpus, want := range cases {
		if got := ThreadCount(cpus); got != want {
			t.Fatalf("ThreadCount(%d) = %d, want %d", cpus, got, want)
		}
	}
}
