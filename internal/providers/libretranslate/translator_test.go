package libretranslate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPrepareChecksLanguages(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/languages" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]map[string]string{
			{"code": "en"}, {"code": "es"},
		})
	}))
	defer server.Close()

	translator := NewTranslator(server.URL, "en", "es")
	if err := translator.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
}

func TestPrepareRejectsUnsupportedLanguage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{{"code": "en"}})
	}))
	defer server.Close()

	translator := NewTranslator(server.URL, "en", "es")
	if err := translator.Prepare(context.Background()); err == nil {
		t.Fatalf("expected unsupported language error")
	}
}

func TestTranslatePostsExpectedPayload(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body["q"] != "a red car" || body["source"] != "en" || body["target"] != "es" || body["format"] != "text" {
			http.Error(w, "unexpected payload", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"translatedText": "un coche rojo"})
	}))
	defer server.Close()

	translator := NewTranslator(server.URL, "en", "es")
	got, err := translator.Translate(context.Background(), "a red car")
	if err != nil {
		t.Fatalf("translate failed: %v", err)
	}
	if got != "un coche rojo" {
		t.Fatalf("unexpected translation: %q", got)
	}
}

func TestTranslateSurfacesServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model missing", http.StatusInternalServerError)
	}))
	defer server.Close()

	translator := NewTranslator(server.URL, "en", "es")
	if _, err := translator.Translate(context.Background(), "text"); err == nil {
		t.Fatalf("expected server error")
	}
}
