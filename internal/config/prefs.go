package config

import (
	"os"
	"path/filepath"
	"strings"

	"scenesense/internal/domain"
)

// LanguageStore persists the chosen language as a single small file, read
// once at session start. A missing file means first run.
type LanguageStore struct {
	path string
}

func NewLanguageStore(path string) *LanguageStore {
	return &LanguageStore{path: path}
}

// DefaultLanguagePath resolves the per-user preference location.
func DefaultLanguagePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "scenesense", "language"), nil
}

func (s *LanguageStore) Language() (domain.Language, bool) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return "", false
	}
	switch strings.TrimSpace(string(raw)) {
	case string(domain.LanguageSpanish):
		return domain.LanguageSpanish, true
	case string(domain.LanguageEnglish):
		return domain.LanguageEnglish, true
	default:
		return "", false
	}
}

func (s *LanguageStore) SetLanguage(lang domain.Language) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(string(lang)+"\n"), 0o644)
}
