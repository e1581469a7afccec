// Package libretranslate talks to a LibreTranslate server over HTTP.
package libretranslate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Translator converts text in one fixed source-target direction. It
// implements ports.Translator.
type Translator struct {
	baseURL string
	source  string
	target  string
	client  *http.Client
}

func NewTranslator(baseURL, source, target string) *Translator {
	return &Translator{
		baseURL: strings.TrimRight(baseURL, "/"),
		source:  source,
		target:  target,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Prepare verifies the server is reachable and speaks both languages.
func (t *Translator) Prepare(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/languages", nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("libretranslate unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("libretranslate languages: unexpected status %d", resp.StatusCode)
	}

	var languages []struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&languages); err != nil {
		return fmt.Errorf("libretranslate languages: %w", err)
	}

	if !hasCode(languages, t.source) {
		return fmt.Errorf("libretranslate does not support source language %q", t.source)
	}
	if !hasCode(languages, t.target) {
		return fmt.Errorf("libretranslate does not support target language %q", t.target)
	}
	return nil
}

func hasCode(languages []struct {
	Code string `json:"code"`
}, code string) bool {
	for _, l := range languages {
		if l.Code == code {
			return true
		}
	}
	return false
}

func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"q":      text,
		"source": t.source,
		"target": t.target,
		"format": "text",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/translate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("libretranslate translate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("libretranslate translate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("libretranslate translate: %w", err)
	}
	return strings.TrimSpace(result.TranslatedText), nil
}
