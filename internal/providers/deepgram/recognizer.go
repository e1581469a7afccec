// Package deepgram streams microphone audio to the Deepgram websocket API
// and turns its responses into speech events.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"scenesense/internal/audio"
	"scenesense/internal/domain"
	"scenesense/internal/ports"
)

// Config controls the Deepgram connection.
type Config struct {
	APIKey     string
	APIBaseURL string
	Model      string
}

// MicSource opens microphone capture sessions. *audio.MicCapture satisfies it.
type MicSource interface {
	Start(ctx context.Context, cfg audio.Config) (audio.Session, error)
}

// Recognizer implements ports.Recognizer over Deepgram live transcription.
type Recognizer struct {
	cfg   Config
	mic   MicSource
	audio audio.Config
	log   *slog.Logger
}

func NewRecognizer(cfg Config, mic MicSource, audioCfg audio.Config, logger *slog.Logger) *Recognizer {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recognizer{
		cfg:   cfg,
		mic:   mic,
		audio: audioCfg,
		log:   logger.With("component", "deepgram"),
	}
}

// Available reports whether the recognizer is configured with credentials.
func (r *Recognizer) Available() bool {
	return strings.TrimSpace(r.cfg.APIKey) != ""
}

func (r *Recognizer) Start(ctx context.Context, lang domain.Language) (ports.RecognitionSession, error) {
	if !r.Available() {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}

	wsURL, err := buildListenURL(r.cfg, r.audio, lang)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	mic, err := r.mic.Start(ctx, r.audio)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	session := &recognitionSession{
		conn:    conn,
		mic:     mic,
		events:  make(chan domain.SpeechEvent, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		log:     r.log,
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.pumpAudio()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = session.Close()
	}()

	return session, nil
}

type recognitionSession struct {
	conn *websocket.Conn
	mic  audio.Session
	log  *slog.Logger

	events  chan domain.SpeechEvent
	done    chan struct{}
	closing chan struct{}

	wg sync.WaitGroup

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *recognitionSession) Events() <-chan domain.SpeechEvent {
	return s.events
}

func (s *recognitionSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.mic.Stop()
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// pumpAudio forwards microphone PCM to the websocket until the mic stops.
func (s *recognitionSession) pumpAudio() {
	defer s.wg.Done()

	buf := make([]byte, 3200)
	for {
		n, err := s.mic.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.writeMu.Lock()
			writeErr := s.conn.WriteMessage(websocket.BinaryMessage, chunk)
			s.writeMu.Unlock()
			if writeErr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.log.Warn("microphone read failed", "error", err)
			}
			s.writeMu.Lock()
			_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
			s.writeMu.Unlock()
			return
		}
	}
}

func (s *recognitionSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				s.emit(domain.SpeechEvent{Kind: domain.SpeechFailed, Detail: err.Error()})
				return
			}
			s.emit(domain.SpeechEvent{Kind: domain.SpeechEnd})
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.emit(domain.SpeechEvent{Kind: domain.SpeechFailed, Detail: message})
			return
		}

		transcript := extractTranscript(response)
		if transcript == "" {
			continue
		}

		event := domain.SpeechEvent{Text: transcript}
		if response.IsFinal || response.SpeechFinal {
			event.Kind = domain.SpeechFinal
		} else {
			event.Kind = domain.SpeechPartial
		}
		s.emit(event)
	}
}

// emit blocks when the buffer is full so a burst of results cannot drop the
// final transcript; Close releases a blocked emitter.
func (s *recognitionSession) emit(event domain.SpeechEvent) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(cfg Config, audioCfg audio.Config, lang domain.Language) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	sampleRate := audioCfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := audioCfg.Channels
	if channels <= 0 {
		channels = 1
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	query.Set("channels", fmt.Sprintf("%d", channels))
	query.Set("interim_results", "true")
	query.Set("smart_format", "true")
	query.Set("language", languageTag(lang))
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}

func languageTag(lang domain.Language) string {
	if lang == domain.LanguageSpanish {
		return "es"
	}
	return "en"
}
