package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"scenesense/internal/domain"
	"scenesense/internal/ports"
)

// ErrRecognitionUnavailable is returned when no recognizer is configured.
var ErrRecognitionUnavailable = errors.New("speech recognition is not available")

// Listener receives speech lifecycle callbacks. Implementations must be safe
// to call from coordinator goroutines.
type Listener interface {
	SpeakingChanged(speaking bool)
	ListeningChanged(listening bool)
	TranscriptUpdated(text string, final bool)
}

// Coordinator wraps synthesis and recognition as two independent on/off state
// machines. Speak interrupts any in-progress utterance rather than queuing;
// StartListening stops synthesis first so the recognizer does not hear the
// app's own voice.
type Coordinator struct {
	synth      ports.Synthesizer
	recognizer ports.Recognizer
	listener   Listener
	log        *slog.Logger

	mu          sync.Mutex
	speakCancel context.CancelFunc
	speakDone   chan struct{}
	session     ports.RecognitionSession
	sessionDone chan struct{}
	closed      bool
}

func NewCoordinator(synth ports.Synthesizer, recognizer ports.Recognizer, listener Listener, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		synth:      synth,
		recognizer: recognizer,
		listener:   listener,
		log:        logger.With("component", "speech"),
	}
}

// CanSpeak reports whether a synthesizer is configured.
func (c *Coordinator) CanSpeak() bool {
	return c.synth != nil
}

// Speak voices text, replacing any utterance already in progress. Absence of
// a synthesizer degrades to silent operation.
func (c *Coordinator) Speak(text string, lang domain.Language) {
	if c.synth == nil || text == "" {
		return
	}

	c.StopSpeaking()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.speakCancel = cancel
	c.speakDone = done
	c.mu.Unlock()

	utteranceID := uuid.NewString()
	go func() {
		defer close(done)
		c.listener.SpeakingChanged(true)
		err := c.synth.Speak(ctx, utteranceID, text, lang)
		c.listener.SpeakingChanged(false)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("synthesis failed", "utterance", utteranceID, "error", err)
		}
	}()
}

// StopSpeaking cancels the in-progress utterance, if any, and waits for it.
func (c *Coordinator) StopSpeaking() {
	c.mu.Lock()
	cancel := c.speakCancel
	done := c.speakDone
	c.speakCancel = nil
	c.speakDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// StartListening opens a recognition session. Refused when the platform has
// no recognizer. An already-listening coordinator restarts the session.
func (c *Coordinator) StartListening(ctx context.Context, lang domain.Language) error {
	if c.recognizer == nil {
		return ErrRecognitionUnavailable
	}

	// Echo prevention: never listen while speaking.
	c.StopSpeaking()
	c.StopListening()

	session, err := c.recognizer.Start(ctx, lang)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = session.Close()
		return errors.New("speech coordinator is closed")
	}
	c.session = session
	c.sessionDone = done
	c.mu.Unlock()

	c.listener.ListeningChanged(true)
	go c.consume(session, done)
	return nil
}

// StopListening closes the current recognition session, if any.
func (c *Coordinator) StopListening() {
	c.mu.Lock()
	session := c.session
	done := c.sessionDone
	c.session = nil
	c.sessionDone = nil
	c.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	if done != nil {
		<-done
	}
}

func (c *Coordinator) consume(session ports.RecognitionSession, done chan struct{}) {
	defer close(done)
	defer c.listener.ListeningChanged(false)

	for event := range session.Events() {
		switch event.Kind {
		case domain.SpeechPartial:
			c.listener.TranscriptUpdated(event.Text, false)
		case domain.SpeechFinal:
			c.listener.TranscriptUpdated(event.Text, true)
		case domain.SpeechFailed:
			c.log.Warn("recognition failed", "detail", event.Detail)
			return
		case domain.SpeechEnd:
			return
		}
	}
}

// Close stops synthesis and recognition for good.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.StopSpeaking()
	c.StopListening()
}
