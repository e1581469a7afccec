package ports

import (
	"context"

	"scenesense/internal/domain"
)

// LoadSpec carries everything the engine needs to load model artifacts.
type LoadSpec struct {
	ModelPath     string
	ProjectorPath string
	Threads       int
	ContextSize   int
}

// InferenceEngine wraps a local multimodal model. Load fails if either
// artifact is missing. Implementations serialize calls internally; callers
// must still respect the session-level Running gate.
type InferenceEngine interface {
	Load(ctx context.Context, spec LoadSpec) error
	Loaded() bool
	DescribeImage(ctx context.Context, frame *domain.Frame, prompt string) (string, error)
	DescribeVideo(ctx context.Context, frames []*domain.Frame, prompt string) (string, error)
	Unload() error
}

// TokenStream is a pull-style view of streaming generation. Tokens is closed
// after the terminal event; Wait reports the terminal error, if any.
type TokenStream interface {
	Tokens() <-chan string
	Wait() error
	Close() error
}

// StreamingInferenceEngine is implemented by engines that can emit tokens as
// they are generated.
type StreamingInferenceEngine interface {
	InferenceEngine
	DescribeImageStream(ctx context.Context, frame *domain.Frame, prompt string) (TokenStream, error)
}

// RecordingHandle is an in-progress video recording.
type RecordingHandle interface {
	// Stop finishes the recording and returns the playable clip.
	Stop() (domain.VideoRef, error)
}

// CaptureSource supplies still frames on demand and video recordings.
type CaptureSource interface {
	CaptureFrame(ctx context.Context) (*domain.Frame, error)
	StartRecording(ctx context.Context) (RecordingHandle, error)
}

// FrameExtractor pulls evenly spaced frames out of a recorded clip.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, video domain.VideoRef, maxFrames int) ([]*domain.Frame, error)
}

// Translator converts text in one fixed direction. Prepare downloads or
// verifies whatever assets the backend needs; Translate must not be called
// before Prepare succeeds.
type Translator interface {
	Prepare(ctx context.Context) error
	Translate(ctx context.Context, text string) (string, error)
}

// Synthesizer speaks one utterance, blocking until playback finishes or ctx
// is cancelled. Cancellation is the stop mechanism and is not an error.
type Synthesizer interface {
	Speak(ctx context.Context, utteranceID, text string, lang domain.Language) error
}

// RecognitionSession is a live speech-recognition run. Events is closed once
// the session ends.
type RecognitionSession interface {
	Events() <-chan domain.SpeechEvent
	Close() error
}

// Recognizer starts speech-recognition sessions.
type Recognizer interface {
	Start(ctx context.Context, lang domain.Language) (RecognitionSession, error)
}

// Preferences persists the single language choice across app sessions.
type Preferences interface {
	Language() (domain.Language, bool)
	SetLanguage(lang domain.Language) error
}

// EventSink publishes state snapshots and errors to the UI.
type EventSink interface {
	SnapshotChanged(snapshot domain.Snapshot)
	SessionError(code domain.ErrorCode, detail string)
}
