package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"scenesense/internal/domain"
	"scenesense/internal/ports"
	"scenesense/internal/provision"
	"scenesense/internal/speech"
	"scenesense/internal/translate"
	"scenesense/internal/voice"
)

var (
	ErrModelNotReady  = errors.New("model is not ready")
	ErrInferenceBusy  = errors.New("another inference is already running")
	ErrNoSubject      = errors.New("no captured photo or video to describe")
	ErrQALimitReached = errors.New("question limit reached for this capture")
	ErrEmptyQuestion  = errors.New("question is empty")
)

// ModelProvisioner makes model artifacts available before load.
type ModelProvisioner interface {
	Ensure(ctx context.Context, onProgress func(provision.Progress)) (provision.Artifacts, error)
}

// Translations is the translate-or-pass-through surface the session needs.
type Translations interface {
	Prepare(ctx context.Context)
	Translate(ctx context.Context, text string, dir translate.Direction) (string, bool)
	BestEffort(ctx context.Context, text string, dir translate.Direction) string
}

// Config controls session behavior.
type Config struct {
	ImagePrompt     string
	VideoPrompt     string
	FrameDelay      time.Duration
	MinWarmup       time.Duration
	ContextSize     int
	VideoFrameCount int
}

// SessionController owns the session state and sequences capture, inference,
// translation, speech, and voice commands. It is the only component with
// cancellation authority over in-flight work.
type SessionController struct {
	engine      ports.InferenceEngine
	capture     ports.CaptureSource
	extractor   ports.FrameExtractor
	provisioner ModelProvisioner
	translator  Translations
	speech      *speech.Coordinator
	classifier  *voice.Classifier
	prefs       ports.Preferences
	events      ports.EventSink
	store       *stateStore
	cfg         Config

	mu             sync.Mutex
	frame          *domain.Frame
	video          *domain.VideoRef
	convo          conversation
	loop           *continuousLoop
	recording      ports.RecordingHandle
	commandCapture bool
}

func NewSessionController(
	engine ports.InferenceEngine,
	capture ports.CaptureSource,
	extractor ports.FrameExtractor,
	provisioner ModelProvisioner,
	translator Translations,
	synth ports.Synthesizer,
	recognizer ports.Recognizer,
	classifier *voice.Classifier,
	prefs ports.Preferences,
	events ports.EventSink,
	cfg Config,
) *SessionController {
	if cfg.ImagePrompt == "" {
		cfg.ImagePrompt = "Describe this image."
	}
	if cfg.VideoPrompt == "" {
		cfg.VideoPrompt = "What is the main action or notable event happening in this segment? Describe it in one brief sentence."
	}
	if cfg.FrameDelay <= 0 {
		cfg.FrameDelay = 3 * time.Second
	}
	if cfg.MinWarmup < 0 {
		cfg.MinWarmup = 0
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = 4096
	}
	if cfg.VideoFrameCount <= 0 {
		cfg.VideoFrameCount = 3
	}

	initial := domain.Snapshot{
		ModelPhase:     domain.ModelNotLoaded,
		InferencePhase: domain.InferenceIdle,
		CaptureMode:    domain.ModePhoto,
		Language:       domain.LanguageEnglish,
		StatusText:     "Model not loaded",
	}
	if lang, ok := prefs.Language(); ok {
		initial.Language = lang
	} else {
		initial.NeedsLanguageChoice = true
	}

	c := &SessionController{
		engine:      engine,
		capture:     capture,
		extractor:   extractor,
		provisioner: provisioner,
		translator:  translator,
		classifier:  classifier,
		prefs:       prefs,
		events:      events,
		store:       newStateStore(initial, events),
		cfg:         cfg,
	}
	c.speech = speech.NewCoordinator(synth, recognizer, c, nil)
	return c
}

// Snapshot returns the current session state.
func (c *SessionController) Snapshot() domain.Snapshot {
	return c.store.Snapshot()
}

// LoadModel provisions artifacts and loads the engine asynchronously. A
// load already in progress makes this a no-op.
func (c *SessionController) LoadModel(ctx context.Context) {
	_, ok := c.store.UpdateIf(
		func(s domain.Snapshot) bool { return s.ModelPhase != domain.ModelLoading },
		func(s domain.Snapshot) domain.Snapshot {
			s.ModelPhase = domain.ModelLoading
			s.StatusText = "Preparing model..."
			s.ErrorMessage = ""
			s.DownloadLabel = ""
			s.DownloadProgress = 0
			return s
		},
	)
	if !ok {
		return
	}
	go c.loadModel(ctx)
}

func (c *SessionController) loadModel(ctx context.Context) {
	start := time.Now()

	artifacts, err := c.provisioner.Ensure(ctx, func(p provision.Progress) {
		c.store.Update(func(s domain.Snapshot) domain.Snapshot {
			s.DownloadLabel = p.Label
			s.DownloadProgress = p.Fraction
			s.StatusText = fmt.Sprintf("Downloading %s...", p.Label)
			return s
		})
	})
	if err != nil {
		c.failModel(domain.ErrorCodeProvision, err)
		return
	}

	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.StatusText = "Loading model..."
		s.DownloadLabel = ""
		s.DownloadProgress = 0
		return s
	})

	threads := provision.ThreadCount(runtime.NumCPU())
	err = c.engine.Load(ctx, ports.LoadSpec{
		ModelPath:     artifacts.ModelPath,
		ProjectorPath: artifacts.ProjectorPath,
		Threads:       threads,
		ContextSize:   c.cfg.ContextSize,
	})
	if err != nil {
		c.failModel(domain.ErrorCodeModelLoad, err)
		return
	}

	// Hold Ready until the minimum warm-up has elapsed, even when the
	// artifacts were already local, so the loading screen never flashes.
	if remaining := c.cfg.MinWarmup - time.Since(start); remaining > 0 {
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
		}
	}

	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.ModelPhase = domain.ModelReady
		s.StatusText = fmt.Sprintf("Model ready (%d threads)", threads)
		return s
	})
}

func (c *SessionController) failModel(code domain.ErrorCode, err error) {
	c.events.SessionError(code, err.Error())
	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.ModelPhase = domain.ModelError
		s.StatusText = "Error"
		s.ErrorMessage = err.Error()
		return s
	})
}

// SetLanguage persists the choice and prepares translators when needed.
func (c *SessionController) SetLanguage(ctx context.Context, lang domain.Language) {
	if err := c.prefs.SetLanguage(lang); err != nil {
		c.events.SessionError(domain.ErrorCodeStartup, fmt.Sprintf("failed to persist language: %v", err))
	}
	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.Language = lang
		s.NeedsLanguageChoice = false
		return s
	})
	if lang == domain.LanguageSpanish {
		c.translator.Prepare(ctx)
	}
}

// SetCaptureMode switches the capture mode. An active continuous loop is
// always stopped first; the transcript and transient response state reset.
func (c *SessionController) SetCaptureMode(mode domain.CaptureMode) {
	c.StopContinuous()

	c.mu.Lock()
	c.convo.Reset()
	c.mu.Unlock()

	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.CaptureMode = mode
		s.InferencePhase = domain.InferenceIdle
		s.ResponseText = ""
		s.ErrorMessage = ""
		s.Transcript = nil
		s.QATurnCount = 0
		s.QAOpen = false
		s.QAInputText = ""
		return s
	})
}

// OnPhotoCaptured installs a new still frame as the visual subject. The
// session takes ownership; the previous subject is released.
func (c *SessionController) OnPhotoCaptured(frame *domain.Frame) {
	c.mu.Lock()
	if old := c.frame; old != nil && old != frame {
		old.Release()
	}
	c.frame = frame
	c.video = nil
	c.convo.Reset()
	c.mu.Unlock()

	c.resetSubjectState(domain.SubjectPhoto)
}

// OnVideoCaptured installs a recorded clip as the visual subject.
func (c *SessionController) OnVideoCaptured(ref domain.VideoRef) {
	c.mu.Lock()
	if c.frame != nil {
		c.frame.Release()
		c.frame = nil
	}
	video := ref
	c.video = &video
	c.convo.Reset()
	c.mu.Unlock()

	c.resetSubjectState(domain.SubjectVideo)
}

func (c *SessionController) resetSubjectState(kind domain.SubjectKind) {
	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.Subject = kind
		s.InferencePhase = domain.InferenceIdle
		s.ResponseText = ""
		s.ErrorMessage = ""
		s.Transcript = nil
		s.QATurnCount = 0
		s.QAOpen = false
		s.QAInputText = ""
		return s
	})
}

// CapturePhotoAndDescribe grabs one frame from the capture source and
// immediately requests its description.
func (c *SessionController) CapturePhotoAndDescribe(ctx context.Context) error {
	frame, err := c.capture.CaptureFrame(ctx)
	if err != nil {
		c.failCapture(err)
		return err
	}
	c.OnPhotoCaptured(frame)
	return c.Describe(ctx)
}

// StartRecording begins video capture. Already recording is a no-op.
func (c *SessionController) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.recording != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	handle, err := c.capture.StartRecording(ctx)
	if err != nil {
		c.failCapture(err)
		return err
	}

	c.mu.Lock()
	c.recording = handle
	c.mu.Unlock()

	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.IsRecording = true
		return s
	})
	return nil
}

// StopRecording finishes the clip, makes it the visual subject, and
// requests its description.
func (c *SessionController) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	handle := c.recording
	c.recording = nil
	c.mu.Unlock()
	if handle == nil {
		return nil
	}

	ref, err := handle.Stop()
	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.IsRecording = false
		return s
	})
	if err != nil {
		c.failCapture(err)
		return err
	}

	c.OnVideoCaptured(ref)
	return c.Describe(ctx)
}

func (c *SessionController) failCapture(err error) {
	c.events.SessionError(domain.ErrorCodeCapture, err.Error())
	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.ErrorMessage = err.Error()
		return s
	})
}

// Describe requests a scene description of the current visual subject. It
// is refused while the model is not ready or an inference is in flight;
// refusal leaves all state unchanged.
func (c *SessionController) Describe(ctx context.Context) error {
	frame, video := c.subjectForInference()
	if frame == nil && video == nil {
		return ErrNoSubject
	}

	snap, ok := c.store.UpdateIf(
		func(s domain.Snapshot) bool {
			return s.ModelPhase == domain.ModelReady && s.InferencePhase != domain.InferenceRunning
		},
		func(s domain.Snapshot) domain.Snapshot {
			s.InferencePhase = domain.InferenceRunning
			s.ErrorMessage = ""
			if s.Subject == domain.SubjectVideo {
				s.ResponseText = "Analyzing video..."
			} else {
				s.ResponseText = "Analyzing image..."
			}
			return s
		},
	)
	if !ok {
		frame.Release()
		if snap.InferencePhase == domain.InferenceRunning {
			return ErrInferenceBusy
		}
		return ErrModelNotReady
	}

	go c.runDescribe(ctx, frame, video, snap.Language)
	return nil
}

func (c *SessionController) runDescribe(ctx context.Context, frame *domain.Frame, video *domain.VideoRef, lang domain.Language) {
	text, err := c.infer(ctx, frame, video, "")
	frame.Release()
	if err != nil {
		c.failInference(err)
		return
	}

	translated := ""
	if lang == domain.LanguageSpanish {
		translated, _ = c.translator.Translate(ctx, text, translate.ToTarget)
	}
	display := text
	if translated != "" {
		display = translated
	}

	c.mu.Lock()
	c.convo.Open(text, translated)
	turns := c.convo.Turns()
	c.mu.Unlock()

	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.InferencePhase = domain.InferenceDone
		s.ResponseText = display
		s.QATurnCount = 0
		s.QAInputText = ""
		if s.CaptureMode == domain.ModeContinuous {
			s.Transcript = nil
			s.QAOpen = false
		} else {
			s.Transcript = turns
			s.QAOpen = true
		}
		return s
	})

	c.speech.Speak(display, lang)
}

// AskFollowUp asks a question about the same visual subject. Refused while
// an inference is running, once the per-capture question limit is reached,
// or when the question is empty after trimming; refusal leaves the
// transcript unchanged.
func (c *SessionController) AskFollowUp(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrEmptyQuestion
	}

	c.mu.Lock()
	canAsk := c.convo.CanAsk()
	c.mu.Unlock()
	if !canAsk {
		return ErrQALimitReached
	}

	frame, video := c.subjectForInference()
	if frame == nil && video == nil {
		return ErrNoSubject
	}

	snap, ok := c.store.UpdateIf(
		func(s domain.Snapshot) bool {
			return s.ModelPhase == domain.ModelReady && s.InferencePhase != domain.InferenceRunning
		},
		func(s domain.Snapshot) domain.Snapshot {
			s.InferencePhase = domain.InferenceRunning
			s.ErrorMessage = ""
			return s
		},
	)
	if !ok {
		frame.Release()
		if snap.InferencePhase == domain.InferenceRunning {
			return ErrInferenceBusy
		}
		return ErrModelNotReady
	}

	go c.runFollowUp(ctx, question, frame, video, snap.Language)
	return nil
}

func (c *SessionController) runFollowUp(ctx context.Context, question string, frame *domain.Frame, video *domain.VideoRef, lang domain.Language) {
	defer frame.Release()

	// In translated mode the question goes to the engine in its native
	// language; the original wording is kept for display.
	nativeQuestion := question
	translatedQuestion := ""
	if lang == domain.LanguageSpanish {
		translatedQuestion = question
		if native, ok := c.translator.Translate(ctx, question, translate.ToNative); ok {
			nativeQuestion = native
		}
	}

	c.mu.Lock()
	prompt := c.convo.BuildPrompt(nativeQuestion)
	c.convo.AppendQuestion(nativeQuestion, translatedQuestion)
	turns := c.convo.Turns()
	qaTurns := c.convo.QATurns()
	c.mu.Unlock()

	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.Transcript = turns
		s.QATurnCount = qaTurns
		s.QAInputText = ""
		return s
	})

	answer, err := c.infer(ctx, frame, video, prompt)
	if err != nil {
		c.failInference(err)
		return
	}

	translatedAnswer := ""
	if lang == domain.LanguageSpanish {
		translatedAnswer, _ = c.translator.Translate(ctx, answer, translate.ToTarget)
	}
	display := answer
	if translatedAnswer != "" {
		display = translatedAnswer
	}

	c.mu.Lock()
	c.convo.AppendAnswer(answer, translatedAnswer)
	turns = c.convo.Turns()
	c.mu.Unlock()

	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.InferencePhase = domain.InferenceDone
		s.ResponseText = display
		s.Transcript = turns
		return s
	})

	c.speech.Speak(display, lang)
}

// subjectForInference returns an independent copy of the current subject so
// the engine's consumption of its input can never invalidate the displayed
// frame.
func (c *SessionController) subjectForInference() (*domain.Frame, *domain.VideoRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.video != nil {
		video := *c.video
		return nil, &video
	}
	if c.frame != nil {
		return c.frame.Clone(), nil
	}
	return nil, nil
}

func (c *SessionController) infer(ctx context.Context, frame *domain.Frame, video *domain.VideoRef, prompt string) (string, error) {
	if video != nil {
		if prompt == "" {
			prompt = c.cfg.VideoPrompt
		}
		frames, err := c.extractor.ExtractFrames(ctx, *video, c.cfg.VideoFrameCount)
		if err != nil {
			return "", err
		}
		defer func() {
			for _, f := range frames {
				f.Release()
			}
		}()
		return c.engine.DescribeVideo(ctx, frames, prompt)
	}

	if prompt == "" {
		prompt = c.cfg.ImagePrompt
	}
	return c.describeFrame(ctx, frame, prompt)
}

// describeFrame prefers the streaming variant when the engine offers one,
// publishing live partial text as tokens arrive. No turn is appended unless
// the stream terminates successfully.
func (c *SessionController) describeFrame(ctx context.Context, frame *domain.Frame, prompt string) (string, error) {
	streamer, ok := c.engine.(ports.StreamingInferenceEngine)
	if !ok {
		return c.engine.DescribeImage(ctx, frame, prompt)
	}

	stream, err := streamer.DescribeImageStream(ctx, frame, prompt)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for token := range stream.Tokens() {
		sb.WriteString(token)
		partial := sb.String()
		c.store.Update(func(s domain.Snapshot) domain.Snapshot {
			s.ResponseText = partial
			return s
		})
	}
	if err := stream.Wait(); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *SessionController) failInference(err error) {
	c.events.SessionError(domain.ErrorCodeInference, err.Error())
	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.InferencePhase = domain.InferenceError
		s.ResponseText = ""
		s.ErrorMessage = err.Error()
		return s
	})
}

// UpdateQAInput mirrors the question input field into the snapshot.
func (c *SessionController) UpdateQAInput(text string) {
	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.QAInputText = text
		return s
	})
}

// SpeakResponse voices the current response text, replacing any utterance
// already playing.
func (c *SessionController) SpeakResponse() {
	snap := c.store.Snapshot()
	if snap.ResponseText == "" {
		return
	}
	c.speech.Speak(snap.ResponseText, snap.Language)
}

// SpeakChatMessage voices a single transcript turn, preferring its
// translation in Spanish mode. Out-of-range indexes are ignored.
func (c *SessionController) SpeakChatMessage(index int) {
	snap := c.store.Snapshot()
	if index < 0 || index >= len(snap.Transcript) {
		return
	}
	turn := snap.Transcript[index]
	text := turn.Text
	if snap.Language == domain.LanguageSpanish && turn.TranslatedText != "" {
		text = turn.TranslatedText
	}
	c.speech.Speak(text, snap.Language)
}

// TranslateMessage translates one transcript turn in place. Turns that
// already carry a translation are left alone; a failed translation leaves
// the turn untouched so a later tap can retry.
func (c *SessionController) TranslateMessage(ctx context.Context, index int) {
	c.mu.Lock()
	turns := c.convo.Turns()
	c.mu.Unlock()
	if index < 0 || index >= len(turns) || turns[index].TranslatedText != "" {
		return
	}

	translated, ok := c.translator.Translate(ctx, turns[index].Text, translate.ToTarget)
	if !ok || translated == "" {
		return
	}

	c.mu.Lock()
	c.convo.SetTranslation(index, translated)
	updated := c.convo.Turns()
	c.mu.Unlock()

	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.Transcript = updated
		return s
	})
}

// StopSpeaking cuts off the current utterance.
func (c *SessionController) StopSpeaking() {
	c.speech.StopSpeaking()
}

// ToggleVoiceInput starts or stops dictation into the question field.
func (c *SessionController) ToggleVoiceInput(ctx context.Context) error {
	if c.store.Snapshot().IsListening {
		c.speech.StopListening()
		return nil
	}

	c.mu.Lock()
	c.commandCapture = false
	c.mu.Unlock()

	snap := c.store.Snapshot()
	if err := c.speech.StartListening(ctx, snap.Language); err != nil {
		if !errors.Is(err, speech.ErrRecognitionUnavailable) {
			c.events.SessionError(domain.ErrorCodeSpeech, err.Error())
		}
		return err
	}
	return nil
}

// ListenForCommand captures one spoken phrase and dispatches it as a voice
// command.
func (c *SessionController) ListenForCommand(ctx context.Context) error {
	c.mu.Lock()
	c.commandCapture = true
	c.mu.Unlock()

	snap := c.store.Snapshot()
	if err := c.speech.StartListening(ctx, snap.Language); err != nil {
		c.mu.Lock()
		c.commandCapture = false
		c.mu.Unlock()
		if !errors.Is(err, speech.ErrRecognitionUnavailable) {
			c.events.SessionError(domain.ErrorCodeSpeech, err.Error())
		}
		return err
	}
	return nil
}

// HandleVoiceCommand classifies recognized speech and dispatches the
// command. ok is false when nothing matched; no state changes in that case.
func (c *SessionController) HandleVoiceCommand(ctx context.Context, speechText string) (domain.VoiceCommand, bool) {
	command, ok := c.classifier.Classify(speechText)
	if !ok {
		return "", false
	}
	c.dispatchCommand(ctx, command)
	return command, true
}

func (c *SessionController) dispatchCommand(ctx context.Context, command domain.VoiceCommand) {
	switch command {
	case domain.CommandTakePhoto:
		_ = c.CapturePhotoAndDescribe(ctx)
	case domain.CommandRecordVideo:
		_ = c.StartRecording(ctx)
	case domain.CommandStop:
		c.StopContinuous()
		c.StopSpeaking()
		_ = c.StopRecording(ctx)
	case domain.CommandPhotoMode:
		c.SetCaptureMode(domain.ModePhoto)
	case domain.CommandVideoMode:
		c.SetCaptureMode(domain.ModeVideo)
	case domain.CommandContinuousMode:
		c.SetCaptureMode(domain.ModeContinuous)
	case domain.CommandRepeat:
		c.SpeakResponse()
	case domain.CommandDescribe:
		_ = c.Describe(ctx)
	}
}

// SpeakingChanged implements speech.Listener.
func (c *SessionController) SpeakingChanged(speaking bool) {
	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.IsSpeaking = speaking
		return s
	})
}

// ListeningChanged implements speech.Listener.
func (c *SessionController) ListeningChanged(listening bool) {
	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.IsListening = listening
		return s
	})
}

// TranscriptUpdated implements speech.Listener. Dictation fills the question
// input; command capture dispatches the final utterance as a voice command.
func (c *SessionController) TranscriptUpdated(text string, final bool) {
	c.mu.Lock()
	command := c.commandCapture
	if command && final {
		c.commandCapture = false
	}
	c.mu.Unlock()

	if command {
		if final {
			// StopListening waits for the recognition consumer, and this
			// callback runs on it; stopping must happen off this goroutine.
			go c.speech.StopListening()
			c.HandleVoiceCommand(context.Background(), text)
		}
		return
	}

	if text == "" {
		return
	}
	c.UpdateQAInput(text)
}

// Close tears the session down: the continuous loop, speech, the recording,
// the visual subject, and the engine handle.
func (c *SessionController) Close() {
	c.StopContinuous()
	c.speech.Close()

	c.mu.Lock()
	if c.frame != nil {
		c.frame.Release()
		c.frame = nil
	}
	c.video = nil
	recording := c.recording
	c.recording = nil
	c.mu.Unlock()

	if recording != nil {
		_, _ = recording.Stop()
	}
	_ = c.engine.Unload()
}
