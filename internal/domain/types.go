package domain

// ModelPhase models the inference engine lifecycle.
type ModelPhase string

const (
	ModelNotLoaded ModelPhase = "not_loaded"
	ModelLoading   ModelPhase = "loading"
	ModelReady     ModelPhase = "ready"
	ModelError     ModelPhase = "error"
)

// InferencePhase models a single describe/follow-up request. Running is a
// mutual-exclusion gate: a second request is refused while one is in flight.
type InferencePhase string

const (
	InferenceIdle    InferencePhase = "idle"
	InferenceRunning InferencePhase = "running"
	InferenceDone    InferencePhase = "done"
	InferenceError   InferencePhase = "error"
)

// CaptureMode selects how the visual subject is produced.
type CaptureMode string

const (
	ModePhoto      CaptureMode = "photo"
	ModeVideo      CaptureMode = "video"
	ModeContinuous CaptureMode = "continuous"
)

// Language is the user-facing language. The engine always answers in English;
// Spanish output is produced by best-effort translation.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
)

// ChatRole tags one transcript turn.
type ChatRole string

const (
	RoleSceneDescription ChatRole = "scene_description"
	RoleUserQuestion     ChatRole = "user_question"
	RoleAssistantAnswer  ChatRole = "assistant_answer"
)

// ChatTurn is one entry in the per-capture Q&A transcript. Text is always the
// engine's native-language text; TranslatedText is filled in Spanish mode.
type ChatTurn struct {
	Role           ChatRole `json:"role"`
	Text           string   `json:"text"`
	TranslatedText string   `json:"translatedText,omitempty"`
}

// VoiceCommand is the closed set of commands the classifier can produce.
type VoiceCommand string

const (
	CommandTakePhoto      VoiceCommand = "take_photo"
	CommandRecordVideo    VoiceCommand = "record_video"
	CommandStop           VoiceCommand = "stop"
	CommandPhotoMode      VoiceCommand = "photo_mode"
	CommandVideoMode      VoiceCommand = "video_mode"
	CommandContinuousMode VoiceCommand = "continuous_mode"
	CommandRepeat         VoiceCommand = "repeat"
	CommandDescribe       VoiceCommand = "describe"
)

// ErrorCode identifies errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup   ErrorCode = "startup"
	ErrorCodeProvision ErrorCode = "provision"
	ErrorCodeModelLoad ErrorCode = "model_load"
	ErrorCodeInference ErrorCode = "inference"
	ErrorCodeCapture   ErrorCode = "capture"
	ErrorCodeSpeech    ErrorCode = "speech"
)

// SubjectKind says what the session currently holds as its visual subject.
type SubjectKind string

const (
	SubjectNone  SubjectKind = ""
	SubjectPhoto SubjectKind = "photo"
	SubjectVideo SubjectKind = "video"
)

// SpeechEventKind classifies recognizer output.
type SpeechEventKind string

const (
	SpeechPartial SpeechEventKind = "partial"
	SpeechFinal   SpeechEventKind = "final"
	SpeechEnd     SpeechEventKind = "end"
	SpeechFailed  SpeechEventKind = "error"
)

// SpeechEvent is one recognizer emission.
type SpeechEvent struct {
	Kind   SpeechEventKind `json:"kind"`
	Text   string          `json:"text"`
	Detail string          `json:"detail,omitempty"`
}

// VideoRef points at a playable recorded clip on local storage.
type VideoRef struct {
	Path string `json:"path"`
}

// Snapshot is the whole session state, replaced atomically on every change.
// Producers never mutate fields of a published snapshot in place.
type Snapshot struct {
	ModelPhase     ModelPhase     `json:"modelPhase"`
	InferencePhase InferencePhase `json:"inferencePhase"`
	CaptureMode    CaptureMode    `json:"captureMode"`
	Language       Language       `json:"language"`

	StatusText       string  `json:"statusText"`
	DownloadLabel    string  `json:"downloadLabel"`
	DownloadProgress float64 `json:"downloadProgress"`

	Subject      SubjectKind `json:"subject"`
	ResponseText string      `json:"responseText"`
	ErrorMessage string      `json:"errorMessage,omitempty"`

	Transcript  []ChatTurn `json:"transcript"`
	QATurnCount int        `json:"qaTurnCount"`
	QAOpen      bool       `json:"qaOpen"`
	QAInputText string     `json:"qaInputText"`

	ContinuousRunning    bool `json:"continuousRunning"`
	ContinuousFrameCount int  `json:"continuousFrameCount"`

	IsRecording         bool `json:"isRecording"`
	IsSpeaking          bool `json:"isSpeaking"`
	IsListening         bool `json:"isListening"`
	NeedsLanguageChoice bool `json:"needsLanguageChoice"`
}

// Clone returns a snapshot whose transcript does not alias the receiver's.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Transcript != nil {
		out.Transcript = make([]ChatTurn, len(s.Transcript))
		copy(out.Transcript, s.Transcript)
	}
	return out
}
