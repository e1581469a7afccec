package bootstrap

import (
	"log/slog"
	"os"

	"scenesense/internal/audio"
	"scenesense/internal/camera"
	"scenesense/internal/config"
	"scenesense/internal/ports"
	"scenesense/internal/providers/deepgram"
	"scenesense/internal/providers/espeak"
	"scenesense/internal/providers/libretranslate"
	"scenesense/internal/providers/llamacpp"
	"scenesense/internal/provision"
	"scenesense/internal/translate"
	"scenesense/internal/usecase"
	"scenesense/internal/voice"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	classifier, err := voice.NewClassifierFromFile(cfg.Voice.PhraseFile)
	if err != nil {
		return Services{}, err
	}

	languagePath, err := config.DefaultLanguagePath()
	if err != nil {
		return Services{}, err
	}
	prefs := config.NewLanguageStore(languagePath)

	provisioner := provision.New(provision.Config{
		BaseURL:       cfg.Models.BaseURL,
		Dir:           cfg.Models.Dir,
		ModelFile:     cfg.Models.ModelFile,
		ProjectorFile: cfg.Models.ProjectorFile,
	}, nil, logger)

	engine := llamacpp.NewEngine(cfg.Engine.Command, cfg.Engine.Temperature, logger)

	cam := camera.New(camera.Config{
		Command:     cfg.Camera.Command,
		InputFormat: cfg.Camera.InputFormat,
		Device:      cfg.Camera.InputDevice,
		Width:       cfg.Camera.FrameWidth,
		Height:      cfg.Camera.FrameHeight,
	})

	translator := translate.NewCoordinator(
		libretranslate.NewTranslator(cfg.Translate.BaseURL, "en", "es"),
		libretranslate.NewTranslator(cfg.Translate.BaseURL, "es", "en"),
		logger,
	)

	synth := espeak.NewSpeaker(cfg.Speech.Command)

	audioCfg := audio.Config{
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
	}

	// Recognition is optional: without credentials the session runs with
	// dictation and voice commands disabled.
	var recognizer ports.Recognizer
	dg := deepgram.NewRecognizer(deepgram.Config{
		APIKey:     cfg.Deepgram.APIKey,
		APIBaseURL: cfg.Deepgram.APIBaseURL,
		Model:      cfg.Deepgram.Model,
	}, audio.NewMicCapture(cfg.Audio.Command), audioCfg, logger)
	if dg.Available() {
		recognizer = dg
	}

	controller := usecase.NewSessionController(
		engine,
		cam,
		cam,
		provisioner,
		translator,
		synth,
		recognizer,
		classifier,
		prefs,
		eventSink,
		usecase.Config{
			FrameDelay:      cfg.Session.FrameDelay,
			MinWarmup:       cfg.Session.MinWarmup,
			ContextSize:     cfg.Models.ContextSize,
			VideoFrameCount: cfg.Session.VideoFrameCount,
		},
	)

	return Services{Controller: controller, Config: cfg}, nil
}
