package main

import (
	"context"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"scenesense/internal/bootstrap"
	"scenesense/internal/camera"
	"scenesense/internal/config"
	"scenesense/internal/domain"
	"scenesense/internal/usecase"
)

const (
	eventState = "scenesense:state"
	eventError = "scenesense:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.SessionController
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.SnapshotChanged(a.controller.Snapshot())
	a.controller.LoadModel(ctx)
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		a.controller.Close()
	}
}

// GetSnapshot returns the current session state.
func (a *App) GetSnapshot() domain.Snapshot {
	if a.controller == nil {
		snap := domain.Snapshot{ModelPhase: domain.ModelNotLoaded}
		if a.bootErr != nil {
			snap.ModelPhase = domain.ModelError
			snap.ErrorMessage = a.bootErr.Error()
		}
		return snap
	}
	return a.controller.Snapshot()
}

// LoadModel retries model provisioning and load after a failure.
func (a *App) LoadModel() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.LoadModel(a.ctx)
	return nil
}

// SetLanguage records the user's language choice.
func (a *App) SetLanguage(lang string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.SetLanguage(a.ctx, domain.Language(lang))
	return nil
}

// SetCaptureMode switches between photo, video, and continuous capture.
func (a *App) SetCaptureMode(mode string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.SetCaptureMode(domain.CaptureMode(mode))
	return nil
}

// CapturePhoto grabs a frame and describes it.
func (a *App) CapturePhoto() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.CapturePhotoAndDescribe(a.ctx)
}

// StartRecording begins video capture.
func (a *App) StartRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.StartRecording(a.ctx)
}

// StopRecording finishes the clip and describes it.
func (a *App) StopRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.StopRecording(a.ctx)
}

// UseImageFile makes a picked image file the visual subject and describes it.
func (a *App) UseImageFile(path string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	frame, err := camera.LoadImage(path)
	if err != nil {
		a.SessionError(domain.ErrorCodeCapture, err.Error())
		return err
	}
	a.controller.OnPhotoCaptured(frame)
	return a.controller.Describe(a.ctx)
}

// UseVideoFile makes a picked video file the visual subject and describes it.
func (a *App) UseVideoFile(path string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.OnVideoCaptured(domain.VideoRef{Path: path})
	return a.controller.Describe(a.ctx)
}

// Describe re-runs the scene description for the current capture.
func (a *App) Describe() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Describe(a.ctx)
}

// AskFollowUp asks a question about the current capture.
func (a *App) AskFollowUp(question string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.AskFollowUp(a.ctx, question)
}

// UpdateQAInput mirrors the question input field.
func (a *App) UpdateQAInput(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.UpdateQAInput(text)
	return nil
}

// StartContinuous begins the periodic capture-describe cycle.
func (a *App) StartContinuous() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.StartContinuous(a.ctx)
}

// StopContinuous halts the periodic cycle.
func (a *App) StopContinuous() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.StopContinuous()
	return nil
}

// SpeakResponse voices the current response text.
func (a *App) SpeakResponse() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.SpeakResponse()
	return nil
}

// SpeakChatMessage voices one transcript turn by index.
func (a *App) SpeakChatMessage(index int) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.SpeakChatMessage(index)
	return nil
}

// TranslateMessage fills in the translation of one transcript turn.
func (a *App) TranslateMessage(index int) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.TranslateMessage(a.ctx, index)
	return nil
}

// StopSpeaking cuts off the current utterance.
func (a *App) StopSpeaking() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.StopSpeaking()
	return nil
}

// ToggleVoiceInput starts or stops dictation into the question field.
func (a *App) ToggleVoiceInput() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.ToggleVoiceInput(a.ctx)
}

// ListenForCommand captures one spoken phrase as a voice command.
func (a *App) ListenForCommand() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.ListenForCommand(a.ctx)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"model":        a.cfg.Models.ModelFile,
		"engine":       a.cfg.Engine.Command,
		"camera":       a.cfg.Camera.InputDevice,
		"recognition":  a.cfg.Deepgram.Model,
		"translateURL": a.cfg.Translate.BaseURL,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SnapshotChanged emits the replaced session state to the frontend.
func (a *App) SnapshotChanged(snapshot domain.Snapshot) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventState, snapshot)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeProvision:
		return "Model download failed"
	case domain.ErrorCodeModelLoad:
		return "Model load failed"
	case domain.ErrorCodeInference:
		return "Scene analysis failed"
	case domain.ErrorCodeCapture:
		return "Camera capture failed"
	case domain.ErrorCodeSpeech:
		return "Speech error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
