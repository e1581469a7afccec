// Package espeak voices text with the espeak-ng command.
package espeak

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"scenesense/internal/domain"
)

// Speaker implements ports.Synthesizer by running espeak-ng per utterance.
// Context cancellation kills the process; that is the stop path, not an
// error.
type Speaker struct {
	command string
}

func NewSpeaker(command string) *Speaker {
	if command == "" {
		command = "espeak-ng"
	}
	return &Speaker{command: command}
}

func (s *Speaker) Speak(ctx context.Context, utteranceID, text string, lang domain.Language) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	voice := "en"
	if lang == domain.LanguageSpanish {
		voice = "es"
	}

	cmd := exec.CommandContext(ctx, s.command, "-v", voice, text)
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return context.Canceled
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("espeak: utterance %s: exit status %d", utteranceID, exitErr.ExitCode())
	}
	return fmt.Errorf("espeak: utterance %s: %w", utteranceID, err)
}
