// Package audio captures microphone PCM for speech recognition.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// A device that cannot be opened makes ffmpeg exit almost immediately; the
// probe window turns that into a start error instead of an instant EOF.
const startupProbe = 250 * time.Millisecond

// stopGrace is how long an interrupted ffmpeg gets to flush before Kill.
const stopGrace = 1200 * time.Millisecond

// Config describes the microphone input and PCM format.
type Config struct {
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.InputFormat == "" {
		c.InputFormat = "pulse"
	}
	if c.InputDevice == "" {
		c.InputDevice = "default"
	}
	return c
}

// Session is a running capture; Read yields raw s16le PCM.
type Session interface {
	io.Reader
	Stop() error
}

// MicCapture streams microphone PCM audio using ffmpeg.
type MicCapture struct {
	command string
}

func NewMicCapture(command string) *MicCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &MicCapture{command: command}
}

// captureArgs produces the ffmpeg invocation for a PCM capture to stdout.
func captureArgs(cfg Config) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

func (c *MicCapture) Start(ctx context.Context, cfg Config) (Session, error) {
	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg.withDefaults())...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := &micSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: make(chan error, 1),
	}
	go func() {
		s.waitErr <- cmd.Wait()
		close(s.waitErr)
	}()

	if err := s.probeStartup(); err != nil {
		return nil, err
	}
	return s, nil
}

type micSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr chan error

	stopOnce sync.Once
	stopErr  error
}

// probeStartup fails when ffmpeg exits within the probe window.
func (s *micSession) probeStartup() error {
	select {
	case err := <-s.waitErr:
		if err != nil {
			return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, strings.TrimSpace(s.stderr.String()))
		}
		return errors.New("ffmpeg exited before capture started")
	case <-time.After(startupProbe):
		return nil
	}
}

func (s *micSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *micSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.shutdown()
	})
	return s.stopErr
}

func (s *micSession) shutdown() error {
	_ = s.process.Signal(os.Interrupt)

	var stopErr error
	select {
	case err, ok := <-s.waitErr:
		if ok {
			stopErr = normalizeStopErr(err)
		}
	case <-time.After(stopGrace):
		_ = s.process.Kill()
		if err, ok := <-s.waitErr; ok {
			stopErr = normalizeStopErr(err)
		}
	}

	if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && stopErr == nil {
		stopErr = closeErr
	}

	if stopErr != nil && s.stderr.Len() > 0 {
		return fmt.Errorf("%w: %s", stopErr, strings.TrimSpace(s.stderr.String()))
	}
	return stopErr
}

// Interrupted ffmpeg exits non-zero; that is the expected stop path.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
