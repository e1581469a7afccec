// Package llamacpp runs multimodal inference through the llama-mtmd-cli
// binary from llama.cpp. Each request is one process invocation; the model
// and projector paths are fixed at Load time.
package llamacpp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"scenesense/internal/domain"
	"scenesense/internal/ports"
)

// ErrNotLoaded is returned when inference is requested before Load.
var ErrNotLoaded = errors.New("llamacpp: model not loaded")

// Engine implements ports.StreamingInferenceEngine on top of llama-mtmd-cli.
type Engine struct {
	command     string
	temperature float64
	log         *slog.Logger

	mu     sync.Mutex
	spec   ports.LoadSpec
	loaded bool
}

func NewEngine(command string, temperature float64, logger *slog.Logger) *Engine {
	if command == "" {
		command = "llama-mtmd-cli"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		command:     command,
		temperature: temperature,
		log:         logger.With("component", "llamacpp"),
	}
}

// Load verifies the artifacts and the binary. The model stays on disk; the
// process that maps it is spawned per request.
func (e *Engine) Load(ctx context.Context, spec ports.LoadSpec) error {
	if err := statArtifact(spec.ModelPath); err != nil {
		return fmt.Errorf("llamacpp: model: %w", err)
	}
	if err := statArtifact(spec.ProjectorPath); err != nil {
		return fmt.Errorf("llamacpp: projector: %w", err)
	}
	if _, err := exec.LookPath(e.command); err != nil {
		return fmt.Errorf("llamacpp: %w", err)
	}

	e.mu.Lock()
	e.spec = spec
	e.loaded = true
	e.mu.Unlock()

	e.log.Info("model loaded",
		"model", filepath.Base(spec.ModelPath),
		"projector", filepath.Base(spec.ProjectorPath),
		"threads", spec.Threads)
	return nil
}

func statArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *Engine) Unload() error {
	e.mu.Lock()
	e.loaded = false
	e.spec = ports.LoadSpec{}
	e.mu.Unlock()
	return nil
}

// DescribeImage runs one blocking inference over a single frame.
func (e *Engine) DescribeImage(ctx context.Context, frame *domain.Frame, prompt string) (string, error) {
	stream, err := e.DescribeImageStream(ctx, frame, prompt)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for token := range stream.Tokens() {
		sb.WriteString(token)
	}
	if err := stream.Wait(); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

// DescribeImageStream starts inference and returns tokens as the process
// prints them.
func (e *Engine) DescribeImageStream(ctx context.Context, frame *domain.Frame, prompt string) (ports.TokenStream, error) {
	spec, err := e.currentSpec()
	if err != nil {
		return nil, err
	}

	imagePath, err := writeFramePNG(frame)
	if err != nil {
		return nil, err
	}

	args := e.buildArgs(spec, []string{imagePath}, prompt)
	stream, err := e.startStream(ctx, args, []string{imagePath})
	if err != nil {
		os.Remove(imagePath)
		return nil, err
	}
	return stream, nil
}

// DescribeVideo passes every extracted frame to one invocation so the model
// sees the whole segment at once.
func (e *Engine) DescribeVideo(ctx context.Context, frames []*domain.Frame, prompt string) (string, error) {
	spec, err := e.currentSpec()
	if err != nil {
		return "", err
	}
	if len(frames) == 0 {
		return "", errors.New("llamacpp: no frames to describe")
	}

	paths := make([]string, 0, len(frames))
	cleanup := func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}
	for _, frame := range frames {
		p, err := writeFramePNG(frame)
		if err != nil {
			cleanup()
			return "", err
		}
		paths = append(paths, p)
	}

	args := e.buildArgs(spec, paths, prompt)
	stream, err := e.startStream(ctx, args, paths)
	if err != nil {
		cleanup()
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for token := range stream.Tokens() {
		sb.WriteString(token)
	}
	if err := stream.Wait(); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

func (e *Engine) currentSpec() (ports.LoadSpec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ports.LoadSpec{}, ErrNotLoaded
	}
	return e.spec, nil
}

func (e *Engine) buildArgs(spec ports.LoadSpec, imagePaths []string, prompt string) []string {
	args := []string{
		"-m", spec.ModelPath,
		"--mmproj", spec.ProjectorPath,
		"-p", prompt,
		"--temp", strconv.FormatFloat(e.temperature, 'f', -1, 64),
		"-t", strconv.Itoa(spec.Threads),
		"-c", strconv.Itoa(spec.ContextSize),
		"--no-display-prompt",
	}
	for _, p := range imagePaths {
		args = append(args, "--image", p)
	}
	return args
}

func (e *Engine) startStream(ctx context.Context, args, tempFiles []string) (*tokenStream, error) {
	cmd := exec.CommandContext(ctx, e.command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	e.log.Debug("inference started", "pid", cmd.Process.Pid)

	ts := &tokenStream{
		tokens: make(chan string, 16),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(ts.done)
		defer close(ts.tokens)
		defer func() {
			for _, p := range tempFiles {
				os.Remove(p)
			}
		}()

		emitErr := emitTokens(stdout, ts.tokens)
		waitErr := cmd.Wait()

		switch {
		case ctx.Err() != nil:
			ts.err = ctx.Err()
		case waitErr != nil:
			detail := strings.TrimSpace(stderr.String())
			if detail != "" {
				ts.err = fmt.Errorf("llamacpp: %w: %s", waitErr, lastLine(detail))
			} else {
				ts.err = fmt.Errorf("llamacpp: %w", waitErr)
			}
		case emitErr != nil:
			ts.err = emitErr
		}
	}()
	return ts, nil
}

// emitTokens forwards stdout to the token channel in small chunks, preserving
// whitespace exactly as the process printed it.
func emitTokens(r io.Reader, tokens chan<- string) error {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			tokens <- string(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return s
}

// tokenStream implements ports.TokenStream over a running process.
type tokenStream struct {
	tokens chan string
	done   chan struct{}
	err    error
}

func (t *tokenStream) Tokens() <-chan string {
	return t.tokens
}

func (t *tokenStream) Wait() error {
	<-t.done
	return t.err
}

func (t *tokenStream) Close() error {
	for range t.tokens {
	}
	<-t.done
	return t.err
}

// writeFramePNG encodes the frame into a temp PNG the CLI can read.
func writeFramePNG(frame *domain.Frame) (string, error) {
	if frame == nil || len(frame.Pixels) == 0 {
		return "", errors.New("llamacpp: empty frame")
	}
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			src := (y*frame.Width + x) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst+0] = frame.Pixels[src+0]
			img.Pix[dst+1] = frame.Pixels[src+1]
			img.Pix[dst+2] = frame.Pixels[src+2]
			img.Pix[dst+3] = 0xff
		}
	}

	f, err := os.CreateTemp("", "scenesense-frame-*.png")
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
