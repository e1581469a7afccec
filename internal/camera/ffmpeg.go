// Package camera captures still frames and video clips from a local camera
// device through ffmpeg.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"scenesense/internal/domain"
	"scenesense/internal/ports"
)

// Config describes the camera device and output geometry.
type Config struct {
	Command     string
	ProbeCmd    string
	InputFormat string
	Device      string
	Width       int
	Height      int
}

// FFMPEGCamera implements ports.CaptureSource and ports.FrameExtractor.
type FFMPEGCamera struct {
	cfg Config
}

func New(cfg Config) *FFMPEGCamera {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.ProbeCmd == "" {
		cfg.ProbeCmd = "ffprobe"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "v4l2"
	}
	if cfg.Device == "" {
		cfg.Device = "/dev/video0"
	}
	if cfg.Width <= 0 {
		cfg.Width = 512
	}
	if cfg.Height <= 0 {
		cfg.Height = 384
	}
	return &FFMPEGCamera{cfg: cfg}
}

// CaptureFrame grabs one frame from the device as raw RGB.
func (c *FFMPEGCamera) CaptureFrame(ctx context.Context) (*domain.Frame, error) {
	args := captureFrameArgs(c.cfg)
	pixels, err := c.runForPixels(ctx, args)
	if err != nil {
		return nil, err
	}
	return domain.NewFrame(pixels, c.cfg.Width, c.cfg.Height), nil
}

func captureFrameArgs(cfg Config) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.Device,
		"-frames:v", "1",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	}
}

func (c *FFMPEGCamera) runForPixels(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg capture: %w: %s", err, lastStderrLine(stderr.String()))
	}

	want := c.cfg.Width * c.cfg.Height * 3
	pixels := stdout.Bytes()
	if len(pixels) < want {
		return nil, fmt.Errorf("ffmpeg capture: short frame: got %d bytes, want %d", len(pixels), want)
	}
	return pixels[:want], nil
}

// StartRecording records the device into a temp MP4 until Stop.
func (c *FFMPEGCamera) StartRecording(ctx context.Context) (ports.RecordingHandle, error) {
	f, err := os.CreateTemp("", "scenesense-clip-*.mp4")
	if err != nil {
		return nil, err
	}
	dest := f.Name()
	f.Close()

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.cfg.InputFormat,
		"-i", c.cfg.Device,
		"-s", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
		"-y", dest,
	}

	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("ffmpeg record: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// An unopenable device fails fast; surface that instead of an empty clip.
	select {
	case err := <-waitErr:
		os.Remove(dest)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg record: exited before recording started: %w: %s", err, lastStderrLine(stderr.String()))
		}
		return nil, errors.New("ffmpeg record: exited before recording started")
	case <-time.After(250 * time.Millisecond):
	}

	return &recording{
		dest:    dest,
		process: cmd.Process,
		stderr:  &stderr,
		waitErr: waitErr,
	}, nil
}

type recording struct {
	dest    string
	process *os.Process
	stderr  *bytes.Buffer
	waitErr <-chan error

	stopOnce sync.Once
	ref      domain.VideoRef
	stopErr  error
}

// Stop interrupts ffmpeg so it finalizes the container, then waits for it.
func (r *recording) Stop() (domain.VideoRef, error) {
	r.stopOnce.Do(func() {
		_ = r.process.Signal(os.Interrupt)

		select {
		case <-r.waitErr:
		case <-time.After(3 * time.Second):
			_ = r.process.Kill()
			<-r.waitErr
		}

		info, err := os.Stat(r.dest)
		if err != nil || info.Size() == 0 {
			os.Remove(r.dest)
			r.stopErr = fmt.Errorf("ffmpeg record: no clip was produced: %s", lastStderrLine(r.stderr.String()))
			return
		}
		r.ref = domain.VideoRef{Path: r.dest}
	})
	return r.ref, r.stopErr
}

// ExtractFrames pulls maxFrames evenly spaced frames from the clip.
func (c *FFMPEGCamera) ExtractFrames(ctx context.Context, video domain.VideoRef, maxFrames int) ([]*domain.Frame, error) {
	if maxFrames <= 0 {
		maxFrames = 1
	}

	duration, err := c.probeDuration(ctx, video.Path)
	if err != nil {
		// A clip whose duration cannot be probed still usually decodes;
		// sample from the start at one-second steps.
		duration = time.Duration(maxFrames) * time.Second
	}

	offsets := frameOffsets(duration, maxFrames)
	frames := make([]*domain.Frame, 0, len(offsets))
	for _, offset := range offsets {
		args := extractFrameArgs(c.cfg, video.Path, offset)
		pixels, err := c.runForPixels(ctx, args)
		if err != nil {
			for _, f := range frames {
				f.Release()
			}
			return nil, err
		}
		frames = append(frames, domain.NewFrame(pixels, c.cfg.Width, c.cfg.Height))
	}
	return frames, nil
}

func extractFrameArgs(cfg Config, path string, offset time.Duration) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-ss", formatOffset(offset),
		"-i", path,
		"-frames:v", "1",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	}
}

// frameOffsets spaces n sample points over the clip, keeping the last one
// slightly inside the end so the seek always lands on a frame.
func frameOffsets(duration time.Duration, n int) []time.Duration {
	if n <= 1 || duration <= 0 {
		return []time.Duration{0}
	}
	usable := duration - 200*time.Millisecond
	if usable < 0 {
		usable = 0
	}
	step := usable / time.Duration(n-1)
	offsets := make([]time.Duration, n)
	for i := range offsets {
		offsets[i] = step * time.Duration(i)
	}
	return offsets
}

func formatOffset(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func (c *FFMPEGCamera) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, c.cfg.ProbeCmd,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return parseDuration(string(out))
}

func parseDuration(raw string) (time.Duration, error) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: unparseable duration %q", strings.TrimSpace(raw))
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("ffprobe: non-positive duration %f", seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func lastStderrLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "no ffmpeg output"
}
