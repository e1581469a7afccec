package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Artifacts is the ready-to-load path pair handed to the engine.
type Artifacts struct {
	ModelPath     string
	ProjectorPath string
}

// Progress reports fractional download progress for one artifact. Fraction
// stays 0 when the server does not announce a content length.
type Progress struct {
	Label    string
	Fraction float64
}

// Provisioner guarantees the model and projector artifacts exist locally,
// downloading any that are missing. Partial downloads are never promoted: a
// file is streamed to a .tmp sibling and renamed only on full success.
type Provisioner struct {
	baseURL       string
	dir           string
	modelFile     string
	projectorFile string
	client        *http.Client
	log           *slog.Logger
}

type Config struct {
	BaseURL       string
	Dir           string
	ModelFile     string
	ProjectorFile string
}

func New(cfg Config, client *http.Client, logger *slog.Logger) *Provisioner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/") + "/",
		dir:           cfg.Dir,
		modelFile:     cfg.ModelFile,
		projectorFile: cfg.ProjectorFile,
		client:        client,
		log:           logger.With("component", "provision"),
	}
}

// Ensure makes both artifacts available and returns their paths. Artifacts
// already on disk cost zero network requests.
func (p *Provisioner) Ensure(ctx context.Context, onProgress func(Progress)) (Artifacts, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("failed to create models directory: %w", err)
	}

	modelPath := filepath.Join(p.dir, p.modelFile)
	projectorPath := filepath.Join(p.dir, p.projectorFile)

	if err := p.ensureFile(ctx, p.modelFile, modelPath, "model", onProgress); err != nil {
		return Artifacts{}, err
	}
	if err := p.ensureFile(ctx, p.projectorFile, projectorPath, "projector", onProgress); err != nil {
		return Artifacts{}, err
	}

	return Artifacts{ModelPath: modelPath, ProjectorPath: projectorPath}, nil
}

func (p *Provisioner) ensureFile(ctx context.Context, filename, dest, label string, onProgress func(Progress)) error {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		p.log.Debug("artifact present", "file", filename, "bytes", info.Size())
		return nil
	}
	return p.download(ctx, p.baseURL+filename, dest, label, onProgress)
}

func (p *Provisioner) download(ctx context.Context, url, dest, label string, onProgress func(Progress)) (err error) {
	tmp := dest + ".tmp"
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d downloading %s", resp.StatusCode, label)
	}

	// A stale .tmp from a crashed run is simply overwritten.
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	total := resp.ContentLength
	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				_ = out.Close()
				return fmt.Errorf("failed to write %s: %w", label, writeErr)
			}
			downloaded += int64(n)
			if onProgress != nil {
				fraction := 0.0
				if total > 0 {
					fraction = min(float64(downloaded)/float64(total), 1)
				}
				onProgress(Progress{Label: label, Fraction: fraction})
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = out.Close()
			return fmt.Errorf("failed to download %s: %w", label, readErr)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finish %s: %w", label, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("failed to promote %s: %w", label, err)
	}

	p.log.Info("artifact downloaded", "file", filepath.Base(dest), "bytes", downloaded)
	return nil
}

// ThreadCount derives the engine thread count from hardware concurrency,
// clamped to [2,4].
func ThreadCount(cpus int) int {
	threads := cpus / 2
	if threads < 2 {
		return 2
	}
	if threads > 4 {
		return 4
	}
	return threads
}
