package translate

import (
	"context"
	"log/slog"
	"sync"

	"scenesense/internal/ports"
)

// Direction names one of the two fixed translation directions.
type Direction int

const (
	// ToTarget translates engine output toward the user's language.
	ToTarget Direction = iota
	// ToNative translates user input toward the engine's native language.
	ToNative
)

// Coordinator wraps two directional translators with translate-or-pass-through
// semantics. Each direction has an independent readiness flag that is set only
// after Prepare succeeds for that translator; until then Translate reports no
// result and the caller keeps the original text. Translation never fails the
// surrounding operation.
type Coordinator struct {
	log *slog.Logger

	mu          sync.Mutex
	toTarget    ports.Translator
	toNative    ports.Translator
	targetReady bool
	nativeReady bool
}

func NewCoordinator(toTarget, toNative ports.Translator, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		log:      logger.With("component", "translate"),
		toTarget: toTarget,
		toNative: toNative,
	}
}

// Prepare readies both translators in the background. Failures are logged and
// leave the direction unready; they are never surfaced as session errors.
func (c *Coordinator) Prepare(ctx context.Context) {
	c.prepareDirection(ctx, ToTarget)
	c.prepareDirection(ctx, ToNative)
}

func (c *Coordinator) prepareDirection(ctx context.Context, dir Direction) {
	translator := c.translator(dir)
	if translator == nil {
		return
	}
	go func() {
		if err := translator.Prepare(ctx); err != nil {
			c.log.Warn("translator unavailable", "direction", dir.String(), "error", err)
			return
		}
		c.mu.Lock()
		if dir == ToTarget {
			c.targetReady = true
		} else {
			c.nativeReady = true
		}
		c.mu.Unlock()
		c.log.Info("translator ready", "direction", dir.String())
	}()
}

// Ready reports whether a direction can currently translate.
func (c *Coordinator) Ready(dir Direction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dir == ToTarget {
		return c.targetReady
	}
	return c.nativeReady
}

// Translate returns the translated text, or ok=false when the translator is
// unset, not ready, or the call failed. Callers fall back to the original.
func (c *Coordinator) Translate(ctx context.Context, text string, dir Direction) (string, bool) {
	translator := c.translator(dir)
	if translator == nil || !c.Ready(dir) {
		return "", false
	}
	translated, err := translator.Translate(ctx, text)
	if err != nil {
		c.log.Warn("translation failed", "direction", dir.String(), "error", err)
		return "", false
	}
	if translated == "" {
		return "", false
	}
	return translated, true
}

// BestEffort returns the translation when available and the original text
// otherwise, never an empty string.
func (c *Coordinator) BestEffort(ctx context.Context, text string, dir Direction) string {
	if translated, ok := c.Translate(ctx, text, dir); ok {
		return translated
	}
	return text
}

func (c *Coordinator) translator(dir Direction) ports.Translator {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dir == ToTarget {
		return c.toTarget
	}
	return c.toNative
}

func (d Direction) String() string {
	if d == ToTarget {
		return "to_target"
	}
	return "to_native"
}
