package usecase

import (
	"context"
	"fmt"
	"time"

	"scenesense/internal/domain"
	"scenesense/internal/translate"
)

// continuousLoop tracks one running capture-describe cycle.
type continuousLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *continuousLoop) stop() {
	l.cancel()
	<-l.done
}

// StartContinuous begins the periodic capture-describe-speak cycle. Refused
// while the model is not ready; starting an already-running loop is a no-op.
func (c *SessionController) StartContinuous(ctx context.Context) error {
	snap := c.store.Snapshot()
	if snap.ModelPhase != domain.ModelReady {
		return ErrModelNotReady
	}

	c.mu.Lock()
	if c.loop != nil {
		c.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	loop := &continuousLoop{cancel: cancel, done: make(chan struct{})}
	c.loop = loop
	c.mu.Unlock()

	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.CaptureMode = domain.ModeContinuous
		s.ContinuousRunning = true
		s.ContinuousFrameCount = 0
		s.ResponseText = ""
		s.ErrorMessage = ""
		s.Transcript = nil
		s.QATurnCount = 0
		s.QAOpen = false
		return s
	})

	go c.runContinuous(loopCtx, loop)
	return nil
}

// StopContinuous cancels the loop and waits for the in-flight cycle to
// finish. The last description stays on screen.
func (c *SessionController) StopContinuous() {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()
	if loop == nil {
		return
	}
	loop.stop()
}

func (c *SessionController) runContinuous(ctx context.Context, loop *continuousLoop) {
	defer func() {
		c.mu.Lock()
		if c.loop == loop {
			c.loop = nil
		}
		c.mu.Unlock()
		// The Running slot may belong to a manual inference that started
		// during the inter-frame delay; every loop exit path already
		// restores the phase the loop itself acquired.
		c.store.Update(func(s domain.Snapshot) domain.Snapshot {
			s.ContinuousRunning = false
			return s
		})
		close(loop.done)
	}()

	frameNumber := 0
	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := c.capture.CaptureFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.failContinuous(frameNumber+1, err, false)
			return
		}
		if ctx.Err() != nil {
			frame.Release()
			return
		}
		frameNumber++

		// The engine works on its own copy; the session keeps the
		// original as the current subject.
		engineFrame := frame.Clone()
		c.installContinuousFrame(frame)

		snap, ok := c.store.UpdateIf(
			func(s domain.Snapshot) bool { return s.InferencePhase != domain.InferenceRunning },
			func(s domain.Snapshot) domain.Snapshot {
				s.InferencePhase = domain.InferenceRunning
				return s
			},
		)
		if !ok {
			// A manual inference slipped in; skip this frame.
			engineFrame.Release()
			if !c.waitFrameDelay(ctx) {
				return
			}
			continue
		}

		text, err := c.describeFrame(ctx, engineFrame, c.cfg.ImagePrompt)
		engineFrame.Release()
		if err != nil {
			if ctx.Err() != nil {
				c.store.Update(func(s domain.Snapshot) domain.Snapshot {
					s.InferencePhase = domain.InferenceIdle
					return s
				})
				return
			}
			c.failContinuous(frameNumber, err, true)
			return
		}

		display := text
		if snap.Language == domain.LanguageSpanish {
			display = c.translator.BestEffort(ctx, text, translate.ToTarget)
		}

		line := fmt.Sprintf("[Frame %d] %s", frameNumber, display)
		n := frameNumber
		c.store.Update(func(s domain.Snapshot) domain.Snapshot {
			s.InferencePhase = domain.InferenceDone
			s.ResponseText = line
			s.ContinuousFrameCount = n
			return s
		})

		c.speech.Speak(display, snap.Language)

		if !c.waitFrameDelay(ctx) {
			return
		}
	}
}

func (c *SessionController) installContinuousFrame(frame *domain.Frame) {
	c.mu.Lock()
	if old := c.frame; old != nil && old != frame {
		old.Release()
	}
	c.frame = frame
	c.video = nil
	c.mu.Unlock()

	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		s.Subject = domain.SubjectPhoto
		return s
	})
}

// failContinuous publishes the failure that ends the loop. ownsSlot says the
// loop holds the Running slot for its own describe; a capture failure does
// not, and must never flip the phase out from under a manual inference.
func (c *SessionController) failContinuous(frameNumber int, err error, ownsSlot bool) {
	c.events.SessionError(domain.ErrorCodeInference, err.Error())
	c.store.Update(func(s domain.Snapshot) domain.Snapshot {
		if ownsSlot || s.InferencePhase != domain.InferenceRunning {
			s.InferencePhase = domain.InferenceError
		}
		s.ResponseText = fmt.Sprintf("[Frame %d] error: %s", frameNumber, err.Error())
		s.ErrorMessage = err.Error()
		return s
	})
}

// waitFrameDelay sleeps the configured inter-frame delay. It reports false
// when the loop was cancelled while waiting.
func (c *SessionController) waitFrameDelay(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.FrameDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
