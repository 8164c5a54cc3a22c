package local

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"reelmark/internal/playback"
)

const backendName = "local"

// Adapter drives a native Element. Time updates come from the element itself.
type Adapter struct {
	playback.Emitter

	el      Element
	locator string
	log     zerolog.Logger

	mu        sync.Mutex
	ready     bool
	destroyed bool
	container *playback.Container
}

func New(locator string, el Element, log zerolog.Logger) *Adapter {
	return &Adapter{el: el, locator: locator, log: log.With().Str("backend", backendName).Logger()}
}

func (a *Adapter) Initialize(ctx context.Context, c *playback.Container) error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return &playback.InitializationError{Backend: backendName, Reason: "adapter destroyed"}
	}
	a.mu.Unlock()
	if c == nil {
		return &playback.InitializationError{Backend: backendName, Reason: "no container"}
	}
	if err := c.Claim(a); err != nil {
		return &playback.InitializationError{Backend: backendName, Reason: "container unavailable", Err: err}
	}
	a.el.SetHandler(a.handle)
	if err := a.el.Load(ctx, a.locator); err != nil {
		c.Release(a)
		a.log.Warn().Err(err).Str("locator", a.locator).Msg("media source rejected")
		return &playback.InitializationError{Backend: backendName, Reason: "source rejected", Err: err}
	}
	if err := ctx.Err(); err != nil {
		c.Release(a)
		return &playback.InitializationError{Backend: backendName, Reason: "cancelled", Err: err}
	}
	if c.Gone() {
		c.Release(a)
		return &playback.InitializationError{Backend: backendName, Reason: "container removed before attachment", Err: playback.ErrContainerGone}
	}
	a.mu.Lock()
	a.container = c
	a.ready = true
	a.mu.Unlock()
	a.log.Debug().Str("locator", a.locator).Float64("duration", a.el.Duration()).Msg("media ready")
	a.EmitReady()
	return nil
}

func (a *Adapter) handle(ev ElementEvent) {
	switch ev.Type {
	case EventPlay:
		a.EmitPlay()
	case EventPause:
		a.EmitPauseAt(ev.Epoch)
	case EventTimeUpdate:
		a.EmitTimeUpdateAt(ev.Epoch, ev.Time)
	case EventEnded:
		a.EmitEndedAt(ev.Epoch)
	case EventVolumeChange:
		a.EmitVolumeChange(ev.Volume, ev.Muted)
	case EventError:
		a.log.Error().Str("message", ev.Message).Msg("media element error")
		a.EmitError(ev.Message)
	}
}

func (a *Adapter) isReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready && !a.destroyed
}

func (a *Adapter) command(op string, fn func() error) error {
	if !a.isReady() {
		return &playback.NotReadyError{Op: op}
	}
	if err := fn(); err != nil {
		perr := &playback.PlaybackBackendError{Backend: backendName, Message: op + ": " + err.Error()}
		a.EmitError(perr.Message)
		return perr
	}
	return nil
}

func (a *Adapter) Play() error  { return a.command("play", a.el.Play) }
func (a *Adapter) Pause() error { return a.command("pause", a.el.Pause) }

func (a *Adapter) Seek(t float64) error {
	return a.command("seek", func() error {
		a.Seeked(t)
		return a.el.Seek(t)
	})
}

func (a *Adapter) SetVolume(v float64) error {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return a.command("set volume", func() error { return a.el.SetVolume(v) })
}

func (a *Adapter) Mute() error   { return a.command("mute", func() error { return a.el.SetMuted(true) }) }
func (a *Adapter) Unmute() error { return a.command("unmute", func() error { return a.el.SetMuted(false) }) }

func (a *Adapter) CurrentTime() float64 {
	if !a.isReady() {
		return 0
	}
	return a.el.CurrentTime()
}

func (a *Adapter) Duration() float64 {
	if !a.isReady() {
		return 0
	}
	return a.el.Duration()
}

func (a *Adapter) Volume() float64 {
	if !a.isReady() {
		return 0
	}
	return a.el.Volume()
}

func (a *Adapter) IsMuted() bool {
	return a.isReady() && a.el.Muted()
}

func (a *Adapter) IsPlaying() bool {
	return a.isReady() && !a.el.Paused()
}

func (a *Adapter) Destroy() {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.destroyed = true
	a.ready = false
	c := a.container
	a.container = nil
	a.mu.Unlock()
	if err := a.el.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close media element")
	}
	a.Reset()
	if c != nil {
		c.Release(a)
	}
}

var _ playback.Adapter = (*Adapter)(nil)
