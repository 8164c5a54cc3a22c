package embed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reelmark/internal/playback"
)

const (
	backendName         = "embedded"
	DefaultPollInterval = 100 * time.Millisecond
)

// Adapter wraps a Player. While playing, CurrentTime is polled every
// interval and reported as a time update; polling stops on pause or end.
// Seeks, pauses and ends advance epoch; a poll whose epoch moved while it was
// reading the player is discarded.
type Adapter struct {
	playback.Emitter

	player   Player
	locator  string
	interval time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	ready     bool
	destroyed bool
	playing   bool
	muted     bool
	volume    float64
	duration  float64
	current   float64
	epoch     uint64
	stop      chan struct{}
	container *playback.Container
}

func New(locator string, player Player, interval time.Duration, log zerolog.Logger) *Adapter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Adapter{
		player:   player,
		locator:  locator,
		interval: interval,
		log:      log.With().Str("backend", backendName).Logger(),
	}
}

func (a *Adapter) Initialize(ctx context.Context, c *playback.Container) error {
	a.mu.Lock()
	destroyed := a.destroyed
	a.mu.Unlock()
	if destroyed {
		return &playback.InitializationError{Backend: backendName, Reason: "adapter destroyed"}
	}
	if c == nil {
		return &playback.InitializationError{Backend: backendName, Reason: "no container"}
	}
	id, err := ParseVideoID(a.locator)
	if err != nil {
		return &playback.InitializationError{Backend: backendName, Reason: "invalid locator", Err: err}
	}
	if err := c.Claim(a); err != nil {
		return &playback.InitializationError{Backend: backendName, Reason: "container unavailable", Err: err}
	}
	a.player.OnStateChange(a.onState)
	a.player.OnError(a.onError)
	if err := a.player.Load(ctx, id); err != nil {
		c.Release(a)
		reason := "source rejected"
		var pe *PlayerError
		if errors.As(err, &pe) && pe.EmbeddingDisallowed() {
			reason = "embedding disallowed"
		}
		a.log.Warn().Err(err).Str("video", id).Msg("embedded player rejected source")
		return &playback.InitializationError{Backend: backendName, Reason: reason, Err: err}
	}
	if c.Gone() {
		c.Release(a)
		_ = a.player.Destroy()
		return &playback.InitializationError{Backend: backendName, Reason: "container removed before attachment", Err: playback.ErrContainerGone}
	}
	duration, err := a.player.Duration()
	if err != nil {
		a.log.Warn().Err(err).Msg("read duration")
	}
	volume, err := a.player.Volume()
	if err != nil {
		volume = 100
	}
	muted, _ := a.player.IsMuted()

	a.mu.Lock()
	a.container = c
	a.duration = duration
	a.volume = float64(volume) / 100
	a.muted = muted
	a.ready = true
	a.mu.Unlock()
	a.EmitReady()
	return nil
}

func (a *Adapter) onState(s State) {
	switch s {
	case StatePlaying:
		a.mu.Lock()
		if a.playing || a.destroyed {
			a.mu.Unlock()
			return
		}
		a.playing = true
		a.stop = make(chan struct{})
		go a.pollLoop(a.stop)
		a.mu.Unlock()
		a.EmitPlay()
	case StatePaused:
		if ep, ok := a.halt(); ok {
			a.EmitPauseAt(ep)
		}
	case StateEnded:
		ep, _ := a.halt()
		a.mu.Lock()
		if a.duration > 0 {
			a.current = a.duration
		}
		t := a.current
		a.mu.Unlock()
		a.EmitTimeUpdateAt(ep, t)
		a.EmitEndedAt(ep)
	}
}

func (a *Adapter) onError(code int) {
	perr := &playback.PlaybackBackendError{Backend: backendName, Code: code, Message: ErrorMessage(code)}
	a.log.Error().Int("code", code).Msg(perr.Message)
	a.EmitError(perr.Error())
}

// halt stops polling and opens a new epoch; it reports whether the adapter
// was playing.
func (a *Adapter) halt() (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.playing {
		return a.epoch, false
	}
	a.playing = false
	a.epoch++
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
	return a.epoch, true
}

func (a *Adapter) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.poll()
		}
	}
}

// poll reads the player's playhead once and reports it.
func (a *Adapter) poll() {
	a.mu.Lock()
	playing, ep := a.playing, a.epoch
	a.mu.Unlock()
	if !playing {
		return
	}
	t, err := a.player.CurrentTime()
	if err != nil {
		a.log.Debug().Err(err).Msg("poll current time")
		return
	}
	a.mu.Lock()
	if !a.playing || a.epoch != ep {
		a.mu.Unlock()
		return
	}
	a.current = t
	a.mu.Unlock()
	a.EmitTimeUpdateAt(ep, t)
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
		var pe *PlayerError
		if errors.As(err, &pe) {
			perr.Code = pe.Code
		}
		a.EmitError(perr.Error())
		return perr
	}
	return nil
}

func (a *Adapter) Play() error  { return a.command("play", a.player.PlayVideo) }
func (a *Adapter) Pause() error { return a.command("pause", a.player.PauseVideo) }

func (a *Adapter) Seek(t float64) error {
	err := a.command("seek", func() error {
		if t < 0 {
			t = 0
		}
		a.mu.Lock()
		if a.duration > 0 && t > a.duration {
			t = a.duration
		}
		a.mu.Unlock()
		return a.player.SeekTo(t)
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.epoch++
	ep := a.epoch
	a.current = t
	a.mu.Unlock()
	a.EmitTimeUpdateAt(ep, t)
	return nil
}

func (a *Adapter) SetVolume(v float64) error {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	err := a.command("set volume", func() error { return a.player.SetVolume(int(v*100 + 0.5)) })
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.volume = v
	muted := a.muted
	a.mu.Unlock()
	a.EmitVolumeChange(v, muted)
	return nil
}

func (a *Adapter) Mute() error   { return a.setMuted(true) }
func (a *Adapter) Unmute() error { return a.setMuted(false) }

func (a *Adapter) setMuted(m bool) error {
	op, fn := "mute", a.player.Mute
	if !m {
		op, fn = "unmute", a.player.UnMute
	}
	if err := a.command(op, fn); err != nil {
		return err
	}
	a.mu.Lock()
	a.muted = m
	v := a.volume
	a.mu.Unlock()
	a.EmitVolumeChange(v, m)
	return nil
}

func (a *Adapter) CurrentTime() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return 0
	}
	return a.current
}

func (a *Adapter) Duration() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return 0
	}
	return a.duration
}

func (a *Adapter) Volume() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return 0
	}
	return a.volume
}

func (a *Adapter) IsMuted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready && a.muted
}

func (a *Adapter) IsPlaying() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready && a.playing
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
	a.halt()
	if err := a.player.Destroy(); err != nil {
		a.log.Warn().Err(err).Msg("destroy embedded player")
	}
	a.Reset()
	if c != nil {
		c.Release(a)
	}
}

var _ playback.Adapter = (*Adapter)(nil)
