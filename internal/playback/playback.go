// Package playback defines the contract shared by every media backend: the
// Adapter interface, its event registry, the error taxonomy and the container
// an adapter attaches to.
package playback

import (
	"context"
	"fmt"
)

// Adapter normalizes one media backend. Commands fail with NotReadyError until
// Ready has fired; reads return zero values until then.
type Adapter interface {
	Initialize(ctx context.Context, c *Container) error
	Play() error
	Pause() error
	Seek(t float64) error
	SetVolume(v float64) error
	Mute() error
	Unmute() error

	CurrentTime() float64
	Duration() float64
	Volume() float64
	IsMuted() bool
	IsPlaying() bool

	// Destroy releases the backend and detaches all listeners. Safe to call twice.
	Destroy()

	Events
}

// Events is the subscription side of an Adapter. Each On* returns an
// unsubscribe func.
type Events interface {
	OnReady(fn func()) func()
	OnPlay(fn func()) func()
	OnPause(fn func()) func()
	OnTimeUpdate(fn func(t float64)) func()
	OnEnded(fn func()) func()
	OnVolumeChange(fn func(v float64, muted bool)) func()
	OnError(fn func(message string)) func()
}

// InitializationError is terminal: the backend rejected the source or the
// container vanished before attachment.
type InitializationError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *InitializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s playback init: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s playback init: %s", e.Backend, e.Reason)
}

func (e *InitializationError) Unwrap() error { return e.Err }

type NotReadyError struct {
	Op string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("playback not ready: %s", e.Op)
}

// PlaybackBackendError is a runtime failure reported by the backend. Code is
// backend specific (0 when the backend has none).
type PlaybackBackendError struct {
	Backend string
	Code    int
	Message string
}

func (e *PlaybackBackendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s playback error %d: %s", e.Backend, e.Code, e.Message)
	}
	return fmt.Sprintf("%s playback error: %s", e.Backend, e.Message)
}

// FormatTime renders seconds as m:ss, or h:mm:ss past the hour.
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
