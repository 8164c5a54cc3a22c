// Package local plays media files hosted alongside the app through a native
// media element.
package local

import "context"

type EventType string

const (
	EventPlay         EventType = "play"
	EventPause        EventType = "pause"
	EventTimeUpdate   EventType = "timeupdate"
	EventEnded        EventType = "ended"
	EventVolumeChange EventType = "volumechange"
	EventError        EventType = "error"
)

// ElementEvent is what a native element reports to its handler. Epoch numbers
// the playhead readings: an element that tracks it advances it on every seek,
// pause and end. Elements that leave it zero get plain backwards filtering.
type ElementEvent struct {
	Type    EventType
	Time    float64
	Epoch   uint64
	Volume  float64
	Muted   bool
	Message string
}

// Element is the native media element the adapter wraps.
type Element interface {
	Load(ctx context.Context, locator string) error
	Play() error
	Pause() error
	Seek(t float64) error
	SetVolume(v float64) error
	SetMuted(muted bool) error

	CurrentTime() float64
	Duration() float64
	Volume() float64
	Muted() bool
	Paused() bool

	SetHandler(fn func(ElementEvent))
	Close() error
}
