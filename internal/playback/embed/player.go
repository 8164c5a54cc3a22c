// Package embed plays videos hosted by a third-party service through its
// embeddable player. The player exposes no time-update event, so the adapter
// polls it while playing.
package embed

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// State mirrors the embedded player's state codes.
type State int

const (
	StateUnstarted State = -1
	StateEnded     State = 0
	StatePlaying   State = 1
	StatePaused    State = 2
	StateBuffering State = 3
	StateCued      State = 5
)

// Player is the embedded player API.
type Player interface {
	Load(ctx context.Context, videoID string) error
	PlayVideo() error
	PauseVideo() error
	SeekTo(seconds float64) error
	SetVolume(percent int) error
	Mute() error
	UnMute() error

	CurrentTime() (float64, error)
	Duration() (float64, error)
	Volume() (int, error)
	IsMuted() (bool, error)

	OnStateChange(fn func(State))
	OnError(fn func(code int))
	Destroy() error
}

// PlayerError carries an embedded player error code.
type PlayerError struct {
	Code int
}

func (e *PlayerError) Error() string {
	return fmt.Sprintf("player error %d: %s", e.Code, ErrorMessage(e.Code))
}

// EmbeddingDisallowed reports codes the service uses when the owner blocks embeds.
func (e *PlayerError) EmbeddingDisallowed() bool {
	return e.Code == 101 || e.Code == 150
}

func ErrorMessage(code int) string {
	switch code {
	case 2:
		return "invalid video id"
	case 5:
		return "video cannot be played in the html5 player"
	case 100:
		return "video not found or private"
	case 101, 150:
		return "embedding disabled by the video owner"
	default:
		return "unknown player error"
	}
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ParseVideoID extracts the service video id from a bare id or a watch,
// short or embed URL.
func ParseVideoID(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if videoIDPattern.MatchString(locator) {
		return locator, nil
	}
	u, err := url.Parse(locator)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid embedded locator %q", locator)
	}
	var id string
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch {
	case host == "youtu.be":
		id = strings.Trim(u.Path, "/")
	case strings.HasPrefix(u.Path, "/embed/"), strings.HasPrefix(u.Path, "/shorts/"), strings.HasPrefix(u.Path, "/live/"):
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 {
			id = parts[1]
		}
	default:
		id = u.Query().Get("v")
	}
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("invalid embedded locator %q", locator)
	}
	return id, nil
}
