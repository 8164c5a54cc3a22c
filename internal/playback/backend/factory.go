// Package backend selects the playback adapter for a video.
package backend

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reelmark/internal/domain"
	"reelmark/internal/playback"
	"reelmark/internal/playback/embed"
	"reelmark/internal/playback/local"
)

// Deps carries what the backends need. Zero values get defaults.
type Deps struct {
	Element            local.Element
	FFprobePath        string
	TimeUpdateInterval time.Duration

	Player       embed.Player
	BridgeURL    string
	PollInterval time.Duration

	Log zerolog.Logger
}

// New picks the adapter by source kind alone.
func New(v domain.Video, deps Deps) (playback.Adapter, error) {
	switch v.SourceKind {
	case domain.SourceLocal:
		el := deps.Element
		if el == nil {
			el = local.NewFileElement(local.FFprobe(deps.FFprobePath), deps.TimeUpdateInterval)
		}
		return local.New(v.MediaLocator, el, deps.Log), nil
	case domain.SourceEmbedded:
		p := deps.Player
		if p == nil {
			if deps.BridgeURL == "" {
				return nil, fmt.Errorf("embedded video %s needs a player bridge url", v.ID)
			}
			p = embed.NewWSPlayer(deps.BridgeURL, deps.Log)
		}
		return embed.New(v.MediaLocator, p, deps.PollInterval, deps.Log), nil
	default:
		return nil, fmt.Errorf("unknown source kind: %s", v.SourceKind)
	}
}
