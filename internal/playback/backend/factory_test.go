package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelmark/internal/domain"
	"reelmark/internal/playback/embed"
	"reelmark/internal/playback/local"
)

func TestNewSelectsBySourceKind(t *testing.T) {
	a, err := New(domain.Video{ID: "v1", SourceKind: domain.SourceLocal, MediaLocator: "match.mp4"}, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &local.Adapter{}, a)

	a, err = New(domain.Video{ID: "v2", SourceKind: domain.SourceEmbedded, MediaLocator: "dQw4w9WgXcQ"}, Deps{BridgeURL: "ws://127.0.0.1:1/bridge"})
	require.NoError(t, err)
	assert.IsType(t, &embed.Adapter{}, a)

	_, err = New(domain.Video{ID: "v3", SourceKind: domain.SourceEmbedded, MediaLocator: "dQw4w9WgXcQ"}, Deps{})
	assert.Error(t, err)

	_, err = New(domain.Video{ID: "v4", SourceKind: "vhs"}, Deps{})
	assert.Error(t, err)
}
