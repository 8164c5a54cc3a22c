package playback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterMultipleListenersAndUnsubscribe(t *testing.T) {
	var e Emitter
	var a, b int
	unA := e.OnPlay(func() { a++ })
	e.OnPlay(func() { b++ })
	e.EmitPlay()
	unA()
	unA()
	e.EmitPlay()
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestEmitterOrdersReentrantEvents(t *testing.T) {
	var e Emitter
	var got []string
	e.OnTimeUpdate(func(t float64) {
		got = append(got, "time")
		if t >= 10 {
			e.EmitPause()
		}
	})
	e.OnPause(func() { got = append(got, "pause") })
	e.OnEnded(func() { got = append(got, "ended") })
	e.EmitPlay()
	e.EmitTimeUpdate(10)
	e.EmitEnded()
	assert.Equal(t, []string{"time", "pause", "ended"}, got)
}

func TestEmitterDropsBackwardTimeWhilePlaying(t *testing.T) {
	var e Emitter
	var times []float64
	e.OnTimeUpdate(func(t float64) { times = append(times, t) })
	e.EmitPlay()
	e.EmitTimeUpdate(5)
	e.EmitTimeUpdate(4)
	e.EmitTimeUpdate(6)
	e.Seeked(1)
	e.EmitTimeUpdate(1)
	assert.Equal(t, []float64{5, 6, 1}, times)
}

func TestEmitterDropsReadingsFromBeforeSeek(t *testing.T) {
	var e Emitter
	var times []float64
	e.OnTimeUpdate(func(t float64) { times = append(times, t) })
	e.EmitPlay()
	e.EmitTimeUpdateAt(1, 50)
	e.EmitTimeUpdateAt(2, 10)
	e.EmitTimeUpdateAt(1, 50.1)
	for _, v := range []float64{10.25, 10.5, 11, 20} {
		e.EmitTimeUpdateAt(2, v)
	}
	assert.Equal(t, []float64{50, 10, 10.25, 10.5, 11, 20}, times)
}

func TestEmitterDropsReadingsFromBeforePause(t *testing.T) {
	var e Emitter
	var got []string
	e.OnTimeUpdate(func(float64) { got = append(got, "time") })
	e.OnPause(func() { got = append(got, "pause") })
	e.EmitPlay()
	e.EmitTimeUpdateAt(0, 3)
	e.EmitPauseAt(1)
	e.EmitTimeUpdateAt(0, 3.1)
	e.EmitTimeUpdateAt(1, 3.1)
	assert.Equal(t, []string{"time", "pause", "time"}, got)
}

func TestEmitterReset(t *testing.T) {
	var e Emitter
	called := false
	e.OnError(func(string) { called = true })
	e.Reset()
	e.EmitError("x")
	assert.False(t, called)
}

func TestContainerClaim(t *testing.T) {
	c := NewContainer("root", 640, 360)
	first, second := new(int), new(int)
	require.NoError(t, c.Claim(first))
	require.NoError(t, c.Claim(first))
	assert.ErrorIs(t, c.Claim(second), ErrContainerBusy)
	c.Release(first)
	require.NoError(t, c.Claim(second))
	c.Detach()
	assert.True(t, errors.Is(c.Claim(new(int)), ErrContainerGone))
}

func TestContainerFullscreenAndResize(t *testing.T) {
	c := NewContainer("root", 640, 360)
	assert.True(t, c.ToggleFullscreen())
	assert.False(t, c.ToggleFullscreen())
	var w, h int
	c.OnResize(func(nw, nh int) { w, h = nw, nh })
	c.Resize(1280, 720)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "0:00", FormatTime(-1))
	assert.Equal(t, "1:05", FormatTime(65.9))
	assert.Equal(t, "1:01:01", FormatTime(3661))
}
