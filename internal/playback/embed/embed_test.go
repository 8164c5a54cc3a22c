package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelmark/internal/playback"
)

const testID = "dQw4w9WgXcQ"

type fakePlayer struct {
	mu       sync.Mutex
	loadErr  error
	time     float64
	duration float64
	onState  func(State)
	onError  func(int)
	reads    int

	// afterRead runs once, after the next CurrentTime has read the playhead.
	afterRead func()
}

func (f *fakePlayer) Load(ctx context.Context, id string) error { return f.loadErr }
func (f *fakePlayer) PlayVideo() error                          { f.onState(StatePlaying); return nil }
func (f *fakePlayer) PauseVideo() error                         { f.onState(StatePaused); return nil }
func (f *fakePlayer) SeekTo(s float64) error {
	f.mu.Lock()
	f.time = s
	f.mu.Unlock()
	return nil
}
func (f *fakePlayer) SetVolume(int) error { return nil }
func (f *fakePlayer) Mute() error         { return nil }
func (f *fakePlayer) UnMute() error       { return nil }
func (f *fakePlayer) CurrentTime() (float64, error) {
	f.mu.Lock()
	f.reads++
	t, hook := f.time, f.afterRead
	f.afterRead = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return t, nil
}

func (f *fakePlayer) setAfterRead(fn func()) {
	f.mu.Lock()
	f.afterRead = fn
	f.mu.Unlock()
}
func (f *fakePlayer) Duration() (float64, error)   { return f.duration, nil }
func (f *fakePlayer) Volume() (int, error)         { return 80, nil }
func (f *fakePlayer) IsMuted() (bool, error)       { return false, nil }
func (f *fakePlayer) OnStateChange(fn func(State)) { f.onState = fn }
func (f *fakePlayer) OnError(fn func(int))         { f.onError = fn }
func (f *fakePlayer) Destroy() error               { return nil }

func (f *fakePlayer) setTime(t float64) {
	f.mu.Lock()
	f.time = t
	f.mu.Unlock()
}

func TestParseVideoID(t *testing.T) {
	for _, in := range []string{
		testID,
		"https://www.youtube.com/watch?v=" + testID + "&t=30",
		"https://youtu.be/" + testID,
		"https://www.youtube.com/embed/" + testID,
	} {
		id, err := ParseVideoID(in)
		require.NoError(t, err, in)
		assert.Equal(t, testID, id)
	}
	_, err := ParseVideoID("https://example.com/video.mp4")
	assert.Error(t, err)
}

func TestInitializeEmbeddingDisallowed(t *testing.T) {
	p := &fakePlayer{loadErr: &PlayerError{Code: 150}}
	a := New(testID, p, time.Hour, zerolog.Nop())
	err := a.Initialize(context.Background(), playback.NewContainer("root", 640, 360))
	var ie *playback.InitializationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "embedding disallowed", ie.Reason)
}

func TestPollingOnlyWhilePlaying(t *testing.T) {
	p := &fakePlayer{duration: 300}
	a := New(testID, p, time.Hour, zerolog.Nop())
	var times []float64
	a.OnTimeUpdate(func(t float64) { times = append(times, t) })
	require.NoError(t, a.Initialize(context.Background(), playback.NewContainer("root", 640, 360)))
	assert.Equal(t, 300.0, a.Duration())
	assert.Equal(t, 0.8, a.Volume())

	a.poll()
	assert.Empty(t, times, "no polling before play")

	require.NoError(t, a.Play())
	assert.True(t, a.IsPlaying())
	p.setTime(1.5)
	a.poll()
	p.setTime(1.6)
	a.poll()

	require.NoError(t, a.Pause())
	readsAtPause := p.reads
	p.setTime(9)
	a.poll()
	assert.Equal(t, readsAtPause, p.reads, "paused adapter must not read the player")
	assert.Equal(t, []float64{1.5, 1.6}, times)
	assert.Equal(t, 1.6, a.CurrentTime())
}

func TestPollSpanningSeekOrPauseIsDiscarded(t *testing.T) {
	p := &fakePlayer{duration: 300}
	a := New(testID, p, time.Hour, zerolog.Nop())
	var got []string
	var times []float64
	a.OnPause(func() { got = append(got, "pause") })
	a.OnTimeUpdate(func(t float64) {
		times = append(times, t)
		got = append(got, "time")
	})
	require.NoError(t, a.Initialize(context.Background(), playback.NewContainer("root", 640, 360)))
	require.NoError(t, a.Play())
	p.setTime(50)
	a.poll()

	p.setTime(50.1)
	p.setAfterRead(func() { require.NoError(t, a.Seek(10)) })
	a.poll()
	for _, v := range []float64{10.25, 10.5, 11} {
		p.setTime(v)
		a.poll()
	}
	assert.Equal(t, []float64{50, 10, 10.25, 10.5, 11}, times)
	assert.Equal(t, 11.0, a.CurrentTime())

	p.setTime(11.1)
	p.setAfterRead(func() { require.NoError(t, a.Pause()) })
	a.poll()
	assert.Equal(t, "pause", got[len(got)-1], "no time update after pause")
	assert.Equal(t, 11.0, a.CurrentTime())
}

func TestEndedAndErrors(t *testing.T) {
	p := &fakePlayer{duration: 60}
	a := New(testID, p, time.Hour, zerolog.Nop())
	var ended bool
	var msg string
	a.OnEnded(func() { ended = true })
	a.OnError(func(m string) { msg = m })
	require.NoError(t, a.Initialize(context.Background(), playback.NewContainer("root", 640, 360)))
	require.NoError(t, a.Play())
	p.onState(StateEnded)
	assert.True(t, ended)
	assert.False(t, a.IsPlaying())
	assert.Equal(t, 60.0, a.CurrentTime())

	p.onError(100)
	assert.Contains(t, msg, "not found")
	a.Destroy()
	a.Destroy()
}

// bridge is a scripted stand-in for the page hosting the player.
func bridge(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		current := 0.0
		for {
			var req wireRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			reply := map[string]any{"id": req.ID}
			var event map[string]any
			switch req.Method {
			case "loadVideoById":
				if req.Params[0] == "blockedVide" {
					reply["error"] = map[string]any{"code": 150}
				}
			case "playVideo":
				event = map[string]any{"event": "stateChange", "data": 1}
			case "pauseVideo":
				event = map[string]any{"event": "stateChange", "data": 2}
			case "seekTo":
				current = req.Params[0].(float64)
			case "getCurrentTime":
				reply["result"] = current
			case "getDuration":
				reply["result"] = 212.5
			case "getVolume":
				reply["result"] = 50
			case "isMuted":
				reply["result"] = true
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
			if event != nil {
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWSPlayerBridge(t *testing.T) {
	srv := bridge(t)
	defer srv.Close()

	player := NewWSPlayer(wsURL(srv), zerolog.Nop())
	a := New(testID, player, 10*time.Millisecond, zerolog.Nop())
	require.NoError(t, a.Initialize(context.Background(), playback.NewContainer("root", 640, 360)))
	assert.Equal(t, 212.5, a.Duration())
	assert.Equal(t, 0.5, a.Volume())
	assert.True(t, a.IsMuted())

	require.NoError(t, a.Seek(42))
	require.NoError(t, a.Play())
	require.Eventually(t, a.IsPlaying, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.CurrentTime() == 42 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Pause())
	require.Eventually(t, func() bool { return !a.IsPlaying() }, time.Second, 5*time.Millisecond)
	a.Destroy()

	_, err := player.CurrentTime()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWSPlayerRejectedLoad(t *testing.T) {
	srv := bridge(t)
	defer srv.Close()
	player := NewWSPlayer(wsURL(srv), zerolog.Nop())
	defer player.Destroy()
	err := player.Load(context.Background(), "blockedVide")
	var pe *PlayerError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.EmbeddingDisallowed())
}

func TestWireMessageDecodesEvents(t *testing.T) {
	var msg wireMessage
	require.NoError(t, json.Unmarshal([]byte(`{"event":"error","data":101}`), &msg))
	assert.Equal(t, "error", msg.Event)
	assert.Equal(t, "101", string(msg.Data))
}
