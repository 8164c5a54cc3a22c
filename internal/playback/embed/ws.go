package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	defaultTimeout = 5 * time.Second
	eventChSize    = 64
)

var ErrClosed = errors.New("player bridge closed")

type wireRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type wireMessage struct {
	ID     int64           `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type reply struct {
	result json.RawMessage
	err    error
}

// WSPlayer is a Player reached over a websocket bridge to the page hosting
// the embedded player. Requests are {id, method, params}; the bridge answers
// {id, result} or {id, error:{code}} and pushes {event:"stateChange"|"error", data}.
type WSPlayer struct {
	URL     string
	Timeout time.Duration
	Dialer  *websocket.Dialer

	log zerolog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	pending map[int64]chan reply
	onState func(State)
	onError func(int)
	events  chan wireMessage
	done    chan struct{}
	closed  bool
}

func NewWSPlayer(url string, log zerolog.Logger) *WSPlayer {
	return &WSPlayer{
		URL:     url,
		Timeout: defaultTimeout,
		Dialer:  websocket.DefaultDialer,
		log:     log.With().Str("bridge", url).Logger(),
		pending: map[int64]chan reply{},
		events:  make(chan wireMessage, eventChSize),
		done:    make(chan struct{}),
	}
}

func (p *WSPlayer) OnStateChange(fn func(State)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *WSPlayer) OnError(fn func(code int)) {
	p.mu.Lock()
	p.onError = fn
	p.mu.Unlock()
}

func (p *WSPlayer) connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.conn != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	conn, _, err := p.Dialer.DialContext(ctx, p.URL, nil)
	if err != nil {
		return fmt.Errorf("dial player bridge: %w", err)
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	go p.readLoop(conn)
	go p.eventLoop()
	return nil
}

func (p *WSPlayer) Load(ctx context.Context, videoID string) error {
	if err := p.connect(ctx); err != nil {
		return err
	}
	_, err := p.call(ctx, "loadVideoById", videoID)
	return err
}

func (p *WSPlayer) PlayVideo() error  { return p.simple("playVideo") }
func (p *WSPlayer) PauseVideo() error { return p.simple("pauseVideo") }
func (p *WSPlayer) Mute() error       { return p.simple("mute") }
func (p *WSPlayer) UnMute() error     { return p.simple("unMute") }

func (p *WSPlayer) SeekTo(seconds float64) error {
	return p.simple("seekTo", seconds, true)
}

func (p *WSPlayer) SetVolume(percent int) error {
	return p.simple("setVolume", percent)
}

func (p *WSPlayer) CurrentTime() (float64, error) {
	var t float64
	err := p.get("getCurrentTime", &t)
	return t, err
}

func (p *WSPlayer) Duration() (float64, error) {
	var d float64
	err := p.get("getDuration", &d)
	return d, err
}

func (p *WSPlayer) Volume() (int, error) {
	var v int
	err := p.get("getVolume", &v)
	return v, err
}

func (p *WSPlayer) IsMuted() (bool, error) {
	var m bool
	err := p.get("isMuted", &m)
	return m, err
}

func (p *WSPlayer) simple(method string, params ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout())
	defer cancel()
	_, err := p.call(ctx, method, params...)
	return err
}

func (p *WSPlayer) get(method string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout())
	defer cancel()
	raw, err := p.call(ctx, method)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (p *WSPlayer) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return defaultTimeout
}

func (p *WSPlayer) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	conn := p.conn
	if conn == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("%s: player bridge not connected", method)
	}
	p.nextID++
	id := p.nextID
	ch := make(chan reply, 1)
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	p.writeMu.Lock()
	err := conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err == nil {
		err = conn.WriteJSON(wireRequest{ID: id, Method: method, Params: params})
	}
	p.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case <-p.done:
		return nil, ErrClosed
	}
}

func (p *WSPlayer) readLoop(conn *websocket.Conn) {
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-p.done:
			default:
				p.log.Warn().Err(err).Msg("player bridge read")
				p.failPending(err)
			}
			return
		}
		if msg.Event != "" {
			select {
			case p.events <- msg:
			case <-p.done:
				return
			}
			continue
		}
		p.mu.Lock()
		ch, ok := p.pending[msg.ID]
		p.mu.Unlock()
		if !ok {
			p.log.Debug().Int64("id", msg.ID).Msg("reply without pending request")
			continue
		}
		r := reply{result: msg.Result}
		if msg.Error != nil {
			r.err = &PlayerError{Code: msg.Error.Code}
		}
		ch <- r
	}
}

// eventLoop delivers pushed events off the read goroutine so handlers may
// call back into the player.
func (p *WSPlayer) eventLoop() {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.events:
			var code int
			if err := json.Unmarshal(msg.Data, &code); err != nil {
				p.log.Debug().Str("event", msg.Event).Msg("malformed event payload")
				continue
			}
			p.mu.Lock()
			onState, onError := p.onState, p.onError
			p.mu.Unlock()
			switch msg.Event {
			case "stateChange":
				if onState != nil {
					onState(State(code))
				}
			case "error":
				if onError != nil {
					onError(code)
				}
			}
		}
	}
}

func (p *WSPlayer) failPending(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.pending {
		select {
		case ch <- reply{err: fmt.Errorf("player bridge: %w", err)}:
		default:
		}
		delete(p.pending, id)
	}
}

func (p *WSPlayer) Destroy() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	p.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	p.writeMu.Unlock()
	return conn.Close()
}

var _ Player = (*WSPlayer)(nil)
