package playback

import "sync"

type listeners[F any] struct {
	next int
	fns  map[int]F
	keys []int
}

func (l *listeners[F]) add(fn F) int {
	if l.fns == nil {
		l.fns = map[int]F{}
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.keys = append(l.keys, id)
	return id
}

func (l *listeners[F]) remove(id int) {
	delete(l.fns, id)
	for i, k := range l.keys {
		if k == id {
			l.keys = append(l.keys[:i], l.keys[i+1:]...)
			break
		}
	}
}

func (l *listeners[F]) snapshot() []F {
	out := make([]F, 0, len(l.keys))
	for _, k := range l.keys {
		out = append(out, l.fns[k])
	}
	return out
}

type eventKind int

const (
	evReady eventKind = iota
	evPlay
	evPause
	evTimeUpdate
	evEnded
	evVolume
	evError
)

type event struct {
	kind   eventKind
	t      float64
	muted  bool
	msg    string
	epoch  uint64
	tagged bool
}

// Emitter is the listener registry backends embed. Events are delivered in
// the order they were emitted, one at a time; an event emitted from inside a
// listener is delivered after that listener returns. While playing, time
// updates that would move backwards are dropped until the next Seeked.
//
// Backends that read the playhead outside their own lock number their
// readings with an epoch they advance on every seek, pause and end, and report
// them through the *At methods. A reading from an epoch older than one already
// delivered is dropped; a reading from a newer epoch resets the backwards
// filter to its own value.
type Emitter struct {
	mu       sync.Mutex
	ready    listeners[func()]
	play     listeners[func()]
	pause    listeners[func()]
	time     listeners[func(float64)]
	ended    listeners[func()]
	volume   listeners[func(float64, bool)]
	errs     listeners[func(string)]
	queue    []event
	draining bool
	playing  bool
	last     float64
	epoch    uint64
}

func (e *Emitter) subscribe(add func() int, remove func(int)) func() {
	e.mu.Lock()
	id := add()
	e.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			remove(id)
			e.mu.Unlock()
		})
	}
}

func (e *Emitter) OnReady(fn func()) func() {
	return e.subscribe(func() int { return e.ready.add(fn) }, e.ready.remove)
}

func (e *Emitter) OnPlay(fn func()) func() {
	return e.subscribe(func() int { return e.play.add(fn) }, e.play.remove)
}

func (e *Emitter) OnPause(fn func()) func() {
	return e.subscribe(func() int { return e.pause.add(fn) }, e.pause.remove)
}

func (e *Emitter) OnTimeUpdate(fn func(float64)) func() {
	return e.subscribe(func() int { return e.time.add(fn) }, e.time.remove)
}

func (e *Emitter) OnEnded(fn func()) func() {
	return e.subscribe(func() int { return e.ended.add(fn) }, e.ended.remove)
}

func (e *Emitter) OnVolumeChange(fn func(float64, bool)) func() {
	return e.subscribe(func() int { return e.volume.add(fn) }, e.volume.remove)
}

func (e *Emitter) OnError(fn func(string)) func() {
	return e.subscribe(func() int { return e.errs.add(fn) }, e.errs.remove)
}

func (e *Emitter) EmitReady()                         { e.dispatch(event{kind: evReady}) }
func (e *Emitter) EmitPlay()                          { e.dispatch(event{kind: evPlay}) }
func (e *Emitter) EmitPause()                         { e.dispatch(event{kind: evPause}) }
func (e *Emitter) EmitTimeUpdate(t float64)           { e.dispatch(event{kind: evTimeUpdate, t: t}) }
func (e *Emitter) EmitEnded()                         { e.dispatch(event{kind: evEnded}) }
func (e *Emitter) EmitVolumeChange(v float64, m bool) { e.dispatch(event{kind: evVolume, t: v, muted: m}) }
func (e *Emitter) EmitError(message string)           { e.dispatch(event{kind: evError, msg: message}) }

// EmitTimeUpdateAt reports a playhead reading taken during epoch.
func (e *Emitter) EmitTimeUpdateAt(epoch uint64, t float64) {
	e.dispatch(event{kind: evTimeUpdate, t: t, epoch: epoch, tagged: true})
}

// EmitPauseAt reports a pause that opened epoch.
func (e *Emitter) EmitPauseAt(epoch uint64) {
	e.dispatch(event{kind: evPause, epoch: epoch, tagged: true})
}

// EmitEndedAt reports the end of media, which opened epoch.
func (e *Emitter) EmitEndedAt(epoch uint64) {
	e.dispatch(event{kind: evEnded, epoch: epoch, tagged: true})
}

// Seeked resets the monotonic time filter to t.
func (e *Emitter) Seeked(t float64) {
	e.mu.Lock()
	e.last = t
	e.mu.Unlock()
}

// Reset detaches every listener and drops queued events.
func (e *Emitter) Reset() {
	e.mu.Lock()
	e.ready = listeners[func()]{}
	e.play = listeners[func()]{}
	e.pause = listeners[func()]{}
	e.time = listeners[func(float64)]{}
	e.ended = listeners[func()]{}
	e.volume = listeners[func(float64, bool)]{}
	e.errs = listeners[func(string)]{}
	e.queue = nil
	e.epoch = 0
	e.last = 0
	e.mu.Unlock()
}

func (e *Emitter) dispatch(ev event) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		deliver := e.prepareLocked(next)
		e.mu.Unlock()
		if deliver != nil {
			deliver()
		}
		e.mu.Lock()
	}
	e.draining = false
	e.mu.Unlock()
}

func (e *Emitter) prepareLocked(ev event) func() {
	if ev.tagged && ev.epoch > e.epoch && ev.kind != evTimeUpdate {
		e.epoch = ev.epoch
	}
	switch ev.kind {
	case evReady:
		return callAll(e.ready.snapshot())
	case evPlay:
		e.playing = true
		return callAll(e.play.snapshot())
	case evPause:
		e.playing = false
		return callAll(e.pause.snapshot())
	case evEnded:
		e.playing = false
		return callAll(e.ended.snapshot())
	case evTimeUpdate:
		switch {
		case ev.tagged && ev.epoch < e.epoch:
			return nil
		case ev.tagged && ev.epoch > e.epoch:
			e.epoch = ev.epoch
		case e.playing && ev.t < e.last:
			return nil
		}
		e.last = ev.t
		fns := e.time.snapshot()
		return func() {
			for _, fn := range fns {
				fn(ev.t)
			}
		}
	case evVolume:
		fns := e.volume.snapshot()
		return func() {
			for _, fn := range fns {
				fn(ev.t, ev.muted)
			}
		}
	case evError:
		fns := e.errs.snapshot()
		return func() {
			for _, fn := range fns {
				fn(ev.msg)
			}
		}
	}
	return nil
}

func callAll(fns []func()) func() {
	return func() {
		for _, fn := range fns {
			fn()
		}
	}
}
