package local

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ProbeFunc returns the media duration in seconds.
type ProbeFunc func(ctx context.Context, path string) (float64, error)

// FFprobe returns a ProbeFunc running the given ffprobe binary.
func FFprobe(bin string) ProbeFunc {
	if bin == "" {
		bin = "ffprobe"
	}
	return func(ctx context.Context, path string) (float64, error) {
		cmd := exec.CommandContext(ctx, bin, "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(out)))
		}
		var duration float64
		if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &duration); err != nil {
			return 0, fmt.Errorf("parse ffprobe duration: %w", err)
		}
		return duration, nil
	}
}

// FileElement is a headless media element over a local file. The playhead
// follows the wall clock while playing and reports timeupdate every Interval.
type FileElement struct {
	Probe    ProbeFunc
	Interval time.Duration
	Now      func() time.Time

	mu       sync.Mutex
	path     string
	duration float64
	position float64
	since    time.Time
	playing  bool
	volume   float64
	muted    bool
	epoch    uint64
	handler  func(ElementEvent)
	stop     chan struct{}
	closed   bool
}

func NewFileElement(probe ProbeFunc, interval time.Duration) *FileElement {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &FileElement{Probe: probe, Interval: interval, Now: time.Now, volume: 1}
}

func (f *FileElement) SetHandler(fn func(ElementEvent)) {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
}

func (f *FileElement) Load(ctx context.Context, locator string) error {
	info, err := os.Stat(locator)
	if err != nil {
		return fmt.Errorf("media file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("media file %s is a directory", locator)
	}
	var duration float64
	if f.Probe != nil {
		duration, err = f.Probe(ctx, locator)
		if err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.path = locator
	f.duration = duration
	f.position = 0
	f.mu.Unlock()
	return nil
}

func (f *FileElement) Play() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fmt.Errorf("element closed")
	}
	if f.playing {
		f.mu.Unlock()
		return nil
	}
	if f.duration > 0 && f.position >= f.duration {
		f.position = 0
	}
	f.playing = true
	f.since = f.Now()
	f.stop = make(chan struct{})
	go f.loop(f.stop, f.Interval)
	h := f.handler
	f.mu.Unlock()
	emit(h, ElementEvent{Type: EventPlay})
	return nil
}

func (f *FileElement) Pause() error {
	f.mu.Lock()
	if !f.playing {
		f.mu.Unlock()
		return nil
	}
	f.position = f.positionLocked()
	f.haltLocked()
	f.epoch++
	ep := f.epoch
	h := f.handler
	f.mu.Unlock()
	emit(h, ElementEvent{Type: EventPause, Epoch: ep})
	return nil
}

func (f *FileElement) Seek(t float64) error {
	f.mu.Lock()
	if t < 0 {
		t = 0
	}
	if f.duration > 0 && t > f.duration {
		t = f.duration
	}
	f.position = t
	f.since = f.Now()
	f.epoch++
	ep := f.epoch
	h := f.handler
	f.mu.Unlock()
	emit(h, ElementEvent{Type: EventTimeUpdate, Time: t, Epoch: ep})
	return nil
}

func (f *FileElement) SetVolume(v float64) error {
	f.mu.Lock()
	f.volume = v
	muted := f.muted
	h := f.handler
	f.mu.Unlock()
	emit(h, ElementEvent{Type: EventVolumeChange, Volume: v, Muted: muted})
	return nil
}

func (f *FileElement) SetMuted(muted bool) error {
	f.mu.Lock()
	f.muted = muted
	v := f.volume
	h := f.handler
	f.mu.Unlock()
	emit(h, ElementEvent{Type: EventVolumeChange, Volume: v, Muted: muted})
	return nil
}

func (f *FileElement) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positionLocked()
}

func (f *FileElement) Duration() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *FileElement) Volume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

func (f *FileElement) Muted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

func (f *FileElement) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.playing
}

// Tick advances the playhead and reports timeupdate, or ended once the
// duration is reached.
func (f *FileElement) Tick() {
	f.mu.Lock()
	if !f.playing {
		f.mu.Unlock()
		return
	}
	pos := f.positionLocked()
	ep := f.epoch
	h := f.handler
	if f.duration > 0 && pos >= f.duration {
		f.position = f.duration
		f.haltLocked()
		f.epoch++
		ep = f.epoch
		end := f.duration
		f.mu.Unlock()
		emit(h, ElementEvent{Type: EventTimeUpdate, Time: end, Epoch: ep})
		emit(h, ElementEvent{Type: EventEnded, Epoch: ep})
		return
	}
	f.mu.Unlock()
	emit(h, ElementEvent{Type: EventTimeUpdate, Time: pos, Epoch: ep})
}

func (f *FileElement) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.playing {
		f.position = f.positionLocked()
		f.haltLocked()
	}
	f.handler = nil
	return nil
}

func (f *FileElement) loop(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.Tick()
		}
	}
}

func (f *FileElement) positionLocked() float64 {
	if !f.playing {
		return f.position
	}
	pos := f.position + f.Now().Sub(f.since).Seconds()
	if f.duration > 0 && pos > f.duration {
		pos = f.duration
	}
	return pos
}

func (f *FileElement) haltLocked() {
	f.playing = false
	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
}

func emit(h func(ElementEvent), ev ElementEvent) {
	if h != nil {
		h(ev)
	}
}
