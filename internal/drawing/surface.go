// Package drawing implements the freehand layer drawn over the video. The
// buffer follows its container's size; saved drawings carry the size they
// were drawn at so they can be replayed on any other size.
package drawing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"reelmark/internal/domain"
)

type Options struct {
	Color      color.RGBA
	Width      float64
	MaxHistory int
}

func DefaultOptions() Options {
	return Options{Color: color.RGBA{R: 0xff, A: 0xff}, Width: 3, MaxHistory: 50}
}

// Snapshot is what Save emits.
type Snapshot struct {
	Raster []byte
	Width  int
	Height int
}

// Drawing converts the snapshot into the annotation component.
func (s Snapshot) Drawing(at time.Time) domain.Drawing {
	return domain.Drawing{Raster: s.Raster, OriginalWidth: s.Width, OriginalHeight: s.Height, CapturedAt: at}
}

type point struct{ x, y float64 }

// Surface is a transparent RGBA buffer with its own undo history.
type Surface struct {
	mu       sync.Mutex
	opts     Options
	buf      *image.RGBA
	renderW  float64
	renderH  float64
	active   bool
	history  []*image.RGBA
	base     *image.RGBA
	stroking bool
	moved    bool
	last     point
}

func New(width, height int, opts Options) *Surface {
	if opts.Width <= 0 {
		opts.Width = DefaultOptions().Width
	}
	if opts.Color == (color.RGBA{}) {
		opts.Color = DefaultOptions().Color
	}
	return &Surface{
		opts:    opts,
		buf:     image.NewRGBA(image.Rect(0, 0, width, height)),
		renderW: float64(width),
		renderH: float64(height),
	}
}

func (s *Surface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.buf.Bounds()
	return b.Dx(), b.Dy()
}

// Resize reallocates the buffer at the container's new rendered size and
// copies the existing pixels across at the origin.
func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderW, s.renderH = float64(width), float64(height)
	if b := s.buf.Bounds(); b.Dx() == width && b.Dy() == height {
		return
	}
	next := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(next, next.Bounds(), s.buf, image.Point{}, draw.Src)
	s.buf = next
}

// SetRenderedSize records the on-screen size without touching the buffer.
func (s *Surface) SetRenderedSize(width, height float64) {
	s.mu.Lock()
	s.renderW, s.renderH = width, height
	s.mu.Unlock()
}

// ToBuffer maps viewport coordinates to buffer coordinates.
func (s *Surface) ToBuffer(x, y float64) (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toBufferLocked(x, y)
}

func (s *Surface) toBufferLocked(x, y float64) (float64, float64) {
	b := s.buf.Bounds()
	sx, sy := 1.0, 1.0
	if s.renderW > 0 {
		sx = float64(b.Dx()) / s.renderW
	}
	if s.renderH > 0 {
		sy = float64(b.Dy()) / s.renderH
	}
	return x * sx, y * sy
}

func (s *Surface) SetDrawingMode(on bool) {
	s.mu.Lock()
	s.active = on
	if !on {
		s.stroking = false
	}
	s.mu.Unlock()
}

func (s *Surface) DrawingMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// PointerDown starts a stroke. It reports false when drawing mode is off so
// the event can pass through to the video.
func (s *Surface) PointerDown(x, y float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	bx, by := s.toBufferLocked(x, y)
	s.stroking = true
	s.moved = false
	s.last = point{bx, by}
	return true
}

func (s *Surface) PointerMove(x, y float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	if !s.stroking {
		return true
	}
	bx, by := s.toBufferLocked(x, y)
	next := point{bx, by}
	if next == s.last {
		return true
	}
	s.strokeLocked(s.last, next)
	s.last = next
	s.moved = true
	return true
}

// PointerUp ends the stroke; a stroke that moved is pushed onto the history.
func (s *Surface) PointerUp(x, y float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	if !s.stroking {
		return true
	}
	bx, by := s.toBufferLocked(x, y)
	if next := (point{bx, by}); next != s.last {
		s.strokeLocked(s.last, next)
		s.moved = true
	}
	if s.moved {
		s.pushLocked()
	}
	s.stroking = false
	s.moved = false
	return true
}

func (s *Surface) pushLocked() {
	s.history = append(s.history, cloneRGBA(s.buf))
	if s.opts.MaxHistory > 0 && len(s.history) > s.opts.MaxHistory {
		s.history = append(s.history[:0:0], s.history[len(s.history)-s.opts.MaxHistory:]...)
	}
}

func (s *Surface) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Undo drops the last stroke. With nothing left the buffer returns to the
// displayed drawing, or blank. Undo on an empty history does nothing.
func (s *Surface) Undo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return
	}
	s.history = s.history[:len(s.history)-1]
	clearRGBA(s.buf)
	switch {
	case len(s.history) > 0:
		draw.Draw(s.buf, s.buf.Bounds(), s.history[len(s.history)-1], image.Point{}, draw.Src)
	case s.base != nil:
		draw.Draw(s.buf, s.buf.Bounds(), s.base, image.Point{}, draw.Src)
	}
}

// Clear empties the history and the buffer.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.base = nil
	s.stroking = false
	clearRGBA(s.buf)
}

// Save encodes the buffer as PNG at its current size.
func (s *Surface) Save() (Snapshot, error) {
	s.mu.Lock()
	img := cloneRGBA(s.buf)
	s.mu.Unlock()
	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return Snapshot{}, fmt.Errorf("encode drawing: %w", err)
	}
	b := img.Bounds()
	return Snapshot{Raster: out.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

// Empty reports whether nothing has been drawn.
func (s *Surface) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 3; i < len(s.buf.Pix); i += 4 {
		if s.buf.Pix[i] != 0 {
			return false
		}
	}
	return true
}

// ScaleFactors returns the replay scale from the stored canvas size to the
// target buffer. Missing stored dimensions give 1.
func ScaleFactors(storedW, storedH, bufW, bufH int) (float64, float64) {
	sx, sy := 1.0, 1.0
	if storedW > 0 {
		sx = float64(bufW) / float64(storedW)
	}
	if storedH > 0 {
		sy = float64(bufH) / float64(storedH)
	}
	return sx, sy
}

// Display replaces the buffer with a saved drawing scaled to the current
// buffer and returns the scale used. The history is reset; undo returns to
// the displayed drawing.
func (s *Surface) Display(d domain.Drawing) (float64, float64, error) {
	if len(d.Raster) == 0 {
		return 0, 0, errors.New("drawing has no raster")
	}
	src, err := png.Decode(bytes.NewReader(d.Raster))
	if err != nil {
		return 0, 0, fmt.Errorf("decode drawing: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.buf.Bounds()
	sx, sy := ScaleFactors(d.OriginalWidth, d.OriginalHeight, b.Dx(), b.Dy())
	clearRGBA(s.buf)
	sb := src.Bounds()
	dst := image.Rect(0, 0, int(math.Round(float64(sb.Dx())*sx)), int(math.Round(float64(sb.Dy())*sy)))
	draw.BiLinear.Scale(s.buf, dst, src, sb, draw.Over, nil)
	s.history = nil
	s.base = cloneRGBA(s.buf)
	return sx, sy, nil
}

// Render scales a stored drawing to width x height without a live surface.
func Render(d domain.Drawing, width, height int) (*image.RGBA, error) {
	s := New(width, height, DefaultOptions())
	if _, _, err := s.Display(d); err != nil {
		return nil, err
	}
	return s.Image(), nil
}

// Image returns a copy of the buffer.
func (s *Surface) Image() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRGBA(s.buf)
}

func (s *Surface) SetStyle(c color.RGBA, width float64) {
	s.mu.Lock()
	s.opts.Color = c
	if width > 0 {
		s.opts.Width = width
	}
	s.mu.Unlock()
}

func (s *Surface) strokeLocked(from, to point) {
	r := s.opts.Width / 2
	dx, dy := to.x-from.x, to.y-from.y
	length := math.Hypot(dx, dy)
	src := image.NewUniform(s.opts.Color)
	b := s.buf.Bounds()
	if length > 0 {
		nx, ny := -dy/length*r, dx/length*r
		z := vector.NewRasterizer(b.Dx(), b.Dy())
		z.DrawOp = draw.Over
		z.MoveTo(float32(from.x+nx), float32(from.y+ny))
		z.LineTo(float32(to.x+nx), float32(to.y+ny))
		z.LineTo(float32(to.x-nx), float32(to.y-ny))
		z.LineTo(float32(from.x-nx), float32(from.y-ny))
		z.ClosePath()
		z.Draw(s.buf, b, src, image.Point{})
	}
	s.discLocked(from, r, src)
	s.discLocked(to, r, src)
}

func (s *Surface) discLocked(c point, r float64, src image.Image) {
	const segments = 16
	b := s.buf.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	z.MoveTo(float32(c.x+r), float32(c.y))
	for i := 1; i < segments; i++ {
		a := 2 * math.Pi * float64(i) / segments
		z.LineTo(float32(c.x+r*math.Cos(a)), float32(c.y+r*math.Sin(a)))
	}
	z.ClosePath()
	z.Draw(s.buf, b, src, image.Point{})
}

func cloneRGBA(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}

func clearRGBA(img *image.RGBA) {
	for i := range img.Pix {
		img.Pix[i] = 0
	}
}

// ParseHexColor parses #rrggbb.
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
