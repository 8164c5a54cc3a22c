// Package timeline projects annotations onto a proportional time track and
// routes marker interactions to the player and the authoring controller.
package timeline

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"reelmark/internal/domain"
	"reelmark/internal/playback"
)

const ColorNone = "#6b7280"

var kindColors = map[domain.ComponentKind]string{
	domain.KindDrawing:  "#ef4444",
	domain.KindNote:     "#3b82f6",
	domain.KindLoop:     "#22c55e",
	domain.KindTags:     "#a855f7",
	domain.KindMentions: "#f59e0b",
}

// MarkerColor picks the color of the highest-precedence attached component.
func MarkerColor(a domain.Annotation) string {
	if kinds := a.Kinds(); len(kinds) > 0 {
		return kindColors[kinds[0]]
	}
	return ColorNone
}

// Position maps a timestamp onto a track of width pixels. Unknown durations
// put every marker at the origin.
func Position(t, duration, width float64) float64 {
	if duration <= 0 || width <= 0 || math.IsNaN(t) {
		return 0
	}
	p := t / duration * width
	return math.Max(0, math.Min(p, width))
}

type Action string

const (
	ActionRun    Action = "run"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

type Marker struct {
	AnnotationID string
	Title        string
	Start        float64
	X            float64
	Percent      float64
	Color        string
	Selected     bool
}

type Badge struct {
	Kind  domain.ComponentKind
	Label string
	Color string
}

type Tooltip struct {
	AnnotationID string
	Title        string
	Time         string
	Badges       []Badge
	Actions      []Action
}

// Source is the annotation list the view renders.
type Source interface {
	Annotations() []domain.Annotation
	Subscribe(fn func([]domain.Annotation)) func()
}

type Player interface {
	Seek(t float64) error
	CurrentTime() float64
	Duration() float64
}

// Permissions gates the Edit and Delete actions.
type Permissions interface {
	CanModify(a domain.Annotation) bool
}

type Options struct {
	TrackWidth    float64
	CategoryColor func(domain.TagCategory) string
	Log           zerolog.Logger
}

type View struct {
	src    Source
	player Player
	perms  Permissions
	opts   Options
	unsub  func()

	mu       sync.Mutex
	items    []domain.Annotation
	selected string
	onChange func([]Marker)
}

func New(src Source, player Player, perms Permissions, opts Options) *View {
	if opts.TrackWidth <= 0 {
		opts.TrackWidth = 1000
	}
	v := &View{src: src, player: player, perms: perms, opts: opts, items: src.Annotations()}
	v.unsub = src.Subscribe(v.update)
	return v
}

func (v *View) Close() {
	if v.unsub != nil {
		v.unsub()
	}
}

// OnChange registers fn to receive the markers whenever the list changes.
func (v *View) OnChange(fn func([]Marker)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

func (v *View) update(list []domain.Annotation) {
	v.mu.Lock()
	v.items = list
	if v.selected != "" && indexOf(list, v.selected) < 0 {
		v.selected = ""
	}
	fn := v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn(v.Markers())
	}
}

func (v *View) SetTrackWidth(w float64) {
	if w <= 0 {
		return
	}
	v.mu.Lock()
	v.opts.TrackWidth = w
	v.mu.Unlock()
}

func (v *View) TrackWidth() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.opts.TrackWidth
}

// Markers returns one marker per non-deleted annotation, ordered by start.
func (v *View) Markers() []Marker {
	duration := v.player.Duration()
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Marker, 0, len(v.items))
	for _, a := range v.items {
		if a.Deleted() {
			continue
		}
		x := Position(a.TimestampStart, duration, v.opts.TrackWidth)
		out = append(out, Marker{
			AnnotationID: a.ID,
			Title:        a.Title,
			Start:        a.TimestampStart,
			X:            x,
			Percent:      x / v.opts.TrackWidth * 100,
			Color:        MarkerColor(a),
			Selected:     a.ID == v.selected,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Playhead is the x coordinate of the current playback time.
func (v *View) Playhead() float64 {
	return Position(v.player.CurrentTime(), v.player.Duration(), v.TrackWidth())
}

// HitTest returns the marker nearest to x within tolerance pixels.
func (v *View) HitTest(x, tolerance float64) (Marker, bool) {
	var (
		best  Marker
		found bool
		dist  = math.Inf(1)
	)
	for _, m := range v.Markers() {
		d := math.Abs(m.X - x)
		if d <= tolerance && d < dist {
			best, dist, found = m, d, true
		}
	}
	return best, found
}

// Hover builds the tooltip for an annotation.
func (v *View) Hover(id string) (Tooltip, error) {
	a, err := v.lookup(id)
	if err != nil {
		return Tooltip{}, err
	}
	title := a.Title
	if strings.TrimSpace(title) == "" {
		title = "Untitled event"
	}
	t := Tooltip{
		AnnotationID: a.ID,
		Title:        title,
		Time:         playback.FormatTime(a.TimestampStart),
		Actions:      []Action{ActionRun},
	}
	for _, k := range a.Kinds() {
		t.Badges = append(t.Badges, v.badge(a, k))
	}
	if v.perms != nil && v.perms.CanModify(a) {
		t.Actions = append(t.Actions, ActionEdit, ActionDelete)
	}
	return t, nil
}

func (v *View) badge(a domain.Annotation, k domain.ComponentKind) Badge {
	b := Badge{Kind: k, Color: kindColors[k]}
	switch k {
	case domain.KindDrawing:
		b.Label = "Drawing"
	case domain.KindNote:
		b.Label = "Note"
	case domain.KindLoop:
		b.Label = fmt.Sprintf("Loop %s-%s", playback.FormatTime(a.Loop.Start), playback.FormatTime(a.Loop.End))
	case domain.KindTags:
		names := make([]string, 0, len(a.Tags))
		for _, tag := range a.Tags {
			names = append(names, tag.Name)
		}
		b.Label = "Tags: " + strings.Join(names, ", ")
		if v.opts.CategoryColor != nil && len(a.Tags) > 0 {
			b.Color = v.opts.CategoryColor(a.Tags[0].Category)
		}
	case domain.KindMentions:
		b.Label = fmt.Sprintf("%d mentioned", len(a.Mentions))
	}
	return b
}

// Click seeks to the annotation and selects it. It does not present it.
func (v *View) Click(id string) error {
	a, err := v.lookup(id)
	if err != nil {
		return err
	}
	if err := v.player.Seek(a.TimestampStart); err != nil {
		v.opts.Log.Debug().Err(err).Str("annotation_id", id).Msg("marker seek")
		return err
	}
	v.mu.Lock()
	v.selected = id
	fn := v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn(v.Markers())
	}
	return nil
}

func (v *View) Selected() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selected
}

func (v *View) lookup(id string) (domain.Annotation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := indexOf(v.items, id); i >= 0 {
		return v.items[i], nil
	}
	return domain.Annotation{}, fmt.Errorf("annotation %s is not on the timeline", id)
}

func indexOf(list []domain.Annotation, id string) int {
	for i, a := range list {
		if a.ID == id {
			return i
		}
	}
	return -1
}
