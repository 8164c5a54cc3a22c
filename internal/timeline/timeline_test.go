package timeline_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelmark/internal/domain"
	"reelmark/internal/timeline"
)

type fakeSource struct {
	list []domain.Annotation
	fn   func([]domain.Annotation)
}

func (s *fakeSource) Annotations() []domain.Annotation { return s.list }

func (s *fakeSource) Subscribe(fn func([]domain.Annotation)) func() {
	s.fn = fn
	return func() { s.fn = nil }
}

func (s *fakeSource) push(list []domain.Annotation) {
	s.list = list
	if s.fn != nil {
		s.fn(list)
	}
}

type fakePlayer struct {
	t, duration float64
	seekErr     error
}

func (p *fakePlayer) Seek(t float64) error {
	if p.seekErr != nil {
		return p.seekErr
	}
	p.t = t
	return nil
}

func (p *fakePlayer) CurrentTime() float64 { return p.t }
func (p *fakePlayer) Duration() float64    { return p.duration }

type onlyCreator string

func (c onlyCreator) CanModify(a domain.Annotation) bool { return a.CreatedBy == string(c) }

func TestPosition(t *testing.T) {
	assert.Equal(t, 250.0, timeline.Position(25, 100, 1000))
	assert.Equal(t, 0.0, timeline.Position(25, 0, 1000), "unknown duration")
	assert.Equal(t, 1000.0, timeline.Position(150, 100, 1000), "clamped to the track")
	assert.Equal(t, 0.0, timeline.Position(-3, 100, 1000))
}

func TestMarkerColorPrecedence(t *testing.T) {
	cases := []struct {
		name string
		a    domain.Annotation
		want string
	}{
		{"none", domain.Annotation{}, "#6b7280"},
		{"mentions", domain.Annotation{Mentions: domain.MentionSet{{PlayerID: "p1"}}}, "#f59e0b"},
		{"tags over mentions", domain.Annotation{
			Tags:     domain.TagSet{{Name: "press", Category: domain.CategoryDefensive}},
			Mentions: domain.MentionSet{{PlayerID: "p1"}},
		}, "#a855f7"},
		{"loop over tags", domain.Annotation{
			Loop: &domain.Loop{Start: 1, End: 2},
			Tags: domain.TagSet{{Name: "press", Category: domain.CategoryDefensive}},
		}, "#22c55e"},
		{"note over loop", domain.Annotation{Note: &domain.Note{Content: "x"}, Loop: &domain.Loop{Start: 1, End: 2}}, "#3b82f6"},
		{"drawing over all", domain.Annotation{Drawing: &domain.Drawing{}, Note: &domain.Note{Content: "x"}}, "#ef4444"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, timeline.MarkerColor(tc.a))
		})
	}
}

func newView(t *testing.T) (*timeline.View, *fakeSource, *fakePlayer) {
	t.Helper()
	src := &fakeSource{list: []domain.Annotation{
		{ID: "b", Title: "Counter", TimestampStart: 60, CreatedBy: "other", Note: &domain.Note{Content: "run"}},
		{ID: "a", Title: "Press", TimestampStart: 25, CreatedBy: "me", Loop: &domain.Loop{Start: 25, End: 31}},
	}}
	player := &fakePlayer{duration: 100}
	v := timeline.New(src, player, onlyCreator("me"), timeline.Options{
		TrackWidth:    800,
		CategoryColor: func(domain.TagCategory) string { return "#123456" },
	})
	t.Cleanup(v.Close)
	return v, src, player
}

func TestMarkers(t *testing.T) {
	v, _, _ := newView(t)
	markers := v.Markers()
	require.Len(t, markers, 2)
	assert.Equal(t, "a", markers[0].AnnotationID)
	assert.Equal(t, 200.0, markers[0].X)
	assert.Equal(t, 25.0, markers[0].Percent)
	assert.Equal(t, "#22c55e", markers[0].Color)
	assert.Equal(t, 480.0, markers[1].X)
}

func TestMarkersFollowSource(t *testing.T) {
	v, src, _ := newView(t)
	var got []timeline.Marker
	v.OnChange(func(m []timeline.Marker) { got = m })

	require.NoError(t, v.Click("b"))
	require.NotEmpty(t, got)
	assert.True(t, got[1].Selected)

	src.push([]domain.Annotation{{ID: "c", TimestampStart: 50}})
	require.Len(t, got, 1)
	assert.Equal(t, 400.0, got[0].X)
	assert.Empty(t, v.Selected(), "selection cleared when the annotation disappears")
}

func TestClickSeeksWithoutPresenting(t *testing.T) {
	v, _, player := newView(t)
	require.NoError(t, v.Click("a"))
	assert.Equal(t, 25.0, player.t)
	assert.Equal(t, "a", v.Selected())

	player.seekErr = errors.New("not ready")
	assert.Error(t, v.Click("b"))
	assert.Equal(t, "a", v.Selected())

	assert.Error(t, v.Click("missing"))
}

func TestHoverGatesActions(t *testing.T) {
	v, _, _ := newView(t)

	own, err := v.Hover("a")
	require.NoError(t, err)
	assert.Equal(t, "Press", own.Title)
	assert.Equal(t, "0:25", own.Time)
	assert.Equal(t, []timeline.Action{timeline.ActionRun, timeline.ActionEdit, timeline.ActionDelete}, own.Actions)
	require.Len(t, own.Badges, 1)
	assert.Equal(t, "Loop 0:25-0:31", own.Badges[0].Label)

	other, err := v.Hover("b")
	require.NoError(t, err)
	assert.Equal(t, "1:00", other.Time)
	assert.Equal(t, []timeline.Action{timeline.ActionRun}, other.Actions)
	assert.Equal(t, domain.KindNote, other.Badges[0].Kind)
}

func TestPlayheadAndHitTest(t *testing.T) {
	v, _, player := newView(t)
	player.t = 50
	assert.Equal(t, 400.0, v.Playhead())

	v.SetTrackWidth(400)
	assert.Equal(t, 200.0, v.Playhead())

	m, ok := v.HitTest(103, 5)
	require.True(t, ok)
	assert.Equal(t, "a", m.AnnotationID)
	_, ok = v.HitTest(160, 5)
	assert.False(t, ok)
}
