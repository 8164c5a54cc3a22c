package authoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelmark/internal/auth"
	"reelmark/internal/domain"
	"reelmark/internal/drawing"
	"reelmark/internal/playback"
	"reelmark/internal/store"
)

type fakePlayer struct {
	playback.Emitter
	mu      sync.Mutex
	t       float64
	playing bool
	seeks   []float64
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
	p.EmitPlay()
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	p.EmitPause()
	return nil
}

func (p *fakePlayer) Seek(t float64) error {
	p.mu.Lock()
	p.t = t
	p.seeks = append(p.seeks, t)
	p.mu.Unlock()
	p.Seeked(t)
	p.EmitTimeUpdate(t)
	return nil
}

func (p *fakePlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.t
}

func (p *fakePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// advance simulates playback reaching t.
func (p *fakePlayer) advance(t float64) {
	p.mu.Lock()
	p.t = t
	p.mu.Unlock()
	p.EmitTimeUpdate(t)
}

type memRemote struct {
	mu   sync.Mutex
	rows map[string]domain.Annotation
	fail map[string]error
}

func newMemRemote() *memRemote {
	return &memRemote{rows: map[string]domain.Annotation{}, fail: map[string]error{}}
}

func (m *memRemote) ListAnnotations(ctx context.Context, videoID string) ([]domain.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Annotation
	for _, a := range m.rows {
		if !a.Deleted() {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (m *memRemote) CreateAnnotation(ctx context.Context, a domain.Annotation) (domain.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["create"]; err != nil {
		return domain.Annotation{}, err
	}
	m.rows[a.ID] = a.Clone()
	return a, nil
}

func (m *memRemote) UpdateAnnotation(ctx context.Context, a domain.Annotation, actorID string) (domain.Annotation, error) {
	return m.mutate("update", a.ID, func(cur *domain.Annotation) { cur.Title = a.Title })
}

func (m *memRemote) PutComponent(ctx context.Context, id string, c domain.Component, actorID string) (domain.Annotation, error) {
	return m.mutate("put", id, func(cur *domain.Annotation) { cur.Apply(c) })
}

func (m *memRemote) RemoveComponent(ctx context.Context, id string, kind domain.ComponentKind, actorID string) (domain.Annotation, error) {
	return m.mutate("remove", id, func(cur *domain.Annotation) { cur.Remove(kind) })
}

func (m *memRemote) SoftDeleteAnnotation(ctx context.Context, id, actorID string) error {
	_, err := m.mutate("delete", id, func(cur *domain.Annotation) {
		now := time.Now()
		cur.DeletedAt = &now
	})
	return err
}

func (m *memRemote) PurgeAnnotation(ctx context.Context, id, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["purge"]; err != nil {
		return err
	}
	delete(m.rows, id)
	return nil
}

func (m *memRemote) mutate(op, id string, fn func(*domain.Annotation)) (domain.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[op]; err != nil {
		return domain.Annotation{}, err
	}
	cur, ok := m.rows[id]
	if !ok {
		return domain.Annotation{}, errors.New("not found")
	}
	fn(&cur)
	cur.UpdatedAt = time.Now()
	m.rows[id] = cur
	return cur.Clone(), nil
}

func (m *memRemote) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok
}

type fakeRoster []domain.RosterEntry

func (r fakeRoster) RosterCandidates(ctx context.Context, teamID string) ([]domain.RosterEntry, error) {
	return r, nil
}

type env struct {
	ctx     context.Context
	ctrl    *Controller
	player  *fakePlayer
	surface *drawing.Surface
	store   *store.Store
	remote  *memRemote
	notices []Notice
}

func newEnv(t *testing.T, actor domain.Actor) *env {
	t.Helper()
	e := &env{ctx: context.Background(), player: &fakePlayer{}, remote: newMemRemote()}
	st, err := store.New(e.remote, "vid-1")
	require.NoError(t, err)
	e.store = st
	e.surface = drawing.New(800, 450, drawing.DefaultOptions())
	e.ctrl = New(Config{Actor: actor, ElevatedRoles: []string{"coach", "admin"}, AutoPause: true, TeamID: "team-1"}, Deps{
		Player:  e.player,
		Surface: e.surface,
		Store:   st,
		Roster:  fakeRoster{{ID: "p1", DisplayName: "Ana"}, {ID: "p2", DisplayName: "Invited", Pending: true}},
		Notify:  func(n Notice) { e.notices = append(e.notices, n) },
	})
	return e
}

func (e *env) scribble() {
	e.surface.PointerDown(100, 100)
	e.surface.PointerMove(200, 150)
	e.surface.PointerUp(300, 200)
}

var coach = domain.Actor{ID: "coach-1", Roles: []string{"coach"}}

func TestAddEventCapturesPlayheadAndPauses(t *testing.T) {
	e := newEnv(t, coach)
	require.NoError(t, e.player.Play())
	e.player.advance(42)

	a, err := e.ctrl.AddEvent(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 42.0, a.TimestampStart)
	assert.False(t, e.player.IsPlaying(), "auto pause")

	v := e.ctrl.View()
	assert.Equal(t, StateAuthoring, v.State)
	assert.True(t, v.PanelOpen)
	assert.Equal(t, a.ID, v.AnnotationID)

	_, err = e.ctrl.AddEvent(e.ctx)
	assert.ErrorIs(t, err, ErrBusy, "only one annotation under construction")
}

func TestAutoPauseOff(t *testing.T) {
	e := newEnv(t, coach)
	e.ctrl.UpdatePreferences(false, nil)
	require.NoError(t, e.player.Play())
	_, err := e.ctrl.AddEvent(e.ctx)
	require.NoError(t, err)
	assert.True(t, e.player.IsPlaying())
}

func TestUpdatePreferencesReplacesElevatedRoles(t *testing.T) {
	e := newEnv(t, domain.Actor{ID: "author"})
	a, err := e.ctrl.AddEvent(e.ctx)
	require.NoError(t, err)
	other := a
	other.CreatedBy = "someone-else"
	e.ctrl.cfg.Actor = coach
	assert.True(t, e.ctrl.CanModify(other))

	e.ctrl.UpdatePreferences(true, nil)
	assert.False(t, e.ctrl.CanModify(other), "removing every elevated role revokes them")

	e.ctrl.UpdatePreferences(true, []string{"coach"})
	assert.True(t, e.ctrl.CanModify(other))
}

func TestClosingDraftRemovesIt(t *testing.T) {
	e := newEnv(t, coach)
	a, err := e.ctrl.AddEvent(e.ctx)
	require.NoError(t, err)
	require.True(t, e.remote.has(a.ID))

	require.NoError(t, e.ctrl.CloseAuthoring(e.ctx))
	_, inMemory := e.store.Get(a.ID)
	assert.False(t, inMemory)
	assert.False(t, e.remote.has(a.ID))
	assert.Equal(t, StateIdle, e.ctrl.View().State)
}

func TestClosingNonDraftKeepsItAndStopsDrawing(t *testing.T) {
	e := newEnv(t, coach)
	a, err := e.ctrl.AddEvent(e.ctx)
	require.NoError(t, err)
	require.NoError(t, e.ctrl.SetTitle(e.ctx, "High press"))
	require.NoError(t, e.ctrl.OpenEditor(domain.KindDrawing))
	assert.True(t, e.surface.DrawingMode())

	require.NoError(t, e.ctrl.CloseAuthoring(e.ctx))
	kept, ok := e.store.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, "High press", kept.Title)
	assert.True(t, e.remote.has(a.ID))
	assert.False(t, e.surface.DrawingMode())
	assert.Equal(t, StateIdle, e.ctrl.View().State)
}

func TestOpeningSecondEditorClosesFirst(t *testing.T) {
	e := newEnv(t, coach)
	a, err := e.ctrl.QuickNote(e.ctx)
	require.NoError(t, err)
	v := e.ctrl.View()
	require.Equal(t, StateSubEditing, v.State)
	require.Equal(t, domain.KindNote, v.Editor)
	assert.Equal(t, map[domain.ComponentKind]string{domain.KindNote: a.ID}, v.PendingTargets)

	require.NoError(t, e.ctrl.OpenEditor(domain.KindTags))
	v = e.ctrl.View()
	assert.Equal(t, domain.KindTags, v.Editor)
	assert.Equal(t, map[domain.ComponentKind]string{domain.KindTags: a.ID}, v.PendingTargets)

	_, err = e.ctrl.SaveNote(e.ctx, "too late")
	var se StateError
	assert.ErrorAs(t, err, &se, "the note editor is closed")
}

func TestSaveEditorsReturnToPanel(t *testing.T) {
	e := newEnv(t, coach)
	a, err := e.ctrl.QuickLoop(e.ctx)
	require.NoError(t, err)
	_, err = e.ctrl.SaveLoop(e.ctx, domain.Loop{Start: 0, End: 0})
	assert.Error(t, err, "invalid loop")

	a, err = e.ctrl.SaveLoop(e.ctx, domain.Loop{Start: 0, End: 8, Name: "build up"})
	require.NoError(t, err)
	assert.Equal(t, 8.0, a.TimestampEnd)
	v := e.ctrl.View()
	assert.Equal(t, StateAuthoring, v.State)
	assert.True(t, v.PanelOpen)
	assert.Empty(t, v.PendingTargets)

	require.NoError(t, e.ctrl.OpenEditor(domain.KindTags))
	_, err = e.ctrl.SaveTags(e.ctx, domain.TagSet{{Name: "press", Category: domain.CategoryDefensive}})
	require.NoError(t, err)

	require.NoError(t, e.ctrl.OpenEditor(domain.KindMentions))
	a, err = e.ctrl.SaveMentions(e.ctx, []string{"p2", "p1"})
	require.NoError(t, err)
	assert.Equal(t, domain.MentionSet{{PlayerID: "p1"}, {PlayerID: "p2", Pending: true}}, a.Mentions)

	require.NoError(t, e.ctrl.OpenEditor(domain.KindMentions))
	_, err = e.ctrl.SaveMentions(e.ctx, []string{"stranger"})
	assert.Error(t, err)

	v = e.ctrl.View()
	assert.Equal(t, []domain.ComponentKind{domain.KindLoop, domain.KindTags, domain.KindMentions}, v.Components)
}

func TestFailedWriteKeepsStateAndNotifies(t *testing.T) {
	e := newEnv(t, coach)
	a, err := e.ctrl.QuickNote(e.ctx)
	require.NoError(t, err)

	e.remote.fail["put"] = errors.New("offline")
	_, err = e.ctrl.SaveNote(e.ctx, "press higher")
	require.Error(t, err)
	var pe store.PersistenceError
	require.ErrorAs(t, err, &pe)

	require.Len(t, e.notices, 1)
	assert.Equal(t, "save note", e.notices[0].Action)
	assert.Contains(t, e.notices[0].String(), "save note")
	v := e.ctrl.View()
	assert.Equal(t, StateSubEditing, v.State)
	assert.Equal(t, domain.KindNote, v.Editor)
	cur, _ := e.store.Get(a.ID)
	assert.Nil(t, cur.Note)

	e.remote.fail["create"] = errors.New("offline")
	require.NoError(t, e.ctrl.CancelEditor())
	require.NoError(t, e.ctrl.CloseAuthoring(e.ctx))
	_, err = e.ctrl.AddEvent(e.ctx)
	require.Error(t, err)
	assert.Equal(t, StateIdle, e.ctrl.View().State)
	assert.Equal(t, "add event", e.notices[len(e.notices)-1].Action)
}

func TestFailedCreateKeepsPresenting(t *testing.T) {
	e := newEnv(t, coach)
	e.player.advance(6)
	a, err := e.ctrl.QuickNote(e.ctx)
	require.NoError(t, err)
	_, err = e.ctrl.SaveNote(e.ctx, "watch the winger")
	require.NoError(t, err)
	require.NoError(t, e.ctrl.OpenEditor(domain.KindLoop))
	_, err = e.ctrl.SaveLoop(e.ctx, domain.Loop{Start: 6, End: 9})
	require.NoError(t, err)
	require.NoError(t, e.ctrl.CloseAuthoring(e.ctx))
	require.NoError(t, e.ctrl.Run(e.ctx, a.ID))

	e.remote.fail["create"] = errors.New("offline")
	_, err = e.ctrl.AddEvent(e.ctx)
	require.Error(t, err)
	_, err = e.ctrl.QuickLoop(e.ctx)
	require.Error(t, err)

	v := e.ctrl.View()
	assert.Equal(t, StatePresenting, v.State)
	assert.Equal(t, a.ID, v.Presenting)
	assert.Equal(t, "add loop", e.notices[len(e.notices)-1].Action)

	require.NoError(t, e.player.Play())
	e.player.advance(9.2)
	assert.Equal(t, 6.0, e.player.CurrentTime(), "loop still replays")
}

func TestFailedDraftDiscardKeepsSession(t *testing.T) {
	e := newEnv(t, coach)
	_, err := e.ctrl.AddEvent(e.ctx)
	require.NoError(t, err)
	e.remote.fail["purge"] = errors.New("offline")
	require.Error(t, e.ctrl.CloseAuthoring(e.ctx))
	assert.Equal(t, StateAuthoring, e.ctrl.View().State)
	assert.Equal(t, "discard draft", e.notices[0].Action)
}

func TestQuickDrawCreatesAnnotationOnSave(t *testing.T) {
	e := newEnv(t, coach)
	e.player.advance(12)
	require.NoError(t, e.ctrl.QuickDraw())
	v := e.ctrl.View()
	assert.Equal(t, StateSubEditing, v.State)
	assert.Equal(t, domain.KindDrawing, v.Editor)
	assert.Empty(t, v.AnnotationID, "no row before save")
	assert.Empty(t, e.store.Annotations())

	_, err := e.ctrl.SaveDrawing(e.ctx)
	assert.ErrorIs(t, err, ErrEmptyDrawing)

	e.scribble()
	a, err := e.ctrl.SaveDrawing(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 12.0, a.TimestampStart)
	require.NotNil(t, a.Drawing)
	assert.Equal(t, 800, a.Drawing.OriginalWidth)
	assert.Equal(t, 450, a.Drawing.OriginalHeight)
	v = e.ctrl.View()
	assert.Equal(t, StateAuthoring, v.State)
	assert.True(t, v.PanelOpen)
	assert.False(t, v.DrawingMode)
}

func TestQuickDrawCancelDiscards(t *testing.T) {
	e := newEnv(t, coach)
	require.NoError(t, e.ctrl.QuickDraw())
	e.scribble()
	require.NoError(t, e.ctrl.CancelEditor())
	assert.Equal(t, StateIdle, e.ctrl.View().State)
	assert.True(t, e.surface.Empty())
	assert.False(t, e.surface.DrawingMode())
	assert.Empty(t, e.store.Annotations())
}

func TestRunDiscardsEmptyDraft(t *testing.T) {
	e := newEnv(t, coach)
	target, err := e.ctrl.AddEvent(e.ctx)
	require.NoError(t, err)
	require.NoError(t, e.ctrl.SetTitle(e.ctx, "Goal"))
	require.NoError(t, e.ctrl.CloseAuthoring(e.ctx))

	e.player.advance(30)
	draft, err := e.ctrl.AddEvent(e.ctx)
	require.NoError(t, err)

	require.NoError(t, e.ctrl.Run(e.ctx, target.ID))
	_, ok := e.store.Get(draft.ID)
	assert.False(t, ok, "empty draft discarded")
	assert.False(t, e.remote.has(draft.ID))
	v := e.ctrl.View()
	assert.Equal(t, StatePresenting, v.State)
	assert.Equal(t, target.ID, v.Presenting)
	assert.False(t, e.player.IsPlaying())
	assert.Equal(t, target.TimestampStart, e.player.CurrentTime())
}

func TestRunKeepsNonEmptySession(t *testing.T) {
	e := newEnv(t, coach)
	target, err := e.ctrl.AddEvent(e.ctx)
	require.NoError(t, err)
	require.NoError(t, e.ctrl.SetTitle(e.ctx, "Goal"))
	require.NoError(t, e.ctrl.CloseAuthoring(e.ctx))

	e.player.advance(30)
	other, err := e.ctrl.QuickNote(e.ctx)
	require.NoError(t, err)
	_, err = e.ctrl.SaveNote(e.ctx, "keep me")
	require.NoError(t, err)

	require.NoError(t, e.ctrl.Run(e.ctx, target.ID))
	_, ok := e.store.Get(other.ID)
	assert.True(t, ok, "non-empty annotation kept")
	assert.Equal(t, StatePresenting, e.ctrl.View().State)
}

func TestRunShowsDrawingAndLoops(t *testing.T) {
	e := newEnv(t, coach)
	e.player.advance(10)
	require.NoError(t, e.ctrl.QuickDraw())
	e.scribble()
	a, err := e.ctrl.SaveDrawing(e.ctx)
	require.NoError(t, err)
	require.NoError(t, e.ctrl.OpenEditor(domain.KindLoop))
	_, err = e.ctrl.SaveLoop(e.ctx, domain.Loop{Start: 10, End: 15})
	require.NoError(t, err)
	require.NoError(t, e.ctrl.CloseAuthoring(e.ctx))
	assert.True(t, e.surface.Empty())

	require.NoError(t, e.ctrl.Run(e.ctx, a.ID))
	assert.False(t, e.surface.Empty(), "drawing displayed while presenting")

	require.NoError(t, e.player.Play())
	e.player.advance(15.1)
	assert.Equal(t, 10.0, e.player.CurrentTime(), "loop seeks back to its start")

	require.NoError(t, e.ctrl.StopPresenting())
	e.player.advance(16)
	assert.Equal(t, 16.0, e.player.CurrentTime())
	assert.True(t, e.surface.Empty())
}

func TestUnauthorizedDeleteRejectedBeforeConfirmation(t *testing.T) {
	e := newEnv(t, coach)
	a, err := e.ctrl.AddEvent(e.ctx)
	require.NoError(t, err)
	require.NoError(t, e.ctrl.SetTitle(e.ctx, "Goal"))
	require.NoError(t, e.ctrl.CloseAuthoring(e.ctx))

	e.ctrl.cfg.Actor = domain.Actor{ID: "player-9", Roles: []string{"player"}}
	err = e.ctrl.RequestDelete(a.ID)
	var pe auth.PermissionError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, e.ctrl.View().ConfirmingDelete)
	assert.ErrorAs(t, e.ctrl.Edit(e.ctx, a.ID), &pe)

	require.NoError(t, e.ctrl.Run(e.ctx, a.ID), "run is available to everyone")
}

func TestDeleteFlow(t *testing.T) {
	e := newEnv(t, domain.Actor{ID: "author"})
	a, err := e.ctrl.QuickNote(e.ctx)
	require.NoError(t, err)
	_, err = e.ctrl.SaveNote(e.ctx, "note")
	require.NoError(t, err)
	require.NoError(t, e.ctrl.CloseAuthoring(e.ctx))

	require.NoError(t, e.ctrl.RequestDelete(a.ID))
	assert.Equal(t, a.ID, e.ctrl.View().ConfirmingDelete)
	e.ctrl.CancelDelete()
	assert.Empty(t, e.ctrl.View().ConfirmingDelete)

	require.NoError(t, e.ctrl.RequestDelete(a.ID))
	e.remote.fail["delete"] = errors.New("offline")
	require.Error(t, e.ctrl.ConfirmDelete(e.ctx))
	assert.Equal(t, a.ID, e.ctrl.View().ConfirmingDelete, "confirmation stays open after a failed delete")

	delete(e.remote.fail, "delete")
	require.NoError(t, e.ctrl.ConfirmDelete(e.ctx))
	_, ok := e.store.Get(a.ID)
	assert.False(t, ok)
	assert.Equal(t, StateIdle, e.ctrl.View().State)
}

func TestConfirmingDeleteIsAState(t *testing.T) {
	e := newEnv(t, coach)
	a, err := e.ctrl.AddEvent(e.ctx)
	require.NoError(t, err)
	require.NoError(t, e.ctrl.SetTitle(e.ctx, "Goal"))
	require.NoError(t, e.ctrl.CloseAuthoring(e.ctx))
	require.NoError(t, e.ctrl.Run(e.ctx, a.ID))

	require.NoError(t, e.ctrl.RequestDelete(a.ID))
	v := e.ctrl.View()
	assert.Equal(t, StateConfirmingDelete, v.State)
	assert.Equal(t, StatePresenting, v.Beneath)
	assert.Equal(t, "confirming-delete", v.State.String())

	var se StateError
	_, err = e.ctrl.AddEvent(e.ctx)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateConfirmingDelete, se.State)
	require.ErrorAs(t, e.ctrl.QuickDraw(), &se)
	require.ErrorAs(t, e.ctrl.Edit(e.ctx, a.ID), &se)

	e.ctrl.CancelDelete()
	assert.Equal(t, StatePresenting, e.ctrl.View().State)

	require.NoError(t, e.ctrl.RequestDelete(a.ID))
	require.NoError(t, e.ctrl.ConfirmDelete(e.ctx))
	assert.Equal(t, StateIdle, e.ctrl.View().State)
}

func TestEditSeeksAndPrepopulates(t *testing.T) {
	e := newEnv(t, coach)
	e.player.advance(20)
	a, err := e.ctrl.QuickNote(e.ctx)
	require.NoError(t, err)
	_, err = e.ctrl.SaveNote(e.ctx, "note")
	require.NoError(t, err)
	require.NoError(t, e.ctrl.CloseAuthoring(e.ctx))

	e.player.advance(50)
	require.NoError(t, e.player.Play())
	require.NoError(t, e.ctrl.Edit(e.ctx, a.ID))
	assert.False(t, e.player.IsPlaying())
	assert.Equal(t, 20.0, e.player.CurrentTime())
	v := e.ctrl.View()
	assert.Equal(t, StateAuthoring, v.State)
	assert.Equal(t, []domain.ComponentKind{domain.KindNote}, v.Components)

	require.NoError(t, e.ctrl.Minimize())
	assert.True(t, e.ctrl.View().Minimized)
	require.NoError(t, e.ctrl.Restore())
	assert.False(t, e.ctrl.View().Minimized)

	require.NoError(t, e.ctrl.RemoveComponent(e.ctx, domain.KindNote))
	assert.Empty(t, e.ctrl.View().Components)
}
