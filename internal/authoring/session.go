package authoring

import (
	"context"
	"strings"

	"reelmark/internal/auth"
	"reelmark/internal/domain"
)

// AddEvent opens the panel on a new annotation at the playhead.
func (c *Controller) AddEvent(ctx context.Context) (domain.Annotation, error) {
	return c.begin(ctx, "add event", "")
}

// QuickNote creates the annotation and jumps straight into the note editor.
func (c *Controller) QuickNote(ctx context.Context) (domain.Annotation, error) {
	return c.begin(ctx, "add note", domain.KindNote)
}

// QuickLoop creates the annotation and jumps straight into the loop editor.
func (c *Controller) QuickLoop(ctx context.Context) (domain.Annotation, error) {
	return c.begin(ctx, "add loop", domain.KindLoop)
}

func (c *Controller) begin(ctx context.Context, action string, editor domain.ComponentKind) (domain.Annotation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return domain.Annotation{}, ErrBusy
	}
	if c.confirm != "" {
		return domain.Annotation{}, StateError{Op: action, State: StateConfirmingDelete}
	}
	t := c.player.CurrentTime()
	a, err := c.store.Create(ctx, action, domain.Annotation{
		TimestampStart: t,
		TimestampEnd:   t,
		CreatedBy:      c.cfg.Actor.ID,
	})
	if err != nil {
		return a, c.fail(action, err)
	}
	if c.state == StatePresenting {
		c.stopPresentingLocked()
	}
	c.pauseForAuthoring()
	c.sess = &session{annotationID: a.ID, timestamp: a.TimestampStart, panelOpen: true}
	c.state = StateAuthoring
	if editor != "" {
		c.openEditorLocked(editor)
	}
	c.log.Info().Str("annotation_id", a.ID).Float64("timestamp", a.TimestampStart).Msg("authoring started")
	return a, nil
}

// QuickDraw enables the drawing surface without creating an annotation. The
// annotation is created when the drawing is saved.
func (c *Controller) QuickDraw() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return ErrBusy
	}
	if c.confirm != "" {
		return StateError{Op: "quick draw", State: StateConfirmingDelete}
	}
	if c.state == StatePresenting {
		c.stopPresentingLocked()
	}
	t := c.player.CurrentTime()
	c.pauseForAuthoring()
	c.sess = &session{timestamp: t, quickDraw: true}
	c.state = StateSubEditing
	c.sess.editor = domain.KindDrawing
	c.surface.Clear()
	c.surface.SetDrawingMode(true)
	return nil
}

// OpenEditor opens the sub-editor of kind on the current annotation, closing
// any other open editor.
func (c *Controller) OpenEditor(kind domain.ComponentKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.busy() {
		return StateError{Op: "open " + string(kind) + " editor", State: c.state}
	}
	if c.sess.annotationID == "" && kind != domain.KindDrawing {
		return StateError{Op: "open " + string(kind) + " editor", State: c.state}
	}
	c.openEditorLocked(kind)
	return nil
}

func (c *Controller) openEditorLocked(kind domain.ComponentKind) {
	if c.sess.editor != "" && c.sess.editor != kind {
		c.closeEditorLocked()
	}
	c.sess.editor = kind
	c.sess.panelOpen = true
	c.sess.minimized = false
	c.state = StateSubEditing
	c.pending[kind] = c.sess.annotationID
	if kind == domain.KindDrawing {
		c.surface.SetDrawingMode(true)
	}
}

func (c *Controller) closeEditorLocked() {
	if c.sess == nil || c.sess.editor == "" {
		return
	}
	if c.sess.editor == domain.KindDrawing {
		c.surface.SetDrawingMode(false)
		c.redisplayLocked()
	}
	delete(c.pending, c.sess.editor)
	c.sess.editor = ""
	c.state = StateAuthoring
}

// redisplayLocked shows the stored drawing of the session's annotation, or a
// blank surface.
func (c *Controller) redisplayLocked() {
	c.surface.Clear()
	if c.sess == nil || c.sess.annotationID == "" {
		return
	}
	if a, ok := c.store.Get(c.sess.annotationID); ok && a.Drawing != nil {
		if _, _, err := c.surface.Display(*a.Drawing); err != nil {
			c.log.Warn().Err(err).Str("annotation_id", a.ID).Msg("display drawing")
		}
	}
}

// CancelEditor closes the open sub-editor without saving. Cancelling a quick
// draw that never saved ends the session.
func (c *Controller) CancelEditor() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSubEditing {
		return StateError{Op: "cancel editor", State: c.state}
	}
	if c.sess.annotationID == "" {
		c.surface.SetDrawingMode(false)
		c.surface.Clear()
		c.endSessionLocked()
		return nil
	}
	c.closeEditorLocked()
	return nil
}

// SetTitle renames the annotation under construction.
func (c *Controller) SetTitle(ctx context.Context, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.busy() || c.sess.annotationID == "" {
		return StateError{Op: "rename event", State: c.state}
	}
	a, ok := c.store.Get(c.sess.annotationID)
	if !ok {
		return c.fail("rename event", errNotInStore(c.sess.annotationID))
	}
	a.Title = strings.TrimSpace(title)
	if _, err := c.store.Update(ctx, "rename event", a, c.cfg.Actor.ID); err != nil {
		return c.fail("rename event", err)
	}
	return nil
}

// RemoveComponent detaches kind from the annotation under construction.
func (c *Controller) RemoveComponent(ctx context.Context, kind domain.ComponentKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	action := "remove " + string(kind)
	if !c.busy() || c.sess.annotationID == "" {
		return StateError{Op: action, State: c.state}
	}
	if _, err := c.store.RemoveComponent(ctx, action, c.sess.annotationID, kind, c.cfg.Actor.ID); err != nil {
		return c.fail(action, err)
	}
	if c.sess.editor == kind {
		c.closeEditorLocked()
	}
	if kind == domain.KindDrawing {
		c.surface.Clear()
	}
	return nil
}

func (c *Controller) Minimize() error {
	return c.setMinimized(true)
}

func (c *Controller) Restore() error {
	return c.setMinimized(false)
}

func (c *Controller) setMinimized(m bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.busy() || !c.sess.panelOpen {
		return StateError{Op: "minimize panel", State: c.state}
	}
	c.sess.minimized = m
	return nil
}

// CloseAuthoring ends the session. A draft is deleted from memory and the
// remote; anything else is kept and drawing mode is turned off.
func (c *Controller) CloseAuthoring(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.busy() {
		return StateError{Op: "close panel", State: c.state}
	}
	if err := c.discardDraftLocked(ctx); err != nil {
		return err
	}
	c.surface.SetDrawingMode(false)
	c.surface.Clear()
	c.endSessionLocked()
	return nil
}

// discardDraftLocked purges the session's annotation when it is a draft.
func (c *Controller) discardDraftLocked(ctx context.Context) error {
	id := c.sess.annotationID
	if id == "" {
		return nil
	}
	a, ok := c.store.Get(id)
	if !ok || !a.IsDraft() {
		return nil
	}
	if err := c.store.Purge(ctx, "discard draft", id, c.cfg.Actor.ID); err != nil {
		return c.fail("discard draft", err)
	}
	c.log.Info().Str("annotation_id", id).Msg("draft discarded")
	return nil
}

func (c *Controller) endSessionLocked() {
	if c.sess != nil && c.sess.editor != "" {
		delete(c.pending, c.sess.editor)
	}
	c.sess = nil
	c.state = StateIdle
}

// Edit re-enters authoring on an existing annotation.
func (c *Controller) Edit(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.store.Get(id)
	if !ok {
		return errNotInStore(id)
	}
	if err := c.policy.Check(auth.ActionEdit, c.cfg.Actor, a); err != nil {
		return err
	}
	if c.confirm != "" {
		return StateError{Op: "edit event", State: StateConfirmingDelete}
	}
	if c.busy() {
		if c.sess.annotationID == id {
			return nil
		}
		if err := c.discardDraftLocked(ctx); err != nil {
			return err
		}
		c.surface.SetDrawingMode(false)
		c.endSessionLocked()
	}
	if c.state == StatePresenting {
		c.stopPresentingLocked()
	}
	if err := c.player.Pause(); err != nil {
		c.log.Debug().Err(err).Msg("pause for edit")
	}
	if err := c.player.Seek(a.TimestampStart); err != nil {
		c.log.Debug().Err(err).Msg("seek for edit")
	}
	c.sess = &session{annotationID: a.ID, timestamp: a.TimestampStart, panelOpen: true}
	c.state = StateAuthoring
	c.redisplayLocked()
	return nil
}

type notInStoreError string

func (e notInStoreError) Error() string { return "annotation " + string(e) + " is not loaded" }

func errNotInStore(id string) error { return notInStoreError(id) }
