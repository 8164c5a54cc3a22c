package authoring

import (
	"context"

	"reelmark/internal/auth"
	"reelmark/internal/domain"
)

// Run presents an annotation read-only: any authoring session is closed
// (a draft is discarded), the player seeks to the annotation and pauses, and
// its drawing is shown. A loop replays while presenting.
func (c *Controller) Run(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.store.Get(id)
	if !ok {
		return errNotInStore(id)
	}
	if c.confirm != "" {
		return StateError{Op: "run event", State: StateConfirmingDelete}
	}
	if c.busy() {
		if err := c.discardDraftLocked(ctx); err != nil {
			return err
		}
		c.surface.SetDrawingMode(false)
		c.endSessionLocked()
	}
	if c.state == StatePresenting {
		c.stopPresentingLocked()
	}
	if err := c.player.Seek(a.TimestampStart); err != nil {
		c.log.Debug().Err(err).Msg("seek for run")
	}
	if err := c.player.Pause(); err != nil {
		c.log.Debug().Err(err).Msg("pause for run")
	}
	c.surface.Clear()
	if a.Drawing != nil {
		if _, _, err := c.surface.Display(*a.Drawing); err != nil {
			c.log.Warn().Err(err).Str("annotation_id", id).Msg("display drawing")
		}
	}
	c.setLoop(a.Loop)
	c.presenting = id
	c.state = StatePresenting
	return nil
}

func (c *Controller) StopPresenting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePresenting {
		return StateError{Op: "stop presenting", State: c.state}
	}
	c.stopPresentingLocked()
	return nil
}

func (c *Controller) stopPresentingLocked() {
	c.setLoop(nil)
	c.surface.Clear()
	c.presenting = ""
	c.state = StateIdle
}

// RequestDelete opens the delete confirmation. Actors who are neither the
// creator nor elevated get a PermissionError and no confirmation.
func (c *Controller) RequestDelete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.store.Get(id)
	if !ok {
		return errNotInStore(id)
	}
	if err := c.policy.Check(auth.ActionDelete, c.cfg.Actor, a); err != nil {
		c.log.Info().Str("annotation_id", id).Str("actor_id", c.cfg.Actor.ID).Msg("delete refused")
		return err
	}
	c.confirm = id
	return nil
}

func (c *Controller) CancelDelete() {
	c.mu.Lock()
	c.confirm = ""
	c.mu.Unlock()
}

// ConfirmDelete soft-deletes the annotation awaiting confirmation. On failure
// the confirmation stays open.
func (c *Controller) ConfirmDelete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.confirm
	if id == "" {
		return StateError{Op: "confirm delete", State: c.state}
	}
	if err := c.store.Delete(ctx, "delete event", id, c.cfg.Actor.ID); err != nil {
		return c.fail("delete event", err)
	}
	c.confirm = ""
	switch {
	case c.state == StatePresenting && c.presenting == id:
		c.stopPresentingLocked()
	case c.busy() && c.sess.annotationID == id:
		c.surface.SetDrawingMode(false)
		c.surface.Clear()
		c.endSessionLocked()
	}
	return nil
}

// Presenting returns the annotation being presented, if any.
func (c *Controller) Presenting() (domain.Annotation, bool) {
	c.mu.Lock()
	id := c.presenting
	c.mu.Unlock()
	if id == "" {
		return domain.Annotation{}, false
	}
	return c.store.Get(id)
}
