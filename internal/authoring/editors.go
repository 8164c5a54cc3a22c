package authoring

import (
	"context"
	"fmt"
	"strings"

	"reelmark/internal/domain"
)

// SaveDrawing stores the surface as the annotation's drawing. In a quick draw
// the annotation itself is created here.
func (c *Controller) SaveDrawing(ctx context.Context) (domain.Annotation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	const action = "save drawing"
	if c.state != StateSubEditing || c.sess.editor != domain.KindDrawing {
		return domain.Annotation{}, StateError{Op: action, State: c.state}
	}
	if c.surface.Empty() {
		return domain.Annotation{}, ErrEmptyDrawing
	}
	snap, err := c.surface.Save()
	if err != nil {
		return domain.Annotation{}, c.fail(action, err)
	}
	d := snap.Drawing(c.now().UTC())

	var a domain.Annotation
	if c.sess.annotationID == "" {
		a, err = c.store.Create(ctx, action, domain.Annotation{
			TimestampStart: c.sess.timestamp,
			TimestampEnd:   c.sess.timestamp,
			CreatedBy:      c.cfg.Actor.ID,
			Drawing:        &d,
		})
		if err != nil {
			return a, c.fail(action, err)
		}
		c.sess.annotationID = a.ID
		c.sess.timestamp = a.TimestampStart
		c.sess.quickDraw = false
	} else {
		a, err = c.store.PutComponent(ctx, action, c.pending[domain.KindDrawing], d, c.cfg.Actor.ID)
		if err != nil {
			return a, c.fail(action, err)
		}
	}
	c.finishEditorLocked(domain.KindDrawing)
	c.surface.SetDrawingMode(false)
	return a, nil
}

// SaveNote stores content as the note. Blank content removes an existing note.
func (c *Controller) SaveNote(ctx context.Context, content string) (domain.Annotation, error) {
	if strings.TrimSpace(content) == "" {
		return c.saveOrRemove(ctx, domain.KindNote, "save note", nil)
	}
	return c.saveOrRemove(ctx, domain.KindNote, "save note", domain.Note{Content: content})
}

func (c *Controller) SaveLoop(ctx context.Context, l domain.Loop) (domain.Annotation, error) {
	if err := l.Validate(); err != nil {
		return domain.Annotation{}, err
	}
	return c.saveOrRemove(ctx, domain.KindLoop, "save loop", l)
}

func (c *Controller) SaveTags(ctx context.Context, tags domain.TagSet) (domain.Annotation, error) {
	tags = tags.Normalize()
	if err := tags.Validate(); err != nil {
		return domain.Annotation{}, err
	}
	if len(tags) == 0 {
		return c.saveOrRemove(ctx, domain.KindTags, "save tags", nil)
	}
	return c.saveOrRemove(ctx, domain.KindTags, "save tags", tags)
}

// SaveMentions stores the selected players. Pending flags come from the roster.
func (c *Controller) SaveMentions(ctx context.Context, playerIDs []string) (domain.Annotation, error) {
	var set domain.MentionSet
	if len(playerIDs) > 0 {
		candidates, err := c.MentionCandidates(ctx)
		if err != nil {
			return domain.Annotation{}, c.fail("save mentions", err)
		}
		byID := map[string]domain.RosterEntry{}
		for _, e := range candidates {
			byID[e.ID] = e
		}
		for _, id := range playerIDs {
			e, ok := byID[id]
			if !ok {
				return domain.Annotation{}, fmt.Errorf("player %s is not on the roster", id)
			}
			set = append(set, domain.Mention{PlayerID: e.ID, Pending: e.Pending})
		}
	}
	if len(set) == 0 {
		return c.saveOrRemove(ctx, domain.KindMentions, "save mentions", nil)
	}
	return c.saveOrRemove(ctx, domain.KindMentions, "save mentions", set)
}

// MentionCandidates lists the players that can be mentioned.
func (c *Controller) MentionCandidates(ctx context.Context) ([]domain.RosterEntry, error) {
	if c.roster == nil {
		return nil, nil
	}
	c.mu.Lock()
	team := c.cfg.TeamID
	c.mu.Unlock()
	return c.roster.RosterCandidates(ctx, team)
}

func (c *Controller) saveOrRemove(ctx context.Context, kind domain.ComponentKind, action string, comp domain.Component) (domain.Annotation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSubEditing || c.sess.editor != kind {
		return domain.Annotation{}, StateError{Op: action, State: c.state}
	}
	target := c.pending[kind]
	var (
		a   domain.Annotation
		err error
	)
	switch {
	case comp != nil:
		a, err = c.store.PutComponent(ctx, action, target, comp, c.cfg.Actor.ID)
	default:
		cur, ok := c.store.Get(target)
		if ok && cur.Has(kind) {
			a, err = c.store.RemoveComponent(ctx, action, target, kind, c.cfg.Actor.ID)
		} else {
			a = cur
		}
	}
	if err != nil {
		return a, c.fail(action, err)
	}
	c.finishEditorLocked(kind)
	return a, nil
}

// finishEditorLocked closes the editor after a successful save and returns
// to the open panel.
func (c *Controller) finishEditorLocked(kind domain.ComponentKind) {
	delete(c.pending, kind)
	c.sess.editor = ""
	c.sess.panelOpen = true
	c.sess.minimized = false
	c.state = StateAuthoring
}
