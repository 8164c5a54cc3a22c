package repo

import (
	"context"
	"database/sql"
	"fmt"

	"reelmark/internal/domain"
	"reelmark/internal/events"
)

// PutComponent attaches c to the annotation, replacing a component of the same
// kind. A loop also moves timestamp_end to the loop end.
func (r Repo) PutComponent(ctx context.Context, id string, c domain.Component, actorID string) (domain.Annotation, error) {
	if c == nil {
		return domain.Annotation{}, fmt.Errorf("component is required")
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Annotation{}, err
	}
	defer tx.Rollback()
	a, err := activeAnnotation(ctx, tx, id)
	if err != nil {
		return a, err
	}
	switch v := c.(type) {
	case domain.Loop:
		if err := v.Validate(); err != nil {
			return a, fmt.Errorf("invalid loop: %w", err)
		}
	case *domain.Loop:
		if err := v.Validate(); err != nil {
			return a, fmt.Errorf("invalid loop: %w", err)
		}
	case domain.TagSet:
		if err := v.Validate(); err != nil {
			return a, fmt.Errorf("invalid tags: %w", err)
		}
	case domain.Drawing:
		if len(v.Raster) == 0 {
			return a, fmt.Errorf("drawing raster is required")
		}
	case *domain.Drawing:
		if len(v.Raster) == 0 {
			return a, fmt.Errorf("drawing raster is required")
		}
	}
	a.Apply(c)
	if c.Kind() == domain.KindLoop {
		duration, err := videoDuration(ctx, tx, a.VideoID)
		if err != nil {
			return a, err
		}
		a.TimestampStart, a.TimestampEnd = domain.ClampSpan(a.TimestampStart, a.TimestampEnd, duration)
		if _, err := tx.ExecContext(ctx, `UPDATE annotations SET timestamp_end=? WHERE id=?`, a.TimestampEnd, id); err != nil {
			return a, err
		}
	}
	if err := writeComponent(ctx, tx, a, c.Kind()); err != nil {
		return a, err
	}
	if err := r.touch(ctx, tx, id); err != nil {
		return a, err
	}
	if err := r.Events.Append(ctx, tx, events.ComponentAttached, a.VideoID, "annotation", id, actorID, events.EventPayload{
		"kind": string(c.Kind()),
	}); err != nil {
		return a, err
	}
	updated, err := getAnnotation(ctx, tx, id)
	if err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return updated, nil
}

func (r Repo) RemoveComponent(ctx context.Context, id string, kind domain.ComponentKind, actorID string) (domain.Annotation, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Annotation{}, err
	}
	defer tx.Rollback()
	a, err := activeAnnotation(ctx, tx, id)
	if err != nil {
		return a, err
	}
	if err := deleteComponent(ctx, tx, id, kind); err != nil {
		return a, err
	}
	if kind == domain.KindLoop {
		if _, err := tx.ExecContext(ctx, `UPDATE annotations SET timestamp_end=timestamp_start WHERE id=?`, id); err != nil {
			return a, err
		}
	}
	if err := r.touch(ctx, tx, id); err != nil {
		return a, err
	}
	if err := r.Events.Append(ctx, tx, events.ComponentRemoved, a.VideoID, "annotation", id, actorID, events.EventPayload{
		"kind": string(kind),
	}); err != nil {
		return a, err
	}
	updated, err := getAnnotation(ctx, tx, id)
	if err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return updated, nil
}

func (r Repo) touch(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE annotations SET updated_at=? WHERE id=?`, formatTime(r.now()), id)
	return err
}

func writeComponent(ctx context.Context, tx *sql.Tx, a domain.Annotation, kind domain.ComponentKind) error {
	if err := deleteComponent(ctx, tx, a.ID, kind); err != nil {
		return err
	}
	var err error
	switch kind {
	case domain.KindNote:
		_, err = tx.ExecContext(ctx, `INSERT INTO annotation_notes(annotation_id, content) VALUES (?,?)`, a.ID, a.Note.Content)
	case domain.KindDrawing:
		d := a.Drawing
		_, err = tx.ExecContext(ctx, `INSERT INTO annotation_drawings(annotation_id, raster, original_width, original_height, captured_at) VALUES (?,?,?,?,?)`,
			a.ID, d.Raster, d.OriginalWidth, d.OriginalHeight, formatTime(d.CapturedAt))
	case domain.KindLoop:
		l := a.Loop
		_, err = tx.ExecContext(ctx, `INSERT INTO annotation_loops(annotation_id, loop_start, loop_end, name) VALUES (?,?,?,?)`,
			a.ID, l.Start, l.End, nullable(l.Name))
	case domain.KindTags:
		for _, t := range a.Tags {
			if _, err = tx.ExecContext(ctx, `INSERT INTO annotation_tags(annotation_id, name, category) VALUES (?,?,?)`, a.ID, t.Name, string(t.Category)); err != nil {
				break
			}
		}
	case domain.KindMentions:
		for _, m := range a.Mentions {
			if _, err = tx.ExecContext(ctx, `INSERT INTO annotation_mentions(annotation_id, player_id, pending) VALUES (?,?,?)`, a.ID, m.PlayerID, boolInt(m.Pending)); err != nil {
				break
			}
		}
	default:
		return fmt.Errorf("invalid component kind %q", kind)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	return nil
}

var componentTables = map[domain.ComponentKind]string{
	domain.KindNote:     "annotation_notes",
	domain.KindDrawing:  "annotation_drawings",
	domain.KindLoop:     "annotation_loops",
	domain.KindTags:     "annotation_tags",
	domain.KindMentions: "annotation_mentions",
}

func deleteComponent(ctx context.Context, tx *sql.Tx, id string, kind domain.ComponentKind) error {
	table, ok := componentTables[kind]
	if !ok {
		return fmt.Errorf("invalid component kind %q", kind)
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE annotation_id=?`, id)
	return err
}

func loadComponents(ctx context.Context, q querier, a *domain.Annotation) error {
	var content string
	err := q.QueryRowContext(ctx, `SELECT content FROM annotation_notes WHERE annotation_id=?`, a.ID).Scan(&content)
	switch {
	case err == nil:
		a.Note = &domain.Note{Content: content}
	case err != sql.ErrNoRows:
		return err
	}

	var d domain.Drawing
	var captured string
	err = q.QueryRowContext(ctx, `SELECT raster, original_width, original_height, captured_at FROM annotation_drawings WHERE annotation_id=?`, a.ID).
		Scan(&d.Raster, &d.OriginalWidth, &d.OriginalHeight, &captured)
	switch {
	case err == nil:
		d.CapturedAt = parseTime(captured)
		a.Drawing = &d
	case err != sql.ErrNoRows:
		return err
	}

	var l domain.Loop
	var name sql.NullString
	err = q.QueryRowContext(ctx, `SELECT loop_start, loop_end, name FROM annotation_loops WHERE annotation_id=?`, a.ID).Scan(&l.Start, &l.End, &name)
	switch {
	case err == nil:
		l.Name = name.String
		a.Loop = &l
	case err != sql.ErrNoRows:
		return err
	}

	rows, err := q.QueryContext(ctx, `SELECT name, category FROM annotation_tags WHERE annotation_id=? ORDER BY category, name`, a.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var t domain.Tag
		var cat string
		if err := rows.Scan(&t.Name, &cat); err != nil {
			rows.Close()
			return err
		}
		t.Category = domain.TagCategory(cat)
		a.Tags = append(a.Tags, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx, `SELECT player_id, pending FROM annotation_mentions WHERE annotation_id=? ORDER BY player_id`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.Mention
		var pending int
		if err := rows.Scan(&m.PlayerID, &pending); err != nil {
			return err
		}
		m.Pending = pending != 0
		a.Mentions = append(a.Mentions, m)
	}
	return rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
