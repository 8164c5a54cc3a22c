package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reelmark/internal/domain"
	"reelmark/internal/events"
)

const annotationColumns = `id, video_id, COALESCE(title,''), timestamp_start, timestamp_end, created_by, created_at, updated_at, deleted_at`

func (r Repo) ListAnnotations(ctx context.Context, videoID string) ([]domain.Annotation, error) {
	return r.listAnnotations(ctx, videoID, false)
}

// ListDeleted returns the soft-deleted annotations of a video.
func (r Repo) ListDeleted(ctx context.Context, videoID string) ([]domain.Annotation, error) {
	return r.listAnnotations(ctx, videoID, true)
}

func (r Repo) listAnnotations(ctx context.Context, videoID string, deleted bool) ([]domain.Annotation, error) {
	cond := "deleted_at IS NULL"
	if deleted {
		cond = "deleted_at IS NOT NULL"
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+annotationColumns+` FROM annotations WHERE video_id=? AND `+cond+`
ORDER BY timestamp_start ASC, created_at ASC, id ASC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	var res []domain.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		if err := loadComponents(ctx, r.DB, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// GetAnnotation returns one annotation with its components, deleted or not.
func (r Repo) GetAnnotation(ctx context.Context, id string) (domain.Annotation, error) {
	return getAnnotation(ctx, r.DB, id)
}

func getAnnotation(ctx context.Context, q querier, id string) (domain.Annotation, error) {
	a, err := scanAnnotation(q.QueryRowContext(ctx, `SELECT `+annotationColumns+` FROM annotations WHERE id=?`, id))
	if err != nil {
		return a, err
	}
	if err := loadComponents(ctx, q, &a); err != nil {
		return a, err
	}
	return a, nil
}

func scanAnnotation(row scanner) (domain.Annotation, error) {
	var a domain.Annotation
	var created, updated string
	var deleted sql.NullString
	err := row.Scan(&a.ID, &a.VideoID, &a.Title, &a.TimestampStart, &a.TimestampEnd, &a.CreatedBy, &created, &updated, &deleted)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	if deleted.Valid {
		t := parseTime(deleted.String)
		a.DeletedAt = &t
	}
	return a, nil
}

// CreateAnnotation inserts the annotation row together with any components it
// already carries. The span is clamped to the video duration.
func (r Repo) CreateAnnotation(ctx context.Context, a domain.Annotation) (domain.Annotation, error) {
	if strings.TrimSpace(a.CreatedBy) == "" {
		return a, errors.New("created_by is required")
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	created, err := r.CreateAnnotationTx(ctx, tx, a)
	if err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return created, nil
}

func (r Repo) CreateAnnotationTx(ctx context.Context, tx *sql.Tx, a domain.Annotation) (domain.Annotation, error) {
	video, err := scanVideo(tx.QueryRowContext(ctx, `SELECT id,COALESCE(title,''),source_kind,media_locator,duration,created_at FROM videos WHERE id=?`, a.VideoID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return a, fmt.Errorf("video %s: %w", a.VideoID, ErrNotFound)
		}
		return a, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.DeletedAt = nil
	if a.TimestampEnd < a.TimestampStart {
		a.TimestampEnd = a.TimestampStart
	}
	a.Tags = a.Tags.Normalize()
	if err := a.Tags.Validate(); err != nil {
		return a, fmt.Errorf("invalid tags: %w", err)
	}
	a.Mentions = a.Mentions.Normalize()
	if a.Loop != nil {
		if err := a.Loop.Validate(); err != nil {
			return a, fmt.Errorf("invalid loop: %w", err)
		}
		a.Apply(*a.Loop)
	}
	a.TimestampStart, a.TimestampEnd = domain.ClampSpan(a.TimestampStart, a.TimestampEnd, video.Duration)
	_, err = tx.ExecContext(ctx, `INSERT INTO annotations(id, video_id, title, timestamp_start, timestamp_end, created_by, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.VideoID, nullable(a.Title), a.TimestampStart, a.TimestampEnd, a.CreatedBy, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return a, fmt.Errorf("insert annotation: %w", err)
	}
	for _, k := range a.Kinds() {
		if err := writeComponent(ctx, tx, a, k); err != nil {
			return a, err
		}
	}
	kinds := make([]string, 0, len(a.Kinds()))
	for _, k := range a.Kinds() {
		kinds = append(kinds, string(k))
	}
	if err := r.Events.Append(ctx, tx, events.AnnotationCreated, a.VideoID, "annotation", a.ID, a.CreatedBy, events.EventPayload{
		"timestamp_start": a.TimestampStart,
		"components":      kinds,
	}); err != nil {
		return a, err
	}
	return getAnnotation(ctx, tx, a.ID)
}

// UpdateAnnotation persists the title and span. Components are written through
// PutComponent/RemoveComponent.
func (r Repo) UpdateAnnotation(ctx context.Context, a domain.Annotation, actorID string) (domain.Annotation, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	current, err := activeAnnotation(ctx, tx, a.ID)
	if err != nil {
		return a, err
	}
	duration, err := videoDuration(ctx, tx, current.VideoID)
	if err != nil {
		return a, err
	}
	start, end := a.TimestampStart, a.TimestampEnd
	if current.Loop != nil {
		end = current.Loop.End
	}
	start, end = domain.ClampSpan(start, end, duration)
	res, err := tx.ExecContext(ctx, `UPDATE annotations SET title=?, timestamp_start=?, timestamp_end=?, updated_at=? WHERE id=? AND deleted_at IS NULL`,
		nullable(strings.TrimSpace(a.Title)), start, end, formatTime(r.now()), a.ID)
	if err != nil {
		return a, fmt.Errorf("update annotation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return a, ErrNotFound
	}
	if err := r.Events.Append(ctx, tx, events.AnnotationUpdated, current.VideoID, "annotation", a.ID, actorID, events.EventPayload{
		"title":           strings.TrimSpace(a.Title),
		"timestamp_start": start,
	}); err != nil {
		return a, err
	}
	updated, err := getAnnotation(ctx, tx, a.ID)
	if err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return updated, nil
}

// SoftDeleteAnnotation stamps deleted_at; the row and its components stay.
func (r Repo) SoftDeleteAnnotation(ctx context.Context, id, actorID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	current, err := activeAnnotation(ctx, tx, id)
	if err != nil {
		return err
	}
	now := formatTime(r.now())
	if _, err := tx.ExecContext(ctx, `UPDATE annotations SET deleted_at=?, updated_at=? WHERE id=?`, now, now, id); err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.AnnotationDeleted, current.VideoID, "annotation", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// PurgeAnnotation removes the row and, by cascade, its components. Used for
// discarded drafts.
func (r Repo) PurgeAnnotation(ctx context.Context, id, actorID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var videoID string
	err = tx.QueryRowContext(ctx, `SELECT video_id FROM annotations WHERE id=?`, id).Scan(&videoID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE id=?`, id); err != nil {
		return fmt.Errorf("purge annotation: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.AnnotationPurged, videoID, "annotation", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) RestoreAnnotation(ctx context.Context, id, actorID string) (domain.Annotation, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Annotation{}, err
	}
	defer tx.Rollback()
	current, err := getAnnotation(ctx, tx, id)
	if err != nil {
		return current, err
	}
	if !current.Deleted() {
		return current, fmt.Errorf("annotation %s is not deleted", id)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE annotations SET deleted_at=NULL, updated_at=? WHERE id=?`, formatTime(r.now()), id); err != nil {
		return current, fmt.Errorf("restore annotation: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.AnnotationRestored, current.VideoID, "annotation", id, actorID, nil); err != nil {
		return current, err
	}
	restored, err := getAnnotation(ctx, tx, id)
	if err != nil {
		return current, err
	}
	if err := tx.Commit(); err != nil {
		return current, err
	}
	return restored, nil
}

func activeAnnotation(ctx context.Context, q querier, id string) (domain.Annotation, error) {
	a, err := getAnnotation(ctx, q, id)
	if err != nil {
		return a, err
	}
	if a.Deleted() {
		return a, ErrNotFound
	}
	return a, nil
}

func videoDuration(ctx context.Context, q querier, videoID string) (float64, error) {
	var d float64
	err := q.QueryRowContext(ctx, `SELECT duration FROM videos WHERE id=?`, videoID).Scan(&d)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return d, err
}
