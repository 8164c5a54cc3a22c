package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"reelmark/internal/domain"
	"reelmark/internal/events"
)

// Repo is the sqlite-backed persistence and roster collaborator.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

var ErrNotFound = errors.New("not found")

const timeLayout = time.RFC3339Nano

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(db *sql.DB) Repo {
	return Repo{DB: db, Now: time.Now}
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (r Repo) InsertVideo(ctx context.Context, v domain.Video) (domain.Video, error) {
	if v.ID == "" {
		return v, errors.New("video id is required")
	}
	if !v.SourceKind.Valid() {
		return v, fmt.Errorf("invalid source kind %q", v.SourceKind)
	}
	if strings.TrimSpace(v.MediaLocator) == "" {
		return v, errors.New("media locator is required")
	}
	if v.Duration < 0 {
		return v, errors.New("duration must not be negative")
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO videos(id,title,source_kind,media_locator,duration,created_at) VALUES (?,?,?,?,?,?)`,
		v.ID, nullable(v.Title), string(v.SourceKind), v.MediaLocator, v.Duration, formatTime(v.CreatedAt))
	if err != nil {
		return v, fmt.Errorf("insert video: %w", err)
	}
	return v, nil
}

// UpdateVideoDuration records a duration reported by a playback backend.
func (r Repo) UpdateVideoDuration(ctx context.Context, id string, duration float64) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE videos SET duration=? WHERE id=?`, duration, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetVideo(ctx context.Context, id string) (domain.Video, error) {
	return scanVideo(r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(title,''),source_kind,media_locator,duration,created_at FROM videos WHERE id=?`, id))
}

func (r Repo) ListVideos(ctx context.Context) ([]domain.Video, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(title,''),source_kind,media_locator,duration,created_at FROM videos ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner) (domain.Video, error) {
	var v domain.Video
	var kind, created string
	err := row.Scan(&v.ID, &v.Title, &kind, &v.MediaLocator, &v.Duration, &created)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.SourceKind = domain.SourceKind(kind)
	v.CreatedAt = parseTime(created)
	return v, nil
}

// LatestEvents returns the newest audit events first, optionally filtered by entity.
func (r Repo) LatestEvents(ctx context.Context, limit int, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		where []string
		args  []any
	)
	if entityKind != "" {
		where = append(where, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		where = append(where, "entity_id=?")
		args = append(args, entityID)
	}
	q := `SELECT id,ts,type,COALESCE(video_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.VideoID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with id > after, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, after int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(video_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
		FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.VideoID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID is the id of the newest event, 0 when there are none.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
