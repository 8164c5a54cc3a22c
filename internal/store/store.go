package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"reelmark/internal/domain"
)

const instrumentationName = "reelmark/internal/store"

// Remote is the persistence collaborator. Implemented by repo.Repo and the
// HTTP client in sdk/go.
type Remote interface {
	ListAnnotations(ctx context.Context, videoID string) ([]domain.Annotation, error)
	CreateAnnotation(ctx context.Context, a domain.Annotation) (domain.Annotation, error)
	UpdateAnnotation(ctx context.Context, a domain.Annotation, actorID string) (domain.Annotation, error)
	PutComponent(ctx context.Context, id string, c domain.Component, actorID string) (domain.Annotation, error)
	RemoveComponent(ctx context.Context, id string, kind domain.ComponentKind, actorID string) (domain.Annotation, error)
	SoftDeleteAnnotation(ctx context.Context, id, actorID string) error
	PurgeAnnotation(ctx context.Context, id, actorID string) error
}

// PersistenceError wraps a failed remote write. Action names what the user tried.
type PersistenceError struct {
	Action       string
	AnnotationID string
	Err          error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// Store keeps the annotations of one video in memory. Writes are applied
// locally first, then sent to the remote; a rejected write restores the
// previous local state. Every acknowledged write is followed by a refetch
// merged last-write-wins on UpdatedAt.
type Store struct {
	remote  Remote
	videoID string
	log     zerolog.Logger
	now     func() time.Time

	mu        sync.Mutex
	items     map[string]domain.Annotation
	inflight  map[string]int
	listeners map[int]func([]domain.Annotation)
	nextID    int

	writes    metric.Int64Counter
	failures  metric.Int64Counter
	reconcile metric.Float64Histogram
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store for videoID. Metrics use the global OTel meter (no-op
// unless a provider is installed).
func New(remote Remote, videoID string, opts ...Option) (*Store, error) {
	s := &Store{
		remote:    remote,
		videoID:   videoID,
		log:       zerolog.Nop(),
		now:       time.Now,
		items:     map[string]domain.Annotation{},
		inflight:  map[string]int{},
		listeners: map[int]func([]domain.Annotation){},
	}
	for _, opt := range opts {
		opt(s)
	}
	m := otel.Meter(instrumentationName)
	var err error
	s.writes, err = m.Int64Counter("store.writes", metric.WithDescription("Annotation writes sent to the remote"))
	if err != nil {
		return nil, fmt.Errorf("creating writes counter: %w", err)
	}
	s.failures, err = m.Int64Counter("store.write.failures", metric.WithDescription("Annotation writes rejected by the remote"))
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}
	s.reconcile, err = m.Float64Histogram("store.reconcile.duration", metric.WithUnit("ms"),
		metric.WithDescription("Refetch and merge duration"))
	if err != nil {
		return nil, fmt.Errorf("creating reconcile histogram: %w", err)
	}
	return s, nil
}

func (s *Store) VideoID() string { return s.videoID }

// Annotations returns the non-deleted annotations ordered by start time.
func (s *Store) Annotations() []domain.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Get(id string) (domain.Annotation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return domain.Annotation{}, false
	}
	return a.Clone(), true
}

// Subscribe registers fn to receive the list after every change.
func (s *Store) Subscribe(fn func([]domain.Annotation)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Refresh refetches the list and merges it. On failure the in-memory list is
// kept and the error is logged and returned.
func (s *Store) Refresh(ctx context.Context) error {
	start := time.Now()
	remote, err := s.remote.ListAnnotations(ctx, s.videoID)
	if err != nil {
		s.log.Warn().Err(err).Str("video_id", s.videoID).Msg("refetch annotations failed; keeping local list")
		return fmt.Errorf("refetch annotations: %w", err)
	}
	s.mu.Lock()
	s.mergeLocked(remote)
	s.mu.Unlock()
	s.reconcile.Record(ctx, float64(time.Since(start).Microseconds())/1000)
	s.notify()
	return nil
}

func (s *Store) mergeLocked(remote []domain.Annotation) {
	merged := make(map[string]domain.Annotation, len(remote))
	for _, r := range remote {
		if r.Deleted() || r.VideoID != s.videoID {
			continue
		}
		if local, ok := s.items[r.ID]; ok && (s.inflight[r.ID] > 0 || local.UpdatedAt.After(r.UpdatedAt)) {
			merged[r.ID] = local
			continue
		}
		merged[r.ID] = r.Clone()
	}
	for id, local := range s.items {
		if _, ok := merged[id]; !ok && s.inflight[id] > 0 {
			merged[id] = local
		}
	}
	s.items = merged
}

// Create inserts a new annotation. A missing ID is generated up front so the
// optimistic row and the persisted row share it.
func (s *Store) Create(ctx context.Context, action string, a domain.Annotation) (domain.Annotation, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.VideoID = s.videoID
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return s.write(ctx, action, a.ID, a.CreatedBy, func(cur domain.Annotation, exists bool) (domain.Annotation, bool) {
		return a.Clone(), true
	}, func(ctx context.Context) (*domain.Annotation, error) {
		created, err := s.remote.CreateAnnotation(ctx, a)
		return &created, err
	})
}

// Update persists title and timestamps.
func (s *Store) Update(ctx context.Context, action string, a domain.Annotation, actorID string) (domain.Annotation, error) {
	return s.write(ctx, action, a.ID, actorID, func(cur domain.Annotation, exists bool) (domain.Annotation, bool) {
		if !exists {
			return cur, false
		}
		cur.Title = a.Title
		cur.TimestampStart = a.TimestampStart
		if cur.Loop == nil {
			cur.TimestampEnd = a.TimestampEnd
		}
		return cur, true
	}, func(ctx context.Context) (*domain.Annotation, error) {
		updated, err := s.remote.UpdateAnnotation(ctx, a, actorID)
		return &updated, err
	})
}

func (s *Store) PutComponent(ctx context.Context, action, id string, c domain.Component, actorID string) (domain.Annotation, error) {
	return s.write(ctx, action, id, actorID, func(cur domain.Annotation, exists bool) (domain.Annotation, bool) {
		if !exists {
			return cur, false
		}
		cur.Apply(c)
		return cur, true
	}, func(ctx context.Context) (*domain.Annotation, error) {
		updated, err := s.remote.PutComponent(ctx, id, c, actorID)
		return &updated, err
	})
}

func (s *Store) RemoveComponent(ctx context.Context, action, id string, kind domain.ComponentKind, actorID string) (domain.Annotation, error) {
	return s.write(ctx, action, id, actorID, func(cur domain.Annotation, exists bool) (domain.Annotation, bool) {
		if !exists {
			return cur, false
		}
		cur.Remove(kind)
		return cur, true
	}, func(ctx context.Context) (*domain.Annotation, error) {
		updated, err := s.remote.RemoveComponent(ctx, id, kind, actorID)
		return &updated, err
	})
}

// Delete soft-deletes the annotation and drops it from the list.
func (s *Store) Delete(ctx context.Context, action, id, actorID string) error {
	_, err := s.write(ctx, action, id, actorID, removeLocal, func(ctx context.Context) (*domain.Annotation, error) {
		return nil, s.remote.SoftDeleteAnnotation(ctx, id, actorID)
	})
	return err
}

// Purge hard-deletes the annotation. Used to discard drafts.
func (s *Store) Purge(ctx context.Context, action, id, actorID string) error {
	_, err := s.write(ctx, action, id, actorID, removeLocal, func(ctx context.Context) (*domain.Annotation, error) {
		return nil, s.remote.PurgeAnnotation(ctx, id, actorID)
	})
	return err
}

func removeLocal(cur domain.Annotation, exists bool) (domain.Annotation, bool) {
	return cur, false
}

type localFunc func(cur domain.Annotation, exists bool) (domain.Annotation, bool)
type remoteFunc func(ctx context.Context) (*domain.Annotation, error)

func (s *Store) write(ctx context.Context, action, id, actorID string, local localFunc, remote remoteFunc) (domain.Annotation, error) {
	s.mu.Lock()
	prev, existed := s.items[id]
	if existed {
		prev = prev.Clone()
	}
	next, keep := local(prev.Clone(), existed)
	if keep {
		next.UpdatedAt = s.now().UTC()
		s.items[id] = next
	} else {
		delete(s.items, id)
	}
	s.inflight[id]++
	s.mu.Unlock()
	s.notify()

	attrs := metric.WithAttributes(attribute.String("action", action))
	s.writes.Add(ctx, 1, attrs)
	canonical, err := remote(ctx)

	s.mu.Lock()
	s.inflight[id]--
	if s.inflight[id] <= 0 {
		delete(s.inflight, id)
	}
	if err != nil {
		if existed {
			s.items[id] = prev
		} else {
			delete(s.items, id)
		}
		s.mu.Unlock()
		s.failures.Add(ctx, 1, attrs)
		s.log.Error().Err(err).Str("action", action).Str("annotation_id", id).Str("actor_id", actorID).Msg("write rejected; local state rolled back")
		s.notify()
		return prev, PersistenceError{Action: action, AnnotationID: id, Err: err}
	}
	result := next
	if canonical != nil && keep {
		result = canonical.Clone()
		s.items[id] = result
	}
	s.mu.Unlock()

	if rerr := s.Refresh(ctx); rerr != nil {
		s.notify()
	}
	if got, ok := s.Get(id); ok {
		result = got
	}
	return result, nil
}

func (s *Store) snapshotLocked() []domain.Annotation {
	out := make([]domain.Annotation, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimestampStart != out[j].TimestampStart {
			return out[i].TimestampStart < out[j].TimestampStart
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) notify() {
	s.mu.Lock()
	list := s.snapshotLocked()
	fns := make([]func([]domain.Annotation), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(list)
	}
}
