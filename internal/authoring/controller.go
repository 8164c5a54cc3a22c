// Package authoring owns the state machine deciding what is being authored:
// at most one annotation at a time and, within it, at most one sub-editor.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reelmark/internal/auth"
	"reelmark/internal/domain"
	"reelmark/internal/drawing"
)

// State is the controller's mode. StateConfirmingDelete sits on top of the
// state it was requested from: View reports it while a delete confirmation
// is open, and the controller falls back to View.Beneath when the
// confirmation is cancelled or completes.
type State int

const (
	StateIdle State = iota
	StateAuthoring
	StateSubEditing
	StatePresenting
	StateConfirmingDelete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthoring:
		return "authoring"
	case StateSubEditing:
		return "sub-editing"
	case StatePresenting:
		return "presenting"
	case StateConfirmingDelete:
		return "confirming-delete"
	}
	return "unknown"
}

var (
	ErrBusy         = errors.New("an event is already being authored")
	ErrEmptyDrawing = errors.New("nothing drawn")
)

// StateError rejects an operation that is not valid in the current state.
type StateError struct {
	Op    string
	State State
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s is not allowed while %s", e.Op, e.State)
}

// Notice is the user-visible message for a failed action.
type Notice struct {
	Action string
	Err    error
}

func (n Notice) String() string {
	return fmt.Sprintf("Could not %s: %v", n.Action, n.Err)
}

// Player is the slice of the playback adapter the controller drives.
type Player interface {
	Play() error
	Pause() error
	Seek(t float64) error
	CurrentTime() float64
	IsPlaying() bool
	OnTimeUpdate(fn func(t float64)) func()
}

type Surface interface {
	SetDrawingMode(on bool)
	DrawingMode() bool
	Clear()
	Empty() bool
	Save() (drawing.Snapshot, error)
	Display(d domain.Drawing) (float64, float64, error)
}

// Store is the annotation list the controller writes through.
type Store interface {
	Get(id string) (domain.Annotation, bool)
	Create(ctx context.Context, action string, a domain.Annotation) (domain.Annotation, error)
	Update(ctx context.Context, action string, a domain.Annotation, actorID string) (domain.Annotation, error)
	PutComponent(ctx context.Context, action, id string, c domain.Component, actorID string) (domain.Annotation, error)
	RemoveComponent(ctx context.Context, action, id string, kind domain.ComponentKind, actorID string) (domain.Annotation, error)
	Delete(ctx context.Context, action, id, actorID string) error
	Purge(ctx context.Context, action, id, actorID string) error
}

// Roster supplies mention candidates.
type Roster interface {
	RosterCandidates(ctx context.Context, teamID string) ([]domain.RosterEntry, error)
}

type Config struct {
	Actor         domain.Actor
	ElevatedRoles []string
	AutoPause     bool
	TeamID        string
}

type Deps struct {
	Player  Player
	Surface Surface
	Store   Store
	Roster  Roster
	Log     zerolog.Logger
	Now     func() time.Time

	// Notify receives failed-action notices. It runs with the controller
	// locked and must not call back into it.
	Notify func(Notice)
}

type session struct {
	annotationID string
	timestamp    float64
	panelOpen    bool
	minimized    bool
	editor       domain.ComponentKind
	quickDraw    bool
}

// View is a read-only snapshot of the controller for rendering.
type View struct {
	State            State
	Beneath          State
	AnnotationID     string
	Timestamp        float64
	PanelOpen        bool
	Minimized        bool
	Editor           domain.ComponentKind
	Components       []domain.ComponentKind
	PendingTargets   map[domain.ComponentKind]string
	Presenting       string
	ConfirmingDelete string
	DrawingMode      bool
}

type Controller struct {
	mu         sync.Mutex
	cfg        Config
	policy     auth.Policy
	player     Player
	surface    Surface
	store      Store
	roster     Roster
	notifyFn   func(Notice)
	log        zerolog.Logger
	now        func() time.Time
	state      State
	sess       *session
	presenting string
	confirm    string
	pending    map[domain.ComponentKind]string

	loopMu sync.Mutex
	loop   *domain.Loop
	unsub  func()
}

func New(cfg Config, deps Deps) *Controller {
	c := &Controller{
		cfg:      cfg,
		policy:   auth.Policy{ElevatedRoles: cfg.ElevatedRoles},
		player:   deps.Player,
		surface:  deps.Surface,
		store:    deps.Store,
		roster:   deps.Roster,
		notifyFn: deps.Notify,
		log:      deps.Log,
		now:      deps.Now,
		pending:  map[domain.ComponentKind]string{},
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.unsub = c.player.OnTimeUpdate(c.onTimeUpdate)
	return c
}

// Close detaches the controller from the player.
func (c *Controller) Close() {
	if c.unsub != nil {
		c.unsub()
	}
}

// UpdatePreferences applies changed preferences and permissions.
func (c *Controller) UpdatePreferences(autoPause bool, elevatedRoles []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.AutoPause = autoPause
	c.cfg.ElevatedRoles = append([]string(nil), elevatedRoles...)
	c.policy = auth.Policy{ElevatedRoles: c.cfg.ElevatedRoles}
	c.log.Debug().Bool("auto_pause", autoPause).Strs("elevated_roles", c.cfg.ElevatedRoles).Msg("preferences updated")
}

func (c *Controller) Actor() domain.Actor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Actor
}

// CanModify applies the creator-or-elevated rule for the current actor.
func (c *Controller) CanModify(a domain.Annotation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.CanModify(c.cfg.Actor, a)
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		State:            c.state,
		Beneath:          c.state,
		Presenting:       c.presenting,
		ConfirmingDelete: c.confirm,
		PendingTargets:   map[domain.ComponentKind]string{},
		DrawingMode:      c.surface.DrawingMode(),
	}
	for k, id := range c.pending {
		v.PendingTargets[k] = id
	}
	if c.confirm != "" {
		v.State = StateConfirmingDelete
	}
	if s := c.sess; s != nil {
		v.AnnotationID = s.annotationID
		v.Timestamp = s.timestamp
		v.PanelOpen = s.panelOpen
		v.Minimized = s.minimized
		v.Editor = s.editor
		if a, ok := c.store.Get(s.annotationID); ok {
			v.Components = a.Kinds()
		}
	}
	if c.state == StatePresenting {
		if a, ok := c.store.Get(c.presenting); ok {
			v.Components = a.Kinds()
			v.AnnotationID = a.ID
			v.Timestamp = a.TimestampStart
		}
	}
	return v
}

func (c *Controller) fail(action string, err error) error {
	n := Notice{Action: action, Err: err}
	c.log.Warn().Err(err).Str("action", action).Msg("action failed")
	if c.notifyFn != nil {
		c.notifyFn(n)
	}
	return err
}

func (c *Controller) pauseForAuthoring() {
	if c.cfg.AutoPause && c.player.IsPlaying() {
		if err := c.player.Pause(); err != nil {
			c.log.Debug().Err(err).Msg("auto pause")
		}
	}
}

func (c *Controller) busy() bool {
	return c.state == StateAuthoring || c.state == StateSubEditing
}

func (c *Controller) onTimeUpdate(t float64) {
	c.loopMu.Lock()
	l := c.loop
	c.loopMu.Unlock()
	if l == nil || t < l.End {
		return
	}
	if err := c.player.Seek(l.Start); err != nil {
		c.log.Debug().Err(err).Msg("loop seek")
	}
}

func (c *Controller) setLoop(l *domain.Loop) {
	c.loopMu.Lock()
	if l != nil {
		cp := *l
		l = &cp
	}
	c.loop = l
	c.loopMu.Unlock()
}
