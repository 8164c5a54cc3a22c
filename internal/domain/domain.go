package domain

import (
	"strings"
	"time"
)

type SourceKind string

const (
	SourceLocal    SourceKind = "local"
	SourceEmbedded SourceKind = "embedded"
)

func (k SourceKind) Valid() bool {
	return k == SourceLocal || k == SourceEmbedded
}

type Video struct {
	ID           string     `json:"id"`
	Title        string     `json:"title,omitempty"`
	SourceKind   SourceKind `json:"source_kind" enum:"local,embedded"`
	MediaLocator string     `json:"media_locator"`
	Duration     float64    `json:"duration"`
	CreatedAt    time.Time  `json:"created_at"`
}

type Annotation struct {
	ID             string     `json:"id"`
	VideoID        string     `json:"video_id"`
	Title          string     `json:"title,omitempty"`
	TimestampStart float64    `json:"timestamp_start"`
	TimestampEnd   float64    `json:"timestamp_end"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	Note           *Note      `json:"note,omitempty"`
	Drawing        *Drawing   `json:"drawing,omitempty"`
	Loop           *Loop      `json:"loop,omitempty"`
	Tags           TagSet     `json:"tags,omitempty"`
	Mentions       MentionSet `json:"mentions,omitempty"`
}

// Kinds lists attached component kinds in marker precedence order.
func (a Annotation) Kinds() []ComponentKind {
	var out []ComponentKind
	for _, k := range ComponentKinds {
		if a.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (a Annotation) Has(k ComponentKind) bool {
	switch k {
	case KindDrawing:
		return a.Drawing != nil
	case KindNote:
		return a.Note != nil
	case KindLoop:
		return a.Loop != nil
	case KindTags:
		return len(a.Tags) > 0
	case KindMentions:
		return len(a.Mentions) > 0
	}
	return false
}

// IsDraft reports an annotation with no title and no components.
func (a Annotation) IsDraft() bool {
	return strings.TrimSpace(a.Title) == "" && len(a.Kinds()) == 0
}

func (a Annotation) Deleted() bool {
	return a.DeletedAt != nil
}

// Clone returns a copy that shares no mutable state with a.
func (a Annotation) Clone() Annotation {
	out := a
	if a.DeletedAt != nil {
		t := *a.DeletedAt
		out.DeletedAt = &t
	}
	if a.Note != nil {
		n := *a.Note
		out.Note = &n
	}
	if a.Drawing != nil {
		d := *a.Drawing
		d.Raster = append([]byte(nil), a.Drawing.Raster...)
		out.Drawing = &d
	}
	if a.Loop != nil {
		l := *a.Loop
		out.Loop = &l
	}
	if a.Tags != nil {
		out.Tags = append(TagSet(nil), a.Tags...)
	}
	if a.Mentions != nil {
		out.Mentions = append(MentionSet(nil), a.Mentions...)
	}
	return out
}

// Apply attaches c, replacing any component of the same kind.
func (a *Annotation) Apply(c Component) {
	switch v := c.(type) {
	case Note:
		a.Note = &v
	case *Note:
		n := *v
		a.Note = &n
	case Drawing:
		a.Drawing = &v
	case *Drawing:
		d := *v
		a.Drawing = &d
	case Loop:
		a.setLoop(v)
	case *Loop:
		a.setLoop(*v)
	case TagSet:
		a.Tags = v.Normalize()
	case MentionSet:
		a.Mentions = v.Normalize()
	}
}

func (a *Annotation) setLoop(l Loop) {
	a.Loop = &l
	a.TimestampEnd = l.End
	if a.TimestampEnd < a.TimestampStart {
		a.TimestampEnd = a.TimestampStart
	}
}

// Remove detaches the component of kind k. Removing a loop collapses the
// annotation back to a point event.
func (a *Annotation) Remove(k ComponentKind) {
	switch k {
	case KindDrawing:
		a.Drawing = nil
	case KindNote:
		a.Note = nil
	case KindLoop:
		a.Loop = nil
		a.TimestampEnd = a.TimestampStart
	case KindTags:
		a.Tags = nil
	case KindMentions:
		a.Mentions = nil
	}
}

// ClampSpan bounds a time span to [0, duration] and keeps start <= end.
// A non-positive duration disables the upper bound.
func ClampSpan(start, end, duration float64) (float64, float64) {
	if start < 0 {
		start = 0
	}
	if duration > 0 {
		if start > duration {
			start = duration
		}
		if end > duration {
			end = duration
		}
	}
	if end < start {
		end = start
	}
	return start, end
}

type RosterEntry struct {
	ID           string `json:"id"`
	TeamID       string `json:"team_id"`
	DisplayName  string `json:"display_name"`
	JerseyNumber *int   `json:"jersey_number,omitempty"`
	Pending      bool   `json:"pending"`
}

type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles,omitempty"`
}

func (a Actor) HasRole(roles ...string) bool {
	for _, have := range a.Roles {
		for _, want := range roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	VideoID    string `json:"video_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates a service actor. Only the hash of the key is stored.
type APIKey struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
