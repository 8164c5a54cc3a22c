package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type ComponentKind string

const (
	KindDrawing  ComponentKind = "drawing"
	KindNote     ComponentKind = "note"
	KindLoop     ComponentKind = "loop"
	KindTags     ComponentKind = "tags"
	KindMentions ComponentKind = "mentions"
)

// ComponentKinds is ordered by marker color precedence.
var ComponentKinds = []ComponentKind{KindDrawing, KindNote, KindLoop, KindTags, KindMentions}

func ParseComponentKind(s string) (ComponentKind, error) {
	k := ComponentKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ComponentKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid component kind %q", s)
}

// Component is one optional facet of an annotation.
type Component interface {
	Kind() ComponentKind
}

type Note struct {
	Content string `json:"content"`
}

func (Note) Kind() ComponentKind { return KindNote }

// Drawing keeps the raster together with the canvas size it was drawn at;
// replay on another size rescales against these dimensions.
type Drawing struct {
	Raster         []byte    `json:"raster"`
	OriginalWidth  int       `json:"original_canvas_width"`
	OriginalHeight int       `json:"original_canvas_height"`
	CapturedAt     time.Time `json:"captured_at"`
}

func (Drawing) Kind() ComponentKind { return KindDrawing }

type Loop struct {
	Start float64 `json:"loop_start"`
	End   float64 `json:"loop_end"`
	Name  string  `json:"name,omitempty"`
}

func (Loop) Kind() ComponentKind { return KindLoop }

func (l Loop) Validate() error {
	if l.Start < 0 {
		return fmt.Errorf("loop start %.3f is negative", l.Start)
	}
	if l.End <= l.Start {
		return fmt.Errorf("loop end %.3f must be after start %.3f", l.End, l.Start)
	}
	return nil
}

type TagCategory string

const (
	CategoryOffensive   TagCategory = "offensive"
	CategoryDefensive   TagCategory = "defensive"
	CategoryTransition  TagCategory = "transition"
	CategoryTechnical   TagCategory = "technical"
	CategorySituational TagCategory = "situational"
	CategoryOutcome     TagCategory = "outcome"
)

var TagCategories = []TagCategory{
	CategoryOffensive,
	CategoryDefensive,
	CategoryTransition,
	CategoryTechnical,
	CategorySituational,
	CategoryOutcome,
}

func (c TagCategory) Valid() bool {
	for _, known := range TagCategories {
		if c == known {
			return true
		}
	}
	return false
}

type Tag struct {
	Name     string      `json:"name"`
	Category TagCategory `json:"category" enum:"offensive,defensive,transition,technical,situational,outcome"`
}

// TagSet is unordered; Normalize drops duplicates and sorts for stable storage.
type TagSet []Tag

func (TagSet) Kind() ComponentKind { return KindTags }

func (s TagSet) Normalize() TagSet {
	seen := map[string]bool{}
	var out TagSet
	for _, t := range s {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			continue
		}
		key := strings.ToLower(t.Name) + "|" + string(t.Category)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s TagSet) Validate() error {
	for _, t := range s {
		if !t.Category.Valid() {
			return fmt.Errorf("tag %q has invalid category %q", t.Name, t.Category)
		}
	}
	return nil
}

// Mention references a roster entry. Pending marks an unregistered placeholder player.
type Mention struct {
	PlayerID string `json:"player_id"`
	Pending  bool   `json:"pending,omitempty"`
}

type MentionSet []Mention

func (MentionSet) Kind() ComponentKind { return KindMentions }

func (s MentionSet) Normalize() MentionSet {
	seen := map[string]bool{}
	var out MentionSet
	for _, m := range s {
		if m.PlayerID == "" || seen[m.PlayerID] {
			continue
		}
		seen[m.PlayerID] = true
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}
