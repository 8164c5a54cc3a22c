package server

import (
	"fmt"

	"reelmark/internal/domain"
)

// Request payloads

type CreateVideoRequest struct {
	ID           string  `json:"id"`
	Title        string  `json:"title,omitempty"`
	SourceKind   string  `json:"source_kind" enum:"local,embedded"`
	MediaLocator string  `json:"media_locator"`
	Duration     float64 `json:"duration,omitempty"`
}

type CreateAnnotationRequest struct {
	ID             string   `json:"id,omitempty" doc:"Client generated id; assigned by the server when empty"`
	Title          string   `json:"title,omitempty"`
	TimestampStart float64  `json:"timestamp_start"`
	TimestampEnd   *float64 `json:"timestamp_end,omitempty"`
	ComponentsBody
}

type UpdateAnnotationRequest struct {
	Title          *string  `json:"title,omitempty"`
	TimestampStart *float64 `json:"timestamp_start,omitempty"`
	TimestampEnd   *float64 `json:"timestamp_end,omitempty"`
}

// ComponentsBody carries at most one value per component kind.
type ComponentsBody struct {
	Note     *domain.Note      `json:"note,omitempty"`
	Drawing  *domain.Drawing   `json:"drawing,omitempty"`
	Loop     *domain.Loop      `json:"loop,omitempty"`
	Tags     domain.TagSet     `json:"tags,omitempty"`
	Mentions domain.MentionSet `json:"mentions,omitempty"`
}

// component returns the value for kind, or an error when the body has none.
func (b ComponentsBody) component(kind domain.ComponentKind) (domain.Component, error) {
	switch kind {
	case domain.KindNote:
		if b.Note != nil {
			return *b.Note, nil
		}
	case domain.KindDrawing:
		if b.Drawing != nil {
			return *b.Drawing, nil
		}
	case domain.KindLoop:
		if b.Loop != nil {
			return *b.Loop, nil
		}
	case domain.KindTags:
		if len(b.Tags) > 0 {
			return b.Tags, nil
		}
	case domain.KindMentions:
		if len(b.Mentions) > 0 {
			return b.Mentions, nil
		}
	}
	return nil, fmt.Errorf("body is missing the %s component", kind)
}

// ComponentsOf builds the body form of a's components.
func ComponentsOf(a domain.Annotation) ComponentsBody {
	return ComponentsBody{Note: a.Note, Drawing: a.Drawing, Loop: a.Loop, Tags: a.Tags, Mentions: a.Mentions}
}

type AddRosterEntryRequest struct {
	ID           string `json:"id,omitempty"`
	DisplayName  string `json:"display_name"`
	JerseyNumber *int   `json:"jersey_number,omitempty"`
	Pending      bool   `json:"pending,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Responses

type AnnotationList struct {
	Items []domain.Annotation `json:"items"`
}

type VideoList struct {
	Items []domain.Video `json:"items"`
}

type RosterList struct {
	Items []domain.RosterEntry `json:"items"`
}

type EventList struct {
	Items []domain.Event `json:"items"`
}

type WhoAmIResponse struct {
	ActorID  string   `json:"actor_id"`
	Roles    []string `json:"roles"`
	Elevated bool     `json:"elevated"`
	Source   string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
