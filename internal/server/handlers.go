package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"reelmark/internal/auth"
	"reelmark/internal/domain"
)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{OK: true}}, nil
	})
}

func registerMe(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:  p.ActorID,
			Roles:    nonNil(p.Roles),
			Elevated: cfg.Policy.Elevated(p.Actor()),
			Source:   p.Source,
		}}, nil
	})
}

func registerVideos(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-videos",
		Method:      http.MethodGet,
		Path:        "/videos",
		Summary:     "List videos",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body VideoList `json:"body"`
	}, error) {
		items, err := cfg.Repo.ListVideos(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VideoList `json:"body"`
		}{Body: VideoList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-video",
		Method:      http.MethodPost,
		Path:        "/videos",
		Summary:     "Register a video",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateVideoRequest `json:"body"`
	}) (*struct {
		Body domain.Video `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !cfg.Policy.Elevated(p.Actor()) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "registering videos requires an elevated role", nil)
		}
		v, err := cfg.Repo.InsertVideo(ctx, domain.Video{
			ID:           strings.TrimSpace(input.Body.ID),
			Title:        input.Body.Title,
			SourceKind:   domain.SourceKind(input.Body.SourceKind),
			MediaLocator: input.Body.MediaLocator,
			Duration:     input.Body.Duration,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Video `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-video",
		Method:      http.MethodGet,
		Path:        "/videos/{video_id}",
		Summary:     "Get a video",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		VideoID string `path:"video_id"`
	}) (*struct {
		Body domain.Video `json:"body"`
	}, error) {
		v, err := cfg.Repo.GetVideo(ctx, input.VideoID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Video `json:"body"`
		}{Body: v}, nil
	})
}

type annotationOutput struct {
	Body domain.Annotation `json:"body"`
}

func registerAnnotations(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-annotations",
		Method:      http.MethodGet,
		Path:        "/videos/{video_id}/annotations",
		Summary:     "List the annotations of a video",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		VideoID string `path:"video_id"`
		Deleted bool   `query:"deleted" doc:"List soft-deleted annotations instead (elevated roles only)"`
	}) (*struct {
		Body AnnotationList `json:"body"`
	}, error) {
		list := cfg.Repo.ListAnnotations
		if input.Deleted {
			p, authErr := principalFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if !cfg.Policy.Elevated(p.Actor()) {
				return nil, newAPIError(http.StatusForbidden, "forbidden", "listing deleted annotations requires an elevated role", nil)
			}
			list = cfg.Repo.ListDeleted
		}
		items, err := list(ctx, input.VideoID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AnnotationList `json:"body"`
		}{Body: AnnotationList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-annotation",
		Method:      http.MethodPost,
		Path:        "/videos/{video_id}/annotations",
		Summary:     "Create an annotation",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		VideoID string                  `path:"video_id"`
		Body    CreateAnnotationRequest `json:"body"`
	}) (*annotationOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		end := b.TimestampStart
		if b.TimestampEnd != nil {
			end = *b.TimestampEnd
		}
		a, err := cfg.Repo.CreateAnnotation(ctx, domain.Annotation{
			ID:             strings.TrimSpace(b.ID),
			VideoID:        input.VideoID,
			Title:          b.Title,
			TimestampStart: b.TimestampStart,
			TimestampEnd:   end,
			CreatedBy:      p.ActorID,
			Note:           b.Note,
			Drawing:        b.Drawing,
			Loop:           b.Loop,
			Tags:           b.Tags,
			Mentions:       b.Mentions,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &annotationOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-annotation",
		Method:      http.MethodGet,
		Path:        "/annotations/{annotation_id}",
		Summary:     "Get an annotation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AnnotationID string `path:"annotation_id"`
	}) (*annotationOutput, error) {
		a, err := cfg.Repo.GetAnnotation(ctx, input.AnnotationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &annotationOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-annotation",
		Method:      http.MethodPatch,
		Path:        "/annotations/{annotation_id}",
		Summary:     "Rename or move an annotation",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AnnotationID string                  `path:"annotation_id"`
		Body         UpdateAnnotationRequest `json:"body"`
	}) (*annotationOutput, error) {
		a, p, err := authorized(ctx, cfg, auth.ActionEdit, input.AnnotationID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Title != nil {
			a.Title = *input.Body.Title
		}
		if input.Body.TimestampStart != nil {
			a.TimestampStart = *input.Body.TimestampStart
		}
		if input.Body.TimestampEnd != nil {
			a.TimestampEnd = *input.Body.TimestampEnd
		}
		updated, err := cfg.Repo.UpdateAnnotation(ctx, a, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &annotationOutput{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-annotation",
		Method:        http.MethodDelete,
		Path:          "/annotations/{annotation_id}",
		Summary:       "Soft-delete an annotation, or purge it",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AnnotationID string `path:"annotation_id"`
		Purge        bool   `query:"purge" doc:"Remove the row and its components permanently"`
	}) (*struct{}, error) {
		_, p, err := authorized(ctx, cfg, auth.ActionDelete, input.AnnotationID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Purge {
			err = cfg.Repo.PurgeAnnotation(ctx, input.AnnotationID, p.ActorID)
		} else {
			err = cfg.Repo.SoftDeleteAnnotation(ctx, input.AnnotationID, p.ActorID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-annotation",
		Method:      http.MethodPost,
		Path:        "/annotations/{annotation_id}/restore",
		Summary:     "Restore a soft-deleted annotation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AnnotationID string `path:"annotation_id"`
	}) (*annotationOutput, error) {
		_, p, err := authorized(ctx, cfg, auth.ActionRestore, input.AnnotationID)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := cfg.Repo.RestoreAnnotation(ctx, input.AnnotationID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &annotationOutput{Body: a}, nil
	})
}

func registerComponents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "put-component",
		Method:      http.MethodPut,
		Path:        "/annotations/{annotation_id}/components/{kind}",
		Summary:     "Attach or replace a component",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AnnotationID string         `path:"annotation_id"`
		Kind         string         `path:"kind" enum:"drawing,note,loop,tags,mentions"`
		Body         ComponentsBody `json:"body"`
	}) (*annotationOutput, error) {
		kind, err := domain.ParseComponentKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := input.Body.component(kind)
		if err != nil {
			return nil, handleError(err)
		}
		_, p, err := authorized(ctx, cfg, auth.ActionEdit, input.AnnotationID)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := cfg.Repo.PutComponent(ctx, input.AnnotationID, c, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &annotationOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-component",
		Method:      http.MethodDelete,
		Path:        "/annotations/{annotation_id}/components/{kind}",
		Summary:     "Detach a component",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AnnotationID string `path:"annotation_id"`
		Kind         string `path:"kind" enum:"drawing,note,loop,tags,mentions"`
	}) (*annotationOutput, error) {
		kind, err := domain.ParseComponentKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		_, p, err := authorized(ctx, cfg, auth.ActionEdit, input.AnnotationID)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := cfg.Repo.RemoveComponent(ctx, input.AnnotationID, kind, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &annotationOutput{Body: a}, nil
	})
}

func registerRoster(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-roster",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/roster",
		Summary:     "Mention candidates for a team",
	}, func(ctx context.Context, input *struct {
		TeamID string `path:"team_id"`
	}) (*struct {
		Body RosterList `json:"body"`
	}, error) {
		items, err := cfg.Repo.RosterCandidates(ctx, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RosterList `json:"body"`
		}{Body: RosterList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-roster-entry",
		Method:      http.MethodPost,
		Path:        "/teams/{team_id}/roster",
		Summary:     "Add a player or placeholder to a team",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TeamID string                `path:"team_id"`
		Body   AddRosterEntryRequest `json:"body"`
	}) (*struct {
		Body domain.RosterEntry `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !cfg.Policy.Elevated(p.Actor()) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "editing the roster requires an elevated role", nil)
		}
		e, err := cfg.Repo.AddRosterEntry(ctx, domain.RosterEntry{
			ID:           input.Body.ID,
			TeamID:       input.TeamID,
			DisplayName:  input.Body.DisplayName,
			JerseyNumber: input.Body.JerseyNumber,
			Pending:      input.Body.Pending,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RosterEntry `json:"body"`
		}{Body: e}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body EventList `json:"body"`
	}, error) {
		items, err := cfg.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventList `json:"body"`
		}{Body: EventList{Items: nonNil(items)}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, input.Body.Roles, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

// authorized loads the annotation and applies the permission rule for the
// request's principal.
func authorized(ctx context.Context, cfg Config, action, id string) (domain.Annotation, Principal, error) {
	p, authErr := principalFromContext(ctx)
	if authErr != nil {
		return domain.Annotation{}, p, authErr
	}
	a, err := cfg.Repo.GetAnnotation(ctx, id)
	if err != nil {
		return a, p, err
	}
	if err := cfg.Policy.Check(action, p.Actor(), a); err != nil {
		cfg.Log.Info().Str("action", action).Str("annotation_id", id).Str("actor_id", p.ActorID).Msg("permission denied")
		return a, p, err
	}
	return a, p, nil
}
