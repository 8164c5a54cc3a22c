package reelsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reelmark/internal/domain"
)

// Client is a minimal Reelmark HTTP API client. It satisfies the remote
// persistence contract of the annotation store, so a review session can write
// through a server instead of a local database.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// WhoAmI describes the principal the server resolved for this client.
type WhoAmI struct {
	ActorID  string   `json:"actor_id"`
	Roles    []string `json:"roles"`
	Elevated bool     `json:"elevated"`
	Source   string   `json:"source"`
}

func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) Actor(ctx context.Context) (domain.Actor, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{ID: me.ActorID, Roles: me.Roles}, nil
}

func (c *Client) GetVideo(ctx context.Context, id string) (domain.Video, error) {
	var resp domain.Video
	err := c.do(ctx, http.MethodGet, "videos/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ListVideos(ctx context.Context) ([]domain.Video, error) {
	var resp struct {
		Items []domain.Video `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "videos", nil, &resp)
	return resp.Items, err
}

// ListAnnotations returns the active annotations of a video.
func (c *Client) ListAnnotations(ctx context.Context, videoID string) ([]domain.Annotation, error) {
	var resp struct {
		Items []domain.Annotation `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, videoPath(videoID, "annotations"), nil, &resp)
	return resp.Items, err
}

// CreateAnnotation creates a. The server records the authenticated principal
// as creator, whatever a.CreatedBy says.
func (c *Client) CreateAnnotation(ctx context.Context, a domain.Annotation) (domain.Annotation, error) {
	body := map[string]any{
		"timestamp_start": a.TimestampStart,
		"timestamp_end":   a.TimestampEnd,
	}
	if a.ID != "" {
		body["id"] = a.ID
	}
	if a.Title != "" {
		body["title"] = a.Title
	}
	for _, k := range a.Kinds() {
		body[string(k)] = componentValue(a, k)
	}
	var resp domain.Annotation
	err := c.do(ctx, http.MethodPost, videoPath(a.VideoID, "annotations"), body, &resp)
	return resp, err
}

// UpdateAnnotation sends the title and span of a. actorID is implied by the
// credentials.
func (c *Client) UpdateAnnotation(ctx context.Context, a domain.Annotation, _ string) (domain.Annotation, error) {
	body := map[string]any{
		"title":           a.Title,
		"timestamp_start": a.TimestampStart,
		"timestamp_end":   a.TimestampEnd,
	}
	var resp domain.Annotation
	err := c.do(ctx, http.MethodPatch, annotationPath(a.ID), body, &resp)
	return resp, err
}

func (c *Client) PutComponent(ctx context.Context, id string, comp domain.Component, _ string) (domain.Annotation, error) {
	body := map[string]any{string(comp.Kind()): comp}
	var resp domain.Annotation
	err := c.do(ctx, http.MethodPut, annotationPath(id, "components", string(comp.Kind())), body, &resp)
	return resp, err
}

func (c *Client) RemoveComponent(ctx context.Context, id string, kind domain.ComponentKind, _ string) (domain.Annotation, error) {
	var resp domain.Annotation
	err := c.do(ctx, http.MethodDelete, annotationPath(id, "components", string(kind)), nil, &resp)
	return resp, err
}

func (c *Client) SoftDeleteAnnotation(ctx context.Context, id, _ string) error {
	return c.do(ctx, http.MethodDelete, annotationPath(id), nil, nil)
}

func (c *Client) PurgeAnnotation(ctx context.Context, id, _ string) error {
	return c.do(ctx, http.MethodDelete, annotationPath(id)+"?purge=true", nil, nil)
}

func (c *Client) RestoreAnnotation(ctx context.Context, id string) (domain.Annotation, error) {
	var resp domain.Annotation
	err := c.do(ctx, http.MethodPost, annotationPath(id, "restore"), nil, &resp)
	return resp, err
}

// RosterCandidates lists the players and placeholders of a team.
func (c *Client) RosterCandidates(ctx context.Context, teamID string) ([]domain.RosterEntry, error) {
	var resp struct {
		Items []domain.RosterEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "teams/"+url.PathEscape(teamID)+"/roster", nil, &resp)
	return resp.Items, err
}

// Events returns recent audit events, optionally scoped to one entity.
func (c *Client) Events(ctx context.Context, limit int, entityKind, entityID string) ([]domain.Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if entityKind != "" {
		q.Set("entity_kind", entityKind)
	}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []domain.Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func componentValue(a domain.Annotation, k domain.ComponentKind) any {
	switch k {
	case domain.KindNote:
		return a.Note
	case domain.KindDrawing:
		return a.Drawing
	case domain.KindLoop:
		return a.Loop
	case domain.KindTags:
		return a.Tags
	case domain.KindMentions:
		return a.Mentions
	}
	return nil
}

func videoPath(id string, rest ...string) string {
	return joinPath(append([]string{"videos", url.PathEscape(id)}, rest...))
}

func annotationPath(id string, rest ...string) string {
	return joinPath(append([]string{"annotations", url.PathEscape(id)}, rest...))
}

func joinPath(parts []string) string {
	return strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
