package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"reelmark/internal/auth"
	"reelmark/internal/config"
	"reelmark/internal/db"
	"reelmark/internal/domain"
	"reelmark/internal/migrate"
	"reelmark/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Repo   repo.Repo
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.New(conn)
	ctx := context.Background()
	if _, err := r.InsertVideo(ctx, domain.Video{ID: "vid-1", SourceKind: domain.SourceLocal, MediaLocator: "match.mp4", Duration: 90}); err != nil {
		t.Fatalf("insert video: %v", err)
	}
	if err := r.GrantRole(ctx, "coach-1", "coach"); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	handler, err := New(Config{
		Repo:     r,
		Policy:   auth.Policy{ElevatedRoles: []string{"coach"}},
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, DevLogin: true},
		Log:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL + "/v1", Repo: r, client: srv.Client()}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return v
}

func (s *testServer) create(t *testing.T, actor string, start float64) domain.Annotation {
	t.Helper()
	res, data := s.do(t, http.MethodPost, "/videos/vid-1/annotations", map[string]any{"timestamp_start": start}, as(actor))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create annotation: %d %s", res.StatusCode, string(data))
	}
	return decode[domain.Annotation](t, data)
}

func TestAnnotationLifecycle(t *testing.T) {
	srv := newTestServer(t)
	a := srv.create(t, "analyst", 12)
	if a.CreatedBy != "analyst" || a.VideoID != "vid-1" {
		t.Fatalf("unexpected annotation %+v", a)
	}

	res, data := srv.do(t, http.MethodPut, "/annotations/"+a.ID+"/components/note", map[string]any{
		"note": map[string]any{"content": "press higher"},
	}, as("analyst"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put note: %d %s", res.StatusCode, string(data))
	}
	res, data = srv.do(t, http.MethodPut, "/annotations/"+a.ID+"/components/loop", map[string]any{
		"loop": map[string]any{"loop_start": 12, "loop_end": 20},
	}, as("analyst"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put loop: %d %s", res.StatusCode, string(data))
	}
	if got := decode[domain.Annotation](t, data); got.TimestampEnd != 20 || got.Note == nil {
		t.Fatalf("after loop: %+v", got)
	}

	res, data = srv.do(t, http.MethodPatch, "/annotations/"+a.ID, map[string]any{"title": "High press"}, as("analyst"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch: %d %s", res.StatusCode, string(data))
	}

	res, data = srv.do(t, http.MethodDelete, "/annotations/"+a.ID+"/components/loop", nil, as("analyst"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("remove loop: %d %s", res.StatusCode, string(data))
	}

	res, data = srv.do(t, http.MethodGet, "/annotations/"+a.ID, nil, as("analyst"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get: %d %s", res.StatusCode, string(data))
	}
	got := decode[domain.Annotation](t, data)
	if got.Title != "High press" || got.Loop != nil || got.TimestampEnd != got.TimestampStart {
		t.Fatalf("final annotation %+v", got)
	}

	res, data = srv.do(t, http.MethodGet, "/videos/vid-1/annotations", nil, as("viewer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	if list := decode[AnnotationList](t, data); len(list.Items) != 1 {
		t.Fatalf("list = %+v", list)
	}
}

func TestPermissionDenied(t *testing.T) {
	srv := newTestServer(t)
	a := srv.create(t, "analyst", 5)

	res, data := srv.do(t, http.MethodPut, "/annotations/"+a.ID+"/components/note", map[string]any{
		"note": map[string]any{"content": "not mine"},
	}, as("player-9"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	body := decode[apiError](t, data)
	if body.Body.Code != "forbidden" {
		t.Fatalf("error code = %q", body.Body.Code)
	}

	res, _ = srv.do(t, http.MethodDelete, "/annotations/"+a.ID, nil, as("player-9"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("delete by stranger: %d", res.StatusCode)
	}
	res, data = srv.do(t, http.MethodPatch, "/annotations/"+a.ID, map[string]any{"title": "coach edit"}, as("coach-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("elevated edit: %d %s", res.StatusCode, string(data))
	}
}

func TestDeleteRestoreAndPurge(t *testing.T) {
	srv := newTestServer(t)
	a := srv.create(t, "analyst", 30)

	res, data := srv.do(t, http.MethodDelete, "/annotations/"+a.ID, nil, as("analyst"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d %s", res.StatusCode, string(data))
	}
	res, _ = srv.do(t, http.MethodPost, "/annotations/"+a.ID+"/restore", nil, as("analyst"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("restore by creator should need an elevated role, got %d", res.StatusCode)
	}
	res, data = srv.do(t, http.MethodGet, "/videos/vid-1/annotations?deleted=true", nil, as("coach-1"))
	if res.StatusCode != http.StatusOK || len(decode[AnnotationList](t, data).Items) != 1 {
		t.Fatalf("deleted list: %d %s", res.StatusCode, string(data))
	}
	res, data = srv.do(t, http.MethodPost, "/annotations/"+a.ID+"/restore", nil, as("coach-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("restore: %d %s", res.StatusCode, string(data))
	}
	res, _ = srv.do(t, http.MethodPost, "/annotations/"+a.ID+"/restore", nil, as("coach-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second restore: %d", res.StatusCode)
	}

	res, _ = srv.do(t, http.MethodDelete, "/annotations/"+a.ID+"?purge=true", nil, as("analyst"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("purge: %d", res.StatusCode)
	}
	res, _ = srv.do(t, http.MethodGet, "/annotations/"+a.ID, nil, as("analyst"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("purged annotation still readable: %d", res.StatusCode)
	}
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t)
	a := srv.create(t, "analyst", 1)

	res, _ := srv.do(t, http.MethodPut, "/annotations/"+a.ID+"/components/bogus", map[string]any{}, as("analyst"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown kind: %d", res.StatusCode)
	}
	res, data := srv.do(t, http.MethodPut, "/annotations/"+a.ID+"/components/loop", map[string]any{
		"loop": map[string]any{"loop_start": 10, "loop_end": 4},
	}, as("analyst"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid loop: %d %s", res.StatusCode, string(data))
	}
	res, _ = srv.do(t, http.MethodPut, "/annotations/"+a.ID+"/components/note", map[string]any{}, as("analyst"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing note body: %d", res.StatusCode)
	}
	res, _ = srv.do(t, http.MethodPost, "/videos/missing/annotations", map[string]any{"timestamp_start": 1}, as("analyst"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing video: %d", res.StatusCode)
	}
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t)
	res, _ := srv.do(t, http.MethodGet, "/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous /me: %d", res.StatusCode)
	}
	res, _ = srv.do(t, http.MethodGet, "/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}

	res, data := srv.do(t, http.MethodPost, "/auth/dev/login", map[string]any{"actor_id": "sam", "roles": []string{"coach"}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	token := decode[DevLoginResponse](t, data).Token
	res, data = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt /me: %d %s", res.StatusCode, string(data))
	}
	me := decode[WhoAmIResponse](t, data)
	if me.ActorID != "sam" || !me.Elevated || me.Source != "jwt" {
		t.Fatalf("jwt principal %+v", me)
	}

	res, _ = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", res.StatusCode)
	}

	_, plain, err := srv.Repo.CreateAPIKey(context.Background(), "coach-1", "tablet")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	res, data = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Api-Key": plain})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key /me: %d %s", res.StatusCode, string(data))
	}
	me = decode[WhoAmIResponse](t, data)
	if me.ActorID != "coach-1" || !me.Elevated || me.Source != "api_key" {
		t.Fatalf("api key principal %+v", me)
	}
}

func TestRoster(t *testing.T) {
	srv := newTestServer(t)
	res, _ := srv.do(t, http.MethodPost, "/teams/t1/roster", map[string]any{"display_name": "Ana"}, as("analyst"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("roster edit by non-elevated: %d", res.StatusCode)
	}
	res, data := srv.do(t, http.MethodPost, "/teams/t1/roster", map[string]any{"display_name": "Ana", "pending": true}, as("coach-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add roster: %d %s", res.StatusCode, string(data))
	}
	res, data = srv.do(t, http.MethodGet, "/teams/t1/roster", nil, as("analyst"))
	list := decode[RosterList](t, data)
	if res.StatusCode != http.StatusOK || len(list.Items) != 1 || !list.Items[0].Pending {
		t.Fatalf("roster: %d %s", res.StatusCode, string(data))
	}
}

func TestWebhookDispatcher(t *testing.T) {
	srv := newTestServer(t)
	var (
		mu       sync.Mutex
		received []webhookEvent
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
		if r.Header.Get("X-Reelmark-Event") != evt.Type {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer hook.Close()

	old := srv.create(t, "analyst", 1)
	d := NewWebhookDispatcher(srv.Repo, []config.WebhookConfig{{URL: hook.URL, Events: []string{"annotation.created"}}}, zerolog.Nop())
	ctx := context.Background()
	d.DispatchOnce(ctx)

	a := srv.create(t, "analyst", 2)
	srv.do(t, http.MethodPut, "/annotations/"+a.ID+"/components/note", map[string]any{"note": map[string]any{"content": "x"}}, as("analyst"))
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("received %d events, want 1: %+v", len(received), received)
	}
	if received[0].EntityID != a.ID || received[0].EntityID == old.ID {
		t.Fatalf("delivered %+v", received[0])
	}
}
