package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"taskline/internal/app"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/repo"
	"taskline/internal/testutil"
)

const (
	testSecret = "test-secret"
	sheetURL   = "https://docs.google.com/spreadsheets/d/sheet-1/edit"
)

type testServer struct {
	URL    string
	RT     *app.Runtime
	Sink   *testutil.Sink
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, admins ...string) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{File: filepath.Join(t.TempDir(), "server.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.Admins = admins
	fake := testutil.NewSink()
	sheet := testutil.NewWorksheet("Tasks", repo.SheetHeader, 5)
	logger := log.New(io.Discard, "", 0)
	rt, err := app.Build(context.Background(), app.Options{
		Config:      cfg,
		DB:          conn,
		Sink:        fake,
		Opener:      &testutil.Opener{Books: map[string]*testutil.Book{"sheet-1": {Sheets: []*testutil.Worksheet{sheet}}}},
		Logger:      logger,
		WindowSleep: func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	handler, err := New(Config{
		Engine:   rt.Engine,
		Repo:     rt.Repo,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			DevLogin:               true,
			AllowLegacyActorHeader: true,
			Logger:                 logger,
		},
		Metrics: rt.Metrics,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		RT:     rt,
		Sink:   fake,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			rt.Close(context.Background())
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
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

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestHealthIsOpenAndAPIRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/allocation/status", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(body))
	}
	if code := errorCode(t, body); code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %s", code)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d %s", res.StatusCode, string(body))
	}
}

func TestAllocationLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/allocation/start", map[string]any{"total_tasks": 2}, as("ops"))
	if res.StatusCode != http.StatusConflict || errorCode(t, body) != "not_configured" {
		t.Fatalf("expected not_configured, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/allocation/configure", map[string]any{"window_seconds": 90}, as("ops"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for window, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/allocation/configure", map[string]any{
		"interval_minutes": 10,
		"window_seconds":   5,
		"revocation_hours": 12,
		"ledger_url":       sheetURL,
	}, as("ops"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("configure status %d: %s", res.StatusCode, string(body))
	}
	var settings SettingsResponse
	if err := json.Unmarshal(body, &settings); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}
	if settings.IntervalMinutes != 10 || settings.WindowSeconds != 5 || settings.RevocationHours != 12 {
		t.Fatalf("unexpected settings %+v", settings)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/allocation/start", map[string]any{"total_tasks": 2, "task_type": "comment"}, as("ops"))
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("start status %d: %s", res.StatusCode, string(body))
	}
	var st StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if !st.Running || st.TotalTasks != 2 || !st.LedgerReady {
		t.Fatalf("unexpected start status %+v", st)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/allocation/stop", nil, as("ops"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/allocation/stop", nil, as("ops"))
	if res.StatusCode != http.StatusConflict || errorCode(t, body) != "not_running" {
		t.Fatalf("expected not_running, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/allocation/status", nil, as("viewer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	st = StatusResponse{}
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.Running || st.Settings == nil || st.Settings.LedgerURL != sheetURL {
		t.Fatalf("unexpected status after stop %+v", st)
	}
}

func TestNonAdminCannotManage(t *testing.T) {
	srv, cleanup := newTestServer(t, "ops")
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/allocation/configure", map[string]any{}, as("player"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, body) != "forbidden" {
		t.Fatalf("expected forbidden, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"actor_id": "player"}, as("player"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden api key mint, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, as("player"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(body, &who)
	if who.Admin || who.ActorID != "player" {
		t.Fatalf("unexpected principal %+v", who)
	}
}

func TestAPIKeyAndDevToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"actor_id": "bridge", "name": "chat bridge"}, as("ops"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(body))
	}
	var key CreateAPIKeyResponse
	if err := json.Unmarshal(body, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if !strings.HasPrefix(key.Key, "tlk_") {
		t.Fatalf("unexpected key %q", key.Key)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key %d: %s", res.StatusCode, string(body))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(body, &who)
	if who.ActorID != "bridge" || who.Source != "api_key" {
		t.Fatalf("unexpected principal %+v", who)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "ops"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login %d: %s", res.StatusCode, string(body))
	}
	var login DevLoginResponse
	_ = json.Unmarshal(body, &login)
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via jwt %d: %s", res.StatusCode, string(body))
	}
	who = WhoAmIResponse{}
	_ = json.Unmarshal(body, &who)
	if who.ActorID != "ops" || who.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", who)
	}
}

func TestClaimsAndEventPaging(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, p := range []string{"p1", "p2", "p3"} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rounds/r1/claims", map[string]any{"participant_id": p}, as("bridge"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("claim %s status %d: %s", p, res.StatusCode, string(body))
		}
	}
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rounds/r1/claims", map[string]any{"participant_id": "bot", "bot": true}, as("bridge"))
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ignored":true`) {
		t.Fatalf("expected ignored bot claim, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=claim.registered&limit=2", nil, as("viewer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	var page paginatedEvents
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected 2 items and a cursor, got %+v", page)
	}
	if page.Items[0].EntityID != "r1" || page.Items[0].ActorID != "bridge" {
		t.Fatalf("unexpected event %+v", page.Items[0])
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=claim.registered&limit=2&cursor="+page.NextCursor, nil, as("viewer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(body))
	}
	page = paginatedEvents{}
	_ = json.Unmarshal(body, &page)
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("expected final page of 1, got %+v", page)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, as("viewer"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad cursor 400, got %d %s", res.StatusCode, string(body))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(body), "taskline_cursor") {
		t.Fatalf("expected cursor gauge in output:\n%s", string(body))
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	for _, want := range []string{"/v0/allocation/start", "bearerAuth", "apiKeyAuth"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("openapi missing %q", want)
		}
	}
}

type hookRecorder struct {
	mu      sync.Mutex
	headers []http.Header
	bodies  []webhookEvent
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var evt webhookEvent
	_ = json.NewDecoder(r.Body).Decode(&evt)
	h.mu.Lock()
	h.headers = append(h.headers, r.Header.Clone())
	h.bodies = append(h.bodies, evt)
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	conn, err := db.Open(db.Config{File: filepath.Join(t.TempDir(), "hooks.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	rt, err := app.Build(context.Background(), app.Options{Config: config.Default(), DB: conn, Sink: testutil.NewSink(), Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	defer rt.Close(context.Background())
	ctx := context.Background()

	if _, err := rt.Repo.AppendEvent(ctx, nil, domain.Event{Type: "round.finished", EntityKind: "round"}); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	rec := &hookRecorder{}
	hookSrv := httptest.NewServer(rec)
	defer hookSrv.Close()
	d := NewWebhookDispatcher(rt.Repo, []config.WebhookConfig{
		{URL: hookSrv.URL, Secret: "shh", Events: []string{"winner.processed"}},
	}, log.New(io.Discard, "", 0))
	d.Prime(ctx)

	for _, typ := range []string{"round.finished", "winner.processed"} {
		if _, err := rt.Repo.AppendEvent(ctx, nil, domain.Event{Type: typ, EntityKind: "round", Payload: `{"task":1}`}); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.bodies) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(rec.bodies))
	}
	if rec.bodies[0].Type != "winner.processed" || string(rec.bodies[0].Payload) != `{"task":1}` {
		t.Fatalf("unexpected delivery %+v", rec.bodies[0])
	}
	if rec.headers[0].Get("X-Taskline-Secret") != "shh" || rec.headers[0].Get("X-Taskline-Event") != "winner.processed" {
		t.Fatalf("unexpected headers %v", rec.headers[0])
	}
}

func TestWebhookEventFilter(t *testing.T) {
	cases := []struct {
		events []string
		typ    string
		want   bool
	}{
		{nil, "round.finished", true},
		{[]string{"*"}, "claim.registered", true},
		{[]string{"round.*"}, "round.finished", true},
		{[]string{"round.*"}, "winner.processed", false},
		{[]string{"winner.processed", "allocation.*"}, "allocation.complete", true},
		{[]string{"winner.processed"}, "winner.processed", true},
		{[]string{" ", ""}, "anything", true},
	}
	for _, tc := range cases {
		if got := newEventFilter(tc.events).match(tc.typ); got != tc.want {
			t.Fatalf("filter %v match %q = %v, want %v", tc.events, tc.typ, got, tc.want)
		}
	}
}
