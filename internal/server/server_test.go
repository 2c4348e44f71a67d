package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/migrate"
	"taskboard/internal/policy"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testJWTSecret}})
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.close)
	return testSrv
}

// seedUser provisions an account directly through the engine and logs it in,
// returning the user and a live bearer token.
func (s *testServer) seedUser(t *testing.T, name string, role domain.Role) (domain.User, string) {
	t.Helper()
	ctx := context.Background()
	root := policy.Actor{ID: "root", Role: domain.RoleAdmin}
	u, err := s.Engine.CreateUser(ctx, root, name, name+"@example.com", "password123", role)
	if err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	_, token, err := s.Engine.Login(ctx, u.Email, "password123")
	if err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	return u, token
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, token string) (*http.Response, []byte) {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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

type errEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeErr(t *testing.T, data []byte) errEnvelope {
	t.Helper()
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/register", map[string]any{
		"name": "Ada", "email": "ada@example.com", "password": "password123",
	}, "")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, data)
	}
	var auth AuthResponse
	if err := json.Unmarshal(data, &auth); err != nil {
		t.Fatalf("unmarshal auth: %v", err)
	}
	if auth.Token == "" || auth.User.Role != "user" {
		t.Fatalf("auth response: %+v", auth)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, auth.Token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, data)
	}
	var me UserResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if me.ID != auth.User.ID {
		t.Fatalf("me = %s, want %s", me.ID, auth.User.ID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d", res.StatusCode)
	}
	if env := decodeErr(t, data); env.Error.Code != "unauthorized" {
		t.Fatalf("unauthenticated code %q", env.Error.Code)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, "no-such-token")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d", res.StatusCode)
	}
	if env := decodeErr(t, data); env.Error.Code != "invalid_credentials" {
		t.Fatalf("bad token code %q", env.Error.Code)
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/logout", nil, auth.Token)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, auth.Token)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token status %d", res.StatusCode)
	}
}

func TestJWTSession(t *testing.T) {
	srv := newTestServer(t)
	u, _ := srv.seedUser(t, "jwt-user", domain.RoleManager)

	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "manager",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, signed)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt me status %d: %s", res.StatusCode, data)
	}
	var me UserResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if me.ID != u.ID {
		t.Fatalf("me = %s, want %s", me.ID, u.ID)
	}

	// a JWT session has no stored token to revoke
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/logout", nil, signed)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("jwt logout status %d: %s", res.StatusCode, data)
	}

	// a forged signature is rejected outright
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatal(err)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, forged)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged jwt status %d", res.StatusCode)
	}
}

func TestTaskFlow(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	_, mgr := srv.seedUser(t, "manager", domain.RoleManager)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"title": "Launch", "deadline": "2024-12-31",
	}, mgr)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, data)
	}
	var project ProjectResponse
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/tasks", map[string]any{
		"title": "Ship it", "due_date": "2024-06-01", "priority": "high",
	}, mgr)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, data)
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+task.ID, map[string]any{
		"status": "in_progress",
	}, mgr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update task status %d: %s", res.StatusCode, data)
	}

	// trash, restore, trash again, purge
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+task.ID, nil, mgr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("trash status %d: %s", res.StatusCode, data)
	}
	var trashed TaskResponse
	if err := json.Unmarshal(data, &trashed); err != nil {
		t.Fatal(err)
	}
	if trashed.DeletedAt == nil {
		t.Fatal("trashed task has no deleted_at")
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/restore", nil, mgr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("restore status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+task.ID, nil, mgr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("re-trash status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+task.ID+"/force", nil, mgr)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("purge status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, mgr)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("purged task status %d", res.StatusCode)
	}
}

// TestErrorTaxonomy pins each failure class to its status code and envelope
// code so clients can tell them apart.
func TestErrorTaxonomy(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	_, mgr := srv.seedUser(t, "manager", domain.RoleManager)
	_, outsider := srv.seedUser(t, "outsider", domain.RoleUser)

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"title": "P", "deadline": "2024-12-31",
	}, mgr)
	var project ProjectResponse
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatal(err)
	}
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/tasks", map[string]any{
		"title": "T", "due_date": "2024-06-01",
	}, mgr)
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatal(err)
	}

	// 422: domain validation
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/tasks", map[string]any{
		"title": "T", "due_date": "2023-01-01",
	}, mgr)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("past due date status %d: %s", res.StatusCode, data)
	}
	env := decodeErr(t, data)
	if env.Error.Code != "validation_failed" || env.Error.Details["field"] != "due_date" {
		t.Fatalf("past due date envelope: %+v", env)
	}

	// 404: rows outside the caller's visibility read as absent
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, outsider)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("invisible task status %d: %s", res.StatusCode, data)
	}
	if env := decodeErr(t, data); env.Error.Code != "not_found" {
		t.Fatalf("invisible task code %q", env.Error.Code)
	}

	// 403: visible but not yours to manage
	_, member := srv.seedUser(t, "member", domain.RoleUser)
	memberUser, err := srv.Engine.Repo.GetUserByEmail(context.Background(), "member@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/members", map[string]any{"user_id": memberUser.ID}, mgr); res.StatusCode != http.StatusOK {
		t.Fatalf("invite status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+task.ID, nil, member)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("member trash status %d: %s", res.StatusCode, data)
	}
	if env := decodeErr(t, data); env.Error.Code != "forbidden" {
		t.Fatalf("member trash code %q", env.Error.Code)
	}

	// 409: lifecycle misuse
	if res, _ := doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+task.ID, nil, mgr); res.StatusCode != http.StatusOK {
		t.Fatalf("trash status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+task.ID, nil, mgr)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("double trash status %d: %s", res.StatusCode, data)
	}
	env = decodeErr(t, data)
	if env.Error.Code != "invalid_transition" || env.Error.Details["from"] != "trashed" {
		t.Fatalf("double trash envelope: %+v", env)
	}

	// 400: sort field outside the allow-list
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?sort=password_hash", nil, mgr)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad sort status %d: %s", res.StatusCode, data)
	}
	if env := decodeErr(t, data); env.Error.Code != "bad_request" {
		t.Fatalf("bad sort code %q", env.Error.Code)
	}

	// 400: malformed query value caught by the schema
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?trashed=bogus", nil, mgr)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus trashed selector status %d", res.StatusCode)
	}
}

func TestTrashedSelectorQuery(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	_, mgr := srv.seedUser(t, "manager", domain.RoleManager)

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"title": "P", "deadline": "2024-12-31",
	}, mgr)
	var project ProjectResponse
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatal(err)
	}
	mkTask := func(title string) TaskResponse {
		t.Helper()
		_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/tasks", map[string]any{
			"title": title, "due_date": "2024-06-01",
		}, mgr)
		var task TaskResponse
		if err := json.Unmarshal(data, &task); err != nil {
			t.Fatal(err)
		}
		return task
	}
	active := mkTask("active")
	gone := mkTask("gone")
	if res, _ := doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+gone.ID, nil, mgr); res.StatusCode != http.StatusOK {
		t.Fatal("trash failed")
	}

	list := func(query string) map[string]bool {
		t.Helper()
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks"+query, nil, mgr)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list%s status %d: %s", query, res.StatusCode, data)
		}
		var items []TaskResponse
		if err := json.Unmarshal(data, &items); err != nil {
			t.Fatal(err)
		}
		ids := map[string]bool{}
		for _, it := range items {
			ids[it.ID] = true
		}
		return ids
	}

	if ids := list(""); !ids[active.ID] || ids[gone.ID] {
		t.Fatalf("default listing: %v", ids)
	}
	if ids := list("?trashed=with"); !ids[active.ID] || !ids[gone.ID] {
		t.Fatalf("with listing: %v", ids)
	}
	if ids := list("?trashed=only"); ids[active.ID] || !ids[gone.ID] {
		t.Fatalf("only listing: %v", ids)
	}
}

func TestEventsAdminOnly(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	_, admin := srv.seedUser(t, "admin", domain.RoleAdmin)
	_, plain := srv.seedUser(t, "plain", domain.RoleUser)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin events status %d: %s", res.StatusCode, data)
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatal(err)
	}
	// seeding and logins have already produced audit entries
	if len(events) == 0 {
		t.Fatal("expected audit entries")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events", nil, plain)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("plain events status %d: %s", res.StatusCode, data)
	}
}

func TestCSVExport(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	_, mgr := srv.seedUser(t, "manager", domain.RoleManager)

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"title": "P", "deadline": "2024-12-31",
	}, mgr)
	var project ProjectResponse
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatal(err)
	}
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/tasks", map[string]any{
		"title": "Exported", "due_date": "2024-06-01",
	}, mgr); res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, data)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/export", nil, mgr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, data)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d: %s", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "id,project_id,title,") {
		t.Fatalf("csv header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "Exported") {
		t.Fatalf("csv row: %s", lines[1])
	}
}
