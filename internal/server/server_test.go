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

	"taskcull/internal/config"
	"taskcull/internal/db"
	"taskcull/internal/domain"
	"taskcull/internal/engine"
	"taskcull/internal/migrate"
	"taskcull/internal/registry"
)

type testServer struct {
	URL    string
	repo   registry.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := registry.Repo{DB: conn}
	if err := r.SyncRolePermissions(context.Background(), cfg); err != nil {
		t.Fatalf("sync role permissions: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{AllowLocalActorHeader: true}})
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
		repo:   r,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func grantOperator(t *testing.T, r registry.Repo, actorID string, prefix domain.WorkloadPath) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.EnsureActor(ctx, tx, actorID); err != nil {
		t.Fatalf("ensure actor: %v", err)
	}
	if err := r.AssignRole(ctx, tx, actorID, "operator", prefix); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func seedTasks(t *testing.T, r registry.Repo, path domain.WorkloadPath, instances, count int) []string {
	t.Helper()
	ctx := context.Background()
	if err := r.InsertApp(ctx, nil, domain.App{Path: path, Instances: instances}); err != nil {
		t.Fatalf("insert app: %v", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		task := domain.TaskRecord{
			ID:        domain.NewTaskID(path),
			AppPath:   path,
			Status:    domain.TaskRunning,
			StartedAt: now,
		}
		if err := r.InsertTask(ctx, nil, task); err != nil {
			t.Fatalf("insert task: %v", err)
		}
		ids = append(ids, string(task.ID))
	}
	return ids
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

func asOperator(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, call := range []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/v1/tasks", nil},
		{http.MethodPost, "/v1/tasks/delete", map[string]any{"ids": []string{}}},
		{http.MethodGet, "/v1/queue", nil},
		{http.MethodGet, "/v1/deployments", nil},
	} {
		res, data := doJSON(t, client, call.method, srv.URL+call.path, call.body, nil)
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d %s", call.method, call.path, res.StatusCode, string(data))
		}
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestKillRejectsMalformedIdentifier(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	grantOperator(t, srv.repo, "tester", "/")
	ids := seedTasks(t, srv.repo, "/my/app-1", 2, 1)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/delete", map[string]any{
		"ids": []string{ids[0], "invalidTaskId"},
	}, asOperator("tester"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), "invalidTaskId") {
		t.Fatalf("error must carry the offending literal: %s", string(data))
	}

	fetch, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks/"+ids[0], nil, asOperator("tester"))
	if fetch.StatusCode != http.StatusOK {
		t.Fatalf("get task: %d %s", fetch.StatusCode, string(body))
	}
	var task TaskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.Status != domain.TaskRunning {
		t.Fatalf("rejected kill must not touch tasks, got status %s", task.Status)
	}
}

func TestKillForbiddenWorkload(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	grantOperator(t, srv.repo, "limited", "/my/app-1")
	seedTasks(t, srv.repo, "/my/app-1", 1, 1)
	ids := seedTasks(t, srv.repo, "/my/app-2", 1, 1)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/delete", map[string]any{
		"ids": ids,
	}, asOperator("limited"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), "/my/app-2") {
		t.Fatalf("error must name the denied workload: %s", string(data))
	}
}

func TestDirectKill(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	grantOperator(t, srv.repo, "tester", "/")
	ids1 := seedTasks(t, srv.repo, "/my/app-1", 2, 2)
	ids2 := seedTasks(t, srv.repo, "/my/app-2", 1, 1)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/delete", map[string]any{
		"ids": append(append([]string{}, ids1...), ids2...),
	}, asOperator("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("kill: %d %s", res.StatusCode, string(data))
	}
	var result KillTasksResponse
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Tasks) != 3 {
		t.Fatalf("expected 3 killed ids, got %v", result.Tasks)
	}
	if result.Deployment != nil {
		t.Fatalf("direct kill must not create a deployment")
	}

	task, err := srv.repo.GetTask(context.Background(), domain.TaskID(ids1[0]))
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != domain.TaskKilled {
		t.Fatalf("expected killed, got %s", task.Status)
	}

	app, err := srv.repo.GetApp(context.Background(), "/my/app-1")
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	if app.Instances != 2 {
		t.Fatalf("direct kill must not scale, instances=%d", app.Instances)
	}
}

func TestScaleKillCreatesDeployment(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	grantOperator(t, srv.repo, "tester", "/")
	ids := seedTasks(t, srv.repo, "/my/app-1", 3, 2)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/delete?scale=true", map[string]any{
		"ids": ids,
	}, asOperator("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("scale kill: %d %s", res.StatusCode, string(data))
	}
	var result KillTasksResponse
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Deployment == nil || result.Deployment.ID == "" || result.Deployment.Version == "" {
		t.Fatalf("expected deployment descriptor, got %s", string(data))
	}
	if len(result.Tasks) != 0 {
		t.Fatalf("scale mode must not list killed ids: %v", result.Tasks)
	}

	app, err := srv.repo.GetApp(context.Background(), "/my/app-1")
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	if app.Instances != 1 {
		t.Fatalf("expected instances scaled 3->1, got %d", app.Instances)
	}
}

func TestUnknownIdentifiersDropped(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	grantOperator(t, srv.repo, "tester", "/")
	ids := seedTasks(t, srv.repo, "/my/app-1", 1, 1)
	gone := string(domain.NewTaskID("/my/app-1"))

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/delete", map[string]any{
		"ids": []string{ids[0], gone},
	}, asOperator("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("kill: %d %s", res.StatusCode, string(data))
	}
	var result KillTasksResponse
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Tasks) != 1 || result.Tasks[0] != ids[0] {
		t.Fatalf("expected only the live task killed, got %v", result.Tasks)
	}
}
