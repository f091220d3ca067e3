package deploy_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"taskcull/internal/db"
	"taskcull/internal/deploy"
	"taskcull/internal/domain"
	"taskcull/internal/migrate"
	"taskcull/internal/registry"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seed(t *testing.T, r registry.Repo, path domain.WorkloadPath, instances int, statuses ...string) []domain.TaskRecord {
	t.Helper()
	ctx := context.Background()
	if err := r.InsertApp(ctx, nil, domain.App{Path: path, Instances: instances}); err != nil {
		t.Fatalf("insert app: %v", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tasks := make([]domain.TaskRecord, 0, len(statuses))
	for _, status := range statuses {
		task := domain.TaskRecord{ID: domain.NewTaskID(path), AppPath: path, Status: status, StartedAt: now}
		if err := r.InsertTask(ctx, nil, task); err != nil {
			t.Fatalf("insert task: %v", err)
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func TestKillSkipsStagedWithoutForce(t *testing.T) {
	conn := newTestDB(t)
	r := registry.Repo{DB: conn}
	backend := deploy.Local{DB: conn}
	tasks := seed(t, r, "/my/app-1", 2, domain.TaskRunning, domain.TaskStaged)

	killed, err := backend.Kill(context.Background(), "/my/app-1", tasks, false)
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	if len(killed) != 1 || killed[0].ID != tasks[0].ID {
		t.Fatalf("expected only the running task killed, got %v", killed)
	}

	killed, err = backend.Kill(context.Background(), "/my/app-1", tasks, true)
	if err != nil {
		t.Fatalf("forced kill: %v", err)
	}
	if len(killed) != 1 || killed[0].ID != tasks[1].ID {
		t.Fatalf("force must kill the staged task and skip the already killed one, got %v", killed)
	}
}

func TestKillAndScaleWritesPlan(t *testing.T) {
	conn := newTestDB(t)
	r := registry.Repo{DB: conn}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	backend := deploy.Local{DB: conn, Now: func() time.Time { return fixed }}
	t1 := seed(t, r, "/my/app-1", 3, domain.TaskRunning, domain.TaskRunning)
	t2 := seed(t, r, "/my/app-2", 1, domain.TaskRunning)

	group := domain.TaskGroup{
		"/my/app-1": t1,
		"/my/app-2": t2,
	}
	desc, err := backend.KillAndScale(context.Background(), group, false)
	if err != nil {
		t.Fatalf("killAndScale: %v", err)
	}
	if desc.ID == "" {
		t.Fatalf("expected deployment id")
	}
	if desc.Version != fixed.Format(time.RFC3339) {
		t.Fatalf("expected version %s, got %s", fixed.Format(time.RFC3339), desc.Version)
	}

	app1, err := r.GetApp(context.Background(), "/my/app-1")
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	if app1.Instances != 1 {
		t.Fatalf("expected 3-2=1 instances, got %d", app1.Instances)
	}
	app2, _ := r.GetApp(context.Background(), "/my/app-2")
	if app2.Instances != 0 {
		t.Fatalf("expected 1-1=0 instances, got %d", app2.Instances)
	}

	plans, err := backend.ListDeployments(context.Background(), 10)
	if err != nil {
		t.Fatalf("list deployments: %v", err)
	}
	if len(plans) != 1 || plans[0].ID != desc.ID {
		t.Fatalf("expected one recorded plan, got %v", plans)
	}
	var plan map[string]struct {
		Killed    []string `json:"killed"`
		Instances int      `json:"instances"`
		Target    int      `json:"target"`
	}
	if err := json.Unmarshal([]byte(plans[0].PlanJSON), &plan); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	step, ok := plan["/my/app-1"]
	if !ok || len(step.Killed) != 2 || step.Instances != 3 || step.Target != 1 {
		t.Fatalf("unexpected plan step: %+v", plan)
	}
}

func TestKillAndScaleNeverBelowZero(t *testing.T) {
	conn := newTestDB(t)
	r := registry.Repo{DB: conn}
	backend := deploy.Local{DB: conn}
	tasks := seed(t, r, "/my/app-1", 1, domain.TaskRunning, domain.TaskRunning)

	if _, err := backend.KillAndScale(context.Background(), domain.TaskGroup{"/my/app-1": tasks}, false); err != nil {
		t.Fatalf("killAndScale: %v", err)
	}
	app, _ := r.GetApp(context.Background(), "/my/app-1")
	if app.Instances != 0 {
		t.Fatalf("instances must floor at zero, got %d", app.Instances)
	}
}
