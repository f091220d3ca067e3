package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskcull/internal/db"
	"taskcull/internal/domain"
	"taskcull/internal/migrate"
	"taskcull/internal/registry"
)

func newTestRepo(t *testing.T) registry.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return registry.Repo{DB: conn}
}

func TestTaskSnapshot(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.InsertApp(ctx, nil, domain.App{Path: "/my/app-1", Instances: 2}); err != nil {
		t.Fatalf("insert app: %v", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	task := domain.TaskRecord{ID: domain.NewTaskID("/my/app-1"), AppPath: "/my/app-1", Status: domain.TaskRunning, StartedAt: now}
	if err := r.InsertTask(ctx, nil, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	all, err := r.SnapshotAll(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(all) != 1 || all[0].ID != task.ID || all[0].AppPath != "/my/app-1" {
		t.Fatalf("unexpected snapshot: %v", all)
	}

	got, err := r.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != domain.TaskRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}
	if _, err := r.GetTask(ctx, domain.NewTaskID("/my/app-1")); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueueUpsertAndSnapshot(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	entry := domain.QueuedInstanceInfo{
		AppPath:            "/my/app-1",
		InProgress:         true,
		LeftToLaunch:       2,
		FinalInstanceCount: 5,
	}
	if err := r.UpsertQueueEntry(ctx, entry); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	entry.LeftToLaunch = 1
	entry.UnreachableInstances = 1
	if err := r.UpsertQueueEntry(ctx, entry); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	items, err := r.QueueSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one entry, got %d", len(items))
	}
	got := items[0]
	if !got.InProgress || got.LeftToLaunch != 1 || got.FinalInstanceCount != 5 || got.UnreachableInstances != 1 {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestAPIKeyLookupByHash(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.EnsureActor(ctx, tx, "tester"); err != nil {
		t.Fatalf("ensure actor: %v", err)
	}
	secret := "my-secret-key"
	key := domain.APIKey{ID: "key-1", ActorID: "tester", KeyHash: registry.HashAPIKey(secret)}
	if err := r.InsertAPIKey(ctx, tx, key); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := r.GetAPIKeyByHash(ctx, registry.HashAPIKey(secret))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ActorID != "tester" {
		t.Fatalf("expected tester, got %s", got.ActorID)
	}
	if _, err := r.GetAPIKeyByHash(ctx, registry.HashAPIKey("wrong")); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignRoleIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	grant := func() {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := r.AssignRole(ctx, tx, "tester", "operator", "/my"); err != nil {
			t.Fatalf("assign: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	grant()
	grant()

	grants, err := r.ActorGrants(ctx, "tester")
	if err != nil {
		t.Fatalf("grants: %v", err)
	}
	if len(grants["operator"]) != 1 || grants["operator"][0] != "/my" {
		t.Fatalf("unexpected grants: %v", grants)
	}
}
