package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskcull/internal/domain"
)

// Repo is the SQL-backed task registry. Snapshots it returns are
// point-in-time copies; callers never observe later mutations.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertApp(ctx context.Context, tx *sql.Tx, a domain.App) error {
	if a.Path == "" {
		return errors.New("app path required")
	}
	if a.CreatedAt == "" {
		a.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := exec(ctx, r.DB, tx, `INSERT INTO apps(path,instances,created_at) VALUES (?,?,?)`,
		string(a.Path), a.Instances, a.CreatedAt)
	return err
}

func (r Repo) GetApp(ctx context.Context, path domain.WorkloadPath) (domain.App, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT path,instances,created_at FROM apps WHERE path=?`, string(path))
	var a domain.App
	err := row.Scan(&a.Path, &a.Instances, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.App{}, ErrNotFound
	}
	return a, err
}

func (r Repo) ListApps(ctx context.Context) ([]domain.App, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT path,instances,created_at FROM apps ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var apps []domain.App
	for rows.Next() {
		var a domain.App
		if err := rows.Scan(&a.Path, &a.Instances, &a.CreatedAt); err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

func (r Repo) SetAppInstances(ctx context.Context, tx *sql.Tx, path domain.WorkloadPath, instances int) error {
	res, err := exec(ctx, r.DB, tx, `UPDATE apps SET instances=? WHERE path=?`, instances, string(path))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("app %s: %w", path, ErrNotFound)
	}
	return nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.TaskRecord) error {
	if t.ID == "" {
		return errors.New("task id required")
	}
	if t.Status == "" {
		t.Status = domain.TaskRunning
	}
	if t.StartedAt == "" {
		t.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := exec(ctx, r.DB, tx, `INSERT INTO tasks(id,app_path,status,started_at) VALUES (?,?,?,?)`,
		string(t.ID), string(t.AppPath), t.Status, t.StartedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id domain.TaskID) (domain.TaskRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,app_path,status,started_at FROM tasks WHERE id=?`, string(id))
	var t domain.TaskRecord
	err := row.Scan(&t.ID, &t.AppPath, &t.Status, &t.StartedAt)
	if err == sql.ErrNoRows {
		return domain.TaskRecord{}, ErrNotFound
	}
	return t, err
}

// SnapshotAll returns every known task, one point-in-time read.
func (r Repo) SnapshotAll(ctx context.Context) ([]domain.TaskRecord, error) {
	return r.queryTasks(ctx, `SELECT id,app_path,status,started_at FROM tasks ORDER BY id`)
}

func (r Repo) ListByApp(ctx context.Context, path domain.WorkloadPath) ([]domain.TaskRecord, error) {
	return r.queryTasks(ctx, `SELECT id,app_path,status,started_at FROM tasks WHERE app_path=? ORDER BY id`, string(path))
}

func (r Repo) queryTasks(ctx context.Context, query string, args ...any) ([]domain.TaskRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []domain.TaskRecord
	for rows.Next() {
		var t domain.TaskRecord
		if err := rows.Scan(&t.ID, &t.AppPath, &t.Status, &t.StartedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func exec(ctx context.Context, db *sql.DB, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
