package deploy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskcull/internal/domain"
)

// Local is the in-process Backend backed by the registry database. Without
// force, staged tasks are left alone (the launch queue still owns them);
// force kills them too. Tasks already killed are never killed twice.
type Local struct {
	DB  *sql.DB
	Now func() time.Time
}

func (l Local) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Local) Kill(ctx context.Context, path domain.WorkloadPath, tasks []domain.TaskRecord, force bool) ([]domain.TaskRecord, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	killed, err := l.killTx(ctx, tx, tasks, force)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return killed, nil
}

func (l Local) KillAndScale(ctx context.Context, group domain.TaskGroup, force bool) (domain.DeploymentDescriptor, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeploymentDescriptor{}, err
	}
	defer tx.Rollback()

	plan := make(map[string]planStep, len(group))
	for _, path := range group.Paths() {
		killed, err := l.killTx(ctx, tx, group[path], force)
		if err != nil {
			return domain.DeploymentDescriptor{}, err
		}
		var instances int
		if err := tx.QueryRowContext(ctx, `SELECT instances FROM apps WHERE path=?`, string(path)).Scan(&instances); err != nil {
			if err == sql.ErrNoRows {
				return domain.DeploymentDescriptor{}, fmt.Errorf("unknown app %s", path)
			}
			return domain.DeploymentDescriptor{}, err
		}
		target := instances - len(killed)
		if target < 0 {
			target = 0
		}
		if _, err := tx.ExecContext(ctx, `UPDATE apps SET instances=? WHERE path=?`, target, string(path)); err != nil {
			return domain.DeploymentDescriptor{}, err
		}
		ids := make([]domain.TaskID, 0, len(killed))
		for _, t := range killed {
			ids = append(ids, t.ID)
		}
		plan[string(path)] = planStep{Killed: ids, Instances: instances, Target: target}
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return domain.DeploymentDescriptor{}, err
	}
	desc := domain.DeploymentDescriptor{
		ID:      uuid.NewString(),
		Version: l.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO deployments(id,version,plan_json,created_at) VALUES (?,?,?,?)`,
		desc.ID, desc.Version, string(planJSON), desc.Version); err != nil {
		return domain.DeploymentDescriptor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DeploymentDescriptor{}, err
	}
	return desc, nil
}

type planStep struct {
	Killed    []domain.TaskID `json:"killed"`
	Instances int             `json:"instances"`
	Target    int             `json:"target"`
}

func (l Local) killTx(ctx context.Context, tx *sql.Tx, tasks []domain.TaskRecord, force bool) ([]domain.TaskRecord, error) {
	var killed []domain.TaskRecord
	for _, t := range tasks {
		query := `UPDATE tasks SET status=? WHERE id=? AND status=?`
		args := []any{domain.TaskKilled, string(t.ID), domain.TaskRunning}
		if force {
			query = `UPDATE tasks SET status=? WHERE id=? AND status!=?`
			args = []any{domain.TaskKilled, string(t.ID), domain.TaskKilled}
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		t.Status = domain.TaskKilled
		killed = append(killed, t)
	}
	return killed, nil
}

// ListDeployments returns recorded scale-down plans, newest first.
func (l Local) ListDeployments(ctx context.Context, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.DB.QueryContext(ctx, `SELECT id,version,plan_json,created_at FROM deployments ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.Version, &d.PlanJSON, &d.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
