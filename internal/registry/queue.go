package registry

import (
	"context"
	"database/sql"

	"taskcull/internal/domain"
)

// UpsertQueueEntry replaces the launch-queue state for one workload.
func (r Repo) UpsertQueueEntry(ctx context.Context, q domain.QueuedInstanceInfo) error {
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO launch_queue(app_path,in_progress,left_to_launch,final_instance_count,unreachable_instances,backoff_until,started_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(app_path) DO UPDATE SET
  in_progress=excluded.in_progress,
  left_to_launch=excluded.left_to_launch,
  final_instance_count=excluded.final_instance_count,
  unreachable_instances=excluded.unreachable_instances,
  backoff_until=excluded.backoff_until,
  started_at=excluded.started_at`,
		string(q.AppPath), boolToInt(q.InProgress), q.LeftToLaunch, q.FinalInstanceCount,
		q.UnreachableInstances, nullable(q.BackoffUntil), nullable(q.StartedAt))
	return err
}

// QueueSnapshot returns the launch-queue state for every queued workload.
func (r Repo) QueueSnapshot(ctx context.Context) ([]domain.QueuedInstanceInfo, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT app_path,in_progress,left_to_launch,final_instance_count,unreachable_instances,
       COALESCE(backoff_until,''),COALESCE(started_at,'')
FROM launch_queue ORDER BY app_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.QueuedInstanceInfo
	for rows.Next() {
		var q domain.QueuedInstanceInfo
		var inProgress int
		if err := rows.Scan(&q.AppPath, &inProgress, &q.LeftToLaunch, &q.FinalInstanceCount,
			&q.UnreachableInstances, &q.BackoffUntil, &q.StartedAt); err != nil {
			return nil, err
		}
		q.InProgress = inProgress != 0
		items = append(items, q)
	}
	return items, rows.Err()
}

// QueueEntry returns the launch-queue state for one workload.
func (r Repo) QueueEntry(ctx context.Context, path domain.WorkloadPath) (domain.QueuedInstanceInfo, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT app_path,in_progress,left_to_launch,final_instance_count,unreachable_instances,
       COALESCE(backoff_until,''),COALESCE(started_at,'')
FROM launch_queue WHERE app_path=?`, string(path))
	var q domain.QueuedInstanceInfo
	var inProgress int
	err := row.Scan(&q.AppPath, &inProgress, &q.LeftToLaunch, &q.FinalInstanceCount,
		&q.UnreachableInstances, &q.BackoffUntil, &q.StartedAt)
	if err == sql.ErrNoRows {
		return domain.QueuedInstanceInfo{}, ErrNotFound
	}
	q.InProgress = inProgress != 0
	return q, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
