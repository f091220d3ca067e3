package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskcull/internal/domain"
)

// ErrNotAuthenticated rejects callers with no verified identity. Checked
// before any workload is examined, so unauthenticated callers see the same
// failure on every entry point.
var ErrNotAuthenticated = errors.New("authentication required")

// ForbiddenError indicates the caller may not act on a workload.
type ForbiddenError struct {
	Path domain.WorkloadPath
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not authorized for workload %s", e.Path)
}

// Service answers authorization questions from the RBAC tables. A grant
// scoped to path prefix "/" covers the whole cluster; any other prefix
// covers the workload itself and its subtree.
type Service struct {
	DB *sql.DB
}

func (s Service) MayKill(ctx context.Context, actorID string, path domain.WorkloadPath) (bool, error) {
	return s.hasPermission(ctx, actorID, path, "task.kill")
}

func (s Service) hasPermission(ctx context.Context, actorID string, path domain.WorkloadPath, perm string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=? AND rp.permission_id=?
  AND (ar.path_prefix='/' OR ar.path_prefix=? OR ? LIKE ar.path_prefix || '/%')
LIMIT 1`,
		actorID, perm, string(path), string(path))
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
