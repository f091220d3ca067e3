package registry

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskcull/internal/config"
	"taskcull/internal/domain"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := exec(ctx, r.DB, tx, `INSERT OR IGNORE INTO actors(id,created_at) VALUES (?,?)`, actorID, now)
	return err
}

// AssignRole grants a role to an actor for the subtree rooted at pathPrefix.
// "/" grants cluster-wide.
func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, actorID, roleID string, pathPrefix domain.WorkloadPath) error {
	if actorID == "" || roleID == "" {
		return errors.New("actor_id and role_id required")
	}
	if pathPrefix == "" {
		pathPrefix = "/"
	}
	if err := r.EnsureActor(ctx, tx, actorID); err != nil {
		return err
	}
	_, err := exec(ctx, r.DB, tx, `INSERT OR IGNORE INTO actor_roles(actor_id,role_id,path_prefix) VALUES (?,?,?)`,
		actorID, roleID, string(pathPrefix))
	return err
}

// SyncRolePermissions replaces the role→permission table with the config's
// RBAC section. Grants to actors are untouched.
func (r Repo) SyncRolePermissions(ctx context.Context, cfg *config.Config) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions`); err != nil {
		return err
	}
	for roleID, role := range cfg.RBAC.Roles {
		for _, perm := range role.Permissions {
			if _, err := tx.ExecContext(ctx, `INSERT INTO role_permissions(role_id,permission_id) VALUES (?,?)`,
				roleID, perm); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// ActorGrants lists role grants for an actor.
func (r Repo) ActorGrants(ctx context.Context, actorID string) (map[string][]domain.WorkloadPath, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role_id,path_prefix FROM actor_roles WHERE actor_id=? ORDER BY role_id,path_prefix`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	grants := map[string][]domain.WorkloadPath{}
	for rows.Next() {
		var role, prefix string
		if err := rows.Scan(&role, &prefix); err != nil {
			return nil, err
		}
		grants[role] = append(grants[role], domain.WorkloadPath(prefix))
	}
	return grants, rows.Err()
}
