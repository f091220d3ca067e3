package app

import (
	"context"
	"fmt"

	"taskcull/internal/config"
	"taskcull/internal/registry"
)

// ResolveConfig loads the workspace config, seeding a default one when none
// exists yet, and makes sure the RBAC tables reflect it. The first resolved
// actor of a fresh workspace gets the operator role on the whole tree so a
// local install works out of the box.
func ResolveConfig(ctx context.Context, workspace, actorID string, r registry.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	seeded := false
	if cfg == nil {
		cfg = config.Default("local")
		seeded = true
	}
	if err := r.SyncRolePermissions(ctx, cfg); err != nil {
		return nil, fmt.Errorf("sync role permissions: %w", err)
	}
	if seeded {
		if actorID == "" {
			actorID = "local-user"
		}
		if err := bootstrapActor(ctx, r, actorID); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func bootstrapActor(ctx context.Context, r registry.Repo, actorID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsureActor(ctx, tx, actorID); err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	if err := r.AssignRole(ctx, tx, actorID, "operator", "/"); err != nil {
		return fmt.Errorf("assign operator role: %w", err)
	}
	return tx.Commit()
}
