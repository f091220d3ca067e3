package engine

import (
	"context"

	"taskcull/internal/domain"
	"taskcull/internal/engine/auth"
)

// authorizeKill checks authentication first, then every workload the
// request touches, failing on the first denial. It runs strictly before
// the dispatcher, so a denied request mutates nothing.
func (e Engine) authorizeKill(ctx context.Context, caller Caller, paths []domain.WorkloadPath) error {
	if !caller.Authenticated {
		return auth.ErrNotAuthenticated
	}
	for _, p := range paths {
		ok, err := e.Auth.MayKill(ctx, caller.ID, p)
		if err != nil {
			return err
		}
		if !ok {
			return auth.ForbiddenError{Path: p}
		}
	}
	return nil
}
