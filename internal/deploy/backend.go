package deploy

import (
	"context"

	"taskcull/internal/domain"
)

// Backend is the boundary to the subsystem that actually terminates tasks
// and executes scale-down plans. Both calls block until the backend has
// accepted the operation; scale-down execution itself stays asynchronous on
// the backend side.
type Backend interface {
	// Kill requests termination of the given tasks of one workload and
	// returns the subset actually marked for kill.
	Kill(ctx context.Context, path domain.WorkloadPath, tasks []domain.TaskRecord, force bool) ([]domain.TaskRecord, error)

	// KillAndScale atomically accepts a scale-down plan covering every
	// workload in the group. Either the whole plan is accepted or the call
	// fails; there is no per-workload partial path.
	KillAndScale(ctx context.Context, group domain.TaskGroup, force bool) (domain.DeploymentDescriptor, error)
}
