package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskcull/internal/config"
	"taskcull/internal/deploy"
	"taskcull/internal/domain"
	"taskcull/internal/engine/auth"
	"taskcull/internal/events"
	"taskcull/internal/registry"
)

// Caller is the resolved identity of one request.
type Caller struct {
	ID            string
	Authenticated bool
}

// Authorizer decides whether an actor may terminate tasks of a workload.
type Authorizer interface {
	MayKill(ctx context.Context, actorID string, path domain.WorkloadPath) (bool, error)
}

// Engine coordinates task termination: it resolves identifiers, groups live
// tasks by owning workload, gates on authorization, and dispatches kills.
type Engine struct {
	DB       *sql.DB
	Registry registry.Repo
	Backend  deploy.Backend
	Auth     Authorizer
	Events   events.Writer
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Registry: registry.Repo{DB: db},
		Backend:  deploy.Local{DB: db},
		Auth:     auth.Service{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Now:      time.Now,
	}
}

// ErrNoTaskIDs rejects kill requests with an empty identifier set.
var ErrNoTaskIDs = errors.New("task ids required")

// KillRequest asks for termination of a set of tasks, optionally scaling
// their workloads down by the killed amount.
type KillRequest struct {
	IDs   []string
	Scale bool
	Force bool
}

// KillTasks resolves, groups, authorizes and dispatches one kill request.
// All pre-dispatch failures are fail-fast; nothing is mutated before the
// authorization gate passes.
func (e Engine) KillTasks(ctx context.Context, caller Caller, req KillRequest) (KillResult, error) {
	if !caller.Authenticated {
		return KillResult{}, auth.ErrNotAuthenticated
	}
	if len(req.IDs) == 0 {
		return KillResult{}, ErrNoTaskIDs
	}
	ids, err := resolveTaskIDs(req.IDs)
	if err != nil {
		return KillResult{}, err
	}
	snapshot, err := e.Registry.SnapshotAll(ctx)
	if err != nil {
		return KillResult{}, err
	}
	group := groupByWorkload(ids, snapshot)
	if err := e.authorizeKill(ctx, caller, group.Paths()); err != nil {
		return KillResult{}, err
	}

	e.appendEvent(ctx, "kill.requested", "", caller.ID, events.EventPayload{
		"ids":       req.IDs,
		"workloads": group.Paths(),
		"scale":     req.Scale,
		"force":     req.Force,
	})

	dctx, cancel := context.WithTimeout(ctx, e.Config.DispatchTimeout())
	defer cancel()
	outcome, err := e.dispatch(dctx, group, req.Scale, req.Force)
	if err != nil {
		return KillResult{}, err
	}

	result := assemble(outcome)
	if result.Deployment != nil {
		e.appendEvent(ctx, "deployment.created", "", caller.ID, events.EventPayload{
			"deployment_id": result.Deployment.ID,
			"version":       result.Deployment.Version,
		})
	} else {
		e.appendEvent(ctx, "kill.completed", "", caller.ID, events.EventPayload{
			"killed":   result.KilledIDs,
			"failures": result.Failures,
		})
	}
	return result, nil
}

// ListTasks returns the full task snapshot.
func (e Engine) ListTasks(ctx context.Context, caller Caller) ([]domain.TaskRecord, error) {
	if !caller.Authenticated {
		return nil, auth.ErrNotAuthenticated
	}
	return e.Registry.SnapshotAll(ctx)
}

// GetTask returns the live record for one identifier.
func (e Engine) GetTask(ctx context.Context, caller Caller, rawID string) (domain.TaskRecord, error) {
	if !caller.Authenticated {
		return domain.TaskRecord{}, auth.ErrNotAuthenticated
	}
	id, err := domain.ParseTaskID(rawID)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	return e.Registry.GetTask(ctx, id)
}

// Queue returns launch-queue snapshots for all queued workloads.
func (e Engine) Queue(ctx context.Context, caller Caller) ([]domain.QueuedInstanceInfo, error) {
	if !caller.Authenticated {
		return nil, auth.ErrNotAuthenticated
	}
	return e.Registry.QueueSnapshot(ctx)
}

func (e Engine) appendEvent(ctx context.Context, evtType, appPath, actorID string, payload events.EventPayload) {
	// the event log is best-effort; a write failure must not fail the kill
	_ = e.Events.Append(ctx, nil, evtType, appPath, "", actorID, payload)
}
