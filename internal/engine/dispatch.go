package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"taskcull/internal/domain"
)

// DispatchError wraps a kill or scale backend failure. The coordination
// layer never retries; retry policy belongs to the backend.
type DispatchError struct {
	Op  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// WorkloadFailure is one workload whose direct kill failed while others
// proceeded.
type WorkloadFailure struct {
	AppPath domain.WorkloadPath `json:"app_path"`
	Error   string              `json:"error"`
}

// Outcome is the dispatcher's raw result before response assembly.
type Outcome struct {
	Killed     []domain.TaskRecord
	Failures   []WorkloadFailure
	Deployment *domain.DeploymentDescriptor
}

// dispatch executes the kill. Direct mode fans out one concurrent kill per
// workload and joins them all; per-workload failures are aggregated, never
// fail-fast. Scale mode issues exactly one atomic KillAndScale call. An
// empty group is a no-op in both modes.
func (e Engine) dispatch(ctx context.Context, group domain.TaskGroup, scale, force bool) (Outcome, error) {
	if len(group) == 0 {
		return Outcome{}, nil
	}

	if scale {
		desc, err := e.Backend.KillAndScale(ctx, group, force)
		if err != nil {
			return Outcome{}, &DispatchError{Op: "killAndScale", Err: err}
		}
		return Outcome{Deployment: &desc}, nil
	}

	var (
		mu       sync.Mutex
		killed   []domain.TaskRecord
		failures []WorkloadFailure
		wg       sync.WaitGroup
	)
	for path, tasks := range group {
		wg.Add(1)
		go func(path domain.WorkloadPath, tasks []domain.TaskRecord) {
			defer wg.Done()
			got, err := e.Backend.Kill(ctx, path, tasks, force)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, WorkloadFailure{AppPath: path, Error: err.Error()})
				return
			}
			killed = append(killed, got...)
		}(path, tasks)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return Outcome{}, &DispatchError{Op: "kill", Err: ctx.Err()}
	}

	sort.Slice(killed, func(i, j int) bool { return killed[i].ID < killed[j].ID })
	sort.Slice(failures, func(i, j int) bool { return failures[i].AppPath < failures[j].AppPath })
	return Outcome{Killed: killed, Failures: failures}, nil
}
