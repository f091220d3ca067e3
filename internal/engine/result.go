package engine

import "taskcull/internal/domain"

// KillResult is the caller-facing shape of one kill request: either the
// identifiers actually killed (with any per-workload failures) or the
// accepted scale-down deployment.
type KillResult struct {
	KilledIDs  []domain.TaskID
	Failures   []WorkloadFailure
	Deployment *domain.DeploymentDescriptor
}

// assemble selects the result shape. No reordering or deduplication happens
// here beyond what the dispatcher already guarantees.
func assemble(outcome Outcome) KillResult {
	if outcome.Deployment != nil {
		return KillResult{Deployment: outcome.Deployment}
	}
	ids := make([]domain.TaskID, 0, len(outcome.Killed))
	for _, t := range outcome.Killed {
		ids = append(ids, t.ID)
	}
	return KillResult{KilledIDs: ids, Failures: outcome.Failures}
}
