package engine

import "taskcull/internal/domain"

// groupByWorkload matches resolved identifiers against the snapshot and
// groups the found records by owning workload. Identifiers with no live
// record are dropped without error; the task may simply be gone already.
func groupByWorkload(ids []domain.TaskID, snapshot []domain.TaskRecord) domain.TaskGroup {
	byID := make(map[domain.TaskID]domain.TaskRecord, len(snapshot))
	for _, t := range snapshot {
		byID[t.ID] = t
	}
	group := domain.TaskGroup{}
	seen := map[domain.TaskID]struct{}{}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		t, ok := byID[id]
		if !ok {
			continue
		}
		group[t.AppPath] = append(group[t.AppPath], t)
	}
	return group
}
