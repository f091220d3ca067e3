package engine

import "taskcull/internal/domain"

// resolveTaskIDs parses raw identifiers in input order. The first malformed
// entry fails the whole call; nothing downstream runs on a partially valid
// set.
func resolveTaskIDs(raw []string) ([]domain.TaskID, error) {
	ids := make([]domain.TaskID, 0, len(raw))
	for _, r := range raw {
		id, err := domain.ParseTaskID(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
