package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// WorkloadPath is the canonical hierarchical path of an application,
// e.g. "/my/app-1". Segments may not contain '_' or '.' so that the
// path survives a round trip through a task id.
type WorkloadPath string

// TaskID is an opaque task identifier of the form
// "<encoded-app-path>.<uuid>", e.g. "my_app-1.4455cb85-...".
// The prefix encodes the owning workload path with '_' in place of '/'.
type TaskID string

// InvalidTaskIDError reports a raw identifier that does not decode to a
// structurally valid TaskID. Raw is the offending literal, verbatim.
type InvalidTaskIDError struct {
	Raw string
}

func (e InvalidTaskIDError) Error() string {
	return fmt.Sprintf("invalid task id %q", e.Raw)
}

// ParsePath validates and normalizes a workload path.
func ParsePath(raw string) (WorkloadPath, error) {
	trimmed := strings.TrimRight(raw, "/")
	if !strings.HasPrefix(trimmed, "/") {
		return "", fmt.Errorf("workload path %q must be absolute", raw)
	}
	for _, seg := range strings.Split(trimmed[1:], "/") {
		if seg == "" {
			return "", fmt.Errorf("workload path %q has an empty segment", raw)
		}
		if strings.ContainsAny(seg, "_.") {
			return "", fmt.Errorf("workload path segment %q may not contain '_' or '.'", seg)
		}
	}
	return WorkloadPath(trimmed), nil
}

// Encode returns the task-id prefix form of the path: segments joined by '_'.
func (p WorkloadPath) Encode() string {
	return strings.ReplaceAll(strings.TrimPrefix(string(p), "/"), "/", "_")
}

func decodePath(encoded string) WorkloadPath {
	return WorkloadPath("/" + strings.ReplaceAll(encoded, "_", "/"))
}

// NewTaskID mints a fresh identifier for a task of the given workload.
func NewTaskID(p WorkloadPath) TaskID {
	return TaskID(p.Encode() + "." + uuid.NewString())
}

// ParseTaskID validates the structure of a raw identifier. The workload
// prefix must be non-empty with non-empty '_'-separated segments and the
// suffix must be a UUID. Any violation yields InvalidTaskIDError carrying
// the raw input.
func ParseTaskID(raw string) (TaskID, error) {
	sep := strings.LastIndex(raw, ".")
	if sep <= 0 || sep == len(raw)-1 {
		return "", InvalidTaskIDError{Raw: raw}
	}
	if _, err := uuid.Parse(raw[sep+1:]); err != nil {
		return "", InvalidTaskIDError{Raw: raw}
	}
	encoded := raw[:sep]
	for _, seg := range strings.Split(encoded, "_") {
		if seg == "" || strings.ContainsAny(seg, "/.") {
			return "", InvalidTaskIDError{Raw: raw}
		}
	}
	return TaskID(raw), nil
}

// AppPath derives the owning workload path. Only meaningful on identifiers
// produced by NewTaskID or accepted by ParseTaskID.
func (id TaskID) AppPath() WorkloadPath {
	raw := string(id)
	sep := strings.LastIndex(raw, ".")
	if sep <= 0 {
		return ""
	}
	return decodePath(raw[:sep])
}

func sortPaths(paths []WorkloadPath) {
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
}
