package domain

// TaskStatus values stored in the registry.
const (
	TaskStaged  = "staged"
	TaskRunning = "running"
	TaskKilled  = "killed"
)

type App struct {
	Path      WorkloadPath `json:"path"`
	Instances int          `json:"instances"`
	CreatedAt string       `json:"created_at" format:"date-time"`
}

// TaskRecord is a point-in-time snapshot of one task instance. The registry
// owns the live state; everything downstream treats a record as immutable.
type TaskRecord struct {
	ID        TaskID       `json:"id"`
	AppPath   WorkloadPath `json:"app_path"`
	Status    string       `json:"status" enum:"staged,running,killed"`
	StartedAt string       `json:"started_at" format:"date-time"`
}

// TaskGroup maps each affected workload to its task subset for one request.
type TaskGroup map[WorkloadPath][]TaskRecord

// Paths returns the distinct workloads in deterministic order.
func (g TaskGroup) Paths() []WorkloadPath {
	paths := make([]WorkloadPath, 0, len(g))
	for p := range g {
		paths = append(paths, p)
	}
	sortPaths(paths)
	return paths
}

// DeploymentDescriptor identifies an accepted scale-down plan. Execution is
// asynchronous and tracked by the deployment backend, not here.
type DeploymentDescriptor struct {
	ID      string `json:"id"`
	Version string `json:"version" format:"date-time"`
}

// QueuedInstanceInfo is the launch queue's snapshot for one workload.
// Produced by the queue subsystem, read-only everywhere else.
type QueuedInstanceInfo struct {
	AppPath              WorkloadPath `json:"app_path"`
	InProgress           bool         `json:"in_progress"`
	LeftToLaunch         int          `json:"left_to_launch"`
	FinalInstanceCount   int          `json:"final_instance_count"`
	UnreachableInstances int          `json:"unreachable_instances"`
	BackoffUntil         string       `json:"backoff_until,omitempty" format:"date-time"`
	StartedAt            string       `json:"started_at,omitempty" format:"date-time"`
}

type Deployment struct {
	ID        string `json:"id"`
	Version   string `json:"version" format:"date-time"`
	PlanJSON  string `json:"plan_json"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	AppPath  string `json:"app_path,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
