package server

import (
	"taskcull/internal/domain"
	"taskcull/internal/engine"
)

// Request payloads

type KillTasksRequest struct {
	IDs []string `json:"ids"`
}

type CreateAppRequest struct {
	Path      string `json:"path"`
	Instances int    `json:"instances,omitempty"`
}

// Response payloads

type TaskResponse struct {
	ID        string `json:"id"`
	AppPath   string `json:"app_path"`
	Status    string `json:"status" enum:"staged,running,killed"`
	StartedAt string `json:"started_at,omitempty" format:"date-time"`
}

type DeploymentResponse struct {
	ID      string `json:"deploymentId"`
	Version string `json:"version" format:"date-time"`
}

type WorkloadFailureResponse struct {
	AppPath string `json:"app_path"`
	Error   string `json:"error"`
}

// KillTasksResponse carries either the killed task ids (direct mode, with
// any per-workload failures) or the accepted deployment (scale mode).
type KillTasksResponse struct {
	Tasks      []string                  `json:"tasks,omitempty"`
	Failures   []WorkloadFailureResponse `json:"failures,omitempty"`
	Deployment *DeploymentResponse       `json:"deployment,omitempty"`
}

type AppResponse struct {
	Path      string `json:"path"`
	Instances int    `json:"instances"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type QueueEntryResponse struct {
	AppPath              string `json:"app_path"`
	InProgress           bool   `json:"in_progress"`
	LeftToLaunch         int    `json:"left_to_launch"`
	FinalInstanceCount   int    `json:"final_instance_count"`
	UnreachableInstances int    `json:"unreachable_instances"`
	BackoffUntil         string `json:"backoff_until,omitempty" format:"date-time"`
	StartedAt            string `json:"started_at,omitempty" format:"date-time"`
}

type DeploymentRecordResponse struct {
	ID        string `json:"id"`
	Version   string `json:"version" format:"date-time"`
	Plan      string `json:"plan"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	AppPath  string `json:"app_path,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload,omitempty"`
}

func taskResponse(t domain.TaskRecord) TaskResponse {
	return TaskResponse{
		ID:        string(t.ID),
		AppPath:   string(t.AppPath),
		Status:    t.Status,
		StartedAt: t.StartedAt,
	}
}

func mapTasks(items []domain.TaskRecord) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func killResponse(res engine.KillResult) KillTasksResponse {
	if res.Deployment != nil {
		return KillTasksResponse{Deployment: &DeploymentResponse{
			ID:      res.Deployment.ID,
			Version: res.Deployment.Version,
		}}
	}
	body := KillTasksResponse{Tasks: make([]string, 0, len(res.KilledIDs))}
	for _, id := range res.KilledIDs {
		body.Tasks = append(body.Tasks, string(id))
	}
	for _, f := range res.Failures {
		body.Failures = append(body.Failures, WorkloadFailureResponse{
			AppPath: string(f.AppPath),
			Error:   f.Error,
		})
	}
	return body
}

func appResponse(a domain.App) AppResponse {
	return AppResponse{Path: string(a.Path), Instances: a.Instances, CreatedAt: a.CreatedAt}
}

func mapApps(items []domain.App) []AppResponse {
	out := make([]AppResponse, 0, len(items))
	for _, a := range items {
		out = append(out, appResponse(a))
	}
	return out
}

func mapQueue(items []domain.QueuedInstanceInfo) []QueueEntryResponse {
	out := make([]QueueEntryResponse, 0, len(items))
	for _, q := range items {
		out = append(out, QueueEntryResponse{
			AppPath:              string(q.AppPath),
			InProgress:           q.InProgress,
			LeftToLaunch:         q.LeftToLaunch,
			FinalInstanceCount:   q.FinalInstanceCount,
			UnreachableInstances: q.UnreachableInstances,
			BackoffUntil:         q.BackoffUntil,
			StartedAt:            q.StartedAt,
		})
	}
	return out
}

func mapDeployments(items []domain.Deployment) []DeploymentRecordResponse {
	out := make([]DeploymentRecordResponse, 0, len(items))
	for _, d := range items {
		out = append(out, DeploymentRecordResponse{
			ID:        d.ID,
			Version:   d.Version,
			Plan:      d.PlanJSON,
			CreatedAt: d.CreatedAt,
		})
	}
	return out
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, EventResponse{
			ID:       e.ID,
			TS:       e.TS,
			Type:     e.Type,
			AppPath:  e.AppPath,
			EntityID: e.EntityID,
			ActorID:  e.ActorID,
			Payload:  e.Payload,
		})
	}
	return out
}
