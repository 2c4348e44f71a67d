package engine

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"taskboard/internal/domain"
	"taskboard/internal/policy"
	"taskboard/internal/repo"
)

// DashboardStats summarizes the actor's slice of the board. Admins see
// global counts; everybody else sees their assigned tasks and the projects
// they belong to.
type DashboardStats struct {
	TasksByStatus   map[string]int `json:"tasks_by_status"`
	TasksByPriority map[string]int `json:"tasks_by_priority"`
	ProjectCount    int            `json:"project_count"`
	CompletionRate  float64        `json:"completion_rate"`
}

func (e Engine) Dashboard(ctx context.Context, actor policy.Actor) (DashboardStats, error) {
	assignedTo := actor.ID
	memberID := actor.ID
	if actor.Role == domain.RoleAdmin {
		assignedTo = ""
		memberID = ""
	}
	byStatus, err := e.Repo.TaskStatusCounts(ctx, assignedTo)
	if err != nil {
		return DashboardStats{}, err
	}
	byPriority, err := e.Repo.TaskPriorityCounts(ctx, assignedTo)
	if err != nil {
		return DashboardStats{}, err
	}
	projects, err := e.Repo.CountProjects(ctx, memberID)
	if err != nil {
		return DashboardStats{}, err
	}
	total := 0
	for _, n := range byStatus {
		total += n
	}
	rate := 0.0
	if total > 0 {
		rate = float64(byStatus[string(domain.TaskDone)]) / float64(total)
	}
	return DashboardStats{
		TasksByStatus:   byStatus,
		TasksByPriority: byPriority,
		ProjectCount:    projects,
		CompletionRate:  rate,
	}, nil
}

var taskCSVHeader = []string{"id", "project_id", "title", "status", "priority", "due_date", "assigned_to", "created_by", "created_at", "trashed"}

// ExportTasks writes the actor's visible tasks as CSV, honoring the same
// filters and visibility scope as ListTasks.
func (e Engine) ExportTasks(ctx context.Context, actor policy.Actor, f repo.TaskFilters, w io.Writer) error {
	tasks, err := e.ListTasks(ctx, actor, f)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(taskCSVHeader); err != nil {
		return err
	}
	for _, t := range tasks {
		assigned := ""
		if t.AssignedTo != nil {
			assigned = *t.AssignedTo
		}
		record := []string{
			t.ID, t.ProjectID, t.Title, string(t.Status), string(t.Priority),
			t.DueDate, assigned, t.CreatedBy, t.CreatedAt, strconv.FormatBool(t.Trashed()),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
