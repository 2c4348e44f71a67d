package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/policy"
	"taskboard/internal/repo"
)

type TaskCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	Status      domain.TaskStatus
	Priority    domain.TaskPriority
	DueDate     string
	AssignedTo  string
}

// CreateTask creates an active task in a project. The assignee, when given,
// must belong to the project; the membership check runs inside the insert
// transaction so a concurrent member removal cannot slip an outsider in.
func (e Engine) CreateTask(ctx context.Context, actor policy.Actor, opts TaskCreateOptions) (domain.Task, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Task{}, invalid("title", "is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, invalid("project_id", "is required")
	}
	if opts.Status == "" {
		opts.Status = domain.TaskTodo
	}
	if !opts.Status.Valid() {
		return domain.Task{}, invalid("status", "must be one of todo, in_progress, review, done")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return domain.Task{}, invalid("priority", "must be one of low, medium, high")
	}
	if opts.DueDate == "" || !validDate(opts.DueDate) {
		return domain.Task{}, invalid("due_date", "must be a date (YYYY-MM-DD)")
	}
	if opts.DueDate < e.today() {
		return domain.Task{}, invalid("due_date", "must not be in the past")
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, invalid("project_id", "no such project")
		}
		return domain.Task{}, err
	}
	if !policy.Tasks.CanCreate(actor, &p) {
		return domain.Task{}, policy.Deny(policy.ActionCreate, "task")
	}
	now := e.nowStr()
	t := domain.Task{
		ID:          uuid.NewString(),
		ProjectID:   p.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      opts.Status,
		Priority:    opts.Priority,
		DueDate:     opts.DueDate,
		AssignedTo:  optionalString(opts.AssignedTo),
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if t.AssignedTo != nil {
		if err := e.ensureAssignable(ctx, tx, p.ID, *t.AssignedTo); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{"title": t.Title, "status": string(t.Status)}); err != nil {
		return domain.Task{}, err
	}
	if t.AssignedTo != nil {
		if err := e.Events.Append(ctx, tx, "task.assigned", t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{"assigned_to": *t.AssignedTo}); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) ensureAssignable(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	ok, err := e.Repo.IsMember(ctx, tx, projectID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return invalid("assigned_to", "must be a member of the project")
	}
	return nil
}

// GetTask loads one task through its project's visibility. Trashed rows are
// still readable here so restore flows can inspect them; listings hide them
// by default instead.
func (e Engine) GetTask(ctx context.Context, actor policy.Actor, id string) (domain.Task, error) {
	t, p, err := e.taskWithProject(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !policy.Tasks.CanView(actor, p) {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

func (e Engine) taskWithProject(ctx context.Context, id string) (domain.Task, domain.Project, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, domain.Project{}, err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Task{}, domain.Project{}, err
	}
	return t, p, nil
}

func (e Engine) ListTasks(ctx context.Context, actor policy.Actor, f repo.TaskFilters) ([]domain.Task, error) {
	if !f.Trash.Valid() {
		return nil, invalid("trashed", "must be empty, with or only")
	}
	if f.Status != "" && !domain.TaskStatus(f.Status).Valid() {
		return nil, invalid("status", "must be one of todo, in_progress, review, done")
	}
	if f.Priority != "" && !domain.TaskPriority(f.Priority).Valid() {
		return nil, invalid("priority", "must be one of low, medium, high")
	}
	return e.Repo.ListTasks(ctx, policy.TaskVisibility(actor), f)
}

type TaskUpdateOptions struct {
	Title       *string
	Description *string
	Status      *domain.TaskStatus
	Priority    *domain.TaskPriority
	DueDate     *string
	AssignedTo  *string // empty string clears the assignment
}

// UpdateTask edits an active task. Trashed tasks read as absent here; they
// only answer to restore and purge. Plain users may pick up unassigned tasks
// or update their own, but never hand a task to somebody else.
func (e Engine) UpdateTask(ctx context.Context, actor policy.Actor, id string, opts TaskUpdateOptions) (domain.Task, error) {
	t, p, err := e.taskWithProject(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !policy.Tasks.CanView(actor, p) || t.Trashed() {
		return domain.Task{}, repo.ErrNotFound
	}
	if !policy.Tasks.CanUpdate(actor, t, p) {
		return domain.Task{}, policy.Deny(policy.ActionUpdate, "task")
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return domain.Task{}, invalid("title", "is required")
		}
		t.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Status != nil {
		if !opts.Status.Valid() {
			return domain.Task{}, invalid("status", "must be one of todo, in_progress, review, done")
		}
		t.Status = *opts.Status
	}
	if opts.Priority != nil {
		if !opts.Priority.Valid() {
			return domain.Task{}, invalid("priority", "must be one of low, medium, high")
		}
		t.Priority = *opts.Priority
	}
	if opts.DueDate != nil {
		if !validDate(*opts.DueDate) {
			return domain.Task{}, invalid("due_date", "must be a date (YYYY-MM-DD)")
		}
		t.DueDate = *opts.DueDate
	}
	assigneeChanged := false
	if opts.AssignedTo != nil {
		target := *opts.AssignedTo
		if actor.Role == domain.RoleUser && target != "" && target != actor.ID {
			return domain.Task{}, policy.Deny(policy.ActionUpdate, "task")
		}
		if target == "" {
			assigneeChanged = t.AssignedTo != nil
			t.AssignedTo = nil
		} else {
			assigneeChanged = !t.AssignedToUser(target)
			t.AssignedTo = &target
		}
	}
	t.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if assigneeChanged && t.AssignedTo != nil {
		if err := e.ensureAssignable(ctx, tx, t.ProjectID, *t.AssignedTo); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{"status": string(t.Status)}); err != nil {
		return domain.Task{}, err
	}
	if assigneeChanged && t.AssignedTo != nil {
		if err := e.Events.Append(ctx, tx, "task.assigned", t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{"assigned_to": *t.AssignedTo}); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Task lifecycle states for transition errors.
const (
	lifecycleActive  = "active"
	lifecycleTrashed = "trashed"
	lifecyclePurged  = "purged"
)

func lifecycleState(t domain.Task) string {
	if t.Trashed() {
		return lifecycleTrashed
	}
	return lifecycleActive
}

func ensureLifecycleTransition(t domain.Task, to string) error {
	from := lifecycleState(t)
	switch from {
	case lifecycleActive:
		if to == lifecycleTrashed {
			return nil
		}
	case lifecycleTrashed:
		if to == lifecycleActive || to == lifecyclePurged {
			return nil
		}
	}
	return TransitionError{From: from, To: to}
}

// DeleteTask moves an active task to the trash. Trashing twice fails; it
// never silently re-trashes.
func (e Engine) DeleteTask(ctx context.Context, actor policy.Actor, id string) (domain.Task, error) {
	t, p, err := e.taskWithProject(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !policy.Tasks.CanView(actor, p) {
		return domain.Task{}, repo.ErrNotFound
	}
	if !policy.Tasks.CanDelete(actor, t, p) {
		return domain.Task{}, policy.Deny(policy.ActionDelete, "task")
	}
	if err := ensureLifecycleTransition(t, lifecycleTrashed); err != nil {
		return domain.Task{}, err
	}
	now := e.nowStr()
	t.DeletedAt = &now
	t.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.trashed", t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// RestoreTask returns a trashed task to the active state. Restoring an
// active task is a transition error, not a no-op.
func (e Engine) RestoreTask(ctx context.Context, actor policy.Actor, id string) (domain.Task, error) {
	t, p, err := e.taskWithProject(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !policy.Tasks.CanView(actor, p) {
		return domain.Task{}, repo.ErrNotFound
	}
	if !policy.Tasks.CanRestore(actor, t, p) {
		return domain.Task{}, policy.Deny(policy.ActionRestore, "task")
	}
	if err := ensureLifecycleTransition(t, lifecycleActive); err != nil {
		return domain.Task{}, err
	}
	t.DeletedAt = nil
	t.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.restored", t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ForceDeleteTask purges a trashed task and its comments permanently. Only
// trashed tasks can be purged; an active task must pass through the trash
// first.
func (e Engine) ForceDeleteTask(ctx context.Context, actor policy.Actor, id string) error {
	t, p, err := e.taskWithProject(ctx, id)
	if err != nil {
		return err
	}
	if !policy.Tasks.CanView(actor, p) {
		return repo.ErrNotFound
	}
	if !policy.Tasks.CanForceDelete(actor, t, p) {
		return policy.Deny(policy.ActionForceDelete, "task")
	}
	if err := ensureLifecycleTransition(t, lifecyclePurged); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.ForceDeleteTask(ctx, tx, t.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.purged", t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}
