package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/policy"
	"taskboard/internal/repo"
)

type ProjectCreateOptions struct {
	Title       string
	Description string
	Status      domain.ProjectStatus
	Deadline    string
	ManagerID   string
	MemberIDs   []string
}

// CreateProject creates a project. A manager-role creator becomes its
// managing manager unless an admin names someone else.
func (e Engine) CreateProject(ctx context.Context, actor policy.Actor, opts ProjectCreateOptions) (domain.Project, error) {
	if !policy.Projects.CanCreate(actor) {
		return domain.Project{}, policy.Deny(policy.ActionCreate, "project")
	}
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Project{}, invalid("title", "is required")
	}
	if opts.Status == "" {
		opts.Status = domain.ProjectOpen
	}
	if !opts.Status.Valid() {
		return domain.Project{}, invalid("status", "must be one of open, completed, archived")
	}
	if opts.Deadline == "" || !validDate(opts.Deadline) {
		return domain.Project{}, invalid("deadline", "must be a date (YYYY-MM-DD)")
	}
	managerID := opts.ManagerID
	if managerID == "" && actor.Role == domain.RoleManager {
		managerID = actor.ID
	}
	if managerID != "" {
		m, err := e.Repo.GetUser(ctx, managerID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Project{}, invalid("manager_id", "no such user")
			}
			return domain.Project{}, err
		}
		if m.Role != domain.RoleManager && m.Role != domain.RoleAdmin {
			return domain.Project{}, invalid("manager_id", "must be a manager")
		}
	}
	now := e.nowStr()
	p := domain.Project{
		ID:          uuid.NewString(),
		Title:       opts.Title,
		Description: opts.Description,
		Status:      opts.Status,
		Deadline:    opts.Deadline,
		ManagerID:   optionalString(managerID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	for _, uid := range opts.MemberIDs {
		if _, err := e.Repo.GetUser(ctx, uid); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Project{}, invalid("member_ids", "no such user: "+uid)
			}
			return domain.Project{}, err
		}
		if err := e.Repo.AddMember(ctx, tx, p.ID, uid); err != nil {
			return domain.Project{}, err
		}
		p.MemberIDs = append(p.MemberIDs, uid)
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, actor.ID, events.EventPayload{"title": p.Title, "status": string(p.Status)}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// GetProject loads one project. Rows outside the actor's visibility read as
// absent rather than forbidden, so ids cannot be probed.
func (e Engine) GetProject(ctx context.Context, actor policy.Actor, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if !policy.Projects.CanView(actor, p) {
		return domain.Project{}, repo.ErrNotFound
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context, actor policy.Actor, f repo.ProjectFilters) ([]domain.Project, error) {
	if f.Status != "" && !domain.ProjectStatus(f.Status).Valid() {
		return nil, invalid("status", "must be one of open, completed, archived")
	}
	return e.Repo.ListProjects(ctx, policy.ProjectVisibility(actor), f)
}

type ProjectUpdateOptions struct {
	Title       *string
	Description *string
	Status      *domain.ProjectStatus
	Deadline    *string
	ManagerID   *string
}

func (e Engine) UpdateProject(ctx context.Context, actor policy.Actor, id string, opts ProjectUpdateOptions) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if !policy.Projects.CanView(actor, p) {
		return domain.Project{}, repo.ErrNotFound
	}
	if !policy.Projects.CanUpdate(actor, p) {
		return domain.Project{}, policy.Deny(policy.ActionUpdate, "project")
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return domain.Project{}, invalid("title", "is required")
		}
		p.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.Status != nil {
		if !opts.Status.Valid() {
			return domain.Project{}, invalid("status", "must be one of open, completed, archived")
		}
		p.Status = *opts.Status
	}
	if opts.Deadline != nil {
		if !validDate(*opts.Deadline) {
			return domain.Project{}, invalid("deadline", "must be a date (YYYY-MM-DD)")
		}
		p.Deadline = *opts.Deadline
	}
	if opts.ManagerID != nil {
		// Reassigning the managing manager is an admin move.
		if actor.Role != domain.RoleAdmin {
			return domain.Project{}, policy.Deny(policy.ActionUpdate, "project")
		}
		if *opts.ManagerID == "" {
			p.ManagerID = nil
		} else {
			m, err := e.Repo.GetUser(ctx, *opts.ManagerID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return domain.Project{}, invalid("manager_id", "no such user")
				}
				return domain.Project{}, err
			}
			if m.Role != domain.RoleManager && m.Role != domain.RoleAdmin {
				return domain.Project{}, invalid("manager_id", "must be a manager")
			}
			p.ManagerID = opts.ManagerID
		}
	}
	p.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.updated", p.ID, "project", p.ID, actor.ID, events.EventPayload{"status": string(p.Status)}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// DeleteProject removes a project and everything under it: membership rows,
// tasks in any lifecycle state, and comments on both, all in one
// transaction.
func (e Engine) DeleteProject(ctx context.Context, actor policy.Actor, id string) error {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if !policy.Projects.CanView(actor, p) {
		return repo.ErrNotFound
	}
	if !policy.Projects.CanDelete(actor, p) {
		return policy.Deny(policy.ActionDelete, "project")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteProjectTasks(ctx, tx, p.ID); err != nil {
		return err
	}
	if err := e.Repo.DeleteProjectComments(ctx, tx, p.ID); err != nil {
		return err
	}
	if err := e.Repo.DeleteProject(ctx, tx, p.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "project.deleted", p.ID, "project", p.ID, actor.ID, events.EventPayload{"title": p.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// InviteMember adds a user to the project's member set. Idempotent.
func (e Engine) InviteMember(ctx context.Context, actor policy.Actor, projectID, userID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !policy.Projects.CanView(actor, p) {
		return domain.Project{}, repo.ErrNotFound
	}
	if !policy.Projects.CanUpdate(actor, p) {
		return domain.Project{}, policy.Deny(policy.ActionUpdate, "project")
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, invalid("user_id", "no such user")
		}
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.AddMember(ctx, tx, p.ID, userID); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.member_added", p.ID, "project", p.ID, actor.ID, events.EventPayload{"user_id": userID}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	if !p.HasMember(userID) {
		p.MemberIDs = append(p.MemberIDs, userID)
	}
	return p, nil
}

// RemoveMember drops a user from the member set. Their assigned tasks in the
// project keep their assignee; reassignment is the manager's call.
func (e Engine) RemoveMember(ctx context.Context, actor policy.Actor, projectID, userID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !policy.Projects.CanView(actor, p) {
		return domain.Project{}, repo.ErrNotFound
	}
	if !policy.Projects.CanUpdate(actor, p) {
		return domain.Project{}, policy.Deny(policy.ActionUpdate, "project")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.RemoveMember(ctx, tx, p.ID, userID); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.member_removed", p.ID, "project", p.ID, actor.ID, events.EventPayload{"user_id": userID}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	members := p.MemberIDs[:0]
	for _, id := range p.MemberIDs {
		if id != userID {
			members = append(members, id)
		}
	}
	p.MemberIDs = members
	return p, nil
}
