package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/policy"
	"taskboard/internal/repo"
)

// resolveTarget maps a comment target to its authorization context: the
// project itself, or the project of the task the comment hangs on. A trashed
// task still anchors its thread.
func (e Engine) resolveTarget(ctx context.Context, target domain.CommentTarget) (domain.Project, error) {
	if target.ID == "" {
		return domain.Project{}, invalid("target.id", "is required")
	}
	switch target.Kind {
	case domain.TargetProject:
		return e.Repo.GetProject(ctx, target.ID)
	case domain.TargetTask:
		t, err := e.Repo.GetTask(ctx, target.ID)
		if err != nil {
			return domain.Project{}, err
		}
		return e.Repo.GetProject(ctx, t.ProjectID)
	}
	return domain.Project{}, invalid("target.kind", "must be project or task")
}

// CreateComment attaches a comment to a project or task. Creation implies
// reading the thread, so a target outside the actor's reach reads as absent.
func (e Engine) CreateComment(ctx context.Context, actor policy.Actor, target domain.CommentTarget, body string) (domain.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Comment{}, invalid("body", "is required")
	}
	parent, err := e.resolveTarget(ctx, target)
	if err != nil {
		return domain.Comment{}, err
	}
	if !policy.Comments.CanCreate(actor, target, parent) {
		return domain.Comment{}, repo.ErrNotFound
	}
	c := domain.Comment{
		ID:        uuid.NewString(),
		Target:    target,
		AuthorID:  actor.ID,
		Body:      body,
		CreatedAt: e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Events.Append(ctx, tx, "comment.created", parent.ID, "comment", c.ID, actor.ID, events.EventPayload{"target_kind": string(target.Kind), "target_id": target.ID}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// ListComments returns the thread on one target, oldest first by default.
func (e Engine) ListComments(ctx context.Context, actor policy.Actor, target domain.CommentTarget, f repo.CommentFilters) ([]domain.Comment, error) {
	parent, err := e.resolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	if !policy.Comments.CanViewAny(actor, target, parent) {
		return nil, repo.ErrNotFound
	}
	return e.Repo.ListComments(ctx, target, f)
}

// DeleteComment removes one comment. The author may always delete their own;
// admins and the parent project's managing manager may moderate.
func (e Engine) DeleteComment(ctx context.Context, actor policy.Actor, id string) error {
	c, err := e.Repo.GetComment(ctx, id)
	if err != nil {
		return err
	}
	parent, err := e.resolveTarget(ctx, c.Target)
	if err != nil {
		return err
	}
	// Authorship stands on its own: an author removed from the project can
	// still take back their words, so the delete check runs before the
	// visibility gate.
	if !policy.Comments.CanDelete(actor, c, parent) {
		if !policy.Comments.CanViewAny(actor, c.Target, parent) {
			return repo.ErrNotFound
		}
		return policy.Deny(policy.ActionDelete, "comment")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteComment(ctx, tx, c.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "comment.deleted", parent.ID, "comment", c.ID, actor.ID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}
