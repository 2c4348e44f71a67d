// Package policy is the authorization decision engine. Every decision is a
// pure function over in-memory snapshots of the actor and the target; the
// caller is responsible for loading those snapshots (including the project's
// member set) inside the same transaction as any mutation they gate.
//
// Each rule enumerates the roles it accepts explicitly. Roles are never
// compared by rank: some rules grant manager-role actors blanket rights (task
// view) while others scope managers to projects they manage (task delete), so
// an ordering would over-grant.
package policy

import (
	"fmt"

	"taskboard/internal/domain"
)

type Action string

const (
	ActionView        Action = "view"
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionDelete      Action = "delete"
	ActionRestore     Action = "restore"
	ActionForceDelete Action = "force_delete"
)

// Actor is the authenticated user a decision is made for.
type Actor struct {
	ID   string
	Role domain.Role
}

// DeniedError indicates the actor lacks rights for an action. It is always
// surfaced to the caller, never downgraded to an empty result.
type DeniedError struct {
	Action   Action
	Resource string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("not allowed to %s %s", e.Action, e.Resource)
}

// Deny builds the error for a failed decision.
func Deny(action Action, resource string) error {
	return DeniedError{Action: action, Resource: resource}
}

// viewClause is the single declarative source for "who can see this resource
// type". Both the item-level CanView checks and the set-wise visibility
// predicates in the repo derive from it, so the two cannot drift.
type viewClause struct {
	roles   []domain.Role // roles with blanket visibility
	manager bool          // project's manager_id == actor grants view
	member  bool          // project membership grants view
}

var projectViewClause = viewClause{
	roles:   []domain.Role{domain.RoleAdmin, domain.RoleManager},
	manager: true,
	member:  true,
}

var taskViewClause = viewClause{
	roles:  []domain.Role{domain.RoleAdmin, domain.RoleManager},
	member: true,
}

func (c viewClause) roleAllows(r domain.Role) bool {
	for _, allowed := range c.roles {
		if r == allowed {
			return true
		}
	}
	return false
}

// allows evaluates the clause against one project snapshot.
func (c viewClause) allows(a Actor, p domain.Project) bool {
	if c.roleAllows(a.Role) {
		return true
	}
	if c.manager && p.ManagedBy(a.ID) {
		return true
	}
	return c.member && p.HasMember(a.ID)
}

// Visibility is the set-wise form of a view clause for one actor: either
// unrestricted, or restricted to rows whose project the actor manages or
// belongs to. The repo translates it into SQL.
type Visibility struct {
	All       bool
	ManagerID string // non-empty: admit rows whose project manager_id matches
	MemberID  string // non-empty: admit rows whose project has this member
}

func (c viewClause) visibility(a Actor) Visibility {
	if c.roleAllows(a.Role) {
		return Visibility{All: true}
	}
	v := Visibility{}
	if c.manager {
		v.ManagerID = a.ID
	}
	if c.member {
		v.MemberID = a.ID
	}
	return v
}

// ProjectVisibility scopes project listings for the actor. It must admit
// exactly the rows Projects.CanView would admit one at a time.
func ProjectVisibility(a Actor) Visibility {
	return projectViewClause.visibility(a)
}

// TaskVisibility scopes task listings for the actor via the task's project.
func TaskVisibility(a Actor) Visibility {
	return taskViewClause.visibility(a)
}

// ProjectPolicy holds the project rules.
type ProjectPolicy struct{}

var Projects ProjectPolicy

// CanViewAny gates list endpoints. Always true: filtering to the visible
// subset happens through ProjectVisibility, not by blocking the whole list.
func (ProjectPolicy) CanViewAny(Actor) bool { return true }

func (ProjectPolicy) CanView(a Actor, p domain.Project) bool {
	return projectViewClause.allows(a, p)
}

func (ProjectPolicy) CanCreate(a Actor) bool {
	return a.Role == domain.RoleAdmin || a.Role == domain.RoleManager
}

func (ProjectPolicy) CanUpdate(a Actor, p domain.Project) bool {
	return a.Role == domain.RoleAdmin || p.ManagedBy(a.ID)
}

func (ProjectPolicy) CanDelete(a Actor, p domain.Project) bool {
	return a.Role == domain.RoleAdmin || p.ManagedBy(a.ID)
}

// TaskPolicy holds the task rules. Decisions that depend on the parent
// project take it as an explicit snapshot argument.
type TaskPolicy struct{}

var Tasks TaskPolicy

func (TaskPolicy) CanViewAny(Actor) bool { return true }

func (TaskPolicy) CanView(a Actor, project domain.Project) bool {
	return taskViewClause.allows(a, project)
}

// CanCreate decides task creation. Admins and managers always may. A plain
// user may when the target project is known and they are a member of it. With
// no project context at decision time the check passes: the engine's field
// validation (project required, membership verified) is the actual gate.
// That is a deliberately weak gate, kept for compatibility with the flow
// where the project is only known after body validation.
func (TaskPolicy) CanCreate(a Actor, project *domain.Project) bool {
	if a.Role == domain.RoleAdmin || a.Role == domain.RoleManager {
		return true
	}
	if project != nil {
		return project.HasMember(a.ID)
	}
	return true
}

// CanUpdate: admins always; managers only within projects they manage; plain
// users only as members, and only when the task is theirs or unassigned
// (the pick-up case). A user can never touch a task assigned to someone else.
func (TaskPolicy) CanUpdate(a Actor, t domain.Task, project domain.Project) bool {
	switch a.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleManager:
		return project.ManagedBy(a.ID)
	}
	if !project.HasMember(a.ID) {
		return false
	}
	return t.AssignedTo == nil || t.AssignedToUser(a.ID)
}

// manageRule covers delete, restore and force-delete, which share one rule:
// admins always, managers only for projects they manage, plain users never.
func (TaskPolicy) manageRule(a Actor, project domain.Project) bool {
	switch a.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleManager:
		return project.ManagedBy(a.ID)
	}
	return false
}

func (p TaskPolicy) CanDelete(a Actor, t domain.Task, project domain.Project) bool {
	return p.manageRule(a, project)
}

func (p TaskPolicy) CanRestore(a Actor, t domain.Task, project domain.Project) bool {
	return p.manageRule(a, project)
}

func (p TaskPolicy) CanForceDelete(a Actor, t domain.Task, project domain.Project) bool {
	return p.manageRule(a, project)
}

// UserPolicy holds the account administration rules. Directory and lifecycle
// operations on accounts are admin-only; an actor can always read their own
// record.
type UserPolicy struct{}

var Users UserPolicy

func (UserPolicy) CanViewAny(a Actor) bool {
	return a.Role == domain.RoleAdmin
}

func (UserPolicy) CanView(a Actor, u domain.User) bool {
	return a.Role == domain.RoleAdmin || a.ID == u.ID
}

func (UserPolicy) CanManage(a Actor) bool {
	return a.Role == domain.RoleAdmin
}

// CommentPolicy holds the comment rules. A comment's authorization context is
// always its parent project, resolved through the tagged target; comments are
// never evaluated standalone.
type CommentPolicy struct{}

var Comments CommentPolicy

// CanViewAny decides whether the actor may read the comment thread on the
// given target. Manager-role actors get no blanket rights here; only the
// managing manager and members qualify besides admins.
func (CommentPolicy) CanViewAny(a Actor, target domain.CommentTarget, parent domain.Project) bool {
	if a.Role == domain.RoleAdmin {
		return true
	}
	switch target.Kind {
	case domain.TargetTask, domain.TargetProject:
		return parent.ManagedBy(a.ID) || parent.HasMember(a.ID)
	}
	return false
}

func (p CommentPolicy) CanCreate(a Actor, target domain.CommentTarget, parent domain.Project) bool {
	return p.CanViewAny(a, target, parent)
}

// CanDelete: the author always may; otherwise admins and the managing manager
// of the comment's resolved parent project.
func (CommentPolicy) CanDelete(a Actor, c domain.Comment, parent domain.Project) bool {
	if c.AuthorID == a.ID {
		return true
	}
	return a.Role == domain.RoleAdmin || parent.ManagedBy(a.ID)
}
