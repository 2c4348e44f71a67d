package policy_test

import (
	"testing"

	"taskboard/internal/domain"
	"taskboard/internal/policy"
)

var (
	admin    = policy.Actor{ID: "a1", Role: domain.RoleAdmin}
	manager  = policy.Actor{ID: "m1", Role: domain.RoleManager}
	manager2 = policy.Actor{ID: "m2", Role: domain.RoleManager}
	member   = policy.Actor{ID: "u1", Role: domain.RoleUser}
	outsider = policy.Actor{ID: "u2", Role: domain.RoleUser}
)

// managed by m1, with u1 as a member
func sampleProject() domain.Project {
	mgr := "m1"
	return domain.Project{ID: "p1", ManagerID: &mgr, MemberIDs: []string{"u1"}}
}

func TestProjectRules(t *testing.T) {
	p := sampleProject()
	tests := []struct {
		name  string
		actor policy.Actor
		check func(policy.Actor) bool
		want  bool
	}{
		{"admin views", admin, func(a policy.Actor) bool { return policy.Projects.CanView(a, p) }, true},
		{"any manager views", manager2, func(a policy.Actor) bool { return policy.Projects.CanView(a, p) }, true},
		{"member views", member, func(a policy.Actor) bool { return policy.Projects.CanView(a, p) }, true},
		{"outsider blocked", outsider, func(a policy.Actor) bool { return policy.Projects.CanView(a, p) }, false},

		{"admin creates", admin, policy.Projects.CanCreate, true},
		{"manager creates", manager, policy.Projects.CanCreate, true},
		{"user cannot create", member, policy.Projects.CanCreate, false},

		{"admin updates", admin, func(a policy.Actor) bool { return policy.Projects.CanUpdate(a, p) }, true},
		{"managing manager updates", manager, func(a policy.Actor) bool { return policy.Projects.CanUpdate(a, p) }, true},
		{"unrelated manager cannot update", manager2, func(a policy.Actor) bool { return policy.Projects.CanUpdate(a, p) }, false},
		{"member cannot update", member, func(a policy.Actor) bool { return policy.Projects.CanUpdate(a, p) }, false},

		{"managing manager deletes", manager, func(a policy.Actor) bool { return policy.Projects.CanDelete(a, p) }, true},
		{"unrelated manager cannot delete", manager2, func(a policy.Actor) bool { return policy.Projects.CanDelete(a, p) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.actor); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTaskRules(t *testing.T) {
	p := sampleProject()
	mine := domain.Task{ID: "t1", ProjectID: p.ID, AssignedTo: &member.ID}
	theirs := domain.Task{ID: "t2", ProjectID: p.ID, AssignedTo: &outsider.ID}
	unassigned := domain.Task{ID: "t3", ProjectID: p.ID}

	if !policy.Tasks.CanView(admin, p) || !policy.Tasks.CanView(manager2, p) || !policy.Tasks.CanView(member, p) {
		t.Fatal("admin, managers and members must see project tasks")
	}
	if policy.Tasks.CanView(outsider, p) {
		t.Fatal("outsider must not see project tasks")
	}

	// managers hold blanket view rights but manage only their own projects
	if policy.Tasks.CanDelete(manager2, mine, p) || policy.Tasks.CanRestore(manager2, mine, p) || policy.Tasks.CanForceDelete(manager2, mine, p) {
		t.Fatal("unrelated manager must not manage the task lifecycle")
	}
	if !policy.Tasks.CanDelete(manager, mine, p) || !policy.Tasks.CanRestore(manager, mine, p) || !policy.Tasks.CanForceDelete(manager, mine, p) {
		t.Fatal("managing manager must manage the task lifecycle")
	}
	if policy.Tasks.CanDelete(member, mine, p) {
		t.Fatal("plain users never manage the task lifecycle")
	}

	if !policy.Tasks.CanUpdate(member, mine, p) {
		t.Fatal("member must update their own task")
	}
	if !policy.Tasks.CanUpdate(member, unassigned, p) {
		t.Fatal("member must be able to pick up an unassigned task")
	}
	if policy.Tasks.CanUpdate(member, theirs, p) {
		t.Fatal("member must not touch a task assigned to somebody else")
	}
	if policy.Tasks.CanUpdate(manager2, mine, p) {
		t.Fatal("unrelated manager must not update the task")
	}

	if policy.Tasks.CanCreate(outsider, &p) {
		t.Fatal("non-member user must not create tasks in the project")
	}
	if !policy.Tasks.CanCreate(member, &p) {
		t.Fatal("member must create tasks in the project")
	}
}

func TestUserRules(t *testing.T) {
	self := domain.User{ID: member.ID}
	other := domain.User{ID: "someone-else"}

	if !policy.Users.CanViewAny(admin) || policy.Users.CanViewAny(manager) || policy.Users.CanViewAny(member) {
		t.Fatal("the account directory is admin-only")
	}
	if !policy.Users.CanView(member, self) {
		t.Fatal("everyone reads their own record")
	}
	if policy.Users.CanView(member, other) || policy.Users.CanView(manager, other) {
		t.Fatal("non-admins must not read foreign records")
	}
	if !policy.Users.CanManage(admin) || policy.Users.CanManage(manager) {
		t.Fatal("account lifecycle is admin-only")
	}
}

func TestCommentRules(t *testing.T) {
	p := sampleProject()
	target := domain.CommentTarget{Kind: domain.TargetTask, ID: "t1"}
	byMember := domain.Comment{ID: "c1", Target: target, AuthorID: member.ID}

	if !policy.Comments.CanViewAny(admin, target, p) || !policy.Comments.CanViewAny(manager, target, p) || !policy.Comments.CanViewAny(member, target, p) {
		t.Fatal("admin, managing manager and members read the thread")
	}
	// the manager role alone grants nothing on comment threads
	if policy.Comments.CanViewAny(manager2, target, p) {
		t.Fatal("unrelated manager must not read the thread")
	}
	if policy.Comments.CanViewAny(outsider, target, p) {
		t.Fatal("outsider must not read the thread")
	}

	if !policy.Comments.CanDelete(member, byMember, p) {
		t.Fatal("authors delete their own comments")
	}
	if !policy.Comments.CanDelete(admin, byMember, p) || !policy.Comments.CanDelete(manager, byMember, p) {
		t.Fatal("admin and managing manager moderate the thread")
	}
	if policy.Comments.CanDelete(manager2, byMember, p) || policy.Comments.CanDelete(outsider, byMember, p) {
		t.Fatal("nobody else deletes foreign comments")
	}
}

// TestVisibilityAgreesWithCanView pins the set-wise scopes to the item-level
// checks over the full actor-by-project grid: a scope must admit exactly the
// projects the matching CanView admits.
func TestVisibilityAgreesWithCanView(t *testing.T) {
	m1 := "m1"
	projects := []domain.Project{
		{ID: "managed", ManagerID: &m1},
		{ID: "membered", MemberIDs: []string{"u1"}},
		{ID: "both", ManagerID: &m1, MemberIDs: []string{"u1"}},
		{ID: "neither"},
	}
	actors := []policy.Actor{admin, manager, manager2, member, outsider}

	admits := func(v policy.Visibility, p domain.Project) bool {
		if v.All {
			return true
		}
		if v.ManagerID != "" && p.ManagedBy(v.ManagerID) {
			return true
		}
		return v.MemberID != "" && p.HasMember(v.MemberID)
	}

	for _, a := range actors {
		pv := policy.ProjectVisibility(a)
		tv := policy.TaskVisibility(a)
		for _, p := range projects {
			if got, want := admits(pv, p), policy.Projects.CanView(a, p); got != want {
				t.Errorf("project scope for %s on %s: scope=%v, check=%v", a.ID, p.ID, got, want)
			}
			if got, want := admits(tv, p), policy.Tasks.CanView(a, p); got != want {
				t.Errorf("task scope for %s on %s: scope=%v, check=%v", a.ID, p.ID, got, want)
			}
		}
	}
}
