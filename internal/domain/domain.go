package domain

// Role is a user's global role. Policies compare roles by explicit set
// membership; there is no rank ordering.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	}
	return false
}

type User struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"-"`
	Role         Role    `json:"role" enum:"admin,manager,user"`
	GoogleID     *string `json:"google_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type ProjectStatus string

const (
	ProjectOpen      ProjectStatus = "open"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectOpen, ProjectCompleted, ProjectArchived:
		return true
	}
	return false
}

// Project carries its member set so that authorization decisions can run over
// an in-memory snapshot without further lookups.
type Project struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status" enum:"open,completed,archived"`
	Deadline    string        `json:"deadline" format:"date"`
	ManagerID   *string       `json:"manager_id,omitempty"`
	MemberIDs   []string      `json:"member_ids,omitempty"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

// HasMember reports whether userID is in the project's member set.
func (p Project) HasMember(userID string) bool {
	for _, id := range p.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ManagedBy reports whether userID is the project's managing manager.
func (p Project) ManagedBy(userID string) bool {
	return p.ManagerID != nil && *p.ManagerID == userID
}

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskReview, TaskDone:
		return true
	}
	return false
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task rows are soft-deleted: a non-nil DeletedAt means the task is trashed
// and excluded from default listings until restored or purged.
type Task struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      TaskStatus   `json:"status" enum:"todo,in_progress,review,done"`
	Priority    TaskPriority `json:"priority" enum:"low,medium,high"`
	DueDate     string       `json:"due_date" format:"date"`
	AssignedTo  *string      `json:"assigned_to,omitempty"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
	UpdatedAt   string       `json:"updated_at" format:"date-time"`
	DeletedAt   *string      `json:"deleted_at,omitempty" format:"date-time"`
}

// Trashed reports whether the task is soft-deleted.
func (t Task) Trashed() bool {
	return t.DeletedAt != nil
}

// AssignedToUser reports whether the task is assigned to userID.
func (t Task) AssignedToUser(userID string) bool {
	return t.AssignedTo != nil && *t.AssignedTo == userID
}

// TargetKind tags a comment's parent. Exactly two kinds exist.
type TargetKind string

const (
	TargetProject TargetKind = "project"
	TargetTask    TargetKind = "task"
)

func (k TargetKind) Valid() bool {
	return k == TargetProject || k == TargetTask
}

// CommentTarget is the tagged variant a comment attaches to: a project or a
// task, never both and never anything else.
type CommentTarget struct {
	Kind TargetKind `json:"kind" enum:"project,task"`
	ID   string     `json:"id"`
}

type Comment struct {
	ID        string        `json:"id"`
	Target    CommentTarget `json:"target"`
	AuthorID  string        `json:"author_id"`
	Body      string        `json:"body"`
	CreatedAt string        `json:"created_at" format:"date-time"`
}

type AccessToken struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	Name       string  `json:"name,omitempty"`
	TokenHash  string  `json:"-"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
