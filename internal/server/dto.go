package server

import (
	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

// Request payloads

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty" enum:"admin,manager,user"`
}

type UpdateUserRequest struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty" format:"email"`
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty" enum:"admin,manager,user"`
}

type CreateProjectRequest struct {
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Status      *string  `json:"status,omitempty" enum:"open,completed,archived"`
	Deadline    string   `json:"deadline" format:"date"`
	ManagerID   *string  `json:"manager_id,omitempty"`
	MemberIDs   []string `json:"member_ids,omitempty"`
}

type UpdateProjectRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"open,completed,archived"`
	Deadline    *string `json:"deadline,omitempty" format:"date"`
	ManagerID   *string `json:"manager_id,omitempty"`
}

type MemberRequest struct {
	UserID string `json:"user_id"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"todo,in_progress,review,done"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate     string  `json:"due_date" format:"date"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"todo,in_progress,review,done"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate     *string `json:"due_date,omitempty" format:"date"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
}

type CreateCommentRequest struct {
	Body string `json:"body"`
}

// Response payloads

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role" enum:"admin,manager,user"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type ProjectResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status" enum:"open,completed,archived"`
	Deadline    string   `json:"deadline" format:"date"`
	ManagerID   *string  `json:"manager_id,omitempty"`
	MemberIDs   []string `json:"member_ids"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"todo,in_progress,review,done"`
	Priority    string  `json:"priority" enum:"low,medium,high"`
	DueDate     string  `json:"due_date" format:"date"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	DeletedAt   *string `json:"deleted_at,omitempty" format:"date-time"`
}

type CommentResponse struct {
	ID         string `json:"id"`
	TargetKind string `json:"target_kind" enum:"project,task"`
	TargetID   string `json:"target_id"`
	AuthorID   string `json:"author_id"`
	Body       string `json:"body"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type DashboardResponse struct {
	TasksByStatus   map[string]int `json:"tasks_by_status"`
	TasksByPriority map[string]int `json:"tasks_by_priority"`
	ProjectCount    int            `json:"project_count"`
	CompletionRate  float64        `json:"completion_rate"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func mapUsers(users []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(users))
	for _, u := range users {
		res = append(res, userResponse(u))
	}
	return res
}

func projectResponse(p domain.Project) ProjectResponse {
	members := p.MemberIDs
	if members == nil {
		members = []string{}
	}
	return ProjectResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Status:      string(p.Status),
		Deadline:    p.Deadline,
		ManagerID:   p.ManagerID,
		MemberIDs:   members,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func mapProjects(projects []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		res = append(res, projectResponse(p))
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		DueDate:     t.DueDate,
		AssignedTo:  t.AssignedTo,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		DeletedAt:   t.DeletedAt,
	}
}

func mapTasks(tasks []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskResponse(t))
	}
	return res
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:         c.ID,
		TargetKind: string(c.Target.Kind),
		TargetID:   c.Target.ID,
		AuthorID:   c.AuthorID,
		Body:       c.Body,
		CreatedAt:  c.CreatedAt,
	}
}

func mapComments(comments []domain.Comment) []CommentResponse {
	res := make([]CommentResponse, 0, len(comments))
	for _, c := range comments {
		res = append(res, commentResponse(c))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse(e)
}

func dashboardResponse(s engine.DashboardStats) DashboardResponse {
	if s.TasksByStatus == nil {
		s.TasksByStatus = map[string]int{}
	}
	if s.TasksByPriority == nil {
		s.TasksByPriority = map[string]int{}
	}
	return DashboardResponse{
		TasksByStatus:   s.TasksByStatus,
		TasksByPriority: s.TasksByPriority,
		ProjectCount:    s.ProjectCount,
		CompletionRate:  s.CompletionRate,
	}
}
