package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskboard/internal/domain"
	"taskboard/internal/policy"
)

// TrashFilter selects which lifecycle states a task query sees. The default
// is active rows only; "with" adds trashed rows, "only" restricts to them.
// The selector is always explicit so restore/purge paths never fight an
// ambient soft-delete filter.
type TrashFilter string

const (
	TrashDefault TrashFilter = ""
	TrashWith    TrashFilter = "with"
	TrashOnly    TrashFilter = "only"
)

func (f TrashFilter) Valid() bool {
	switch f {
	case TrashDefault, TrashWith, TrashOnly:
		return true
	}
	return false
}

func (f TrashFilter) clause() string {
	switch f {
	case TrashWith:
		return ""
	case TrashOnly:
		return "deleted_at IS NOT NULL"
	default:
		return "deleted_at IS NULL"
	}
}

const taskColumns = `id,project_id,title,COALESCE(description,''),status,priority,due_date,assigned_to,created_by,created_at,updated_at,deleted_at`

func scanTaskRow(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var assignedTo, deletedAt sql.NullString
	err := scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.DueDate,
		&assignedTo, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,status,priority,due_date,assigned_to,created_by,created_at,updated_at,deleted_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), t.Status, t.Priority, t.DueDate,
		nullableStringPtr(t.AssignedTo), t.CreatedBy, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.DeletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, priority=?, due_date=?, assigned_to=?, updated_at=?, deleted_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, t.Priority, t.DueDate,
		nullableStringPtr(t.AssignedTo), t.UpdatedAt, nullableStringPtr(t.DeletedAt), t.ID)
	return err
}

// GetTask loads a task regardless of lifecycle state; the caller decides
// whether a trashed row is acceptable for the operation at hand.
func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTaskRow(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
}

// ForceDeleteTask permanently removes a task row and its comments.
func (r Repo) ForceDeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE commentable_type='task' AND commentable_id=?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProjectTasks removes all of a project's tasks (any lifecycle state)
// and their comments, as part of a project cascade.
func (r Repo) DeleteProjectTasks(ctx context.Context, tx *sql.Tx, projectID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE commentable_type='task' AND commentable_id IN (SELECT id FROM tasks WHERE project_id=?)`, projectID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id=?`, projectID)
	return err
}

type TaskFilters struct {
	ProjectID  string
	Status     string
	Priority   string
	AssignedTo string
	Title      string // partial match
	Trash      TrashFilter
	SortBy     string
}

var taskSortFields = map[string]string{
	"due_date":   "due_date",
	"priority":   "CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END",
	"created_at": "created_at",
	"title":      "title",
}

// ListTasks returns tasks admitted by the visibility scope, narrowed by the
// caller's filters and lifecycle selector. The scope clause is the set-wise
// form of the task view rule.
func (r Repo) ListTasks(ctx context.Context, vis policy.Visibility, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if clause, scopeArgs := taskScopeSQL(vis); clause != "" {
		clauses = append(clauses, clause)
		args = append(args, scopeArgs...)
	}
	if trash := f.Trash.clause(); trash != "" {
		clauses = append(clauses, trash)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Title != "" {
		clauses = append(clauses, "title LIKE ?")
		args = append(args, "%"+f.Title+"%")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order, err := orderClause(f.SortBy, taskSortFields, "created_at DESC")
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ` + order
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func taskScopeSQL(vis policy.Visibility) (string, []any) {
	if vis.All {
		return "", nil
	}
	var parts []string
	var args []any
	if vis.ManagerID != "" {
		parts = append(parts, "EXISTS (SELECT 1 FROM projects p WHERE p.id=tasks.project_id AND p.manager_id=?)")
		args = append(args, vis.ManagerID)
	}
	if vis.MemberID != "" {
		parts = append(parts, "EXISTS (SELECT 1 FROM project_members m WHERE m.project_id=tasks.project_id AND m.user_id=?)")
		args = append(args, vis.MemberID)
	}
	if len(parts) == 0 {
		return "1=0", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// TaskStatusCounts groups active tasks by status. A non-empty assignedTo
// restricts the count to that user's tasks (the dashboard scope for
// non-admin actors).
func (r Repo) TaskStatusCounts(ctx context.Context, assignedTo string) (map[string]int, error) {
	return r.taskCounts(ctx, "status", assignedTo)
}

// TaskPriorityCounts groups active tasks by priority.
func (r Repo) TaskPriorityCounts(ctx context.Context, assignedTo string) (map[string]int, error) {
	return r.taskCounts(ctx, "priority", assignedTo)
}

func (r Repo) taskCounts(ctx context.Context, column, assignedTo string) (map[string]int, error) {
	query := `SELECT ` + column + `, count(*) FROM tasks WHERE deleted_at IS NULL`
	var args []any
	if assignedTo != "" {
		query += ` AND assigned_to=?`
		args = append(args, assignedTo)
	}
	query += ` GROUP BY ` + column
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		res[key] = count
	}
	return res, rows.Err()
}

// CountProjects counts projects, restricted to memberID's projects when set.
func (r Repo) CountProjects(ctx context.Context, memberID string) (int, error) {
	query := `SELECT count(*) FROM projects`
	var args []any
	if memberID != "" {
		query += ` WHERE EXISTS (SELECT 1 FROM project_members m WHERE m.project_id=projects.id AND m.user_id=?)`
		args = append(args, memberID)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}
