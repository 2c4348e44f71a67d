package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskboard/internal/domain"
	"taskboard/internal/policy"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrInvalidSort is returned when a caller asks to sort by a field outside
// the resource's allow-list. The request is rejected, never executed.
var ErrInvalidSort = errors.New("sort field not allowed")

const projectColumns = `id,title,COALESCE(description,''),status,deadline,manager_id,created_at,updated_at`

func scanProjectRow(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var managerID sql.NullString
	err := scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.Deadline, &managerID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if managerID.Valid {
		p.ManagerID = &managerID.String
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,title,description,status,deadline,manager_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Description), p.Status, p.Deadline, nullableStringPtr(p.ManagerID), p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProject loads a project together with its member set so that policy
// decisions can run over the snapshot.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := scanProjectRow(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id).Scan)
	if err != nil {
		return p, err
	}
	p.MemberIDs, err = r.ListMemberIDs(ctx, p.ID)
	return p, err
}

type ProjectFilters struct {
	Status string
	Title  string // partial match
	SortBy string
}

var projectSortFields = map[string]string{
	"deadline":   "deadline",
	"created_at": "created_at",
}

// ListProjects returns projects admitted by the visibility scope, narrowed by
// the caller's filters. The scope clause mirrors the policy's project view
// rule set-wise.
func (r Repo) ListProjects(ctx context.Context, vis policy.Visibility, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if clause, scopeArgs := projectScopeSQL(vis); clause != "" {
		clauses = append(clauses, clause)
		args = append(args, scopeArgs...)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Title != "" {
		clauses = append(clauses, "title LIKE ?")
		args = append(args, "%"+f.Title+"%")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order, err := orderClause(f.SortBy, projectSortFields, "created_at DESC")
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ` + order
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProjectRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].MemberIDs, err = r.ListMemberIDs(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// projectScopeSQL renders a Visibility into a WHERE fragment over the
// projects table.
func projectScopeSQL(vis policy.Visibility) (string, []any) {
	if vis.All {
		return "", nil
	}
	var parts []string
	var args []any
	if vis.ManagerID != "" {
		parts = append(parts, "manager_id=?")
		args = append(args, vis.ManagerID)
	}
	if vis.MemberID != "" {
		parts = append(parts, "EXISTS (SELECT 1 FROM project_members m WHERE m.project_id=projects.id AND m.user_id=?)")
		args = append(args, vis.MemberID)
	}
	if len(parts) == 0 {
		// No relationship admits rows for this actor.
		return "1=0", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET title=?, description=?, status=?, deadline=?, manager_id=?, updated_at=? WHERE id=?`,
		p.Title, nullable(p.Description), p.Status, p.Deadline, nullableStringPtr(p.ManagerID), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes the project row. Tasks and comments are removed by
// the engine in the same transaction (cascade).
func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListMemberIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id FROM project_members WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddMember is idempotent, matching invite semantics.
func (r Repo) AddMember(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO project_members(project_id, user_id) VALUES (?,?)`, projectID, userID)
	return err
}

func (r Repo) RemoveMember(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	return err
}

// IsMember checks membership within the caller's transaction so that the
// authorization check and the mutation observe the same state.
func (r Repo) IsMember(ctx context.Context, tx *sql.Tx, projectID, userID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM project_members WHERE project_id=? AND user_id=? LIMIT 1`, projectID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// orderClause validates the caller's sort request against the allow-list.
// A leading '-' selects descending order.
func orderClause(sortBy string, allowed map[string]string, fallback string) (string, error) {
	if sortBy == "" {
		return "ORDER BY " + fallback, nil
	}
	dir := "ASC"
	field := sortBy
	if strings.HasPrefix(sortBy, "-") {
		dir = "DESC"
		field = sortBy[1:]
	}
	col, ok := allowed[field]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidSort, field)
	}
	return fmt.Sprintf("ORDER BY %s %s, id ASC", col, dir), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
