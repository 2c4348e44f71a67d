package repo

import (
	"context"
	"database/sql"

	"taskboard/internal/domain"
)

const commentColumns = `id,commentable_type,commentable_id,user_id,body,created_at`

func scanCommentRow(scan func(dest ...any) error) (domain.Comment, error) {
	var c domain.Comment
	err := scan(&c.ID, &c.Target.Kind, &c.Target.ID, &c.AuthorID, &c.Body, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,commentable_type,commentable_id,user_id,body,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.Target.Kind, c.Target.ID, c.AuthorID, c.Body, c.CreatedAt)
	return err
}

func (r Repo) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	return scanCommentRow(r.DB.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=?`, id).Scan)
}

func (r Repo) DeleteComment(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProjectComments removes comments attached directly to a project, as
// part of a project cascade. Task comments go with DeleteProjectTasks.
func (r Repo) DeleteProjectComments(ctx context.Context, tx *sql.Tx, projectID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE commentable_type='project' AND commentable_id=?`, projectID)
	return err
}

type CommentFilters struct {
	SortBy string
}

var commentSortFields = map[string]string{
	"created_at": "created_at",
}

// ListComments returns the comment thread for one target. Authorization for
// the whole thread is decided against the target before calling.
func (r Repo) ListComments(ctx context.Context, target domain.CommentTarget, f CommentFilters) ([]domain.Comment, error) {
	order, err := orderClause(f.SortBy, commentSortFields, "created_at ASC")
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + commentColumns + ` FROM comments WHERE commentable_type=? AND commentable_id=? ` + order
	rows, err := r.DB.QueryContext(ctx, query, target.Kind, target.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanCommentRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
