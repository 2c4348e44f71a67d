package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskboard/internal/domain"
)

const userColumns = `id,name,email,password_hash,role,google_id,created_at,updated_at`

func scanUserRow(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var googleID sql.NullString
	err := scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &googleID, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if googleID.Valid {
		u.GoogleID = &googleID.String
	}
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,name,email,password_hash,role,google_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, nullableStringPtr(u.GoogleID), u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET name=?, email=?, password_hash=?, role=?, google_id=?, updated_at=? WHERE id=?`,
		u.Name, u.Email, u.PasswordHash, u.Role, nullableStringPtr(u.GoogleID), u.UpdatedAt, u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteUser(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUserRow(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id).Scan)
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUserRow(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email).Scan)
}

type UserFilters struct {
	Name   string // partial match
	Email  string // partial match
	Role   string
	SortBy string
}

var userSortFields = map[string]string{
	"name":       "name",
	"created_at": "created_at",
}

func (r Repo) ListUsers(ctx context.Context, f UserFilters) ([]domain.User, error) {
	var clauses []string
	var args []any
	if f.Name != "" {
		clauses = append(clauses, "name LIKE ?")
		args = append(args, "%"+f.Name+"%")
	}
	if f.Email != "" {
		clauses = append(clauses, "email LIKE ?")
		args = append(args, "%"+f.Email+"%")
	}
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order, err := orderClause(f.SortBy, userSortFields, "name ASC")
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + userColumns + ` FROM users ` + where + ` ` + order
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUserRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
