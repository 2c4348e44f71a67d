package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"

	"taskboard/internal/domain"
)

// HashToken returns the hex sha256 digest under which an access token is
// stored. Raw tokens never touch the database.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

const tokenColumns = `id,user_id,name,token_hash,created_at,last_used_at`

func scanTokenRow(scan func(dest ...any) error) (domain.AccessToken, error) {
	var t domain.AccessToken
	var lastUsed sql.NullString
	err := scan(&t.ID, &t.UserID, &t.Name, &t.TokenHash, &t.CreatedAt, &lastUsed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if lastUsed.Valid {
		t.LastUsedAt = &lastUsed.String
	}
	return t, nil
}

func (r Repo) InsertAccessToken(ctx context.Context, tx *sql.Tx, t domain.AccessToken) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO access_tokens(id,user_id,name,token_hash,created_at,last_used_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Name, t.TokenHash, t.CreatedAt, nullableStringPtr(t.LastUsedAt))
	return err
}

func (r Repo) GetAccessTokenByHash(ctx context.Context, hash string) (domain.AccessToken, error) {
	return scanTokenRow(r.DB.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE token_hash=?`, hash).Scan)
}

func (r Repo) TouchAccessToken(ctx context.Context, id, at string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE access_tokens SET last_used_at=? WHERE id=?`, at, id)
	return err
}

func (r Repo) DeleteAccessToken(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM access_tokens WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteUserTokens(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM access_tokens WHERE user_id=?`, userID)
	return err
}
