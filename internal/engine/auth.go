package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/policy"
	"taskboard/internal/repo"
)

// RegisterUser creates an account and issues its first access token. Self
// registration always yields the plain user role; privileged roles are
// assigned through CreateUser by an admin.
func (e Engine) RegisterUser(ctx context.Context, name, email, password string) (domain.User, string, error) {
	u, err := e.newUser(ctx, name, email, password, domain.RoleUser)
	if err != nil {
		return domain.User{}, "", err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, "", err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, "", err
	}
	raw, err := e.issueToken(ctx, tx, u.ID, "register")
	if err != nil {
		return domain.User{}, "", err
	}
	if err := e.Events.Append(ctx, tx, "user.registered", "", "user", u.ID, u.ID, events.EventPayload{"email": u.Email}); err != nil {
		return domain.User{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, "", err
	}
	return u, raw, nil
}

// Login verifies credentials and issues a fresh access token.
func (e Engine) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	u, err := e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, "", ErrInvalidCredentials
		}
		return domain.User{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.User{}, "", ErrInvalidCredentials
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, "", err
	}
	defer tx.Rollback()

	raw, err := e.issueToken(ctx, tx, u.ID, "login")
	if err != nil {
		return domain.User{}, "", err
	}
	if err := e.Events.Append(ctx, tx, "user.logged_in", "", "user", u.ID, u.ID, events.EventPayload{}); err != nil {
		return domain.User{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, "", err
	}
	return u, raw, nil
}

// Logout revokes the presented access token. JWT sessions have nothing to
// revoke and report not found.
func (e Engine) Logout(ctx context.Context, rawToken string) error {
	token, err := e.Repo.GetAccessTokenByHash(ctx, repo.HashToken(rawToken))
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteAccessToken(ctx, tx, token.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "user.logged_out", "", "user", token.UserID, token.UserID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// Authenticate resolves a raw opaque token to its user and records the use.
// A token older than the configured TTL no longer authenticates; its row is
// dropped on first sight.
func (e Engine) Authenticate(ctx context.Context, rawToken string) (domain.User, error) {
	token, err := e.Repo.GetAccessTokenByHash(ctx, repo.HashToken(rawToken))
	if err != nil {
		return domain.User{}, err
	}
	if e.tokenExpired(token) {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.User{}, err
		}
		defer tx.Rollback()
		if err := e.Repo.DeleteAccessToken(ctx, tx, token.ID); err != nil {
			return domain.User{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.User{}, err
		}
		return domain.User{}, repo.ErrNotFound
	}
	u, err := e.Repo.GetUser(ctx, token.UserID)
	if err != nil {
		return domain.User{}, err
	}
	if err := e.Repo.TouchAccessToken(ctx, token.ID, e.nowStr()); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) tokenExpired(t domain.AccessToken) bool {
	if e.Config == nil || e.Config.Auth.TokenTTLHours <= 0 {
		return false
	}
	issued, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return true
	}
	return e.now().After(issued.Add(time.Duration(e.Config.Auth.TokenTTLHours) * time.Hour))
}

// Actor builds the policy actor for a user id, failing if the account is
// gone.
func (e Engine) Actor(ctx context.Context, userID string) (policy.Actor, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return policy.Actor{}, err
	}
	return policy.Actor{ID: u.ID, Role: u.Role}, nil
}

func (e Engine) newUser(ctx context.Context, name, email, password string, role domain.Role) (domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return domain.User{}, invalid("name", "is required")
	}
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, invalid("email", "must be a valid address")
	}
	if len(password) < 8 {
		return domain.User{}, invalid("password", "must be at least 8 characters")
	}
	if !role.Valid() {
		return domain.User{}, invalid("role", "must be one of admin, manager, user")
	}
	if _, err := e.Repo.GetUserByEmail(ctx, email); err == nil {
		return domain.User{}, invalid("email", "is already taken")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	now := e.nowStr()
	return domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// issueToken mints a raw opaque token within the caller's transaction. Only
// the sha256 hash is stored; the raw value is returned once and never again.
func (e Engine) issueToken(ctx context.Context, tx *sql.Tx, userID, name string) (string, error) {
	raw := uuid.NewString() + uuid.NewString()
	t := domain.AccessToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		TokenHash: repo.HashToken(raw),
		CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertAccessToken(ctx, tx, t); err != nil {
		return "", err
	}
	return raw, nil
}
