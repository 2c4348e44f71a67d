package engine

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/policy"
	"taskboard/internal/repo"
)

// CreateUser provisions an account with an explicit role. Admin only.
func (e Engine) CreateUser(ctx context.Context, actor policy.Actor, name, email, password string, role domain.Role) (domain.User, error) {
	if !policy.Users.CanManage(actor) {
		return domain.User{}, policy.Deny(policy.ActionCreate, "user")
	}
	if role == "" {
		role = domain.RoleUser
	}
	u, err := e.newUser(ctx, name, email, password, role)
	if err != nil {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, "user.created", "", "user", u.ID, actor.ID, events.EventPayload{"role": string(u.Role)}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

type UserUpdateOptions struct {
	Name     *string
	Email    *string
	Password *string
	Role     *domain.Role
}

// UpdateUser edits an account. Admin only; role changes take effect on the
// target's next request.
func (e Engine) UpdateUser(ctx context.Context, actor policy.Actor, id string, opts UserUpdateOptions) (domain.User, error) {
	if !policy.Users.CanManage(actor) {
		return domain.User{}, policy.Deny(policy.ActionUpdate, "user")
	}
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.User{}, invalid("name", "is required")
		}
		u.Name = *opts.Name
	}
	if opts.Email != nil {
		other, err := e.Repo.GetUserByEmail(ctx, *opts.Email)
		if err == nil && other.ID != u.ID {
			return domain.User{}, invalid("email", "is already taken")
		}
		u.Email = *opts.Email
	}
	if opts.Password != nil {
		if len(*opts.Password) < 8 {
			return domain.User{}, invalid("password", "must be at least 8 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return domain.User{}, err
		}
		u.PasswordHash = string(hash)
	}
	if opts.Role != nil {
		if !opts.Role.Valid() {
			return domain.User{}, invalid("role", "must be one of admin, manager, user")
		}
		u.Role = *opts.Role
	}
	u.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, "user.updated", "", "user", u.ID, actor.ID, events.EventPayload{}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// DeleteUser removes an account and revokes its tokens. Admin only; admins
// cannot delete themselves, which keeps at least one admin reachable.
func (e Engine) DeleteUser(ctx context.Context, actor policy.Actor, id string) error {
	if !policy.Users.CanManage(actor) {
		return policy.Deny(policy.ActionDelete, "user")
	}
	if actor.ID == id {
		return invalid("id", "cannot delete own account")
	}
	if _, err := e.Repo.GetUser(ctx, id); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteUserTokens(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.DeleteUser(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "user.deleted", "", "user", id, actor.ID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetUser(ctx context.Context, actor policy.Actor, id string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if !policy.Users.CanView(actor, u) {
		return domain.User{}, repo.ErrNotFound
	}
	return u, nil
}

func (e Engine) ListUsers(ctx context.Context, actor policy.Actor, f repo.UserFilters) ([]domain.User, error) {
	if !policy.Users.CanViewAny(actor) {
		return nil, policy.Deny(policy.ActionView, "users")
	}
	return e.Repo.ListUsers(ctx, f)
}
