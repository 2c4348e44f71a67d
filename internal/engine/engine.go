// Package engine implements the application operations. Every mutation runs
// in a single transaction that also appends its audit event, so state and
// audit trail cannot diverge. Authorization decisions are delegated to the
// policy package over snapshots loaded here.
package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskboard/internal/config"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format("2006-01-02")
}

// ErrInvalidCredentials is returned by Login for a wrong email or password.
// The two cases are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ValidationError rejects a request whose payload fails a field rule. It is
// distinct from both authorization denial and lifecycle misuse.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

// TransitionError rejects a lifecycle operation applied in the wrong state,
// such as purging a task that was never trashed. It never silently degrades
// into a different operation.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid lifecycle transition %s -> %s", e.From, e.To)
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
