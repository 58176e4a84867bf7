package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNotConfigured = errors.New("upstream credential not configured")
	ErrNoAccounts    = errors.New("no active accounts available")
	ErrInvalidInput  = errors.New("invalid input")
)

// AccountNotFoundError reports that no active account belongs to the project a
// caller asked to resume work against.
type AccountNotFoundError struct {
	ProjectID string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account not found for project %s", e.ProjectID)
}

// IsAccountNotFound reports whether err is, or wraps, an AccountNotFoundError.
func IsAccountNotFound(err error) bool {
	var target *AccountNotFoundError
	return errors.As(err, &target)
}
