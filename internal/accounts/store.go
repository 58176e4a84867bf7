package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediagateway/internal/domain"
	"mediagateway/internal/infra"
	"mediagateway/internal/sqlinline"
)

// Store reads the active account pool and patches usage counters.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// ListActive returns active accounts holding a token, most recently updated first.
func (s *Store) ListActive(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListActiveAccounts)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// Get loads a single account by id.
func (s *Store) Get(ctx context.Context, id string) (domain.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Account{}, fmt.Errorf("account id: %w", domain.ErrInvalidInput)
	}
	acct, err := scanAccount(s.sql.QueryRow(ctx, sqlinline.QSelectAccountByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}

// SetUsage writes the usage counter observed by the caller plus one.
func (s *Store) SetUsage(ctx context.Context, id string, count int) error {
	if count < 0 {
		return errors.New("usage count must not be negative")
	}
	_, err := s.sql.Exec(ctx, sqlinline.QSetAccountUsage, id, count)
	return err
}

// ResetQuota zeroes the usage counter of every active account.
func (s *Store) ResetQuota(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, sqlinline.QResetActiveUsage)
	return err
}

// UpdateToken stores a refreshed bearer token.
func (s *Store) UpdateToken(ctx context.Context, id, token string, expires time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}
	var expiresAt any
	if !expires.IsZero() {
		expiresAt = expires
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpdateAccountToken, id, token, expiresAt)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (domain.Account, error) {
	var acct domain.Account
	if err := row.Scan(
		&acct.ID,
		&acct.Email,
		&acct.Token,
		&acct.Cookies,
		&acct.ProjectID,
		&acct.UsageCount,
		&acct.UsageLimit,
		&acct.Active,
		&acct.UpdatedAt,
	); err != nil {
		return domain.Account{}, err
	}
	acct.Token = strings.TrimSpace(acct.Token)
	return acct, nil
}
