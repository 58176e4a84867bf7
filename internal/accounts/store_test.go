package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mediagateway/internal/domain"
	"mediagateway/internal/sqlinline"
)

type stubExecutor struct {
	accounts []domain.Account
	err      error
	execs    []execCall
}

type execCall struct {
	query string
	args  []any
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if s.err != nil {
		return stubRow{err: s.err}
	}
	for _, acct := range s.accounts {
		if len(args) > 0 && acct.ID == args[0] {
			return stubRow{acct: acct}
		}
	}
	return stubRow{err: pgx.ErrNoRows}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	if s.err != nil {
		return nil, s.err
	}
	if query != sqlinline.QListActiveAccounts {
		return nil, fmt.Errorf("unexpected query: %s", query)
	}
	return &stubRows{accounts: s.accounts}, nil
}

type stubRow struct {
	acct domain.Account
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return fillAccount(r.acct, dest)
}

type stubRows struct {
	accounts []domain.Account
	idx      int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, errors.New("not supported") }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.idx >= len(r.accounts) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	return fillAccount(r.accounts[r.idx-1], dest)
}

func fillAccount(acct domain.Account, dest []any) error {
	if len(dest) != 9 {
		return fmt.Errorf("unexpected scan args: %d", len(dest))
	}
	*dest[0].(*string) = acct.ID
	*dest[1].(*string) = acct.Email
	*dest[2].(*string) = acct.Token
	*dest[3].(*string) = acct.Cookies
	*dest[4].(*string) = acct.ProjectID
	*dest[5].(*int) = acct.UsageCount
	*dest[6].(*int) = acct.UsageLimit
	*dest[7].(*bool) = acct.Active
	*dest[8].(*time.Time) = acct.UpdatedAt
	return nil
}

func TestListActive(t *testing.T) {
	exec := &stubExecutor{accounts: []domain.Account{
		{ID: "a1", Token: " tok-1 ", ProjectID: "p1", UsageCount: 3, UsageLimit: 50, Active: true},
		{ID: "a2", Token: "tok-2", ProjectID: "p2", Active: true},
	}}
	store := NewStore(exec)
	got, err := store.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(got))
	}
	if got[0].Token != "tok-1" {
		t.Fatalf("expected trimmed token, got %q", got[0].Token)
	}
	if got[0].UsageCount != 3 || got[0].ProjectID != "p1" {
		t.Fatalf("unexpected account: %+v", got[0])
	}
}

func TestListActiveError(t *testing.T) {
	store := NewStore(&stubExecutor{err: errors.New("boom")})
	if _, err := store.ListActive(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetNotFound(t *testing.T) {
	store := NewStore(&stubExecutor{})
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetUsage(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetUsage(context.Background(), "a1", 4); err != nil {
		t.Fatalf("SetUsage error: %v", err)
	}
	if len(exec.execs) != 1 {
		t.Fatalf("expected 1 exec, got %d", len(exec.execs))
	}
	call := exec.execs[0]
	if call.query != sqlinline.QSetAccountUsage {
		t.Fatalf("unexpected query: %s", call.query)
	}
	if v, ok := call.args[1].(int); !ok || v != 4 {
		t.Fatalf("expected count 4, got %T %v", call.args[1], call.args[1])
	}
}

func TestSetUsageNegative(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetUsage(context.Background(), "a1", -1); err == nil {
		t.Fatal("expected error for negative count")
	}
}

func TestResetQuota(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.ResetQuota(context.Background()); err != nil {
		t.Fatalf("ResetQuota error: %v", err)
	}
	if len(exec.execs) != 1 || !strings.Contains(exec.execs[0].query, "usage_count = 0") {
		t.Fatalf("unexpected exec calls: %#v", exec.execs)
	}
}

func TestUpdateTokenEmpty(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.UpdateToken(context.Background(), "a1", " ", time.Time{}); err == nil {
		t.Fatal("expected error for empty token")
	}
}
