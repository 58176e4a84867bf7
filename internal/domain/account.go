package domain

import "time"

// DefaultUsageLimit applies when an account row carries no usable limit.
const DefaultUsageLimit = 50

// Account is one pooled upstream credential with its own quota.
type Account struct {
	ID         string
	Email      string
	Token      string
	Cookies    string
	ProjectID  string
	UsageCount int
	UsageLimit int
	Active     bool
	UpdatedAt  time.Time
}

// Limit returns the effective usage limit.
func (a Account) Limit() int {
	if a.UsageLimit <= 0 {
		return DefaultUsageLimit
	}
	return a.UsageLimit
}

// HasQuota reports whether the account can take another quota-consuming call.
func (a Account) HasQuota() bool {
	return a.UsageCount < a.Limit()
}

// Eligible reports whether the account may be selected at all.
func (a Account) Eligible(ignoreQuota bool) bool {
	if !a.Active || a.Token == "" {
		return false
	}
	return ignoreQuota || a.HasQuota()
}
