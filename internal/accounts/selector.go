package accounts

import (
	"context"
	"math/rand/v2"
	"strings"

	"mediagateway/internal/domain"
	"mediagateway/internal/infra"
)

// Repository is the slice of the account store the selector depends on.
type Repository interface {
	ListActive(ctx context.Context) ([]domain.Account, error)
	ResetQuota(ctx context.Context) error
}

// SelectorOptions configures a Selector.
type SelectorOptions struct {
	// DefaultLimit replaces missing per-account limits. Zero means domain.DefaultUsageLimit.
	DefaultLimit int
	// Shuffle reorders candidates; nil uses a uniform random shuffle.
	Shuffle func(n int, swap func(i, j int))
	Logger  *infra.Logger
}

// Selector turns the raw account list into an ordered candidate list for one
// operation.
type Selector struct {
	repo         Repository
	defaultLimit int
	shuffle      func(n int, swap func(i, j int))
	logger       *infra.Logger
}

func NewSelector(repo Repository, opts SelectorOptions) *Selector {
	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = domain.DefaultUsageLimit
	}
	shuffle := opts.Shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Selector{repo: repo, defaultLimit: limit, shuffle: shuffle, logger: logger}
}

// Select returns the candidates for one operation.
//
// With projectFilter set the result is exactly the active accounts bound to
// that project, regardless of quota, and an empty match is an
// *domain.AccountNotFoundError. Otherwise accounts over quota are dropped
// unless ignoreQuota is set; when that leaves nothing the whole pool's
// counters are reset and the full list is used.
func (s *Selector) Select(ctx context.Context, ignoreQuota bool, projectFilter string) ([]domain.Account, error) {
	all, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	pool := make([]domain.Account, 0, len(all))
	for _, acct := range all {
		if !acct.Eligible(true) {
			continue
		}
		if acct.UsageLimit <= 0 {
			acct.UsageLimit = s.defaultLimit
		}
		pool = append(pool, acct)
	}
	if len(pool) == 0 {
		return nil, domain.ErrNoAccounts
	}

	if projectFilter = strings.TrimSpace(projectFilter); projectFilter != "" {
		matched := make([]domain.Account, 0, 1)
		for _, acct := range pool {
			if acct.ProjectID == projectFilter {
				matched = append(matched, acct)
			}
		}
		if len(matched) == 0 {
			return nil, &domain.AccountNotFoundError{ProjectID: projectFilter}
		}
		s.shuffle(len(matched), func(i, j int) { matched[i], matched[j] = matched[j], matched[i] })
		return matched, nil
	}

	candidates := pool
	if !ignoreQuota {
		candidates = make([]domain.Account, 0, len(pool))
		for _, acct := range pool {
			if acct.Eligible(false) {
				candidates = append(candidates, acct)
			}
		}
		if len(candidates) == 0 {
			s.logger.Warn().Int("accounts", len(pool)).Msg("accounts: pool quota exhausted; resetting usage")
			if err := s.repo.ResetQuota(ctx); err != nil {
				s.logger.Error().Err(err).Msg("accounts: quota reset failed")
			}
			candidates = pool
			for i := range candidates {
				candidates[i].UsageCount = 0
			}
		}
	}

	s.shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	return candidates, nil
}
