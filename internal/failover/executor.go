package failover

import (
	"context"
	"errors"
	"sync"
	"time"

	"mediagateway/internal/domain"
	"mediagateway/internal/infra"
	"mediagateway/internal/metrics"
)

// Quota-consuming operation names. Only these bump an account's usage counter.
const (
	OpCreateVideo         = "create-video"
	OpCreateFlowImage     = "create-flow-image"
	OpUpscaleFlowImage    = "upscale-flow-image"
	OpUpscaleVideo        = "upscale-video"
	OpUpscale             = "upscale"
	OpCreateVideoWithRefs = "create-video-with-refs"
)

// Operations that never touch quota.
const (
	OpUpload      = "upload"
	OpCheckStatus = "check-status"
)

var quotaOperations = map[string]struct{}{
	OpCreateVideo:         {},
	OpCreateFlowImage:     {},
	OpUpscaleFlowImage:    {},
	OpUpscaleVideo:        {},
	OpUpscale:             {},
	OpCreateVideoWithRefs: {},
}

// IsQuotaConsuming reports whether operation bumps the usage counter.
func IsQuotaConsuming(operation string) bool {
	_, ok := quotaOperations[operation]
	return ok
}

const usageWriteTimeout = 10 * time.Second

// UsageRecorder persists usage counters.
type UsageRecorder interface {
	SetUsage(ctx context.Context, id string, count int) error
}

// Options configures an Executor.
type Options struct {
	Usage   UsageRecorder
	Logger  *infra.Logger
	Metrics *metrics.Metrics
}

// Executor drives an operation across a candidate list of accounts.
type Executor struct {
	usage   UsageRecorder
	logger  *infra.Logger
	metrics *metrics.Metrics
	pending sync.WaitGroup
}

func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Executor{usage: opts.Usage, logger: logger, metrics: opts.Metrics}
}

// Wait blocks until every detached usage write has finished.
func (e *Executor) Wait() {
	e.pending.Wait()
}

// Execute tries fn against each account in order until one succeeds.
//
// Accounts without a project are skipped. Retryable failures (see Classify)
// move on to the next account; any other failure is returned at once. For
// quota-consuming operations a usage increment is scheduled before each
// attempt and never awaited.
func Execute[T any](ctx context.Context, e *Executor, accounts []domain.Account, operation string, fn func(context.Context, domain.Account) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := 0

	for _, acct := range accounts {
		if acct.ProjectID == "" {
			e.metrics.ObserveAttempt(operation, "skipped")
			e.logger.Debug().Str("account", acct.ID).Str("operation", operation).Msg("failover: account has no project; skipping")
			continue
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		attempts++

		if IsQuotaConsuming(operation) {
			e.recordUsage(ctx, acct)
		}

		result, err := fn(ctx, acct)
		if err == nil {
			e.metrics.ObserveAttempt(operation, "success")
			return result, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !Classify(err) {
			e.metrics.ObserveAttempt(operation, "fatal")
			e.logger.Warn().Err(err).Str("account", acct.ID).Str("operation", operation).Msg("failover: fatal error")
			return zero, err
		}
		e.metrics.ObserveAttempt(operation, "retry")
		e.logger.Warn().Err(err).Str("account", acct.ID).Str("operation", operation).Int("attempt", attempts).Msg("failover: retryable error; trying next account")
	}

	return zero, &AllAccountsFailedError{Operation: operation, Attempts: attempts, Last: lastErr}
}

func (e *Executor) recordUsage(ctx context.Context, acct domain.Account) {
	if e.usage == nil {
		return
	}
	next := acct.UsageCount + 1
	detached := context.WithoutCancel(ctx)
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		writeCtx, cancel := context.WithTimeout(detached, usageWriteTimeout)
		defer cancel()
		err := e.usage.SetUsage(writeCtx, acct.ID, next)
		e.metrics.ObserveUsageWrite(err)
		if err != nil {
			e.logger.Warn().Err(err).Str("account", acct.ID).Int("usage", next).Msg("failover: usage update failed")
		}
	}()
}
