package gateway

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"mediagateway/internal/domain"
	"mediagateway/internal/failover"
	"mediagateway/internal/providers/relay"
)

// FlowCreateRequest is the flow_create payload.
type FlowCreateRequest struct {
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"referenceImages"`
	NumberOfImages  int      `json:"numberOfImages"`
	AspectRatio     string   `json:"aspectRatio"`
	MediaType       string   `json:"mediaType"`
	Model           string   `json:"model,omitempty"`
}

// PartialFailure records one failed attempt of a batch.
type PartialFailure struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// FlowCreateResult carries every successful handle and every failed attempt.
type FlowCreateResult struct {
	Tasks    []domain.TaskHandle `json:"tasks"`
	Failures []PartialFailure    `json:"failures,omitempty"`
}

// FlowCreate runs NumberOfImages independent generations concurrently, each
// with its own failover pass. One failing attempt never cancels its siblings;
// the call fails only when every attempt fails.
func (s *Service) FlowCreate(ctx context.Context, req FlowCreateRequest) (FlowCreateResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return FlowCreateResult{}, fmt.Errorf("flow_create: %w: prompt is required", domain.ErrInvalidInput)
	}
	if s.relay == nil {
		return FlowCreateResult{}, fmt.Errorf("flow_create: %w", domain.ErrNotConfigured)
	}
	operation := failover.OpCreateFlowImage
	if relay.IsVideo(req.MediaType) {
		operation = failover.OpCreateVideoWithRefs
	}
	accounts, err := s.accounts.Select(ctx, false, "")
	if err != nil {
		return FlowCreateResult{}, err
	}

	n := relay.ClampImageCount(req.NumberOfImages)
	handles := make([]*domain.TaskHandle, n)
	errs := make([]error, n)

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range n {
		candidates := rotate(accounts, i)
		g.Go(func() error {
			h, err := failover.Execute(ctx, s.executor, candidates, operation,
				func(ctx context.Context, acct domain.Account) (domain.TaskHandle, error) {
					return s.relay.GenerateWithReferences(ctx, acct, relay.RefRequest{
						Prompt:      req.Prompt,
						References:  req.ReferenceImages,
						AspectRatio: req.AspectRatio,
						MediaType:   req.MediaType,
						Model:       req.Model,
					})
				})
			if err != nil {
				errs[i] = err
				return nil
			}
			handles[i] = &h
			return nil
		})
	}
	_ = g.Wait()

	var result FlowCreateResult
	var firstErr error
	for i := range n {
		if handles[i] != nil {
			result.Tasks = append(result.Tasks, *handles[i])
			continue
		}
		if firstErr == nil {
			firstErr = errs[i]
		}
		result.Failures = append(result.Failures, PartialFailure{Index: i, Message: errs[i].Error()})
		s.logger.Warn().Err(errs[i]).Int("attempt", i).Str("operation", operation).Msg("flow_create attempt failed")
	}
	if len(result.Tasks) == 0 {
		return FlowCreateResult{}, firstErr
	}
	return result, nil
}

// rotate starts the candidate order at offset i so parallel attempts spread
// across the pool.
func rotate(accounts []domain.Account, i int) []domain.Account {
	if len(accounts) == 0 {
		return nil
	}
	k := i % len(accounts)
	out := make([]domain.Account, 0, len(accounts))
	out = append(out, accounts[k:]...)
	return append(out, accounts[:k]...)
}
