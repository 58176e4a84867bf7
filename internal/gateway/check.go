package gateway

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"mediagateway/internal/domain"
	"mediagateway/internal/tasks"
)

// CheckRequest is the check and flow_check payload. TaskIDs polls several
// tasks in one call.
type CheckRequest struct {
	TaskID    string   `json:"taskId"`
	TaskIDs   []string `json:"taskIds,omitempty"`
	SceneID   string   `json:"sceneId,omitempty"`
	ProjectID string   `json:"projectId,omitempty"`
}

// BatchItem is one entry of a batch poll.
type BatchItem struct {
	TaskID string                   `json:"taskId"`
	Result *domain.GenerationStatus `json:"result,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// Check polls a single task.
func (s *Service) Check(ctx context.Context, req CheckRequest) (domain.GenerationStatus, error) {
	if s.resolver == nil {
		return domain.GenerationStatus{}, fmt.Errorf("check: %w", domain.ErrNotConfigured)
	}
	return s.resolver.Check(ctx, tasks.CheckRequest{
		TaskID:    strings.TrimSpace(req.TaskID),
		SceneID:   req.SceneID,
		ProjectID: req.ProjectID,
	})
}

// CheckBatch polls every id in TaskIDs concurrently. Per-task errors are
// reported inline.
func (s *Service) CheckBatch(ctx context.Context, req CheckRequest) ([]BatchItem, error) {
	if s.resolver == nil {
		return nil, fmt.Errorf("check: %w", domain.ErrNotConfigured)
	}
	ids := make([]string, 0, len(req.TaskIDs))
	for _, id := range req.TaskIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("check: %w: taskIds is empty", domain.ErrInvalidInput)
	}

	items := make([]BatchItem, len(ids))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			status, err := s.resolver.Check(ctx, tasks.CheckRequest{TaskID: id, ProjectID: req.ProjectID})
			items[i] = BatchItem{TaskID: id}
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Result = &status
			return nil
		})
	}
	_ = g.Wait()
	return items, nil
}
