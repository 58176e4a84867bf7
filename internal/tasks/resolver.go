// Package tasks turns client-held task ids into provider status polls.
//
// A relay task id is opaque until the relay reports the provider operation
// behind it. Resolution is modelled as three states: unresolved (a relay id),
// resolved (a provider operation name that can be polled) and terminal (a
// status decided without polling the provider). Only a ResolvedTask can reach
// the provider poll.
package tasks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"mediagateway/internal/domain"
	"mediagateway/internal/failover"
	"mediagateway/internal/infra"
	"mediagateway/internal/upstream"
)

// State is the resolution stage of a task id.
type State int

const (
	StateUnresolved State = iota
	StateResolved
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateResolved:
		return "resolved"
	case StateTerminal:
		return "terminal"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	relayStatusRules     = upstream.Rules{"status", "data.status", "state"}
	relayErrorRules      = upstream.Rules{"error.message", "error", "message", "data.error", "result.error.message"}
	operationsRules      = upstream.Rules{"operations", "result.operations", "data.operations"}
	operationNameRules   = upstream.Rules{"operations.0.operation.name", "result.operations.0.operation.name", "data.operations.0.operation.name"}
	operationSceneRules  = upstream.Rules{"operations.0.sceneId", "result.operations.0.sceneId", "data.operations.0.sceneId", "sceneId"}
	operationProjectRule = upstream.Rules{"projectId", "result.projectId", "data.projectId"}
)

// CheckRequest is a client poll.
type CheckRequest struct {
	TaskID    string
	SceneID   string
	ProjectID string
}

// ResolvedTask is a provider operation that can be polled.
type ResolvedTask struct {
	OperationName string
	SceneID       string
	ProjectID     string
}

// Step is the outcome of one resolution transition.
type Step struct {
	State    State
	Resolved ResolvedTask
	Status   domain.GenerationStatus
}

// RelayStatus fetches relay task records.
type RelayStatus interface {
	TaskStatus(ctx context.Context, taskID string) upstream.Result
}

// StatusChecker polls a provider operation with one account.
type StatusChecker interface {
	CheckStatus(ctx context.Context, acct domain.Account, operationName, sceneID string) (domain.GenerationStatus, error)
}

// AccountSelector yields candidate accounts.
type AccountSelector interface {
	Select(ctx context.Context, ignoreQuota bool, projectFilter string) ([]domain.Account, error)
}

// Options wires the resolver.
type Options struct {
	Relay    RelayStatus
	Checker  StatusChecker
	Accounts AccountSelector
	Executor *failover.Executor
	Logger   *infra.Logger
}

// Resolver answers status polls.
type Resolver struct {
	relay    RelayStatus
	checker  StatusChecker
	accounts AccountSelector
	executor *failover.Executor
	logger   *infra.Logger
}

func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		relay:    opts.Relay,
		checker:  opts.Checker,
		accounts: opts.Accounts,
		executor: opts.Executor,
		logger:   opts.Logger,
	}
	if r.logger == nil {
		r.logger = infra.DiscardLogger()
	}
	if r.executor == nil {
		r.executor = failover.New(failover.Options{Logger: r.logger})
	}
	return r
}

// IsRelayTaskID reports whether id has the relay's 36-character hyphenated shape.
func IsRelayTaskID(id string) bool {
	return len(id) == 36 && strings.Contains(id, "-")
}

// Initial classifies a request before any upstream call.
func Initial(req CheckRequest) Step {
	if IsRelayTaskID(req.TaskID) {
		return Step{State: StateUnresolved}
	}
	return Step{
		State: StateResolved,
		Resolved: ResolvedTask{
			OperationName: req.TaskID,
			SceneID:       req.SceneID,
			ProjectID:     req.ProjectID,
		},
	}
}

// Check drives req through the state machine to a status.
func (r *Resolver) Check(ctx context.Context, req CheckRequest) (domain.GenerationStatus, error) {
	if strings.TrimSpace(req.TaskID) == "" {
		return domain.GenerationStatus{}, fmt.Errorf("check: %w: taskId is required", domain.ErrInvalidInput)
	}
	step := Initial(req)
	if step.State == StateUnresolved {
		var err error
		step, err = r.ResolveRelay(ctx, req)
		if err != nil {
			return domain.GenerationStatus{}, err
		}
	}

	var (
		status domain.GenerationStatus
		err    error
	)
	switch step.State {
	case StateTerminal:
		status = step.Status
	case StateResolved:
		status, err = r.Poll(ctx, step.Resolved)
		if err != nil {
			return domain.GenerationStatus{}, err
		}
	default:
		return domain.GenerationStatus{}, fmt.Errorf("check: task %s left in state %s", req.TaskID, step.State)
	}
	status.TaskID = req.TaskID
	if status.SceneID == "" {
		status.SceneID = firstNonEmpty(step.Resolved.SceneID, req.SceneID)
	}
	return status, nil
}

// ResolveRelay performs phase one: asking the relay which provider operation
// backs a relay task id. It never polls the provider.
func (r *Resolver) ResolveRelay(ctx context.Context, req CheckRequest) (Step, error) {
	if r.relay == nil {
		return Step{}, fmt.Errorf("resolve relay task: %w", domain.ErrNotConfigured)
	}
	res := r.relay.TaskStatus(ctx, req.TaskID)
	relayState := strings.ToLower(relayStatusRules.String(res.Data))

	if res.Status == http.StatusNotFound || relayState == "not_found" {
		return terminal(domain.Failed("task not found")), nil
	}
	if !res.OK {
		return Step{}, fmt.Errorf("resolve relay task %s: %w", req.TaskID, res.Err())
	}
	if relayState == "failed" || relayState == "error" {
		msg := relayErrorRules.String(res.Data)
		if msg == "" {
			msg = "relay task failed"
		}
		return terminal(domain.Failed(msg)), nil
	}

	ops := operationsRules.Find(res.Data)
	if !ops.IsArray() || len(ops.Array()) == 0 {
		return terminal(domain.Processing()), nil
	}
	name := operationNameRules.String(res.Data)
	if name == "" {
		r.logger.Debug().Str("task_id", req.TaskID).Msg("relay operations carry no name yet")
		return terminal(domain.Processing()), nil
	}
	return Step{
		State: StateResolved,
		Resolved: ResolvedTask{
			OperationName: name,
			SceneID:       firstNonEmpty(operationSceneRules.String(res.Data), req.SceneID),
			ProjectID:     firstNonEmpty(req.ProjectID, operationProjectRule.String(res.Data)),
		},
	}, nil
}

// Poll performs phase two against the account pool, quota ignored. Accounts
// that cannot see the operation are skipped by failover.
func (r *Resolver) Poll(ctx context.Context, task ResolvedTask) (domain.GenerationStatus, error) {
	if r.checker == nil || r.accounts == nil {
		return domain.GenerationStatus{}, fmt.Errorf("poll: %w", domain.ErrNotConfigured)
	}
	accounts, err := r.accounts.Select(ctx, true, task.ProjectID)
	if err != nil {
		return domain.GenerationStatus{}, err
	}
	status, err := failover.Execute(ctx, r.executor, accounts, failover.OpCheckStatus,
		func(ctx context.Context, acct domain.Account) (domain.GenerationStatus, error) {
			return r.checker.CheckStatus(ctx, acct, task.OperationName, task.SceneID)
		})
	if err != nil {
		return domain.GenerationStatus{}, err
	}
	if !status.Status.Valid() {
		status.Status = domain.StatusProcessing
	}
	return status, nil
}

func terminal(status domain.GenerationStatus) Step {
	return Step{State: StateTerminal, Status: status}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
