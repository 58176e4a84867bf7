// Package gateway implements the gateway actions on top of the account pool,
// the failover executor and the upstream clients.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mediagateway/internal/domain"
	"mediagateway/internal/failover"
	"mediagateway/internal/infra"
	"mediagateway/internal/providers/flow"
	"mediagateway/internal/providers/relay"
	"mediagateway/internal/tasks"
)

const defaultConcurrency = 4

// AccountSelector yields candidate accounts for an operation.
type AccountSelector interface {
	Select(ctx context.Context, ignoreQuota bool, projectFilter string) ([]domain.Account, error)
}

// TokenStore reads and patches account credentials.
type TokenStore interface {
	Get(ctx context.Context, id string) (domain.Account, error)
	UpdateToken(ctx context.Context, id, token string, expires time.Time) error
}

// FlowClient talks to the provider directly.
type FlowClient interface {
	UploadImage(ctx context.Context, acct domain.Account, req flow.UploadRequest) (string, error)
	GenerateVideo(ctx context.Context, acct domain.Account, req flow.VideoRequest) (domain.TaskHandle, error)
	RefreshSession(ctx context.Context, acct domain.Account) (string, time.Time, error)
}

// RelayClient submits work through the relay.
type RelayClient interface {
	GenerateWithReferences(ctx context.Context, acct domain.Account, req relay.RefRequest) (domain.TaskHandle, error)
	FlowMediaCreate(ctx context.Context, acct domain.Account, req relay.FlowImageRequest) ([]domain.TaskHandle, error)
	Upscale(ctx context.Context, acct domain.Account, req relay.UpscaleRequest) (domain.TaskHandle, error)
}

// StatusResolver answers status polls.
type StatusResolver interface {
	Check(ctx context.Context, req tasks.CheckRequest) (domain.GenerationStatus, error)
}

// GeminiProxy forwards generateContent calls.
type GeminiProxy interface {
	Generate(ctx context.Context, model string, payload json.RawMessage) (json.RawMessage, error)
}

// Options wires a Service.
type Options struct {
	Accounts    AccountSelector
	Store       TokenStore
	Executor    *failover.Executor
	Flow        FlowClient
	Relay       RelayClient
	Resolver    StatusResolver
	Gemini      GeminiProxy
	Concurrency int
	Logger      *infra.Logger
}

// Service runs gateway actions.
type Service struct {
	accounts    AccountSelector
	store       TokenStore
	executor    *failover.Executor
	flow        FlowClient
	relay       RelayClient
	resolver    StatusResolver
	gemini      GeminiProxy
	concurrency int
	logger      *infra.Logger
}

func NewService(opts Options) *Service {
	s := &Service{
		accounts:    opts.Accounts,
		store:       opts.Store,
		executor:    opts.Executor,
		flow:        opts.Flow,
		relay:       opts.Relay,
		resolver:    opts.Resolver,
		gemini:      opts.Gemini,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
	if s.logger == nil {
		s.logger = infra.DiscardLogger()
	}
	if s.executor == nil {
		s.executor = failover.New(failover.Options{Logger: s.logger})
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	return s
}

// GeminiRequest is the gemini_proxy payload.
type GeminiRequest struct {
	Model   string          `json:"model"`
	Payload json.RawMessage `json:"payload"`
}

// GeminiProxy forwards a request with the server key. It does not use the pool.
func (s *Service) GeminiProxy(ctx context.Context, req GeminiRequest) (json.RawMessage, error) {
	if s.gemini == nil {
		return nil, fmt.Errorf("gemini proxy: %w", domain.ErrNotConfigured)
	}
	return s.gemini.Generate(ctx, req.Model, req.Payload)
}

// AuthRequest is the auth payload.
type AuthRequest struct {
	AccountID string `json:"accountId"`
}

// AuthResult reports a refreshed credential without exposing the token.
type AuthResult struct {
	AccountID string    `json:"accountId"`
	ProjectID string    `json:"projectId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RefreshAuth exchanges an account's session cookies for a new bearer token
// and stores it.
func (s *Service) RefreshAuth(ctx context.Context, req AuthRequest) (AuthResult, error) {
	if strings.TrimSpace(req.AccountID) == "" {
		return AuthResult{}, fmt.Errorf("auth: %w: accountId is required", domain.ErrInvalidInput)
	}
	if s.store == nil || s.flow == nil {
		return AuthResult{}, fmt.Errorf("auth: %w", domain.ErrNotConfigured)
	}
	acct, err := s.store.Get(ctx, req.AccountID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("auth: load account: %w", err)
	}
	token, expires, err := s.flow.RefreshSession(ctx, acct)
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.store.UpdateToken(ctx, acct.ID, token, expires); err != nil {
		return AuthResult{}, fmt.Errorf("auth: store token: %w", err)
	}
	s.logger.Info().Str("account_id", acct.ID).Time("expires_at", expires).Msg("account token refreshed")
	return AuthResult{AccountID: acct.ID, ProjectID: acct.ProjectID, ExpiresAt: expires}, nil
}

// UploadRequest is the upload payload.
type UploadRequest struct {
	Image       string `json:"image"`
	AspectRatio string `json:"aspectRatio"`
}

// UploadResult names the uploaded media and the project that owns it.
type UploadResult struct {
	MediaID   string `json:"mediaId"`
	ProjectID string `json:"projectId"`
}

func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if strings.TrimSpace(req.Image) == "" {
		return UploadResult{}, fmt.Errorf("upload: %w: image is required", domain.ErrInvalidInput)
	}
	accounts, err := s.accounts.Select(ctx, false, "")
	if err != nil {
		return UploadResult{}, err
	}
	return failover.Execute(ctx, s.executor, accounts, failover.OpUpload,
		func(ctx context.Context, acct domain.Account) (UploadResult, error) {
			id, err := s.flow.UploadImage(ctx, acct, flow.UploadRequest{Image: req.Image, AspectRatio: req.AspectRatio})
			if err != nil {
				return UploadResult{}, err
			}
			return UploadResult{MediaID: id, ProjectID: acct.ProjectID}, nil
		})
}

// CreateRequest is the create payload.
type CreateRequest struct {
	Prompt      string `json:"prompt"`
	Image       string `json:"image,omitempty"`
	AspectRatio string `json:"aspectRatio"`
}

// Create submits a direct video generation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.TaskHandle, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.TaskHandle{}, fmt.Errorf("create: %w: prompt is required", domain.ErrInvalidInput)
	}
	accounts, err := s.accounts.Select(ctx, false, "")
	if err != nil {
		return domain.TaskHandle{}, err
	}
	return failover.Execute(ctx, s.executor, accounts, failover.OpCreateVideo,
		func(ctx context.Context, acct domain.Account) (domain.TaskHandle, error) {
			return s.flow.GenerateVideo(ctx, acct, flow.VideoRequest{
				Prompt:      req.Prompt,
				Image:       req.Image,
				AspectRatio: req.AspectRatio,
			})
		})
}

// FlowMediaRequest is the flow_media_create payload.
type FlowMediaRequest struct {
	Prompt         string              `json:"prompt"`
	NumberOfImages int                 `json:"numberOfImages"`
	InputImages    []domain.InputImage `json:"inputImages"`
	AspectRatio    string              `json:"aspectRatio"`
	Model          string              `json:"model"`
}

// FlowMediaCreate submits N images as one relay call.
func (s *Service) FlowMediaCreate(ctx context.Context, req FlowMediaRequest) ([]domain.TaskHandle, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("flow_media_create: %w: prompt is required", domain.ErrInvalidInput)
	}
	if s.relay == nil {
		return nil, fmt.Errorf("flow_media_create: %w", domain.ErrNotConfigured)
	}
	accounts, err := s.accounts.Select(ctx, false, "")
	if err != nil {
		return nil, err
	}
	return failover.Execute(ctx, s.executor, accounts, failover.OpCreateFlowImage,
		func(ctx context.Context, acct domain.Account) ([]domain.TaskHandle, error) {
			return s.relay.FlowMediaCreate(ctx, acct, relay.FlowImageRequest{
				Prompt:         req.Prompt,
				NumberOfImages: req.NumberOfImages,
				InputImages:    req.InputImages,
				AspectRatio:    req.AspectRatio,
				Model:          req.Model,
			})
		})
}

// UpscaleRequest is the flow_upscale and upscale payload.
type UpscaleRequest struct {
	MediaID    string `json:"mediaId"`
	Resolution string `json:"resolution"`
	ProjectID  string `json:"projectId,omitempty"`
}

// FlowUpscale upscales an image. A projectId pins the call to the accounts
// of that project and fails before any upstream call when none exist.
func (s *Service) FlowUpscale(ctx context.Context, req UpscaleRequest) (domain.TaskHandle, error) {
	return s.upscale(ctx, req, "image", failover.OpUpscaleFlowImage)
}

// Upscale upscales a video.
func (s *Service) Upscale(ctx context.Context, req UpscaleRequest) (domain.TaskHandle, error) {
	return s.upscale(ctx, req, "video", failover.OpUpscaleVideo)
}

func (s *Service) upscale(ctx context.Context, req UpscaleRequest, mediaType, operation string) (domain.TaskHandle, error) {
	if strings.TrimSpace(req.MediaID) == "" {
		return domain.TaskHandle{}, fmt.Errorf("%s: %w: mediaId is required", operation, domain.ErrInvalidInput)
	}
	if s.relay == nil {
		return domain.TaskHandle{}, fmt.Errorf("%s: %w", operation, domain.ErrNotConfigured)
	}
	projectID := strings.TrimSpace(req.ProjectID)
	accounts, err := s.accounts.Select(ctx, false, projectID)
	if err != nil {
		return domain.TaskHandle{}, err
	}
	return failover.Execute(ctx, s.executor, accounts, operation,
		func(ctx context.Context, acct domain.Account) (domain.TaskHandle, error) {
			return s.relay.Upscale(ctx, acct, relay.UpscaleRequest{
				MediaID:    req.MediaID,
				Resolution: req.Resolution,
				ProjectID:  projectID,
				MediaType:  mediaType,
			})
		})
}
