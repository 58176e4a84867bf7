package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"mediagateway/internal/domain"
	"mediagateway/internal/gateway"
	"mediagateway/internal/infra"
	"mediagateway/internal/metrics"
	"mediagateway/internal/payments"
)

// Gateway is the action surface the HTTP layer dispatches to.
type Gateway interface {
	GeminiProxy(ctx context.Context, req gateway.GeminiRequest) (json.RawMessage, error)
	RefreshAuth(ctx context.Context, req gateway.AuthRequest) (gateway.AuthResult, error)
	Upload(ctx context.Context, req gateway.UploadRequest) (gateway.UploadResult, error)
	Create(ctx context.Context, req gateway.CreateRequest) (domain.TaskHandle, error)
	FlowCreate(ctx context.Context, req gateway.FlowCreateRequest) (gateway.FlowCreateResult, error)
	FlowMediaCreate(ctx context.Context, req gateway.FlowMediaRequest) ([]domain.TaskHandle, error)
	FlowUpscale(ctx context.Context, req gateway.UpscaleRequest) (domain.TaskHandle, error)
	Upscale(ctx context.Context, req gateway.UpscaleRequest) (domain.TaskHandle, error)
	Check(ctx context.Context, req gateway.CheckRequest) (domain.GenerationStatus, error)
	CheckBatch(ctx context.Context, req gateway.CheckRequest) ([]gateway.BatchItem, error)
}

// PaymentConfirmer records confirmed top-ups.
type PaymentConfirmer interface {
	Confirm(ctx context.Context, n payments.Notification) error
}

// Options wires an App.
type Options struct {
	Gateway              Gateway
	Payments             PaymentConfirmer
	Metrics              *metrics.Metrics
	Logger               *infra.Logger
	HTTPClient           *http.Client
	DownloadAllowedHosts []string
	Now                  func() time.Time
}

type App struct {
	gateway      Gateway
	payments     PaymentConfirmer
	metrics      *metrics.Metrics
	logger       *infra.Logger
	httpClient   *http.Client
	allowedHosts []string
	now          func() time.Time
}

func NewApp(opts Options) *App {
	a := &App{
		gateway:      opts.Gateway,
		payments:     opts.Payments,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		allowedHosts: opts.DownloadAllowedHosts,
		now:          opts.Now,
	}
	if a.logger == nil {
		a.logger = infra.DiscardLogger()
	}
	a.httpClient = a.downloadClient(opts.HTTPClient)
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]any{"error": true, "message": message})
}

// errMalformedBody marks request bodies that are not valid JSON for the action.
var errMalformedBody = errors.New("malformed JSON body")

// statusFor maps an action error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errMalformedBody),
		errors.Is(err, domain.ErrInvalidInput),
		domain.IsAccountNotFound(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
