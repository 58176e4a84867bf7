package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"

	"mediagateway/internal/gateway"
)

// Gateway actions.
const (
	ActionGeminiProxy     = "gemini_proxy"
	ActionAuth            = "auth"
	ActionUpload          = "upload"
	ActionCreate          = "create"
	ActionFlowCreate      = "flow_create"
	ActionFlowMediaCreate = "flow_media_create"
	ActionFlowUpscale     = "flow_upscale"
	ActionUpscale         = "upscale"
	ActionFlowCheck       = "flow_check"
	ActionCheck           = "check"
)

// maxGatewayBody bounds request bodies; uploads carry base64 images.
const maxGatewayBody = 32 << 20

const gatewayPrefix = "/api/gateway"

var knownActions = map[string]struct{}{
	ActionGeminiProxy: {}, ActionAuth: {}, ActionUpload: {}, ActionCreate: {},
	ActionFlowCreate: {}, ActionFlowMediaCreate: {}, ActionFlowUpscale: {},
	ActionUpscale: {}, ActionFlowCheck: {}, ActionCheck: {},
}

// legacyRoutes maps path fragments of older clients to actions. Order
// matters: more specific fragments come first.
var legacyRoutes = []struct {
	fragment string
	action   string
}{
	{"gemini", ActionGeminiProxy},
	{"auth", ActionAuth},
	{"upload", ActionUpload},
	{"flow-upscale", ActionFlowUpscale},
	{"flow_upscale", ActionFlowUpscale},
	{"flow-check", ActionFlowCheck},
	{"flow_check", ActionFlowCheck},
	{"flow-media", ActionFlowMediaCreate},
	{"flow_media", ActionFlowMediaCreate},
	{"flow", ActionFlowCreate},
	{"upscale", ActionUpscale},
	{"check", ActionCheck},
	{"status", ActionCheck},
	{"create", ActionCreate},
	{"generate", ActionCreate},
}

// ResolveAction picks the action from the body field, falling back to the
// request path. It returns "" when neither names a known action.
func ResolveAction(action, path string) string {
	a := cases.Fold().String(strings.TrimSpace(action))
	a = strings.ReplaceAll(a, "-", "_")
	if _, ok := knownActions[a]; ok {
		return a
	}
	p := cases.Fold().String(path)
	if i := strings.Index(p, gatewayPrefix); i >= 0 {
		p = p[i+len(gatewayPrefix):]
	}
	for _, route := range legacyRoutes {
		if strings.Contains(p, route.fragment) {
			return route.action
		}
	}
	return ""
}

// Gateway dispatches POST /api/gateway and its legacy sub-paths.
func (a *App) Gateway(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxGatewayBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	if !gjson.ValidBytes(body) {
		a.error(w, http.StatusBadRequest, errMalformedBody.Error())
		return
	}

	action := ResolveAction(gjson.GetBytes(body, "action").String(), r.URL.Path)
	if action == "" {
		a.liveness(w)
		return
	}
	a.instrument(action, w, func(w http.ResponseWriter) {
		result, err := a.dispatch(r.Context(), action, body)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				a.logger.Error().Err(err).Str("action", action).Msg("gateway action failed")
			}
			a.error(w, status, err.Error())
			return
		}
		if raw, ok := result.(json.RawMessage); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(raw)
			return
		}
		a.json(w, http.StatusOK, result)
	})
}

func (a *App) dispatch(ctx context.Context, action string, body []byte) (any, error) {
	switch action {
	case ActionGeminiProxy:
		req, err := decode[gateway.GeminiRequest](body)
		if err != nil {
			return nil, err
		}
		return a.gateway.GeminiProxy(ctx, req)
	case ActionAuth:
		req, err := decode[gateway.AuthRequest](body)
		if err != nil {
			return nil, err
		}
		return a.gateway.RefreshAuth(ctx, req)
	case ActionUpload:
		req, err := decode[gateway.UploadRequest](body)
		if err != nil {
			return nil, err
		}
		return a.gateway.Upload(ctx, req)
	case ActionCreate:
		req, err := decode[gateway.CreateRequest](body)
		if err != nil {
			return nil, err
		}
		return a.gateway.Create(ctx, req)
	case ActionFlowCreate:
		req, err := decode[gateway.FlowCreateRequest](body)
		if err != nil {
			return nil, err
		}
		return a.gateway.FlowCreate(ctx, req)
	case ActionFlowMediaCreate:
		req, err := decode[gateway.FlowMediaRequest](body)
		if err != nil {
			return nil, err
		}
		handles, err := a.gateway.FlowMediaCreate(ctx, req)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tasks": handles}, nil
	case ActionFlowUpscale, ActionUpscale:
		req, err := decode[gateway.UpscaleRequest](body)
		if err != nil {
			return nil, err
		}
		if action == ActionFlowUpscale {
			return a.gateway.FlowUpscale(ctx, req)
		}
		return a.gateway.Upscale(ctx, req)
	case ActionFlowCheck, ActionCheck:
		req, err := decode[gateway.CheckRequest](body)
		if err != nil {
			return nil, err
		}
		if len(req.TaskIDs) > 0 {
			items, err := a.gateway.CheckBatch(ctx, req)
			if err != nil {
				return nil, err
			}
			return map[string]any{"results": items}, nil
		}
		return a.gateway.Check(ctx, req)
	}
	return nil, fmt.Errorf("unsupported action %q", action)
}

func decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return v, fmt.Errorf("%w: field %s must be %s", errMalformedBody, typeErr.Field, typeErr.Type)
		}
		return v, fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return v, nil
}
