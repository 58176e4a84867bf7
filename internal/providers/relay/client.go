package relay

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediagateway/internal/domain"
	"mediagateway/internal/failover"
	"mediagateway/internal/infra"
	"mediagateway/internal/metrics"
	"mediagateway/internal/providers/flow"
	"mediagateway/internal/upstream"
)

// Relay routes.
const (
	RouteGenerateImage     = "flow.generate_image"
	RouteGenerateVideoRefs = "flow.generate_video_refs"
	RouteUpscaleImage      = "flow.upscale_image"
	RouteUpscaleVideo      = "flow.upscale_video"
)

const (
	tasksPath           = "/v1/tasks"
	defaultImageModel   = "IMAGEN_3_5"
	videoRefsModel      = "veo_3_1_r2v_fast"
	referenceInputType  = "IMAGE_INPUT_TYPE_REFERENCE"
	referenceUsageType  = "IMAGE_USAGE_TYPE_ASSET"
	toolName            = "PINHOLE"
	maxImagesPerRequest = 4
	maxSeed             = 1_000_000
)

var taskIDRules = upstream.Rules{"taskId", "task_id", "data.taskId", "id"}

// Uploader registers reference images with the provider.
type Uploader interface {
	UploadImage(ctx context.Context, acct domain.Account, req flow.UploadRequest) (string, error)
}

// Options configures the relay client.
type Options struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Uploader   Uploader
	Logger     *infra.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
	NewSceneID func() string
	Seed       func() int64
}

// Client submits flow work through the external relay.
type Client struct {
	baseURL    string
	secret     string
	http       *upstream.Client
	uploader   Uploader
	logger     *infra.Logger
	now        func() time.Time
	newSceneID func() string
	seed       func() int64
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		secret:     opts.Secret,
		http:       upstream.NewClient(httpClient, opts.Metrics),
		uploader:   opts.Uploader,
		logger:     opts.Logger,
		now:        opts.Now,
		newSceneID: opts.NewSceneID,
		seed:       opts.Seed,
	}
	if c.logger == nil {
		c.logger = infra.DiscardLogger()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newSceneID == nil {
		c.newSceneID = uuid.NewString
	}
	if c.seed == nil {
		c.seed = func() int64 { return rand.Int64N(maxSeed) }
	}
	return c
}

// Configured reports whether a relay endpoint is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// RefRequest asks for a generation conditioned on reference images.
type RefRequest struct {
	Prompt      string
	References  []string
	AspectRatio string
	MediaType   string
	Model       string
}

// FlowImageRequest asks for N images in a single relay call.
type FlowImageRequest struct {
	Prompt         string
	NumberOfImages int
	InputImages    []domain.InputImage
	AspectRatio    string
	Model          string
}

// UpscaleRequest asks for a higher-resolution rendition of a media item.
type UpscaleRequest struct {
	MediaID    string
	Resolution string
	ProjectID  string
	MediaType  string
}

// IsVideo reports whether a media type names video output.
func IsVideo(mediaType string) bool {
	return strings.EqualFold(strings.TrimSpace(mediaType), "video")
}

// GenerateWithReferences uploads each reference in turn and submits one
// relay generation using every upload that succeeded.
func (c *Client) GenerateWithReferences(ctx context.Context, acct domain.Account, req RefRequest) (domain.TaskHandle, error) {
	if !c.Configured() {
		return domain.TaskHandle{}, fmt.Errorf("relay: %w", domain.ErrNotConfigured)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.TaskHandle{}, fmt.Errorf("generate with references: %w: prompt is required", domain.ErrInvalidInput)
	}
	video := IsVideo(req.MediaType)
	if video && len(req.References) == 0 {
		return domain.TaskHandle{}, fmt.Errorf("generate with references: %w: video needs at least one reference image", domain.ErrInvalidInput)
	}

	mediaIDs, err := c.uploadReferences(ctx, acct, req.References, req.AspectRatio)
	if err != nil {
		return domain.TaskHandle{}, err
	}

	sceneID := c.newSceneID()
	seed := c.seed()
	item := upstream.NewPayload().
		Set("seed", seed).
		Set("metadata.sceneId", sceneID)
	route := RouteGenerateImage
	if video {
		route = RouteGenerateVideoRefs
		item.Set("textInput.prompt", req.Prompt).
			Set("aspectRatio", flow.VideoAspect(req.AspectRatio)).
			Set("videoModelKey", videoRefsModel)
		for _, id := range mediaIDs {
			item.Append("referenceImages", upstream.NewPayload().
				Set("mediaId", id).
				Set("imageUsageType", referenceUsageType))
		}
	} else {
		item.Set("prompt", req.Prompt).
			Set("imageAspectRatio", flow.ImageAspect(req.AspectRatio)).
			Set("imageModelName", firstNonEmpty(req.Model, defaultImageModel))
		for _, id := range mediaIDs {
			item.Append("imageInputs", upstream.NewPayload().
				Set("name", id).
				Set("imageInputType", referenceInputType))
		}
	}
	payload := c.providerPayload(acct.ProjectID).Append("requests", item)

	taskID, err := c.submit(ctx, acct, route, payload)
	if err != nil {
		return domain.TaskHandle{}, err
	}
	return domain.TaskHandle{TaskID: taskID, SceneID: sceneID, ProjectID: acct.ProjectID, AccountID: acct.ID, Seed: seed}, nil
}

func (c *Client) uploadReferences(ctx context.Context, acct domain.Account, refs []string, aspect string) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if c.uploader == nil {
		return nil, fmt.Errorf("reference upload: %w", domain.ErrNotConfigured)
	}
	ids := make([]string, 0, len(refs))
	var lastErr error
	for i, ref := range refs {
		id, err := c.uploader.UploadImage(ctx, acct, flow.UploadRequest{Image: ref, AspectRatio: aspect})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			c.logger.Warn().
				Err(err).
				Str("account_id", acct.ID).
				Int("reference", i).
				Msg("reference upload failed; skipping")
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("all %d reference uploads failed: %w", len(refs), lastErr)
	}
	return ids, nil
}

// FlowMediaCreate submits NumberOfImages request items, each with its own
// seed and scene id, in a single relay call.
func (c *Client) FlowMediaCreate(ctx context.Context, acct domain.Account, req FlowImageRequest) ([]domain.TaskHandle, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("relay: %w", domain.ErrNotConfigured)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("flow media create: %w: prompt is required", domain.ErrInvalidInput)
	}
	n := ClampImageCount(req.NumberOfImages)
	seeds := c.distinctSeeds(n)

	payload := c.providerPayload(acct.ProjectID)
	handles := make([]domain.TaskHandle, n)
	for i := range n {
		sceneID := c.newSceneID()
		item := upstream.NewPayload().
			Set("seed", seeds[i]).
			Set("prompt", req.Prompt).
			Set("imageAspectRatio", flow.ImageAspect(req.AspectRatio)).
			Set("imageModelName", firstNonEmpty(req.Model, defaultImageModel)).
			Set("metadata.sceneId", sceneID)
		for _, in := range req.InputImages {
			if strings.TrimSpace(in.Name) == "" {
				continue
			}
			item.Append("imageInputs", upstream.NewPayload().
				Set("name", in.Name).
				Set("imageInputType", firstNonEmpty(in.Type, referenceInputType)))
		}
		payload.Append("requests", item)
		handles[i] = domain.TaskHandle{SceneID: sceneID, ProjectID: acct.ProjectID, AccountID: acct.ID, Seed: seeds[i]}
	}

	taskID, err := c.submit(ctx, acct, RouteGenerateImage, payload)
	if err != nil {
		return nil, err
	}
	for i := range handles {
		handles[i].TaskID = taskID
	}
	return handles, nil
}

// Upscale requests an upscaled rendition. The explicit project id wins over
// the submitting account's.
func (c *Client) Upscale(ctx context.Context, acct domain.Account, req UpscaleRequest) (domain.TaskHandle, error) {
	if !c.Configured() {
		return domain.TaskHandle{}, fmt.Errorf("relay: %w", domain.ErrNotConfigured)
	}
	if strings.TrimSpace(req.MediaID) == "" {
		return domain.TaskHandle{}, fmt.Errorf("upscale: %w: mediaId is required", domain.ErrInvalidInput)
	}
	projectID := firstNonEmpty(req.ProjectID, acct.ProjectID)
	sceneID := c.newSceneID()

	var (
		route   string
		payload *upstream.Payload
	)
	if IsVideo(req.MediaType) {
		route = RouteUpscaleVideo
		payload = c.providerPayload(projectID).Append("requests", upstream.NewPayload().
			Set("videoInput.mediaId", req.MediaID).
			Set("resolution", VideoResolution(req.Resolution)).
			Set("seed", c.seed()).
			Set("metadata.sceneId", sceneID))
	} else {
		route = RouteUpscaleImage
		payload = c.providerPayload(projectID).
			Set("mediaId", req.MediaID).
			Set("targetResolution", ImageResolution(req.Resolution))
	}

	taskID, err := c.submit(ctx, acct, route, payload)
	if err != nil {
		return domain.TaskHandle{}, err
	}
	return domain.TaskHandle{TaskID: taskID, SceneID: sceneID, ProjectID: projectID, AccountID: acct.ID}, nil
}

// TaskStatus fetches the relay's view of a task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) upstream.Result {
	if !c.Configured() {
		return upstream.Result{Status: http.StatusInternalServerError, Error: &upstream.ErrorInfo{Code: "NOT_CONFIGURED", Message: domain.ErrNotConfigured.Error()}}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tasksPath+"/"+url.PathEscape(taskID), nil)
	if err != nil {
		return upstream.Result{Status: http.StatusInternalServerError, Error: &upstream.ErrorInfo{Code: "REQUEST_BUILD", Message: err.Error()}}
	}
	c.authorize(req)
	return c.http.Do(req)
}

func (c *Client) providerPayload(projectID string) *upstream.Payload {
	return upstream.NewPayload().
		Set("clientContext.sessionId", flow.SessionIDAt(c.now())).
		Set("clientContext.projectId", projectID).
		Set("clientContext.tool", toolName)
}

func (c *Client) submit(ctx context.Context, acct domain.Account, route string, payload *upstream.Payload) (string, error) {
	inner, err := payload.Bytes()
	if err != nil {
		return "", fmt.Errorf("build %s payload: %w", route, err)
	}
	body, err := upstream.NewPayload().
		Set("route", route).
		Set("auth.token", acct.Token).
		Set("auth.cookies", acct.Cookies).
		Set("auth.projectId", acct.ProjectID).
		SetRaw("payload", inner).
		Bytes()
	if err != nil {
		return "", fmt.Errorf("build relay envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tasksPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	res := c.http.Do(req)
	if err := res.Err(); err != nil {
		return "", fmt.Errorf("relay %s: %w", route, err)
	}
	taskID := taskIDRules.String(res.Data)
	if taskID == "" {
		return "", fmt.Errorf("relay %s: %w", route, failover.NewUpstreamError(res.Status, "MISSING_TASK_ID", "no task id in relay response"))
	}
	c.logger.Debug().Str("route", route).Str("task_id", taskID).Str("account_id", acct.ID).Msg("relay task submitted")
	return taskID, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.secret)
}

func (c *Client) distinctSeeds(n int) []int64 {
	seen := make(map[int64]struct{}, n)
	seeds := make([]int64, 0, n)
	for len(seeds) < n {
		s := c.seed()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		seeds = append(seeds, s)
	}
	return seeds
}

// ClampImageCount bounds a requested image count to 1..4.
func ClampImageCount(n int) int {
	switch {
	case n < 1:
		return 1
	case n > maxImagesPerRequest:
		return maxImagesPerRequest
	}
	return n
}

// ImageResolution maps a resolution tier to the image upsample enum.
func ImageResolution(tier string) string {
	if strings.EqualFold(strings.TrimSpace(tier), "4k") {
		return "UPSAMPLE_IMAGE_RESOLUTION_4K"
	}
	return "UPSAMPLE_IMAGE_RESOLUTION_2K"
}

// VideoResolution maps a resolution tier to the video enum.
func VideoResolution(tier string) string {
	if strings.EqualFold(strings.TrimSpace(tier), "4k") {
		return "VIDEO_RESOLUTION_4K"
	}
	return "VIDEO_RESOLUTION_1080P"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
