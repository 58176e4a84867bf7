package flow

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediagateway/internal/domain"
	"mediagateway/internal/failover"
	"mediagateway/internal/infra"
	"mediagateway/internal/metrics"
	"mediagateway/internal/upstream"
)

const (
	uploadPath       = ":uploadUserImage"
	textToVideoPath  = "/video:batchAsyncGenerateVideoText"
	startImagePath   = "/video:batchAsyncGenerateVideoStartImage"
	checkStatusPath  = "/video:batchCheckAsyncVideoGenerationStatus"
	defaultBaseURL   = "https://aisandbox-pa.googleapis.com/v1"
	defaultSession   = "https://labs.google/fx/api/auth/session"
	defaultMIMEType  = "image/jpeg"
	videoToolName    = "PINHOLE"
	uploadToolName   = "ASSET_MANAGER"
	paygateTier      = "PAYGATE_TIER_ONE"
	maxSeed          = 1_000_000
	errCodeForbidden = "ACCESS_DENIED"
)

var (
	mediaIDRules       = upstream.Rules{"mediaGenerationId.mediaGenerationId", "mediaGenerationId", "imageOutput.image.id"}
	operationNameRules = upstream.Rules{"operations.0.operation.name", "operations.0.name", "name"}
	statusRules        = upstream.Rules{"operations.0.status", "operations.0.operation.metadata.status"}
	mediaURLRules      = upstream.Rules{
		"operations.0.operation.metadata.video.fifeUrl",
		"operations.0.operation.metadata.video.servingBaseUri",
		"operations.0.operation.metadata.image.fifeUrl",
	}
	statusMediaIDRules = upstream.Rules{
		"operations.0.mediaGenerationId",
		"operations.0.operation.metadata.video.mediaGenerationId",
		"operations.0.operation.metadata.image.mediaGenerationId",
	}
	failureMessageRules = upstream.Rules{"operations.0.operation.error.message", "operations.0.error.message"}
	accessTokenRules    = upstream.Rules{"access_token", "accessToken"}
	expiresRules        = upstream.Rules{"expires", "expires_at"}
)

// Options configures the direct provider client.
type Options struct {
	BaseURL    string
	SessionURL string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *infra.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
	NewSceneID func() string
	Seed       func() int64
}

// Client builds and sends requests to the provider API on behalf of one
// pooled account at a time.
type Client struct {
	baseURL    string
	sessionURL string
	http       *upstream.Client
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
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	sessionURL := opts.SessionURL
	if sessionURL == "" {
		sessionURL = defaultSession
	}
	c := &Client{
		baseURL:    baseURL,
		sessionURL: sessionURL,
		http:       upstream.NewClient(httpClient, opts.Metrics),
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

// UploadRequest carries one image to register with the provider.
type UploadRequest struct {
	Image       string
	AspectRatio string
}

// VideoRequest describes a text or start-image video generation.
type VideoRequest struct {
	Prompt      string
	Image       string
	AspectRatio string
}

// SessionID returns the client-context session id for the current time.
func (c *Client) SessionID() string {
	return SessionIDAt(c.now())
}

// SessionIDAt formats the client-context session id for t.
func SessionIDAt(t time.Time) string {
	return ";" + strconv.FormatInt(t.UnixMilli(), 10)
}

// UploadImage registers an image and returns its media id.
func (c *Client) UploadImage(ctx context.Context, acct domain.Account, req UploadRequest) (string, error) {
	mimeType, data := SplitDataURL(req.Image)
	if data == "" {
		return "", fmt.Errorf("upload image: %w: empty image", domain.ErrInvalidInput)
	}
	aspect := "IMAGE_ASPECT_RATIO_LANDSCAPE"
	if strings.TrimSpace(req.AspectRatio) != "" {
		aspect = ImageAspect(req.AspectRatio)
	}
	body, err := upstream.NewPayload().
		Set("imageInput.rawImageBytes", data).
		Set("imageInput.mimeType", mimeType).
		Set("imageInput.isUserUploaded", true).
		Set("imageInput.aspectRatio", aspect).
		Set("clientContext.sessionId", c.SessionID()).
		Set("clientContext.tool", uploadToolName).
		Bytes()
	if err != nil {
		return "", fmt.Errorf("build upload payload: %w", err)
	}
	res := c.post(ctx, acct, uploadPath, body)
	if err := res.Err(); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	mediaID := mediaIDRules.String(res.Data)
	if mediaID == "" {
		return "", fmt.Errorf("upload image: %w", failover.NewUpstreamError(res.Status, "MISSING_MEDIA_ID", "no media id in upload response"))
	}
	return mediaID, nil
}

// GenerateVideo submits a video generation and returns its operation handle.
func (c *Client) GenerateVideo(ctx context.Context, acct domain.Account, req VideoRequest) (domain.TaskHandle, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.TaskHandle{}, fmt.Errorf("generate video: %w: prompt is required", domain.ErrInvalidInput)
	}
	hasImage := strings.TrimSpace(req.Image) != ""
	var startMediaID string
	if hasImage {
		id, err := c.UploadImage(ctx, acct, UploadRequest{Image: req.Image, AspectRatio: req.AspectRatio})
		if err != nil {
			return domain.TaskHandle{}, err
		}
		startMediaID = id
	}

	sceneID := c.newSceneID()
	item := upstream.NewPayload().
		Set("aspectRatio", VideoAspect(req.AspectRatio)).
		Set("seed", c.seed()).
		Set("textInput.prompt", req.Prompt).
		Set("videoModelKey", VideoModelKey(hasImage, req.AspectRatio)).
		Set("metadata.sceneId", sceneID)
	path := textToVideoPath
	if hasImage {
		item.Set("startImage.mediaId", startMediaID)
		path = startImagePath
	}
	body, err := upstream.NewPayload().
		Set("clientContext.sessionId", c.SessionID()).
		Set("clientContext.projectId", acct.ProjectID).
		Set("clientContext.tool", videoToolName).
		Set("clientContext.userPaygateTier", paygateTier).
		Append("requests", item).
		Bytes()
	if err != nil {
		return domain.TaskHandle{}, fmt.Errorf("build video payload: %w", err)
	}

	res := c.post(ctx, acct, path, body)
	if err := res.Err(); err != nil {
		return domain.TaskHandle{}, fmt.Errorf("generate video: %w", err)
	}
	name := operationNameRules.String(res.Data)
	if name == "" {
		return domain.TaskHandle{}, fmt.Errorf("generate video: %w", failover.NewUpstreamError(res.Status, "MISSING_OPERATION", "no operation name in response"))
	}
	return domain.TaskHandle{
		TaskID:    name,
		SceneID:   sceneID,
		ProjectID: acct.ProjectID,
		AccountID: acct.ID,
	}, nil
}

// CheckStatus polls one provider operation.
func (c *Client) CheckStatus(ctx context.Context, acct domain.Account, operationName, sceneID string) (domain.GenerationStatus, error) {
	if operationName == "" {
		return domain.GenerationStatus{}, fmt.Errorf("check status: %w: operation name is required", domain.ErrInvalidInput)
	}
	op := upstream.NewPayload().
		Set("operation.name", operationName).
		Set("status", "MEDIA_GENERATION_STATUS_ACTIVE")
	if sceneID != "" {
		op.Set("sceneId", sceneID)
	}
	body, err := upstream.NewPayload().Append("operations", op).Bytes()
	if err != nil {
		return domain.GenerationStatus{}, fmt.Errorf("build status payload: %w", err)
	}

	res := c.post(ctx, acct, checkStatusPath, body)
	if res.Status == http.StatusForbidden || res.Status == http.StatusNotFound {
		// The operation belongs to another account; the 403 marker lets failover move on.
		return domain.GenerationStatus{}, failover.NewUpstreamError(res.Status, errCodeForbidden,
			fmt.Sprintf("operation not visible to account %s (403/404)", acct.ID))
	}
	if err := res.Err(); err != nil {
		return domain.GenerationStatus{}, fmt.Errorf("check status: %w", err)
	}
	return ParseStatus(res.Data, operationName, sceneID), nil
}

// ParseStatus maps a batch status response to a GenerationStatus.
func ParseStatus(data []byte, operationName, sceneID string) domain.GenerationStatus {
	status := domain.GenerationStatus{
		Status:  MapStatus(statusRules.String(data)),
		TaskID:  operationName,
		SceneID: sceneID,
	}
	switch status.Status {
	case domain.StatusCompleted:
		status.MediaURL = mediaURLRules.String(data)
		status.MediaID = statusMediaIDRules.String(data)
	case domain.StatusFailed:
		status.Message = failureMessageRules.String(data)
		if status.Message == "" {
			status.Message = upstream.Rules{"operations.0"}.Find(data).Raw
		}
	}
	return status
}

// RefreshSession exchanges the account cookies for a fresh bearer token.
func (c *Client) RefreshSession(ctx context.Context, acct domain.Account) (string, time.Time, error) {
	if strings.TrimSpace(acct.Cookies) == "" {
		return "", time.Time{}, fmt.Errorf("refresh session: %w: account %s has no cookies", domain.ErrInvalidInput, acct.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sessionURL, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create session request: %w", err)
	}
	req.Header.Set("Cookie", acct.Cookies)
	req.Header.Set("Accept", "application/json")

	res := c.http.Do(req)
	if err := res.Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("refresh session: %w", err)
	}
	token := accessTokenRules.String(res.Data)
	if token == "" {
		return "", time.Time{}, fmt.Errorf("refresh session: %w", failover.NewUpstreamError(res.Status, "MISSING_TOKEN", "no access token in session response"))
	}
	expires, err := time.Parse(time.RFC3339, expiresRules.String(res.Data))
	if err != nil {
		expires = c.now().Add(time.Hour)
	}
	return token, expires, nil
}

func (c *Client) post(ctx context.Context, acct domain.Account, path string, body []byte) upstream.Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return upstream.Result{Status: http.StatusInternalServerError, Error: &upstream.ErrorInfo{Code: "REQUEST_BUILD", Message: err.Error()}}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+acct.Token)
	if acct.Cookies != "" {
		req.Header.Set("Cookie", acct.Cookies)
	}
	res := c.http.Do(req)
	if !res.OK {
		c.logger.Debug().
			Str("account_id", acct.ID).
			Str("path", path).
			Int("status", res.Status).
			Msg("provider call failed")
	}
	return res
}

// SplitDataURL returns the MIME type and base64 payload of a data URL or a
// bare base64 string.
func SplitDataURL(image string) (string, string) {
	image = strings.TrimSpace(image)
	if !strings.HasPrefix(image, "data:") {
		return defaultMIMEType, image
	}
	header, data, ok := strings.Cut(image, ",")
	if !ok {
		return defaultMIMEType, ""
	}
	mimeType := strings.TrimPrefix(header, "data:")
	mimeType, _, _ = strings.Cut(mimeType, ";")
	if mimeType == "" {
		mimeType = defaultMIMEType
	}
	return mimeType, data
}

