package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"mediagateway/internal/domain"
	"mediagateway/internal/providers/flow"
)

type relayServer struct {
	mu       sync.Mutex
	bodies   [][]byte
	auth     []string
	status   int
	response string
}

func (s *relayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.mu.Unlock()
	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s.response))
}

type fakeUploader struct {
	fail  map[int]bool
	calls int
}

func (f *fakeUploader) UploadImage(_ context.Context, _ domain.Account, req flow.UploadRequest) (string, error) {
	i := f.calls
	f.calls++
	if f.fail[i] {
		return "", errors.New("upstream status 500: upload broke")
	}
	return fmt.Sprintf("media-%d", i), nil
}

func newTestClient(t *testing.T, srv *relayServer, up Uploader, seeds ...int64) *Client {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	var (
		mu    sync.Mutex
		next  int
		scene int
	)
	return NewClient(Options{
		BaseURL:    ts.URL,
		Secret:     "relay-secret",
		HTTPClient: ts.Client(),
		Uploader:   up,
		Now:        func() time.Time { return time.UnixMilli(1700000000000) },
		NewSceneID: func() string {
			mu.Lock()
			defer mu.Unlock()
			scene++
			return fmt.Sprintf("scene-%d", scene)
		},
		Seed: func() int64 {
			mu.Lock()
			defer mu.Unlock()
			if next < len(seeds) {
				s := seeds[next]
				next++
				return s
			}
			next++
			return int64(1000 + next)
		},
	})
}

var acct = domain.Account{ID: "a1", Token: "tok", Cookies: "sid=1", ProjectID: "proj-1", Active: true}

func TestFlowMediaCreateBuildsDistinctSeeds(t *testing.T) {
	srv := &relayServer{response: `{"taskId":"0b6c8f9e-1111-2222-3333-444455556666"}`}
	// Duplicate seeds from the source must be skipped.
	c := newTestClient(t, srv, nil, 7, 7, 8, 7, 9)

	handles, err := c.FlowMediaCreate(t.Context(), acct, FlowImageRequest{
		Prompt:         "a lamp",
		NumberOfImages: 3,
		InputImages:    []domain.InputImage{{Name: "ref-1"}},
	})
	require.NoError(t, err)
	require.Len(t, handles, 3)

	require.Len(t, srv.bodies, 1, "exactly one relay call")
	body := srv.bodies[0]
	assert.Equal(t, RouteGenerateImage, gjson.GetBytes(body, "route").String())
	assert.Equal(t, "Bearer relay-secret", srv.auth[0])
	assert.Equal(t, "tok", gjson.GetBytes(body, "auth.token").String())

	items := gjson.GetBytes(body, "payload.requests").Array()
	require.Len(t, items, 3)
	seen := map[int64]bool{}
	for i, item := range items {
		seed := item.Get("seed").Int()
		assert.False(t, seen[seed], "seed %d repeated", seed)
		seen[seed] = true
		assert.Equal(t, handles[i].Seed, seed)
		assert.Equal(t, handles[i].SceneID, item.Get("metadata.sceneId").String())
		assert.Equal(t, "ref-1", item.Get("imageInputs.0.name").String())
		assert.Equal(t, "IMAGE_INPUT_TYPE_REFERENCE", item.Get("imageInputs.0.imageInputType").String())
	}
	for _, h := range handles {
		assert.Equal(t, "0b6c8f9e-1111-2222-3333-444455556666", h.TaskID)
	}
}

func TestFlowMediaCreateClampsCount(t *testing.T) {
	srv := &relayServer{response: `{"task_id":"t-1"}`}
	c := newTestClient(t, srv, nil)

	handles, err := c.FlowMediaCreate(t.Context(), acct, FlowImageRequest{Prompt: "x", NumberOfImages: 9})
	require.NoError(t, err)
	assert.Len(t, handles, 4)

	handles, err = c.FlowMediaCreate(t.Context(), acct, FlowImageRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Len(t, handles, 1)
}

func TestGenerateWithReferencesSkipsFailedUploads(t *testing.T) {
	srv := &relayServer{response: `{"data":{"taskId":"t-2"}}`}
	up := &fakeUploader{fail: map[int]bool{1: true}}
	c := newTestClient(t, srv, up)

	handle, err := c.GenerateWithReferences(t.Context(), acct, RefRequest{
		Prompt:     "poster",
		References: []string{"AAA", "BBB", "CCC"},
	})
	require.NoError(t, err)
	assert.Equal(t, "t-2", handle.TaskID)
	assert.Equal(t, 3, up.calls)

	inputs := gjson.GetBytes(srv.bodies[0], "payload.requests.0.imageInputs.#.name").Array()
	require.Len(t, inputs, 2)
	assert.Equal(t, "media-0", inputs[0].String())
	assert.Equal(t, "media-2", inputs[1].String())
}

func TestGenerateWithReferencesAllUploadsFail(t *testing.T) {
	srv := &relayServer{response: `{"taskId":"t"}`}
	up := &fakeUploader{fail: map[int]bool{0: true, 1: true}}
	c := newTestClient(t, srv, up)

	_, err := c.GenerateWithReferences(t.Context(), acct, RefRequest{Prompt: "p", References: []string{"A", "B"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Empty(t, srv.bodies, "relay must not be called")
}

func TestGenerateWithReferencesVideoRoute(t *testing.T) {
	srv := &relayServer{response: `{"taskId":"t-3"}`}
	c := newTestClient(t, srv, &fakeUploader{})

	_, err := c.GenerateWithReferences(t.Context(), acct, RefRequest{Prompt: "walk", References: []string{"A"}, MediaType: "video", AspectRatio: "9:16"})
	require.NoError(t, err)
	body := srv.bodies[0]
	assert.Equal(t, RouteGenerateVideoRefs, gjson.GetBytes(body, "route").String())
	assert.Equal(t, "media-0", gjson.GetBytes(body, "payload.requests.0.referenceImages.0.mediaId").String())
	assert.Equal(t, "VIDEO_ASPECT_RATIO_PORTRAIT", gjson.GetBytes(body, "payload.requests.0.aspectRatio").String())

	_, err = c.GenerateWithReferences(t.Context(), acct, RefRequest{Prompt: "walk", MediaType: "video"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpscaleProjectSelection(t *testing.T) {
	srv := &relayServer{response: `{"id":"t-4"}`}
	c := newTestClient(t, srv, nil)

	handle, err := c.Upscale(t.Context(), acct, UpscaleRequest{MediaID: "m-1", Resolution: "4K", ProjectID: "proj-explicit"})
	require.NoError(t, err)
	assert.Equal(t, "proj-explicit", handle.ProjectID)
	body := srv.bodies[0]
	assert.Equal(t, RouteUpscaleImage, gjson.GetBytes(body, "route").String())
	assert.Equal(t, "UPSAMPLE_IMAGE_RESOLUTION_4K", gjson.GetBytes(body, "payload.targetResolution").String())
	assert.Equal(t, "proj-explicit", gjson.GetBytes(body, "payload.clientContext.projectId").String())

	handle, err = c.Upscale(t.Context(), acct, UpscaleRequest{MediaID: "m-1", MediaType: "video"})
	require.NoError(t, err)
	assert.Equal(t, "proj-1", handle.ProjectID)
	body = srv.bodies[1]
	assert.Equal(t, RouteUpscaleVideo, gjson.GetBytes(body, "route").String())
	assert.Equal(t, "VIDEO_RESOLUTION_1080P", gjson.GetBytes(body, "payload.requests.0.resolution").String())
}

func TestSubmitErrorsAreTyped(t *testing.T) {
	srv := &relayServer{status: http.StatusOK, response: "<html>bad gateway</html>"}
	c := newTestClient(t, srv, nil)

	_, err := c.Upscale(t.Context(), acct, UpscaleRequest{MediaID: "m-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPSTREAM_HTML_ERROR")
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(Options{})
	_, err := c.Upscale(t.Context(), acct, UpscaleRequest{MediaID: "m"})
	require.ErrorIs(t, err, domain.ErrNotConfigured)
	assert.False(t, c.TaskStatus(t.Context(), "x").OK)
}

func TestTaskStatus(t *testing.T) {
	srv := &relayServer{response: `{"status":"running"}`}
	c := newTestClient(t, srv, nil)
	res := c.TaskStatus(t.Context(), "t-9")
	require.True(t, res.OK)
	assert.Equal(t, "running", res.Get("status").String())
	assert.Equal(t, "Bearer relay-secret", srv.auth[0])
}
