package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagateway/internal/accounts"
	"mediagateway/internal/domain"
	"mediagateway/internal/failover"
	"mediagateway/internal/providers/flow"
	"mediagateway/internal/providers/relay"
	"mediagateway/internal/tasks"
)

type memoryRepo struct {
	mu       sync.Mutex
	accounts []domain.Account
	usage    map[string]int
	tokens   map[string]string
}

func newMemoryRepo(accts ...domain.Account) *memoryRepo {
	return &memoryRepo{accounts: accts, usage: map[string]int{}, tokens: map[string]string{}}
}

func (m *memoryRepo) ListActive(context.Context) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Account, len(m.accounts))
	copy(out, m.accounts)
	return out, nil
}

func (m *memoryRepo) ResetQuota(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.accounts {
		m.accounts[i].UsageCount = 0
	}
	return nil
}

func (m *memoryRepo) SetUsage(_ context.Context, id string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[id] = count
	for i := range m.accounts {
		if m.accounts[i].ID == id {
			m.accounts[i].UsageCount = count
		}
	}
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

func (m *memoryRepo) UpdateToken(_ context.Context, id, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[id] = token
	return nil
}

type fakeFlow struct {
	mu       sync.Mutex
	calls    []string
	failWith map[string]error
}

func (f *fakeFlow) record(acct domain.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, acct.ID)
	return f.failWith[acct.ID]
}

func (f *fakeFlow) UploadImage(_ context.Context, acct domain.Account, _ flow.UploadRequest) (string, error) {
	if err := f.record(acct); err != nil {
		return "", err
	}
	return "media-" + acct.ID, nil
}

func (f *fakeFlow) GenerateVideo(_ context.Context, acct domain.Account, _ flow.VideoRequest) (domain.TaskHandle, error) {
	if err := f.record(acct); err != nil {
		return domain.TaskHandle{}, err
	}
	return domain.TaskHandle{TaskID: "ops/" + acct.ID, SceneID: "scene-1", ProjectID: acct.ProjectID, AccountID: acct.ID}, nil
}

func (f *fakeFlow) RefreshSession(_ context.Context, acct domain.Account) (string, time.Time, error) {
	if err := f.record(acct); err != nil {
		return "", time.Time{}, err
	}
	return "fresh-" + acct.ID, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

type fakeRelay struct {
	mu        sync.Mutex
	calls     int
	refCalls  int
	upscales  []relay.UpscaleRequest
	failFirst int
}

func (f *fakeRelay) GenerateWithReferences(_ context.Context, acct domain.Account, _ relay.RefRequest) (domain.TaskHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refCalls++
	if f.refCalls <= f.failFirst {
		return domain.TaskHandle{}, errors.New("prompt blocked")
	}
	return domain.TaskHandle{TaskID: fmt.Sprintf("relay-%d", f.refCalls), ProjectID: acct.ProjectID}, nil
}

func (f *fakeRelay) FlowMediaCreate(_ context.Context, acct domain.Account, req relay.FlowImageRequest) ([]domain.TaskHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]domain.TaskHandle, relay.ClampImageCount(req.NumberOfImages))
	for i := range out {
		out[i] = domain.TaskHandle{TaskID: "t", ProjectID: acct.ProjectID}
	}
	return out, nil
}

func (f *fakeRelay) Upscale(_ context.Context, acct domain.Account, req relay.UpscaleRequest) (domain.TaskHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.upscales = append(f.upscales, req)
	return domain.TaskHandle{TaskID: "up-1", ProjectID: acct.ProjectID, AccountID: acct.ID}, nil
}

type fakeResolver struct {
	mu   sync.Mutex
	reqs []tasks.CheckRequest
}

func (f *fakeResolver) Check(_ context.Context, req tasks.CheckRequest) (domain.GenerationStatus, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if req.TaskID == "broken" {
		return domain.GenerationStatus{}, errors.New("relay unavailable")
	}
	return domain.GenerationStatus{Status: domain.StatusProcessing, TaskID: req.TaskID}, nil
}

func acct(id, project string, used int) domain.Account {
	return domain.Account{ID: id, Token: "tok-" + id, ProjectID: project, UsageCount: used, UsageLimit: 50, Active: true}
}

type harness struct {
	repo     *memoryRepo
	flow     *fakeFlow
	relay    *fakeRelay
	resolver *fakeResolver
	executor *failover.Executor
	svc      *Service
}

func newHarness(accts ...domain.Account) *harness {
	h := &harness{
		repo:     newMemoryRepo(accts...),
		flow:     &fakeFlow{failWith: map[string]error{}},
		relay:    &fakeRelay{},
		resolver: &fakeResolver{},
	}
	h.executor = failover.New(failover.Options{Usage: h.repo})
	h.svc = NewService(Options{
		Accounts: accounts.NewSelector(h.repo, accounts.SelectorOptions{Shuffle: func(int, func(i, j int)) {}}),
		Store:    h.repo,
		Executor: h.executor,
		Flow:     h.flow,
		Relay:    h.relay,
		Resolver: h.resolver,
	})
	return h
}

func TestCreateUsesOnlyAccountWithQuota(t *testing.T) {
	h := newHarness(acct("a1", "p1", 50), acct("a2", "p2", 50), acct("a3", "p3", 3))

	handle, err := h.svc.Create(t.Context(), CreateRequest{Prompt: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, "ops/a3", handle.TaskID)
	assert.Equal(t, []string{"a3"}, h.flow.calls)

	h.executor.Wait()
	assert.Equal(t, map[string]int{"a3": 4}, h.repo.usage)
}

func TestCreateFailsOverOnRateLimit(t *testing.T) {
	h := newHarness(acct("a1", "p1", 0), acct("a2", "p2", 0))
	h.flow.failWith["a1"] = failover.NewUpstreamError(429, "RESOURCE_EXHAUSTED", "quota")

	handle, err := h.svc.Create(t.Context(), CreateRequest{Prompt: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, "ops/a2", handle.TaskID)
	assert.Equal(t, []string{"a1", "a2"}, h.flow.calls)
	h.executor.Wait()
}

func TestCreateRequiresPrompt(t *testing.T) {
	h := newHarness(acct("a1", "p1", 0))
	_, err := h.svc.Create(t.Context(), CreateRequest{})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, h.flow.calls)
}

func TestUploadReturnsProject(t *testing.T) {
	h := newHarness(acct("a1", "p1", 0))
	res, err := h.svc.Upload(t.Context(), UploadRequest{Image: "AAAA"})
	require.NoError(t, err)
	assert.Equal(t, UploadResult{MediaID: "media-a1", ProjectID: "p1"}, res)
	h.executor.Wait()
	assert.Empty(t, h.repo.usage, "upload does not consume quota")
}

func TestFlowUpscaleUnknownProject(t *testing.T) {
	h := newHarness(acct("a1", "p1", 0))
	_, err := h.svc.FlowUpscale(t.Context(), UpscaleRequest{MediaID: "m-1", ProjectID: "ghost"})
	require.Error(t, err)
	assert.True(t, domain.IsAccountNotFound(err))
	assert.Contains(t, err.Error(), "ghost")
	assert.Zero(t, h.relay.calls)
}

func TestFlowUpscalePinsProject(t *testing.T) {
	h := newHarness(acct("a1", "p1", 0), acct("a2", "p2", 50))
	handle, err := h.svc.FlowUpscale(t.Context(), UpscaleRequest{MediaID: "m-1", Resolution: "4K", ProjectID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, "a2", handle.AccountID, "project filter ignores quota")
	require.Len(t, h.relay.upscales, 1)
	assert.Equal(t, "image", h.relay.upscales[0].MediaType)
	assert.Equal(t, "p2", h.relay.upscales[0].ProjectID)
	h.executor.Wait()
}

func TestUpscaleVideo(t *testing.T) {
	h := newHarness(acct("a1", "p1", 0))
	_, err := h.svc.Upscale(t.Context(), UpscaleRequest{MediaID: "m-1"})
	require.NoError(t, err)
	assert.Equal(t, "video", h.relay.upscales[0].MediaType)
	h.executor.Wait()
	assert.Equal(t, 1, h.repo.usage["a1"])
}

func TestFlowCreatePartialSuccess(t *testing.T) {
	h := newHarness(acct("a1", "p1", 0), acct("a2", "p2", 0))
	h.relay.failFirst = 1
	h.svc.concurrency = 1

	res, err := h.svc.FlowCreate(t.Context(), FlowCreateRequest{Prompt: "poster", NumberOfImages: 3})
	require.NoError(t, err)
	assert.Len(t, res.Tasks, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 0, res.Failures[0].Index)
	assert.Equal(t, "prompt blocked", res.Failures[0].Message)
	h.executor.Wait()
}

func TestFlowCreateAllFail(t *testing.T) {
	h := newHarness(acct("a1", "p1", 0))
	h.relay.failFirst = 10

	_, err := h.svc.FlowCreate(t.Context(), FlowCreateRequest{Prompt: "poster", NumberOfImages: 2})
	require.Error(t, err)
	assert.Equal(t, "prompt blocked", err.Error())
	h.executor.Wait()
}

func TestFlowMediaCreate(t *testing.T) {
	h := newHarness(acct("a1", "p1", 0))
	handles, err := h.svc.FlowMediaCreate(t.Context(), FlowMediaRequest{Prompt: "lamp", NumberOfImages: 3})
	require.NoError(t, err)
	assert.Len(t, handles, 3)
	assert.Equal(t, 1, h.relay.calls)
	h.executor.Wait()
}

func TestCheckBatch(t *testing.T) {
	h := newHarness(acct("a1", "p1", 0))
	items, err := h.svc.CheckBatch(t.Context(), CheckRequest{TaskIDs: []string{"ops/1", " ", "broken"}, ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ops/1", items[0].TaskID)
	require.NotNil(t, items[0].Result)
	assert.Equal(t, domain.StatusProcessing, items[0].Result.Status)
	assert.Equal(t, "relay unavailable", items[1].Error)
	assert.Nil(t, items[1].Result)
}

func TestRefreshAuth(t *testing.T) {
	h := newHarness(acct("a1", "p1", 0))
	res, err := h.svc.RefreshAuth(t.Context(), AuthRequest{AccountID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "a1", res.AccountID)
	assert.Equal(t, "fresh-a1", h.repo.tokens["a1"])

	_, err = h.svc.RefreshAuth(t.Context(), AuthRequest{AccountID: "missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGeminiProxyNotConfigured(t *testing.T) {
	h := newHarness()
	_, err := h.svc.GeminiProxy(t.Context(), GeminiRequest{Payload: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, domain.ErrNotConfigured)
}

func TestRotate(t *testing.T) {
	accts := []domain.Account{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := rotate(accts, 4)
	assert.Equal(t, []string{"b", "c", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Nil(t, rotate(nil, 1))
}
