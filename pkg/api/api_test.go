package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coscribe/coscribe/pkg/auth"
	"github.com/coscribe/coscribe/pkg/bus"
	"github.com/coscribe/coscribe/pkg/cache"
	"github.com/coscribe/coscribe/pkg/config"
	"github.com/coscribe/coscribe/pkg/content"
	"github.com/coscribe/coscribe/pkg/docs"
	"github.com/coscribe/coscribe/pkg/events"
	"github.com/coscribe/coscribe/pkg/gateway"
	"github.com/coscribe/coscribe/pkg/presence"
	"github.com/coscribe/coscribe/pkg/queue"
	"github.com/coscribe/coscribe/pkg/ratelimit"
	"github.com/coscribe/coscribe/pkg/types"
)

// fakeGateway answers CanEdit from a configurable error and records
// nothing else; the intake path never calls the other methods.
type fakeGateway struct {
	mu         sync.Mutex
	canEditErr error
}

func (f *fakeGateway) GetDocument(ctx context.Context, documentID, principalID string) (*docs.Document, error) {
	return &docs.Document{ID: documentID}, nil
}

func (f *fakeGateway) UpdateDocument(ctx context.Context, documentID, principalID string, title, body *string) (*docs.Document, error) {
	return &docs.Document{ID: documentID}, nil
}

func (f *fakeGateway) AppendEditHistory(ctx context.Context, entry *docs.HistoryEntry) error {
	return nil
}

func (f *fakeGateway) CanEdit(ctx context.Context, principalID, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canEditErr
}

func (f *fakeGateway) setCanEditErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canEditErr = err
}

type apiFixture struct {
	server   *httptest.Server
	verifier *auth.Verifier
	gateway  *fakeGateway
	cache    *content.Cache
	queue    *queue.Queue
}

func newAPIFixture(t *testing.T) *apiFixture {
	mr := miniredis.RunT(t)
	store, err := cache.New(cache.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	verifier := auth.NewVerifier("test-secret")
	registry := presence.New(store, 5*time.Minute)
	limiter := ratelimit.New(store, config.Default().RateLimit)
	hub := gateway.New(verifier, registry, bus.New(store), limiter, broker, gateway.Config{
		StaleSweepInterval: time.Hour,
		LimiterGCInterval:  time.Hour,
	})

	fake := &fakeGateway{}
	contentCache := content.New(store, time.Hour)
	q := queue.New(store, 3, time.Second)
	srv := NewServer(verifier, fake, contentCache, q, hub)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &apiFixture{server: ts, verifier: verifier, gateway: fake, cache: contentCache, queue: q}
}

func (fx *apiFixture) request(t *testing.T, method, path string, body any, principal *types.Principal) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, fx.server.URL+path, &buf)
	require.NoError(t, err)
	if principal != nil {
		token, err := fx.verifier.Sign(principal)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := fx.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestIntakeRequiresAuth(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.request(t, http.MethodPost, "/documents/doc-1", map[string]string{"body": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntakeQueuesJob(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.request(t, http.MethodPost, "/documents/doc-1",
		map[string]string{"body": "fresh content"}, &types.Principal{ID: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out updateResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, "queued", out.Status)
	require.NotNil(t, out.JobID)
	assert.NotEmpty(t, *out.JobID)

	stats, err := fx.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Pending)
}

func TestIntakeSkipsUnchangedContent(t *testing.T) {
	fx := newAPIFixture(t)
	require.NoError(t, fx.cache.Put(context.Background(), "doc-1", "same content", "Title"))

	resp := fx.request(t, http.MethodPost, "/documents/doc-1",
		map[string]string{"body": "same content"}, &types.Principal{ID: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out updateResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, "skipped", out.Status)
	assert.Equal(t, "no_changes", out.Reason)
	assert.Nil(t, out.JobID)

	stats, err := fx.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Pending)
}

func TestIntakeMapsAuthorizationErrors(t *testing.T) {
	fx := newAPIFixture(t)
	body := map[string]string{"body": "x"}
	principal := &types.Principal{ID: "alice"}

	fx.gateway.setCanEditErr(docs.ErrPermissionDenied)
	resp := fx.request(t, http.MethodPost, "/documents/doc-1", body, principal)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	fx.gateway.setCanEditErr(docs.ErrNotFound)
	resp = fx.request(t, http.MethodPost, "/documents/doc-1", body, principal)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	fx.gateway.setCanEditErr(docs.ErrTransient)
	resp = fx.request(t, http.MethodPost, "/documents/doc-1", body, principal)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestIntakeRejectsEmptyUpdate(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.request(t, http.MethodPost, "/documents/doc-1",
		map[string]string{}, &types.Principal{ID: "alice"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueueAdminEndpoints(t *testing.T) {
	fx := newAPIFixture(t)
	ctx := context.Background()
	principal := &types.Principal{ID: "admin"}

	// Seed one pending job and one dead-lettered job.
	body := "content"
	_, err := fx.queue.Enqueue(ctx, types.JobTypeDocumentUpdate, &types.DocumentUpdate{DocumentID: "doc-1", Body: &body})
	require.NoError(t, err)
	_, err = fx.queue.Enqueue(ctx, types.JobTypeDocumentUpdate, &types.DocumentUpdate{DocumentID: "doc-2", Body: &body})
	require.NoError(t, err)
	job, err := fx.queue.DequeueOne(ctx)
	require.NoError(t, err)
	_, err = fx.queue.Fail(ctx, job, errors.New("boom"), false)
	require.NoError(t, err)

	resp := fx.request(t, http.MethodGet, "/queue/stats", nil, principal)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats queue.Stats
	decodeBody(t, resp, &stats)
	assert.EqualValues(t, 1, stats.Pending)
	assert.EqualValues(t, 1, stats.Failed)

	resp = fx.request(t, http.MethodGet, "/queue/failed", nil, principal)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var failed struct {
		Jobs []*types.Job `json:"jobs"`
	}
	decodeBody(t, resp, &failed)
	require.Len(t, failed.Jobs, 1)
	assert.Equal(t, job.ID, failed.Jobs[0].ID)

	resp = fx.request(t, http.MethodPost, "/queue/failed/"+job.ID+"/retry", nil, principal)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = fx.request(t, http.MethodPost, "/queue/failed/unknown-job/retry", nil, principal)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = fx.request(t, http.MethodDelete, "/queue", nil, principal)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	s, err := fx.queue.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, s.Pending+s.Processing+s.Failed)
}

func TestHealthEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.request(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	decodeBody(t, resp, &out)
	assert.Equal(t, "ok", out["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.request(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
