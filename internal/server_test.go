package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/storyguild/internal/agent"
	"github.com/kazz187/storyguild/internal/config"
	"github.com/kazz187/storyguild/internal/entity"
	entityrepo "github.com/kazz187/storyguild/internal/entity/repositoryimpl"
	"github.com/kazz187/storyguild/internal/event"
	"github.com/kazz187/storyguild/internal/eventbus"
	"github.com/kazz187/storyguild/internal/generation"
	"github.com/kazz187/storyguild/internal/pushnotification"
	pushsubrepo "github.com/kazz187/storyguild/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/storyguild/internal/scheduler"
	"github.com/kazz187/storyguild/pkg/storage"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T) (*httptest.Server, *scheduler.Scheduler) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	env := &config.Env{BaseEnv: config.BaseEnv{APIKey: testAPIKey}}
	bus := eventbus.New()
	entities := entityrepo.NewYAMLRepository(store)
	entityService := entity.NewService(entities, bus)
	subs := pushsubrepo.NewYAMLRepository(store)
	sender := pushnotification.NewSender(&env.VAPIDEnv, subs)

	sched := scheduler.New(
		agent.NewFactory(func() (agent.Executor, error) { return generation.NewEcho(store, 0), nil }),
		scheduler.WithPool(scheduler.PoolConfig{Size: 2}),
		scheduler.WithResultHandler(entityService),
		scheduler.WithEventBus(bus),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()

	srv := NewServer(
		env,
		sched,
		scheduler.NewServer(sched),
		entity.NewServer(entityService, entities),
		event.NewServer(bus),
		pushnotification.NewServer(&env.VAPIDEnv, subs, sender),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})
	return ts, sched
}

func do(t *testing.T, method, url, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_APIKey(t *testing.T) {
	ts, _ := newTestServer(t)

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/health", "", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, ts.URL+"/api/stats", "", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, ts.URL+"/api/stats", "wrong", "").StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/stats", testAPIKey, "").StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/pool", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_NotFoundIsJSON(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/api/nope", testAPIKey, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_found", body["code"])
}

func TestServer_GRPCHealth(t *testing.T) {
	ts, sched := newTestServer(t)
	require.Eventually(t, sched.Ready, 2*time.Second, 5*time.Millisecond)

	resp := do(t, http.MethodPost, ts.URL+"/grpc.health.v1.Health/Check", "", `{"service":"storyguild.Scheduler"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "SERVING", body["status"])
}

func TestServer_EnqueueAppliesToEntity(t *testing.T) {
	ts, sched := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/entities", testAPIKey, `{"id":"e1","name":"Aria","kind":"character"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/tasks", testAPIKey,
		`{"tasks":[{"entity":{"id":"e1","name":"Aria"},"type":"backstory","prompt":"sailor"}]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool { return sched.Stats().Complete == 1 }, 2*time.Second, 5*time.Millisecond)
	// The result handler runs on the scheduler loop, so a Sync orders after it.
	require.NoError(t, sched.Sync(context.Background()))

	resp = do(t, http.MethodGet, ts.URL+"/api/entities/e1", testAPIKey, "")
	var e entity.Entity
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "[backstory] sailor", e.Fields["backstory"])
}
