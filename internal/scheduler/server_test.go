package scheduler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/storyguild/internal/task"
	"github.com/kazz187/storyguild/pkg/cerr"
)

func newTestRouter(s *Scheduler) http.Handler {
	r := chi.NewRouter()
	r.Use(cerr.NewJSONResponseChiMiddleware())
	NewServer(s).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_EnqueueAndList(t *testing.T) {
	ff := newFakeFactory(true)
	s := startScheduler(t, ff, 1)
	h := newTestRouter(s)

	rec := do(t, h, http.MethodPost, "/tasks", EnqueueRequest{Tasks: []task.Request{text("a"), image("b")}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var enq EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enq))
	require.Len(t, enq.IDs, 2)
	syncState(t, s)

	rec = do(t, h, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListTasksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Tasks, 2)
	assert.Equal(t, task.Stats{Queued: 1, Running: 1, Total: 2}, list.Stats)

	rec = do(t, h, http.MethodGet, "/tasks?status=queued", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, enq.IDs[1], list.Tasks[0].ID)

	rec = do(t, h, http.MethodGet, "/tasks?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/tasks/"+enq.IDs[0], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, task.StatusRunning, got.Status)
}

func TestServer_EnqueueValidation(t *testing.T) {
	ff := newFakeFactory(true)
	s := startScheduler(t, ff, 1)
	h := newTestRouter(s)

	rec := do(t, h, http.MethodPost, "/tasks", EnqueueRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"code":"invalid_argument","message":"tasks must not be empty"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/tasks", EnqueueRequest{Tasks: []task.Request{{Type: task.TypeName}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Lifecycle(t *testing.T) {
	ff := newFakeFactory(true)
	s := startScheduler(t, ff, 1)
	h := newTestRouter(s)

	ids := s.Enqueue([]task.Request{text("a"), text("b")})
	syncState(t, s)

	rec := do(t, h, http.MethodPost, "/tasks/"+ids[1]+"/retry", nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	ff.agent(0).fail(ids[0], "bad")
	syncState(t, s)
	rec = do(t, h, http.MethodPost, "/tasks/"+ids[0]+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/tasks/"+ids[0], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st task.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Total)

	ff.agent(0).complete(ids[1], "ok")
	syncState(t, s)
	rec = do(t, h, http.MethodPost, "/tasks/clear-completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())

	s.Enqueue([]task.Request{text("c")})
	rec = do(t, h, http.MethodDelete, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, s.Stats().Total)
}

func TestServer_Pool(t *testing.T) {
	ff := newFakeFactory(true)
	s := startScheduler(t, ff, 2)
	h := newTestRouter(s)

	rec := do(t, h, http.MethodGet, "/pool", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st PoolStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.Size)
	assert.True(t, st.Ready)

	rec = do(t, h, http.MethodPost, "/pool/initialize", PoolConfig{Size: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/pool/initialize", PoolConfig{Size: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, s.Pool().Size)

	rec = do(t, h, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
