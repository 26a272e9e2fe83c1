package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/storyguild/internal/task"
)

func TestScheduler_CancelRunning(t *testing.T) {
	var called bool
	ff := newFakeFactory(true)
	s := startScheduler(t, ff, 1, WithResultHandler(ResultHandlerFunc(func(context.Context, string, task.Delta) error {
		called = true
		return nil
	})))
	ctx := context.Background()

	ids := s.Enqueue([]task.Request{text("a")})
	syncState(t, s)
	require.Equal(t, task.StatusRunning, status(t, s, ids[0]))

	require.NoError(t, s.Cancel(ctx, ids[0]))
	a := ff.agent(0)
	assert.Equal(t, []string{ids[0]}, a.aborted())
	_, ok := s.Get(ids[0])
	assert.False(t, ok)
	assert.Equal(t, task.Stats{}, s.Stats())

	// a late result for the cancelled task is dropped
	a.complete(ids[0], "too late")
	syncState(t, s)
	assert.False(t, inspect(t, s, func() bool { return called }))
	assert.Equal(t, 0, s.Stats().Total)

	// the slot was freed
	next := s.Enqueue([]task.Request{text("b")})
	syncState(t, s)
	assert.Equal(t, []string{ids[0], next[0]}, a.executed())
	_, ok = assignments(t, s)[ids[0]]
	assert.False(t, ok)
}

func TestScheduler_CancelQueued(t *testing.T) {
	ff := newFakeFactory(true)
	s := startScheduler(t, ff, 1)
	ctx := context.Background()

	ids := s.Enqueue([]task.Request{text("a"), text("b")})
	syncState(t, s)
	require.NoError(t, s.Cancel(ctx, ids[1]))

	a := ff.agent(0)
	assert.Empty(t, a.aborted())
	_, ok := assignments(t, s)[ids[1]]
	assert.False(t, ok)

	a.complete(ids[0], "done")
	syncState(t, s)
	assert.Equal(t, []string{ids[0]}, a.executed())
	assert.Equal(t, task.Stats{Complete: 1, Total: 1}, s.Stats())

	assert.ErrorIs(t, s.Cancel(ctx, "missing"), ErrTaskNotFound)
}

func TestScheduler_CancelAll(t *testing.T) {
	ff := newFakeFactory(true)
	s := startScheduler(t, ff, 2)

	ids := s.Enqueue([]task.Request{text("a"), text("b"), text("c"), image("d")})
	syncState(t, s)
	require.NoError(t, s.CancelAll(context.Background()))

	assert.Equal(t, task.Stats{}, s.Stats())
	assert.Empty(t, assignments(t, s))
	assert.Equal(t, []string{ids[0]}, ff.agent(0).aborted())
	assert.Equal(t, []string{ids[1]}, ff.agent(1).aborted())

	ff.agent(0).complete(ids[0], "late")
	syncState(t, s)
	assert.Equal(t, 0, s.Stats().Total)

	// both agents are free again
	more := s.Enqueue([]task.Request{text("e"), text("f")})
	syncState(t, s)
	assert.Equal(t, []string{ids[0], more[0]}, ff.agent(0).executed())
	assert.Equal(t, []string{ids[1], more[1]}, ff.agent(1).executed())
}

func TestScheduler_Retry(t *testing.T) {
	ff := newFakeFactory(true)
	s := startScheduler(t, ff, 1)
	ctx := context.Background()

	ids := s.Enqueue([]task.Request{text("a"), text("b")})
	syncState(t, s)
	a := ff.agent(0)

	assert.ErrorIs(t, s.Retry(ctx, ids[0]), ErrNotRetryable)
	assert.ErrorIs(t, s.Retry(ctx, ids[1]), ErrNotRetryable)
	assert.ErrorIs(t, s.Retry(ctx, "missing"), ErrTaskNotFound)
	assert.Equal(t, task.StatusRunning, status(t, s, ids[0]))
	assert.Equal(t, task.StatusQueued, status(t, s, ids[1]))

	a.fail(ids[0], "model overloaded")
	syncState(t, s)
	failed, _ := s.Get(ids[0])
	require.Equal(t, task.StatusError, failed.Status)
	assert.Equal(t, "model overloaded", failed.Error)

	require.NoError(t, s.Retry(ctx, ids[0]))
	retried, _ := s.Get(ids[0])
	assert.Equal(t, task.StatusQueued, retried.Status)
	assert.Empty(t, retried.Error)
	assert.Nil(t, retried.Result)
	assert.True(t, retried.StartedAt.IsZero())
	assert.True(t, retried.CompletedAt.IsZero())
	assert.False(t, retried.QueuedAt.Before(failed.QueuedAt))

	a.complete(ids[1], "ok")
	syncState(t, s)
	assert.Equal(t, []string{ids[0], ids[1], ids[0]}, a.executed())
	assert.Equal(t, task.StatusRunning, status(t, s, ids[0]))

	a.complete(ids[0], "ok")
	syncState(t, s)
	assert.ErrorIs(t, s.Retry(ctx, ids[0]), ErrNotRetryable)
	assert.Equal(t, task.Stats{Complete: 2, Total: 2}, s.Stats())
}

func TestScheduler_ClearCompleted(t *testing.T) {
	ff := newFakeFactory(true)
	s := startScheduler(t, ff, 2)
	ctx := context.Background()

	ids := s.Enqueue([]task.Request{text("a"), text("b"), text("c")})
	syncState(t, s)
	ff.agent(0).complete(ids[0], "ok")
	ff.agent(1).fail(ids[1], "bad")
	syncState(t, s)

	n, err := s.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := s.Get(ids[0])
	assert.False(t, ok)
	assert.Equal(t, task.StatusError, status(t, s, ids[1]))
	assert.Equal(t, task.StatusRunning, status(t, s, ids[2]))

	n, err = s.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
