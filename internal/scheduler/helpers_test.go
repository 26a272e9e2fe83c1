package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kazz187/storyguild/internal/agent"
	"github.com/kazz187/storyguild/internal/task"
)

const waitFor = 2 * time.Second

type fakeAgent struct {
	id     int
	gen    uint64
	outbox chan<- agent.Message

	mu       sync.Mutex
	cmds     []agent.Command
	closed   bool
	failSend bool
	ready    bool
}

func (f *fakeAgent) ID() int { return f.id }

func (f *fakeAgent) Send(cmd agent.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.failSend {
		return agent.ErrClosed
	}
	f.cmds = append(f.cmds, cmd)
	if _, ok := cmd.(agent.Init); ok && f.ready {
		f.outbox <- agent.Message{AgentID: f.id, Generation: f.gen, Kind: agent.KindReady}
	}
	return nil
}

func (f *fakeAgent) Terminate() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeAgent) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeAgent) setFailSend(v bool) {
	f.mu.Lock()
	f.failSend = v
	f.mu.Unlock()
}

func (f *fakeAgent) emit(kind agent.MessageKind, taskID string) {
	f.outbox <- agent.Message{AgentID: f.id, Generation: f.gen, Kind: kind, TaskID: taskID}
}

func (f *fakeAgent) complete(taskID, text string) {
	f.outbox <- agent.Message{
		AgentID: f.id, Generation: f.gen, Kind: agent.KindComplete, TaskID: taskID,
		Result: task.Result{Text: text},
	}
}

func (f *fakeAgent) fail(taskID, msg string) {
	f.outbox <- agent.Message{AgentID: f.id, Generation: f.gen, Kind: agent.KindError, TaskID: taskID, Err: msg}
}

// executed lists the task ids of every Execute command received, in order.
func (f *fakeAgent) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, c := range f.cmds {
		if e, ok := c.(agent.Execute); ok {
			ids = append(ids, e.Job.TaskID)
		}
	}
	return ids
}

func (f *fakeAgent) aborted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, c := range f.cmds {
		if a, ok := c.(agent.Abort); ok {
			ids = append(ids, a.TaskID)
		}
	}
	return ids
}

func (f *fakeAgent) lastJob() (agent.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.cmds) - 1; i >= 0; i-- {
		if e, ok := f.cmds[i].(agent.Execute); ok {
			return e.Job, true
		}
	}
	return agent.Job{}, false
}

type fakeFactory struct {
	autoReady bool
	failIDs   map[int]bool

	mu      sync.Mutex
	current map[int]*fakeAgent
	all     []*fakeAgent
}

func newFakeFactory(autoReady bool) *fakeFactory {
	return &fakeFactory{
		autoReady: autoReady,
		failIDs:   map[int]bool{},
		current:   map[int]*fakeAgent{},
	}
}

func (ff *fakeFactory) New(id int, gen uint64, outbox chan<- agent.Message) (agent.Handle, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.failIDs[id] {
		return nil, errors.New("cannot start agent")
	}
	a := &fakeAgent{id: id, gen: gen, outbox: outbox, ready: ff.autoReady}
	ff.current[id] = a
	ff.all = append(ff.all, a)
	return a, nil
}

func (ff *fakeFactory) agent(id int) *fakeAgent {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.current[id]
}

func (ff *fakeFactory) created() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.all)
}

func startScheduler(t *testing.T, ff *fakeFactory, size int, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithPool(PoolConfig{Size: size}), WithWatchdog(0, 0)}, opts...)
	s := New(ff, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	if ff.autoReady {
		require.Eventually(t, s.Ready, waitFor, time.Millisecond)
	}
	return s
}

func syncState(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Sync(ctx))
}

// inspect runs fn on the scheduler goroutine.
func inspect[T any](t *testing.T, s *Scheduler, fn func() T) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	var out T
	require.NoError(t, s.call(ctx, func(context.Context) error {
		out = fn()
		return nil
	}))
	return out
}

func assignments(t *testing.T, s *Scheduler) map[string]int {
	return inspect(t, s, func() map[string]int {
		m := make(map[string]int, len(s.assigned))
		for k, v := range s.assigned {
			m[k] = v
		}
		return m
	})
}

func status(t *testing.T, s *Scheduler, id string) task.Status {
	t.Helper()
	tk, ok := s.Get(id)
	require.True(t, ok, "task %s not found", id)
	return tk.Status
}

func waitStatus(t *testing.T, s *Scheduler, id string, want task.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		tk, ok := s.Get(id)
		return ok && tk.Status == want
	}, waitFor, time.Millisecond, "task %s never reached %s", id, want)
}

func text(entityID string) task.Request {
	return task.Request{Entity: task.EntityRef{ID: entityID}, Type: task.TypeName, Prompt: "name " + entityID}
}

func image(entityID string) task.Request {
	return task.Request{Entity: task.EntityRef{ID: entityID}, Type: task.TypeImage, Prompt: "portrait of " + entityID}
}
