package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kazz187/storyguild/internal/agent"
	"github.com/kazz187/storyguild/internal/eventbus"
	"github.com/kazz187/storyguild/internal/task"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrNotRetryable    = errors.New("only failed tasks can be retried")
	ErrInvalidPoolSize = errors.New("pool size must be at least 1")
	ErrAlreadyRunning  = errors.New("scheduler already running")
)

const (
	DefaultPoolSize        = 4
	DefaultWatchdogTimeout = 10 * time.Minute
	DefaultMaxRespawns     = 3

	outboxSize = 256
)

// AgentFactory creates the agents of a pool. Messages from the agent must be
// tagged with gen and delivered to outbox.
type AgentFactory interface {
	New(id int, gen uint64, outbox chan<- agent.Message) (agent.Handle, error)
}

// ResultHandler receives the result of every completed task.
type ResultHandler interface {
	HandleResult(ctx context.Context, entityID string, delta task.Delta) error
}

type ResultHandlerFunc func(ctx context.Context, entityID string, delta task.Delta) error

func (f ResultHandlerFunc) HandleResult(ctx context.Context, entityID string, delta task.Delta) error {
	return f(ctx, entityID, delta)
}

type PoolConfig struct {
	Size  int          `json:"size" yaml:"size"`
	Agent agent.Config `json:"agent" yaml:"agent"`
}

type PoolStatus struct {
	Size  int          `json:"size"`
	Ready bool         `json:"ready"`
	Agent agent.Config `json:"agent"`
}

type command func(ctx context.Context)

// Scheduler owns the task queue and the agent pool. All state changes happen
// on the goroutine running Run; public methods only post commands to it and
// read the published queue snapshot.
type Scheduler struct {
	factory          AgentFactory
	results          ResultHandler
	bus              *eventbus.Bus
	now              func() time.Time
	watchdogTimeout  time.Duration
	watchdogInterval time.Duration
	maxRespawns      int
	artifactPrefix   string

	mbMu    sync.Mutex
	mailbox []command
	signal  chan struct{}
	outbox  chan agent.Message
	running atomic.Bool

	snapshot atomic.Pointer[task.Queue]
	ready    atomic.Bool
	status   atomic.Pointer[PoolStatus]

	// owned by the Run goroutine
	queue    *task.Queue
	agents   []*agentSlot
	assigned map[string]int
	poolCfg  PoolConfig
	spawnSeq uint64
	dirty    bool
	changed  bool
	// observe, when set, sees every queue the loop installs.
	observe func(*task.Queue)
}

type Option func(*Scheduler)

func WithPool(cfg PoolConfig) Option {
	return func(s *Scheduler) {
		s.poolCfg = cfg
	}
}

func WithResultHandler(h ResultHandler) Option {
	return func(s *Scheduler) {
		s.results = h
	}
}

func WithEventBus(b *eventbus.Bus) Option {
	return func(s *Scheduler) {
		s.bus = b
	}
}

// WithWatchdog forces tasks running longer than timeout to error. A zero
// timeout disables the watchdog. interval defaults to a quarter of timeout.
func WithWatchdog(timeout, interval time.Duration) Option {
	return func(s *Scheduler) {
		s.watchdogTimeout = timeout
		s.watchdogInterval = interval
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithMaxRespawns bounds how many times a crashed agent is replaced.
func WithMaxRespawns(n int) Option {
	return func(s *Scheduler) {
		s.maxRespawns = n
	}
}

// WithArtifactPrefix sets the storage prefix image agents write under.
func WithArtifactPrefix(prefix string) Option {
	return func(s *Scheduler) {
		s.artifactPrefix = prefix
	}
}

func New(factory AgentFactory, opts ...Option) *Scheduler {
	s := &Scheduler{
		factory:         factory,
		now:             time.Now,
		watchdogTimeout: DefaultWatchdogTimeout,
		maxRespawns:     DefaultMaxRespawns,
		artifactPrefix:  "artifacts",
		signal:          make(chan struct{}, 1),
		outbox:          make(chan agent.Message, outboxSize),
		queue:           task.NewQueue(),
		assigned:        make(map[string]int),
		poolCfg:         PoolConfig{Size: DefaultPoolSize},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.poolCfg.Size < 1 {
		s.poolCfg.Size = DefaultPoolSize
	}
	if s.watchdogInterval <= 0 {
		s.watchdogInterval = max(s.watchdogTimeout/4, 10*time.Millisecond)
	}
	s.snapshot.Store(s.queue)
	s.status.Store(&PoolStatus{Size: s.poolCfg.Size, Agent: s.poolCfg.Agent})
	return s
}

// Run starts the pool and processes commands and agent messages until ctx
// is cancelled. Agents are terminated on return.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	defer s.terminateAll()

	s.initialize(ctx, s.poolCfg)

	var tick <-chan time.Time
	if s.watchdogTimeout > 0 {
		ticker := time.NewTicker(s.watchdogInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	slog.Info("scheduler: started", "pool_size", s.poolCfg.Size)
	for {
		s.settle(ctx)
		select {
		case <-ctx.Done():
			slog.Info("scheduler: stopped")
			return nil
		case <-s.signal:
			for _, cmd := range s.drain() {
				cmd(ctx)
			}
		case msg := <-s.outbox:
			s.handleMessage(ctx, msg)
		case <-tick:
			s.checkWatchdog(ctx)
		}
	}
}

// settle runs dispatch until no state change is pending, then announces the
// new queue once.
func (s *Scheduler) settle(ctx context.Context) {
	for s.dirty {
		s.dirty = false
		s.dispatch(ctx)
	}
	if s.changed {
		s.changed = false
		s.publishQueueChanged()
	}
}

func (s *Scheduler) setQueue(q *task.Queue) {
	s.queue = q
	s.snapshot.Store(q)
	s.dirty = true
	s.changed = true
	if s.observe != nil {
		s.observe(q)
	}
}

func (s *Scheduler) drainOutbox(ctx context.Context) {
	for {
		select {
		case msg := <-s.outbox:
			s.handleMessage(ctx, msg)
		default:
			return
		}
	}
}

func (s *Scheduler) post(cmd command) {
	s.mbMu.Lock()
	s.mailbox = append(s.mailbox, cmd)
	s.mbMu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Scheduler) drain() []command {
	s.mbMu.Lock()
	defer s.mbMu.Unlock()
	cmds := s.mailbox
	s.mailbox = nil
	return cmds
}

// call runs fn on the scheduler goroutine, after every earlier command and
// every agent message already delivered has been applied and dispatched,
// and waits for its result.
func (s *Scheduler) call(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	s.post(func(loopCtx context.Context) {
		s.drainOutbox(loopCtx)
		s.settle(loopCtx)
		done <- fn(loopCtx)
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue submits a batch of requests and returns their task ids in order.
// It never blocks on the scheduler or the agents.
func (s *Scheduler) Enqueue(reqs []task.Request) []string {
	if len(reqs) == 0 {
		return nil
	}
	now := s.now()
	tasks := make([]*task.Task, len(reqs))
	ids := make([]string, len(reqs))
	for i, req := range reqs {
		tasks[i] = task.New(req, now)
		ids[i] = tasks[i].ID
	}
	s.post(func(context.Context) {
		s.submit(tasks)
	})
	return ids
}

func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.call(ctx, func(loopCtx context.Context) error {
		return s.cancel(loopCtx, id)
	})
}

func (s *Scheduler) CancelAll(ctx context.Context) error {
	return s.call(ctx, func(loopCtx context.Context) error {
		s.cancelAll(loopCtx)
		return nil
	})
}

// Retry requeues a failed task. Tasks in any other status are left as is and
// ErrNotRetryable is returned.
func (s *Scheduler) Retry(ctx context.Context, id string) error {
	return s.call(ctx, func(context.Context) error {
		return s.retry(id)
	})
}

// ClearCompleted removes completed tasks and returns how many were removed.
func (s *Scheduler) ClearCompleted(ctx context.Context) (int, error) {
	var n int
	err := s.call(ctx, func(context.Context) error {
		n = s.clearCompleted()
		return nil
	})
	return n, err
}

// Initialize tears the pool down and builds a new one from cfg.
func (s *Scheduler) Initialize(ctx context.Context, cfg PoolConfig) error {
	if cfg.Size < 1 {
		return ErrInvalidPoolSize
	}
	return s.call(ctx, func(loopCtx context.Context) error {
		s.initialize(loopCtx, cfg)
		return nil
	})
}

// Sync returns once every command posted before it has been applied.
func (s *Scheduler) Sync(ctx context.Context) error {
	return s.call(ctx, func(context.Context) error { return nil })
}

// Queue returns the current immutable queue snapshot.
func (s *Scheduler) Queue() *task.Queue {
	return s.snapshot.Load()
}

func (s *Scheduler) Snapshot() []task.Task {
	return s.Queue().Tasks()
}

func (s *Scheduler) Get(id string) (task.Task, bool) {
	return s.Queue().Get(id)
}

func (s *Scheduler) Stats() task.Stats {
	return s.Queue().Stats()
}

// Ready reports whether every agent of the current pool has reported ready.
func (s *Scheduler) Ready() bool {
	return s.ready.Load()
}

func (s *Scheduler) Pool() PoolStatus {
	st := *s.status.Load()
	st.Ready = s.Ready()
	return st
}
