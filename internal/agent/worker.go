package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/kazz187/storyguild/internal/task"
	"github.com/kazz187/storyguild/pkg/clog"
	"github.com/kazz187/storyguild/pkg/panicerr"
)

var (
	ErrClosed    = errors.New("agent closed")
	ErrInboxFull = errors.New("agent inbox full")
)

const inboxSize = 64

// Handle is the scheduler's view of one agent.
type Handle interface {
	ID() int
	Send(cmd Command) error
	Terminate()
}

// Worker is an agent running as a goroutine. It executes one job at a time
// and talks to the scheduler only through its inbox and the shared outbox.
type Worker struct {
	id     int
	gen    uint64
	exec   Executor
	inbox  chan Command
	outbox chan<- Message
	quit   chan struct{}
	wg     conc.WaitGroup

	mu     sync.Mutex
	closed bool
}

type runningJob struct {
	taskID  string
	cancel  context.CancelFunc
	aborted bool
}

type outcome struct {
	taskID string
	result task.Result
	err    error
}

func startWorker(id int, gen uint64, exec Executor, outbox chan<- Message) *Worker {
	w := &Worker{
		id:     id,
		gen:    gen,
		exec:   exec,
		inbox:  make(chan Command, inboxSize),
		outbox: outbox,
		quit:   make(chan struct{}),
	}
	w.wg.Go(w.loop)
	return w
}

func (w *Worker) ID() int {
	return w.id
}

// Send never blocks.
func (w *Worker) Send(cmd Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.inbox <- cmd:
		return nil
	default:
		return ErrInboxFull
	}
}

// Terminate stops the worker and cancels its running job. Nothing is
// reported for the cancelled job.
func (w *Worker) Terminate() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.quit)
	w.mu.Unlock()
}

// Wait blocks until the worker loop has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) loop() {
	var catcher panics.Catcher
	catcher.Try(w.run)
	if r := catcher.Recovered(); r != nil {
		slog.Error("agent: worker crashed", "agent_id", w.id, clog.ErrorAttributeKey, r.AsError())
		w.markClosed()
		w.emit(Message{Kind: KindFailed, Err: fmt.Sprintf("worker crashed: %v", r.Value)})
	}
}

func (w *Worker) markClosed() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (w *Worker) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		cur     *runningJob
		next    *Job
		results = make(chan outcome, 1)
	)
	start := func(job Job) {
		jobCtx, jobCancel := context.WithCancel(clog.WithTask(ctx, job.TaskID, w.id))
		cur = &runningJob{taskID: job.TaskID, cancel: jobCancel}
		w.emit(Message{Kind: KindStarted, TaskID: job.TaskID})
		go func() {
			defer jobCancel()
			res, err := panicerr.SafeValue(jobCtx, func(ctx context.Context) (task.Result, error) {
				return w.exec.Generate(ctx, job)
			})
			results <- outcome{taskID: job.TaskID, result: res, err: err}
		}()
	}

	for {
		select {
		case <-w.quit:
			if cur != nil {
				cur.cancel()
			}
			return

		case cmd := <-w.inbox:
			switch c := cmd.(type) {
			case Init:
				if err := w.exec.Init(ctx, c.Config); err != nil {
					slog.Error("agent: init failed", "agent_id", w.id, clog.ErrorAttributeKey, err)
					w.markClosed()
					w.emit(Message{Kind: KindFailed, Err: fmt.Sprintf("init: %v", err)})
					return
				}
				w.emit(Message{Kind: KindReady})
			case Execute:
				switch {
				case cur == nil:
					start(c.Job)
				case cur.aborted && next == nil:
					// the aborted job is still winding down
					job := c.Job
					next = &job
				default:
					w.emit(Message{Kind: KindError, TaskID: c.Job.TaskID, Err: "agent busy"})
				}
			case Abort:
				if cur != nil && cur.taskID == c.TaskID && !cur.aborted {
					cur.aborted = true
					cur.cancel()
				}
				if next != nil && next.TaskID == c.TaskID {
					next = nil
				}
			}

		case out := <-results:
			if cur != nil && !cur.aborted {
				if out.err != nil {
					w.emit(Message{Kind: KindError, TaskID: out.taskID, Err: out.err.Error()})
				} else {
					w.emit(Message{Kind: KindComplete, TaskID: out.taskID, Result: out.result})
				}
			}
			cur = nil
			if next != nil {
				job := *next
				next = nil
				start(job)
			}
		}
	}
}

func (w *Worker) emit(msg Message) {
	msg.AgentID = w.id
	msg.Generation = w.gen
	select {
	case w.outbox <- msg:
	case <-w.quit:
	}
}
