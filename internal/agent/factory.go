package agent

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kazz187/storyguild/pkg/clog"
)

// Factory creates agent handles. In shared mode one executor is built lazily
// and reused by every handle, provided it reports itself Shareable; otherwise
// each handle gets a private executor. Either way the handle type is the same.
type Factory struct {
	newExecutor ExecutorFunc
	shared      bool

	mu         sync.Mutex
	sharedExec Executor
	sharedOff  bool
}

type FactoryOption func(*Factory)

func WithSharedExecutor(shared bool) FactoryOption {
	return func(f *Factory) {
		f.shared = shared
	}
}

func NewFactory(newExecutor ExecutorFunc, opts ...FactoryOption) *Factory {
	f := &Factory{
		newExecutor: newExecutor,
		shared:      true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// New starts an agent with the given pool index and generation. Messages
// from the agent go to outbox.
func (f *Factory) New(id int, gen uint64, outbox chan<- Message) (Handle, error) {
	exec, err := f.executor()
	if err != nil {
		return nil, fmt.Errorf("failed to create executor for agent %d: %w", id, err)
	}
	return startWorker(id, gen, exec, outbox), nil
}

func (f *Factory) executor() (Executor, error) {
	if !f.shared {
		return f.newExecutor()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sharedExec != nil {
		return f.sharedExec, nil
	}
	if !f.sharedOff {
		exec, err := f.newExecutor()
		switch {
		case err != nil:
			slog.Warn("agent: shared executor unavailable, using private executors", clog.ErrorAttributeKey, err)
			f.sharedOff = true
		case isShareable(exec):
			f.sharedExec = exec
			return exec, nil
		default:
			f.sharedOff = true
			// not shareable, hand it to this agent as its private executor
			return exec, nil
		}
	}
	return f.newExecutor()
}

// Shared reports whether handles are currently backed by one executor.
func (f *Factory) Shared() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sharedExec != nil
}

func isShareable(exec Executor) bool {
	s, ok := exec.(Shareable)
	return ok && s.Shareable()
}
