package agent

import (
	"context"

	"github.com/kazz187/storyguild/internal/task"
)

// Executor performs the actual generation work for an agent.
type Executor interface {
	Init(ctx context.Context, cfg Config) error
	Generate(ctx context.Context, job Job) (task.Result, error)
}

// Shareable is implemented by executors that may be used by several agents
// at once.
type Shareable interface {
	Shareable() bool
}

type ExecutorFunc func() (Executor, error)
