package scheduler

import (
	"context"
	"fmt"

	"github.com/kazz187/storyguild/internal/agent"
)

// checkWatchdog fails tasks that have been running for longer than the
// watchdog timeout, frees their agents and asks the agents to abort.
func (s *Scheduler) checkWatchdog(ctx context.Context) {
	now := s.now()
	for _, a := range s.agents {
		id := a.current
		if id == "" || now.Sub(a.startedAt) < s.watchdogTimeout {
			continue
		}
		s.release(a, id)
		s.failTask(a, id, fmt.Sprintf("timed out after %s", s.watchdogTimeout))
		s.send(ctx, a, agent.Abort{TaskID: id})
	}
}
