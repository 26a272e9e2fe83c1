package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kazz187/storyguild/internal/agent"
	"github.com/kazz187/storyguild/internal/eventbus"
	"github.com/kazz187/storyguild/internal/task"
	"github.com/kazz187/storyguild/pkg/clog"
	"github.com/kazz187/storyguild/pkg/panicerr"
)

func (s *Scheduler) handleMessage(ctx context.Context, msg agent.Message) {
	if msg.AgentID < 0 || msg.AgentID >= len(s.agents) {
		slog.Debug("scheduler: message from unknown agent dropped", "agent_id", msg.AgentID, "kind", msg.Kind)
		return
	}
	a := s.agents[msg.AgentID]
	if msg.Generation != a.gen {
		slog.Debug("scheduler: stale agent message dropped", "agent_id", msg.AgentID, "kind", msg.Kind, "task_id", msg.TaskID)
		return
	}

	switch msg.Kind {
	case agent.KindReady:
		s.agentReady(a)
	case agent.KindStarted:
		slog.Debug("scheduler: task started", "agent_id", a.id, "task_id", msg.TaskID)
	case agent.KindComplete:
		s.complete(ctx, a, msg.TaskID, msg.Result)
	case agent.KindError:
		s.release(a, msg.TaskID)
		s.failTask(a, msg.TaskID, msg.Err)
	case agent.KindFailed:
		s.agentFailed(ctx, a, errors.New(msg.Err))
	}
}

// release frees a's slot if it holds id.
func (s *Scheduler) release(a *agentSlot, id string) {
	if a.current == id {
		a.current = ""
		a.startedAt = time.Time{}
	}
	s.dirty = true
}

// owned reports whether id is a running task assigned to a. Results for
// anything else (cancelled, timed out, re-queued) are dropped.
func (s *Scheduler) owned(a *agentSlot, id string) (task.Task, bool) {
	t, ok := s.queue.Get(id)
	if !ok {
		return task.Task{}, false
	}
	if idx, ok := s.assigned[id]; !ok || idx != a.id || t.Status != task.StatusRunning {
		return task.Task{}, false
	}
	return t, true
}

func (s *Scheduler) complete(ctx context.Context, a *agentSlot, id string, res task.Result) {
	s.release(a, id)
	t, ok := s.owned(a, id)
	if !ok {
		slog.Debug("scheduler: result for inactive task dropped", "agent_id", a.id, "task_id", id)
		return
	}
	delete(s.assigned, id)

	now := s.now()
	q, _ := s.queue.Update(id, func(t *task.Task) {
		t.Status = task.StatusComplete
		t.Result = &res
		t.CompletedAt = now
	})
	s.setQueue(q)
	slog.Info("scheduler: task completed", "agent_id", a.id, "task_id", id, "duration", now.Sub(t.StartedAt))

	if s.results != nil {
		delta := task.NewDelta(t, res)
		err := panicerr.Safe(func() error {
			return s.results.HandleResult(clog.WithTask(ctx, id, a.id), t.Entity.ID, delta)
		})()
		if err != nil {
			slog.Error("scheduler: result handler failed", "task_id", id, "entity_id", t.Entity.ID, clog.ErrorAttributeKey, err)
		}
	}
	s.publishTask(eventbus.EventTaskCompleted, id, q)
}

// failTask moves id from running to error if a still owns it.
func (s *Scheduler) failTask(a *agentSlot, id, reason string) {
	if _, ok := s.owned(a, id); !ok {
		slog.Debug("scheduler: error for inactive task dropped", "agent_id", a.id, "task_id", id)
		return
	}
	delete(s.assigned, id)

	now := s.now()
	q, _ := s.queue.Update(id, func(t *task.Task) {
		t.Status = task.StatusError
		t.Error = reason
		t.CompletedAt = now
	})
	s.setQueue(q)
	slog.Warn("scheduler: task failed", "agent_id", a.id, "task_id", id, "reason", reason)
	s.publishTask(eventbus.EventTaskFailed, id, q)
}
