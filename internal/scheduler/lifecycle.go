package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kazz187/storyguild/internal/agent"
	"github.com/kazz187/storyguild/internal/task"
)

func (s *Scheduler) cancel(ctx context.Context, id string) error {
	t, ok := s.queue.Get(id)
	idx, assigned := s.assigned[id]
	delete(s.assigned, id)
	if assigned && idx < len(s.agents) {
		a := s.agents[idx]
		a.removePending(id)
		if a.current == id {
			a.current = ""
			s.dirty = true
			if t.Status == task.StatusRunning {
				s.send(ctx, a, agent.Abort{TaskID: id})
			}
		}
	}
	if !ok {
		return ErrTaskNotFound
	}

	q, _ := s.queue.RemoveID(id)
	s.setQueue(q)
	slog.Info("scheduler: task cancelled", "task_id", id, "status", t.Status)
	return nil
}

func (s *Scheduler) cancelAll(ctx context.Context) {
	for _, a := range s.agents {
		a.pending = nil
		if id := a.current; id != "" {
			a.current = ""
			s.send(ctx, a, agent.Abort{TaskID: id})
		}
	}
	clear(s.assigned)
	n := s.queue.Len()
	s.setQueue(task.NewQueue())
	slog.Info("scheduler: all tasks cancelled", "count", n)
}

func (s *Scheduler) retry(id string) error {
	t, ok := s.queue.Get(id)
	if !ok {
		return ErrTaskNotFound
	}
	if !task.CanTransition(t.Status, task.StatusQueued) {
		return ErrNotRetryable
	}

	idx := s.assign(s.queue)
	now := s.now()
	q, _ := s.queue.Update(id, func(t *task.Task) {
		t.Status = task.StatusQueued
		t.QueuedAt = now
		t.StartedAt = time.Time{}
		t.CompletedAt = time.Time{}
		t.Result = nil
		t.Error = ""
	})
	s.assigned[id] = idx
	s.agents[idx].pending = append(s.agents[idx].pending, id)
	s.setQueue(q)
	slog.Info("scheduler: task retried", "task_id", id, "agent_id", idx)
	return nil
}

func (s *Scheduler) clearCompleted() int {
	q, n := s.queue.Remove(func(t task.Task) bool {
		return t.Status == task.StatusComplete
	})
	if n == 0 {
		return 0
	}
	for id := range s.assigned {
		if _, ok := q.Get(id); !ok {
			delete(s.assigned, id)
		}
	}
	s.setQueue(q)
	return n
}
