package scheduler

import (
	"context"
	"path"

	"github.com/kazz187/storyguild/internal/agent"
	"github.com/kazz187/storyguild/internal/task"
)

// dispatch hands each idle, ready agent the oldest task queued on it.
// Nothing is dispatched before the pool as a whole has become ready.
func (s *Scheduler) dispatch(ctx context.Context) {
	if !s.ready.Load() {
		return
	}
	for _, a := range s.agents {
		if !a.ready || a.current != "" {
			continue
		}
		id, ok := s.oldestQueued(a)
		if !ok {
			continue
		}
		s.start(ctx, a, id)
	}
}

// oldestQueued returns the queued task on a with the earliest QueuedAt,
// queue position breaking ties. Entries that are no longer queued are
// dropped from the pending list.
func (s *Scheduler) oldestQueued(a *agentSlot) (string, bool) {
	var (
		best    task.Task
		bestPos = -1
		kept    = a.pending[:0:0]
	)
	for _, id := range a.pending {
		t, ok := s.queue.Get(id)
		if !ok || t.Status != task.StatusQueued {
			continue
		}
		kept = append(kept, id)
		pos := s.queue.Position(id)
		if bestPos < 0 ||
			t.QueuedAt.Before(best.QueuedAt) ||
			(t.QueuedAt.Equal(best.QueuedAt) && pos < bestPos) {
			best, bestPos = t, pos
		}
	}
	a.pending = kept
	return best.ID, bestPos >= 0
}

func (s *Scheduler) start(ctx context.Context, a *agentSlot, id string) {
	now := s.now()
	q, _ := s.queue.Update(id, func(t *task.Task) {
		t.Status = task.StatusRunning
		t.StartedAt = now
	})
	s.setQueue(q)
	a.removePending(id)
	a.current = id
	a.startedAt = now

	t, _ := q.Get(id)
	s.send(ctx, a, agent.Execute{Job: s.job(t)})
}

func (s *Scheduler) job(t task.Task) agent.Job {
	j := agent.Job{
		TaskID:      t.ID,
		Entity:      t.Entity,
		Type:        t.Type,
		Prompt:      t.Prompt,
		Step:        t.Step,
		StepContext: t.StepContext,
	}
	if t.Type.Class() == task.ClassImage {
		j.ArtifactPath = path.Join(s.artifactPrefix, t.Entity.ID, t.ID)
	}
	return j
}
