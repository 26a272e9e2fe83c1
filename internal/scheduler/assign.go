package scheduler

import (
	"log/slog"

	"github.com/kazz187/storyguild/internal/task"
)

// workload is the weight of a's running task plus the weight of every task
// still queued on it.
func (s *Scheduler) workload(a *agentSlot, q *task.Queue) int {
	w := 0
	if a.current != "" {
		if t, ok := q.Get(a.current); ok {
			w += t.Type.Weight()
		}
	}
	for _, id := range a.pending {
		if t, ok := q.Get(id); ok && t.Status == task.StatusQueued {
			w += t.Type.Weight()
		}
	}
	return w
}

// assign picks the ready agent with the lowest workload, lowest index on a
// tie. Agent 0 is used when no agent is ready, unless it is down and another
// agent is still starting.
func (s *Scheduler) assign(q *task.Queue) int {
	best, bestLoad := -1, 0
	for i, a := range s.agents {
		if !a.ready {
			continue
		}
		if load := s.workload(a, q); best < 0 || load < bestLoad {
			best, bestLoad = i, load
		}
	}
	if best >= 0 {
		return best
	}
	for i, a := range s.agents {
		if a.alive() {
			return i
		}
	}
	return 0
}

// submit assigns each task in turn, so later tasks of a batch see the load
// added by earlier ones, and appends the batch to the queue.
func (s *Scheduler) submit(tasks []*task.Task) {
	q := s.queue
	for _, t := range tasks {
		idx := s.assign(q)
		s.assigned[t.ID] = idx
		s.agents[idx].pending = append(s.agents[idx].pending, t.ID)
		q = q.Append(t)
		slog.Debug("scheduler: task assigned", "task_id", t.ID, "agent_id", idx, "type", t.Type)
	}
	s.setQueue(q)
}
