package scheduler

import (
	"encoding/json"
	"log/slog"

	"github.com/kazz187/storyguild/internal/eventbus"
	"github.com/kazz187/storyguild/internal/task"
	"github.com/kazz187/storyguild/pkg/clog"
)

func (s *Scheduler) publishTask(eventType eventbus.EventType, id string, q *task.Queue) {
	if s.bus == nil {
		return
	}
	t, ok := q.Get(id)
	if !ok {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		slog.Error("scheduler: failed to encode task event", "task_id", id, clog.ErrorAttributeKey, err)
		return
	}
	s.bus.PublishNew(eventType, id, string(payload), map[string]string{
		"entity_id":   t.Entity.ID,
		"entity_name": t.Entity.Name,
		"type":        string(t.Type),
		"class":       t.Type.Class().String(),
		"status":      string(t.Status),
	})
}

func (s *Scheduler) publishQueueChanged() {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(s.queue.Stats())
	if err != nil {
		return
	}
	s.bus.PublishNew(eventbus.EventQueueChanged, "", string(payload), nil)
}
