package entity

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kazz187/storyguild/internal/eventbus"
	"github.com/kazz187/storyguild/internal/task"
	"github.com/kazz187/storyguild/pkg/cerr"
	"github.com/kazz187/storyguild/pkg/clog"
)

// Service applies generation results to stored entities. It satisfies
// scheduler.ResultHandler.
type Service struct {
	repo Repository
	bus  *eventbus.Bus
	now  func() time.Time

	mu sync.Mutex
}

func NewService(repo Repository, bus *eventbus.Bus) *Service {
	return &Service{repo: repo, bus: bus, now: time.Now}
}

func (s *Service) HandleResult(ctx context.Context, entityID string, d task.Delta) error {
	return s.Apply(ctx, entityID, d)
}

// Apply loads the entity, merges d and writes it back. A result for an
// entity that was never registered creates a bare record so nothing
// generated is lost.
func (s *Service) Apply(ctx context.Context, entityID string, d task.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, err := s.repo.Get(ctx, entityID)
	created := false
	switch {
	case err == nil:
	case cerr.IsCode(err, cerr.NotFound):
		e = &Entity{ID: entityID, CreatedAt: now}
		created = true
	default:
		return err
	}

	e.Apply(d, now)

	if created {
		err = s.repo.Create(ctx, e)
	} else {
		err = s.repo.Update(ctx, e)
	}
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "entity: result applied",
		"entity_id", entityID, "task_id", d.TaskID, "field", FieldKey(d.Type, d.Step), "image", d.ArtifactRef != "")
	s.publish(e)
	return nil
}

func (s *Service) publish(e *Entity) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("entity: failed to encode event", "entity_id", e.ID, clog.ErrorAttributeKey, err)
		return
	}
	s.bus.PublishNew(eventbus.EventEntityUpdated, e.ID, string(payload), map[string]string{
		"entity_name": e.Name,
		"kind":        e.Kind,
	})
}

func (s *Service) Create(ctx context.Context, e *Entity) error {
	if e.Name == "" {
		return cerr.NewError(cerr.InvalidArgument, "name is required", nil)
	}
	now := s.now()
	e.CreatedAt = now
	e.UpdatedAt = now
	if err := s.repo.Create(ctx, e); err != nil {
		return err
	}
	s.publish(e)
	return nil
}
