package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/kazz187/storyguild/internal/agent"
	"github.com/kazz187/storyguild/internal/eventbus"
	"github.com/kazz187/storyguild/internal/task"
	"github.com/kazz187/storyguild/pkg/clog"
)

// agentSlot is the scheduler-side bookkeeping for one agent of the pool.
type agentSlot struct {
	id     int
	handle agent.Handle
	// gen identifies the handle currently in the slot; messages carrying
	// another gen come from a replaced agent.
	gen       uint64
	ready     bool
	everReady bool
	respawns  int
	current   string
	startedAt time.Time
	pending   []string
}

func (a *agentSlot) alive() bool {
	return a.handle != nil
}

func (a *agentSlot) removePending(id string) {
	a.pending = slices.DeleteFunc(a.pending, func(p string) bool { return p == id })
}

func (s *Scheduler) initialize(ctx context.Context, cfg PoolConfig) {
	s.terminateAll()
	s.ready.Store(false)

	now := s.now()
	q := s.queue
	for _, t := range q.Tasks() {
		if t.Status != task.StatusRunning {
			continue
		}
		q, _ = q.Update(t.ID, func(t *task.Task) {
			t.Status = task.StatusError
			t.Error = "agent pool re-initialized"
			t.CompletedAt = now
		})
		delete(s.assigned, t.ID)
		s.publishTask(eventbus.EventTaskFailed, t.ID, q)
	}

	s.poolCfg = cfg
	s.agents = make([]*agentSlot, cfg.Size)
	for i := range s.agents {
		s.agents[i] = &agentSlot{id: i}
	}
	// queued work keeps its agent index when the new pool still has it
	for _, t := range q.Tasks() {
		if t.Status != task.StatusQueued {
			continue
		}
		idx, ok := s.assigned[t.ID]
		if !ok || idx >= cfg.Size {
			idx = 0
		}
		s.assigned[t.ID] = idx
		s.agents[idx].pending = append(s.agents[idx].pending, t.ID)
	}
	s.setQueue(q)

	for _, a := range s.agents {
		s.spawn(ctx, a)
	}
	s.checkPoolReady()
	s.status.Store(&PoolStatus{Size: cfg.Size, Agent: cfg.Agent})
	slog.Info("scheduler: pool initialized", "pool_size", cfg.Size)
	s.bus.PublishNew(eventbus.EventPoolInitialized, "", "", map[string]string{"size": strconv.Itoa(cfg.Size)})
}

func (s *Scheduler) spawn(_ context.Context, a *agentSlot) {
	s.spawnSeq++
	a.gen = s.spawnSeq
	a.ready = false

	h, err := s.factory.New(a.id, a.gen, s.outbox)
	if err != nil {
		slog.Error("scheduler: failed to create agent", "agent_id", a.id, clog.ErrorAttributeKey, err)
		a.handle = nil
		return
	}
	if err := h.Send(agent.Init{Config: s.poolCfg.Agent}); err != nil {
		slog.Error("scheduler: failed to initialize agent", "agent_id", a.id, clog.ErrorAttributeKey, err)
		h.Terminate()
		a.handle = nil
		return
	}
	a.handle = h
}

func (s *Scheduler) terminateAll() {
	for _, a := range s.agents {
		if a.handle != nil {
			a.handle.Terminate()
			a.handle = nil
		}
		a.ready = false
	}
}

func (s *Scheduler) agentReady(a *agentSlot) {
	a.ready = true
	a.everReady = true
	s.dirty = true
	slog.Debug("scheduler: agent ready", "agent_id", a.id)
	s.checkPoolReady()
}

// checkPoolReady trips the ready latch once every live agent has reported
// ready. Agents that are down do not hold the pool back.
func (s *Scheduler) checkPoolReady() {
	if s.ready.Load() {
		return
	}
	alive := 0
	for _, other := range s.agents {
		if !other.alive() {
			continue
		}
		if !other.ready {
			return
		}
		alive++
	}
	if alive == 0 {
		return
	}
	s.ready.Store(true)
	s.dirty = true
	// work parked on agents that never came up moves to live ones
	for _, other := range s.agents {
		if !other.alive() {
			s.rehome(other)
		}
	}
	slog.Info("scheduler: pool ready", "pool_size", len(s.agents), "alive", alive)
	s.bus.PublishNew(eventbus.EventPoolReady, "", "", map[string]string{"size": strconv.Itoa(len(s.agents))})
}

// agentFailed handles a broken transport to an agent: its in-flight task is
// forced to error, the slot is freed and the agent is replaced. Agents that
// never became ready, or that exhausted their respawns, are left down and
// their queued work is moved to other agents.
func (s *Scheduler) agentFailed(ctx context.Context, a *agentSlot, cause error) {
	slog.Error("scheduler: agent failed", "agent_id", a.id, clog.ErrorAttributeKey, cause)
	s.bus.PublishNew(eventbus.EventAgentFailed, strconv.Itoa(a.id), cause.Error(), nil)

	if id := a.current; id != "" {
		a.current = ""
		s.failTask(a, id, fmt.Sprintf("agent failure: %v", cause))
	}
	if a.handle != nil {
		a.handle.Terminate()
		a.handle = nil
	}
	a.ready = false
	s.dirty = true

	if a.everReady && a.respawns < s.maxRespawns {
		a.respawns++
		slog.Info("scheduler: respawning agent", "agent_id", a.id, "attempt", a.respawns)
		s.spawn(ctx, a)
		if a.alive() {
			return
		}
	}
	s.rehome(a)
	s.checkPoolReady()
}

// rehome reassigns the queued work of an agent that is down.
func (s *Scheduler) rehome(a *agentSlot) {
	if len(a.pending) == 0 {
		return
	}
	pending := a.pending
	a.pending = nil
	for _, id := range pending {
		t, ok := s.queue.Get(id)
		if !ok || t.Status != task.StatusQueued {
			delete(s.assigned, id)
			continue
		}
		idx := s.assign(s.queue)
		s.assigned[id] = idx
		s.agents[idx].pending = append(s.agents[idx].pending, id)
	}
	s.dirty = true
}

// send delivers cmd to a's agent. A delivery failure is a transport failure.
func (s *Scheduler) send(ctx context.Context, a *agentSlot, cmd agent.Command) {
	if a.handle == nil {
		return
	}
	if err := a.handle.Send(cmd); err != nil {
		s.agentFailed(ctx, a, fmt.Errorf("send %T: %w", cmd, err))
	}
}
