package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/storyguild/internal/task"
	"github.com/kazz187/storyguild/pkg/cerr"
)

// Server exposes the scheduler over JSON HTTP. Responses are rendered by
// the cerr JSON middleware.
type Server struct {
	scheduler *Scheduler
}

func NewServer(s *Scheduler) *Server {
	return &Server{scheduler: s}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.enqueue)
		r.Get("/", s.listTasks)
		r.Delete("/", s.cancelAll)
		r.Post("/clear-completed", s.clearCompleted)
		r.Get("/{id}", s.getTask)
		r.Delete("/{id}", s.cancelTask)
		r.Post("/{id}/retry", s.retryTask)
	})
	r.Get("/stats", s.stats)
	r.Get("/pool", s.pool)
	r.Post("/pool/initialize", s.initializePool)
}

type EnqueueRequest struct {
	Tasks []task.Request `json:"tasks"`
}

type EnqueueResponse struct {
	IDs []string `json:"ids"`
}

type ListTasksResponse struct {
	Tasks []task.Task `json:"tasks"`
	Stats task.Stats  `json:"stats"`
}

type ClearCompletedResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if len(req.Tasks) == 0 {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "tasks must not be empty", nil)
		return
	}
	for i, t := range req.Tasks {
		if t.Entity.ID == "" || t.Type == "" {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, fmt.Sprintf("tasks[%d]: entity.id and type are required", i), nil)
			return
		}
	}
	ids := s.scheduler.Enqueue(req.Tasks)
	cerr.SetJSONResponseWithStatus(ctx, http.StatusAccepted, EnqueueResponse{IDs: ids})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := s.scheduler.Queue()
	resp := ListTasksResponse{Stats: q.Stats()}
	if status := task.Status(r.URL.Query().Get("status")); status != "" {
		if !status.Valid() {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, fmt.Sprintf("unknown status %q", status), nil)
			return
		}
		resp.Tasks = q.Filter(func(t task.Task) bool { return t.Status == status })
	} else {
		resp.Tasks = q.Tasks()
	}
	if resp.Tasks == nil {
		resp.Tasks = []task.Task{}
	}
	cerr.SetJSONResponse(ctx, resp)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, ok := s.scheduler.Get(chi.URLParam(r, "id"))
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.NotFound, "task not found", nil)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.scheduler.Cancel(ctx, chi.URLParam(r, "id")); err != nil {
		cerr.SetJSONError(ctx, toCerr(err))
		return
	}
	cerr.SetJSONResponse(ctx, s.scheduler.Stats())
}

func (s *Server) cancelAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.scheduler.CancelAll(ctx); err != nil {
		cerr.SetJSONError(ctx, toCerr(err))
		return
	}
	cerr.SetJSONResponse(ctx, s.scheduler.Stats())
}

func (s *Server) retryTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := s.scheduler.Retry(ctx, id); err != nil {
		cerr.SetJSONError(ctx, toCerr(err))
		return
	}
	t, _ := s.scheduler.Get(id)
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) clearCompleted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := s.scheduler.ClearCompleted(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, toCerr(err))
		return
	}
	cerr.SetJSONResponse(ctx, ClearCompletedResponse{Removed: n})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), s.scheduler.Stats())
}

func (s *Server) pool(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), s.scheduler.Pool())
}

func (s *Server) initializePool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var cfg PoolConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if err := s.scheduler.Initialize(ctx, cfg); err != nil {
		cerr.SetJSONError(ctx, toCerr(err))
		return
	}
	cerr.SetJSONResponse(ctx, s.scheduler.Pool())
}

func toCerr(err error) error {
	switch {
	case errors.Is(err, ErrTaskNotFound):
		return cerr.NewError(cerr.NotFound, "task not found", err)
	case errors.Is(err, ErrNotRetryable):
		return cerr.NewError(cerr.FailedPrecondition, err.Error(), err)
	case errors.Is(err, ErrInvalidPoolSize):
		return cerr.NewError(cerr.InvalidArgument, err.Error(), err)
	}
	return err
}
