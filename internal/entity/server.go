package entity

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/storyguild/pkg/cerr"
)

const defaultListLimit = 50

type Server struct {
	service *Service
	repo    Repository
}

func NewServer(service *Service, repo Repository) *Server {
	return &Server{service: service, repo: repo}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/entities", func(r chi.Router) {
		r.Post("/", s.createEntity)
		r.Get("/", s.listEntities)
		r.Get("/{id}", s.getEntity)
		r.Delete("/{id}", s.deleteEntity)
	})
}

type CreateEntityRequest struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Kind    string            `json:"kind"`
	Culture string            `json:"culture"`
	Fields  map[string]string `json:"fields"`
}

type ListEntitiesResponse struct {
	Entities []*Entity `json:"entities"`
	Total    int       `json:"total"`
}

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	e := &Entity{
		ID:      req.ID,
		Name:    req.Name,
		Kind:    req.Kind,
		Culture: req.Culture,
		Fields:  req.Fields,
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if err := s.service.Create(ctx, e); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, e)
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := defaultListLimit, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid limit", err)
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid offset", err)
			return
		}
		offset = n
	}
	entities, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if entities == nil {
		entities = []*Entity{}
	}
	cerr.SetJSONResponse(ctx, ListEntitiesResponse{Entities: entities, Total: total})
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := s.repo.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, e)
}

func (s *Server) deleteEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.repo.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
