package pushnotification

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/storyguild/internal/config"
	"github.com/kazz187/storyguild/internal/pushsubscription"
	"github.com/kazz187/storyguild/pkg/cerr"
)

type Server struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	sender   Notifier
}

func NewServer(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, sender Notifier) *Server {
	return &Server{
		vapidEnv: vapidEnv,
		repo:     repo,
		sender:   sender,
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/push", func(r chi.Router) {
		r.Get("/vapid-public-key", s.getVapidPublicKey)
		r.Post("/subscriptions", s.registerSubscription)
		r.Delete("/subscriptions", s.unregisterSubscription)
		r.Post("/test", s.sendTestNotification)
	})
}

type VapidPublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

type RegisterSubscriptionRequest struct {
	Endpoint  string   `json:"endpoint"`
	P256dhKey string   `json:"p256dh_key"`
	AuthKey   string   `json:"auth_key"`
	Topics    []string `json:"topics,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

type SubscriptionResponse struct {
	ID        string                   `json:"id"`
	Topics    []pushsubscription.Topic `json:"topics,omitempty"`
	EntityIDs []string                 `json:"entity_ids,omitempty"`
}

type UnregisterSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
}

func (s *Server) getVapidPublicKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.vapidEnv.VAPIDPublicKey == "" {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "VAPID keys not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, VapidPublicKeyResponse{PublicKey: s.vapidEnv.VAPIDPublicKey})
}

func (s *Server) registerSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RegisterSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	switch {
	case req.Endpoint == "":
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	case req.P256dhKey == "":
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "p256dh_key is required", nil)
		return
	case req.AuthKey == "":
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "auth_key is required", nil)
		return
	}

	topics, err := pushsubscription.ParseTopics(req.Topics)
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, err.Error(), err)
		return
	}

	now := time.Now()
	sub, err := s.repo.FindByEndpoint(ctx, req.Endpoint)
	status := http.StatusOK
	switch {
	case cerr.IsCode(err, cerr.NotFound):
		sub = &pushsubscription.Subscription{
			ID:        pushsubscription.IDForEndpoint(req.Endpoint),
			Endpoint:  req.Endpoint,
			CreatedAt: now,
		}
		status = http.StatusCreated
	case err != nil:
		cerr.SetJSONError(ctx, err)
		return
	}
	// re-registering an endpoint replaces its keys and scope
	sub.P256dhKey = req.P256dhKey
	sub.AuthKey = req.AuthKey
	sub.Topics = topics
	sub.EntityIDs = slices.DeleteFunc(slices.Clone(req.EntityIDs), func(id string) bool { return id == "" })
	sub.UpdatedAt = now
	if err := s.repo.Save(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, status, SubscriptionResponse{
		ID:        sub.ID,
		Topics:    sub.Topics,
		EntityIDs: sub.EntityIDs,
	})
}

func (s *Server) unregisterSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req UnregisterSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	}
	if err := s.repo.Delete(ctx, pushsubscription.IDForEndpoint(req.Endpoint)); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

func (s *Server) sendTestNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.sender.SendToAll(ctx, &NotificationPayload{
		Title: "StoryGuild Test",
		Body:  "Push notifications are working!",
	})
	cerr.SetJSONResponse(ctx, struct{}{})
}
