package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/storyguild/internal/eventbus"
)

const keepAliveInterval = 30 * time.Second

// Server streams event bus traffic to HTTP clients as server-sent events.
type Server struct {
	eventBus *eventbus.Bus
}

func NewServer(eventBus *eventbus.Bus) *Server {
	return &Server{eventBus: eventBus}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/events", s.subscribeEvents)
}

// subscribeEvents accepts repeated ?type= filters and an optional
// ?entity_id= filter.
func (s *Server) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	typeFilter := make(map[eventbus.EventType]struct{})
	for _, et := range r.URL.Query()["type"] {
		typeFilter[eventbus.EventType(et)] = struct{}{}
	}
	entityID := r.URL.Query().Get("entity_id")

	subID, ch := s.eventBus.Subscribe(64)
	defer s.eventBus.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.WarnContext(ctx, "event stream: flush unsupported", "error", err)
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case event, ok := <-ch:
			if !ok {
				return
			}
			if len(typeFilter) > 0 {
				if _, match := typeFilter[event.Type]; !match {
					continue
				}
			}
			if entityID != "" && !matchesEntity(event, entityID) {
				continue
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func matchesEntity(event *eventbus.Event, entityID string) bool {
	if event.Type == eventbus.EventEntityUpdated {
		return event.ResourceID == entityID
	}
	return event.Metadata["entity_id"] == entityID
}

func writeEvent(w http.ResponseWriter, event *eventbus.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
	return err
}
