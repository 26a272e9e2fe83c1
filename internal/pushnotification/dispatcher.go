package pushnotification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kazz187/storyguild/internal/eventbus"
	"github.com/kazz187/storyguild/internal/pushsubscription"
	"github.com/kazz187/storyguild/internal/task"
)

// Dispatcher turns scheduler events into push notifications: one for every
// failed task and one for every finished image.
type Dispatcher struct {
	eventBus *eventbus.Bus
	notifier Notifier
}

func NewDispatcher(eventBus *eventbus.Bus, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		eventBus: eventBus,
		notifier: notifier,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			d.handle(ctx, event)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, event *eventbus.Event) {
	var topic pushsubscription.Topic
	switch event.Type {
	case eventbus.EventTaskFailed:
		topic = pushsubscription.TopicFailed
	case eventbus.EventTaskCompleted:
		if event.Metadata["class"] != task.ClassImage.String() {
			return
		}
		topic = pushsubscription.TopicImages
	default:
		return
	}

	var t task.Task
	if err := json.Unmarshal([]byte(event.Payload), &t); err != nil {
		slog.Error("push dispatcher: failed to decode task", "id", event.ResourceID, "error", err)
		return
	}
	d.notifier.Notify(ctx, topic, t.Entity.ID, notificationFor(event.Type, &t))
}

func notificationFor(eventType eventbus.EventType, t *task.Task) *NotificationPayload {
	subject := t.Entity.Name
	if subject == "" {
		subject = t.Entity.ID
	}
	p := &NotificationPayload{
		URL: fmt.Sprintf("/entities/%s", t.Entity.ID),
		Tag: t.ID,
	}
	if eventType == eventbus.EventTaskFailed {
		p.Title = "Generation failed"
		p.Body = fmt.Sprintf("%s for %s: %s", t.Type, subject, t.Error)
		return p
	}
	p.Title = "Image ready"
	p.Body = fmt.Sprintf("%s for %s", t.Type, subject)
	return p
}
