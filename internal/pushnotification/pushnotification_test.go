package pushnotification

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/storyguild/internal/config"
	"github.com/kazz187/storyguild/internal/eventbus"
	"github.com/kazz187/storyguild/internal/pushsubscription"
	"github.com/kazz187/storyguild/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/storyguild/internal/task"
	"github.com/kazz187/storyguild/pkg/cerr"
	"github.com/kazz187/storyguild/pkg/storage"
)

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []*NotificationPayload
	topics []pushsubscription.Topic
}

func (n *recordingNotifier) Notify(_ context.Context, topic pushsubscription.Topic, _ string, p *NotificationPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, p)
	n.topics = append(n.topics, topic)
}

func (n *recordingNotifier) SendToAll(_ context.Context, p *NotificationPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, p)
	n.topics = append(n.topics, "")
}

func (n *recordingNotifier) payloads() []*NotificationPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*NotificationPayload(nil), n.sent...)
}

func newSubRepo(t *testing.T) *repositoryimpl.YAMLRepository {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return repositoryimpl.NewYAMLRepository(s)
}

func taskEvent(t *testing.T, eventType eventbus.EventType, tk task.Task) *eventbus.Event {
	t.Helper()
	payload, err := json.Marshal(tk)
	require.NoError(t, err)
	return &eventbus.Event{
		Type:       eventType,
		ResourceID: tk.ID,
		Payload:    string(payload),
		Metadata:   map[string]string{"class": tk.Type.Class().String()},
	}
}

func TestDispatcher_Handle(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	d := NewDispatcher(eventbus.New(), n)
	aria := task.EntityRef{ID: "e1", Name: "Aria"}

	d.handle(ctx, taskEvent(t, eventbus.EventTaskCompleted, task.Task{ID: "t1", Entity: aria, Type: task.TypeName}))
	d.handle(ctx, taskEvent(t, eventbus.EventTaskCompleted, task.Task{ID: "t2", Entity: aria, Type: task.TypeImage}))
	d.handle(ctx, taskEvent(t, eventbus.EventTaskFailed, task.Task{ID: "t3", Entity: aria, Type: task.TypeBackstory, Error: "quota"}))
	d.handle(ctx, &eventbus.Event{Type: eventbus.EventQueueChanged})

	sent := n.payloads()
	require.Len(t, sent, 2)
	assert.Equal(t, "Image ready", sent[0].Title)
	assert.Equal(t, "image for Aria", sent[0].Body)
	assert.Equal(t, "t2", sent[0].Tag)
	assert.Equal(t, "/entities/e1", sent[0].URL)
	assert.Equal(t, "Generation failed", sent[1].Title)
	assert.Equal(t, "backstory for Aria: quota", sent[1].Body)
	assert.Equal(t, []pushsubscription.Topic{pushsubscription.TopicImages, pushsubscription.TopicFailed}, n.topics)
}

func TestDispatcher_Start(t *testing.T) {
	bus := eventbus.New()
	n := &recordingNotifier{}
	d := NewDispatcher(bus, n)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Start(ctx)
	}()

	ev := taskEvent(t, eventbus.EventTaskFailed, task.Task{ID: "t1", Entity: task.EntityRef{ID: "e1"}, Type: task.TypeName, Error: "boom"})
	require.Eventually(t, func() bool {
		bus.Publish(ev)
		return len(n.payloads()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "name for e1: boom", n.payloads()[0].Body)

	cancel()
	<-done
}

func subscriptionKeys(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(auth)
}

type pushEndpoint struct {
	mu        sync.Mutex
	delivered []string
}

func (p *pushEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/gone") {
		w.WriteHeader(http.StatusGone)
		return
	}
	p.mu.Lock()
	p.delivered = append(p.delivered, r.URL.Path)
	p.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (p *pushEndpoint) take() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.delivered
	p.delivered = nil
	return out
}

func newTestSender(t *testing.T, subs ...*pushsubscription.Subscription) (*Sender, *repositoryimpl.YAMLRepository) {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	repo := newSubRepo(t)
	for _, sub := range subs {
		sub.ID = pushsubscription.IDForEndpoint(sub.Endpoint)
		sub.P256dhKey, sub.AuthKey = subscriptionKeys(t)
		require.NoError(t, repo.Save(context.Background(), sub))
	}
	return NewSender(&config.VAPIDEnv{
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		VAPIDContact:    "mailto:test@example.com",
	}, repo), repo
}

func TestSender_SendToAll(t *testing.T) {
	ctx := context.Background()
	endpoint := &pushEndpoint{}
	push := httptest.NewServer(endpoint)
	defer push.Close()

	sender, repo := newTestSender(t,
		&pushsubscription.Subscription{Endpoint: push.URL + "/ok"},
		&pushsubscription.Subscription{Endpoint: push.URL + "/gone"},
	)
	sender.SendToAll(ctx, &NotificationPayload{Title: "hi", Body: "there"})

	assert.Equal(t, []string{"/ok"}, endpoint.take())
	subs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, push.URL+"/ok", subs[0].Endpoint)
}

func TestSender_NotifyHonoursScope(t *testing.T) {
	ctx := context.Background()
	endpoint := &pushEndpoint{}
	push := httptest.NewServer(endpoint)
	defer push.Close()

	sender, _ := newTestSender(t,
		&pushsubscription.Subscription{Endpoint: push.URL + "/all"},
		&pushsubscription.Subscription{Endpoint: push.URL + "/images", Topics: []pushsubscription.Topic{pushsubscription.TopicImages}},
		&pushsubscription.Subscription{Endpoint: push.URL + "/e2", EntityIDs: []string{"e2"}},
	)

	sender.Notify(ctx, pushsubscription.TopicFailed, "e1", &NotificationPayload{Title: "failed"})
	assert.ElementsMatch(t, []string{"/all"}, endpoint.take())

	sender.Notify(ctx, pushsubscription.TopicImages, "e1", &NotificationPayload{Title: "image"})
	assert.ElementsMatch(t, []string{"/all", "/images"}, endpoint.take())

	sender.Notify(ctx, pushsubscription.TopicFailed, "e2", &NotificationPayload{Title: "failed"})
	assert.ElementsMatch(t, []string{"/all", "/e2"}, endpoint.take())
}

func TestSender_Unconfigured(t *testing.T) {
	sender := NewSender(&config.VAPIDEnv{}, newSubRepo(t))
	assert.False(t, sender.Configured())
	sender.SendToAll(context.Background(), &NotificationPayload{Title: "ignored"})
}

func TestServer(t *testing.T) {
	repo := newSubRepo(t)
	n := &recordingNotifier{}

	r := chi.NewRouter()
	r.Use(cerr.NewJSONResponseChiMiddleware())
	NewServer(&config.VAPIDEnv{VAPIDPublicKey: "pub"}, repo, n).Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/push/vapid-public-key")
	require.NoError(t, err)
	var key VapidPublicKeyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&key))
	resp.Body.Close()
	assert.Equal(t, "pub", key.PublicKey)

	register := func(body string) (int, SubscriptionResponse) {
		resp, err := http.Post(srv.URL+"/push/subscriptions", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out SubscriptionResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	code, created := register(`{"endpoint":"https://push.example.com/x","p256dh_key":"k","auth_key":"a"}`)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, pushsubscription.IDForEndpoint("https://push.example.com/x"), created.ID)

	// the same endpoint again narrows the existing subscription
	code, updated := register(`{"endpoint":"https://push.example.com/x","p256dh_key":"k2","auth_key":"a2","topics":["images"],"entity_ids":["e1",""]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, []pushsubscription.Topic{pushsubscription.TopicImages}, updated.Topics)
	assert.Equal(t, []string{"e1"}, updated.EntityIDs)

	subs, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "k2", subs[0].P256dhKey)
	assert.False(t, subs[0].CreatedAt.After(subs[0].UpdatedAt))

	code, _ = register(`{"endpoint":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = register(`{"endpoint":"x","p256dh_key":"k","auth_key":"a","topics":["everything"]}`)
	assert.Equal(t, http.StatusBadRequest, code)

	resp, err = http.Post(srv.URL+"/push/test", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, n.payloads(), 1)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/push/subscriptions", strings.NewReader(`{"endpoint":"https://push.example.com/x"}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	subs, err = repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/push/subscriptions", strings.NewReader(`{"endpoint":"https://push.example.com/x"}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
