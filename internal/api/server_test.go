package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ytget/media-dispatch/internal/config"
	"github.com/ytget/media-dispatch/internal/config/kv"
	"github.com/ytget/media-dispatch/internal/download"
	"github.com/ytget/media-dispatch/internal/model"
)

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, id string) (*model.ResolvedItem, error) {
	item := model.NewResolvedItem(id)
	if id == "missing" {
		item.State = model.ItemStateFailed
		return item, errors.New("not found")
	}
	item.State = model.ItemStateReady
	item.Title = "Title " + id
	item.Variants = []model.Variant{{Label: model.QualitySource, URL: "u-" + id}}
	return item, nil
}

type stubDispatcher struct {
	mu   sync.Mutex
	sent []string
}

func (d *stubDispatcher) Dispatch(_ context.Context, item *model.ResolvedItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, item.ID)
	return nil
}

type fixture struct {
	srv      *httptest.Server
	api      *Server
	queue    *download.Service
	settings *config.Settings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := require.New(t)

	backend, err := kv.Open(kv.Options{Path: filepath.Join(t.TempDir(), "settings.db")})
	r.NoError(err)
	t.Cleanup(func() { backend.Close() })

	store, err := config.NewStore(context.Background(), backend, config.Defaults())
	r.NoError(err)
	t.Cleanup(store.Close)
	settings := config.NewSettings(store)

	queue := download.NewService(stubResolver{}, &stubDispatcher{})
	queue.SetSleepFunc(func(context.Context, time.Duration) error { return nil })

	server := New(Deps{Queue: queue, Resolver: stubResolver{}, Settings: settings})
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go server.Run(ctx)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, api: server, queue: queue, settings: settings}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQueueEndpoints(t *testing.T) {
	r := require.New(t)
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/queue", map[string]any{"id": "a", "label": "first"})
	r.Equal(http.StatusCreated, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/queue", map[string]any{
		"items": []map[string]any{{"id": "b", "label": "B"}, {"id": "a", "label": "second"}},
	})
	r.Equal(http.StatusCreated, resp.StatusCode)

	entries := f.queue.Entries()
	r.Len(entries, 2)
	r.Equal("a", entries[0].ID)
	r.Equal("second", entries[0].Label)

	resp, body := f.do(t, http.MethodGet, "/api/queue", nil)
	r.Equal(http.StatusOK, resp.StatusCode)
	r.Len(body["entries"], 2)

	resp, _ = f.do(t, http.MethodPost, "/api/queue", map[string]any{"label": "no id"})
	r.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/queue/b", nil)
	r.Equal(http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/queue/b", nil)
	r.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestDrainEndpoint(t *testing.T) {
	r := require.New(t)
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/queue/report", nil)
	r.Equal(http.StatusNotFound, resp.StatusCode)

	f.queue.Enqueue("a", "A")
	f.queue.Enqueue("b", "B")

	resp, body := f.do(t, http.MethodPost, "/api/queue/drain", nil)
	r.Equal(http.StatusAccepted, resp.StatusCode)
	r.EqualValues(2, body["pending"])

	r.Eventually(func() bool {
		_, ok := f.queue.LastReport()
		return ok && f.queue.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)

	resp, body = f.do(t, http.MethodGet, "/api/queue/report", nil)
	r.Equal(http.StatusOK, resp.StatusCode)
	r.Len(body["results"], 2)
}

func TestDrainEndpointConflict(t *testing.T) {
	r := require.New(t)
	f := newFixture(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	f.queue.SetSleepFunc(func(context.Context, time.Duration) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})
	f.queue.Enqueue("a", "A")

	resp, _ := f.do(t, http.MethodPost, "/api/queue/drain", nil)
	r.Equal(http.StatusAccepted, resp.StatusCode)
	<-started

	resp, _ = f.do(t, http.MethodPost, "/api/queue/drain", nil)
	r.Equal(http.StatusConflict, resp.StatusCode)

	close(release)
	r.Eventually(func() bool { return !f.queue.Draining() }, 5*time.Second, 10*time.Millisecond)
}

func TestResolveEndpoint(t *testing.T) {
	r := require.New(t)
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/resolve/abc123", nil)
	r.Equal(http.StatusOK, resp.StatusCode)
	r.Equal("Title abc123", body["title"])

	resp, body = f.do(t, http.MethodGet, "/api/resolve/missing", nil)
	r.Equal(http.StatusBadGateway, resp.StatusCode)
	r.Contains(body["error"], "not found")
}

func TestConfigEndpoints(t *testing.T) {
	r := require.New(t)
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/config", nil)
	r.Equal(http.StatusOK, resp.StatusCode)
	r.Equal(true, body["bootstrap"])
	values := body["values"].(map[string]any)
	r.Equal("aria2", values[config.KeyBackend])
	r.Equal("", values[config.KeyCookie])

	resp, _ = f.do(t, http.MethodPut, "/api/config/backend", map[string]any{"value": "ftp"})
	r.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/config/backend", map[string]any{"value": "companion"})
	r.Equal(http.StatusOK, resp.StatusCode)
	r.Equal(model.BackendCompanion, f.settings.GetBackend())

	resp, _ = f.do(t, http.MethodPut, "/api/config/jitter_max_ms", map[string]any{"value": 1500})
	r.Equal(http.StatusOK, resp.StatusCode)
	_, hi := f.settings.GetJitterWindow()
	r.Equal(1500*time.Millisecond, hi)

	resp, _ = f.do(t, http.MethodPut, "/api/config/colour", map[string]any{"value": "red"})
	r.Equal(http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/credentials", map[string]any{"cookie": "sid=1", "authorization": "Bearer x"})
	r.Equal(http.StatusNoContent, resp.StatusCode)
	cookie, _ := f.settings.Credentials()
	r.Equal("sid=1", cookie)

	resp, body = f.do(t, http.MethodGet, "/api/config/cookie", nil)
	r.Equal(http.StatusOK, resp.StatusCode)
	r.Equal(maskedValue, body["value"])

	resp, body = f.do(t, http.MethodPost, "/api/config/acknowledge", nil)
	r.Equal(http.StatusOK, resp.StatusCode)
	r.Equal(true, body["acknowledged"])

	_, body = f.do(t, http.MethodPost, "/api/config/acknowledge", nil)
	r.Equal(false, body["acknowledged"])

	_, body = f.do(t, http.MethodGet, "/api/config", nil)
	r.Equal(false, body["bootstrap"])
}

func TestBackendsEndpoint(t *testing.T) {
	r := require.New(t)
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/backends", nil)
	r.Equal(http.StatusOK, resp.StatusCode)
	r.Equal("aria2", body["active"])
	backends := body["backends"].([]any)
	r.Len(backends, len(model.BackendKinds()))
	for _, b := range backends {
		r.NotEmpty(b.(map[string]any)["name"])
	}

	r.NoError(f.settings.SetBackend(context.Background(), model.BackendDirect))
	_, body = f.do(t, http.MethodGet, "/api/backends", nil)
	r.Equal("direct", body["active"])
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestEventsStream(t *testing.T) {
	r := require.New(t)
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	r.NoError(err)
	defer conn.Close()

	r.Equal(EventHello, readEvent(t, conn).Type)
	r.Eventually(func() bool { return f.api.Hub().ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	f.queue.Enqueue("a", "A")
	ev := readEvent(t, conn)
	r.Equal(EventQueue, ev.Type)

	resp, _ := f.do(t, http.MethodDelete, "/api/queue/a", nil)
	r.Equal(http.StatusNoContent, resp.StatusCode)

	// Remove publishes a queue snapshot before the deselect event.
	r.Equal(EventQueue, readEvent(t, conn).Type)
	ev = readEvent(t, conn)
	r.Equal(EventDeselect, ev.Type)
	r.Equal("a", ev.ID)

	// Acknowledge so config changes are announced.
	_, err = f.settings.Store().Acknowledge(context.Background())
	r.NoError(err)
	r.NoError(f.settings.SetProxy(context.Background(), "socks5://127.0.0.1:1080"))

	ev = readEvent(t, conn)
	r.Equal(EventConfig, ev.Type)
	r.Equal(config.KeyProxy, ev.Key)
	r.Equal("socks5://127.0.0.1:1080", ev.Data)
}

func TestEventsRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/events"

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestIsLoopbackOrigin(t *testing.T) {
	require.True(t, isLoopbackOrigin("http://localhost:3000"))
	require.True(t, isLoopbackOrigin("http://127.0.0.1"))
	require.True(t, isLoopbackOrigin("http://[::1]:8080"))
	require.False(t, isLoopbackOrigin("https://example.com"))
}
