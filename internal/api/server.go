package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ytget/media-dispatch/internal/config"
	"github.com/ytget/media-dispatch/internal/download"
	"github.com/ytget/media-dispatch/internal/model"
)

// maskedValue replaces secrets in responses
const maskedValue = "********"

// Deps are the collaborators served over HTTP
type Deps struct {
	Queue    download.Queue
	Resolver download.Resolver
	Settings *config.Settings

	// BaseContext is the parent of background drains started over HTTP
	BaseContext context.Context
}

// Server exposes the queue, settings and events stream
type Server struct {
	deps        Deps
	hub         *Hub
	router      chi.Router
	unsubscribe []func()
}

// New wires the queue and settings callbacks to the events hub and builds
// the router.
func New(deps Deps) *Server {
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	s := &Server{deps: deps, hub: NewHub()}

	deps.Queue.SetDeselectCallback(func(id string) {
		s.hub.Publish(Event{Type: EventDeselect, ID: id})
	})
	deps.Queue.SetUpdateCallback(func(entries []model.QueueEntry) {
		s.hub.Publish(Event{Type: EventQueue, Data: entries})
	})

	store := deps.Settings.Store()
	for _, key := range store.Keys() {
		s.unsubscribe = append(s.unsubscribe, store.OnChange(key, func(key string, value any) {
			s.hub.Publish(Event{Type: EventConfig, Key: key, Data: publicValue(key, value)})
		}))
	}

	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/queue", s.listQueue)
		r.Post("/queue", s.enqueue)
		r.Delete("/queue/{id}", s.removeEntry)
		r.Post("/queue/drain", s.drain)
		r.Get("/queue/report", s.lastReport)

		r.Get("/resolve/{id}", s.resolve)

		r.Get("/backends", s.listBackends)
		r.Get("/config", s.listConfig)
		r.Get("/config/{key}", s.getConfig)
		r.Put("/config/{key}", s.putConfig)
		r.Post("/config/acknowledge", s.acknowledge)
		r.Post("/credentials", s.setCredentials)

		r.Get("/events", s.hub.HandleEvents)
	})
	return r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the events hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run delivers events until ctx is cancelled
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// Close detaches the server from settings notifications
func (s *Server) Close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
}

type enqueueRequest struct {
	ID    string         `json:"id"`
	Label string         `json:"label"`
	Items []enqueueEntry `json:"items,omitempty"`
}

type enqueueEntry struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type queueResponse struct {
	Entries  []model.QueueEntry `json:"entries"`
	Draining bool               `json:"draining"`
}

func (s *Server) listQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, queueResponse{Entries: s.deps.Queue.Entries(), Draining: s.deps.Queue.Draining()})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil {
		httpErrorJSON(w, http.StatusBadRequest, "invalid json body")
		return
	}

	items := req.Items
	if req.ID != "" {
		items = append([]enqueueEntry{{ID: req.ID, Label: req.Label}}, items...)
	}
	if len(items) == 0 {
		httpErrorJSON(w, http.StatusBadRequest, "id is required")
		return
	}
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			httpErrorJSON(w, http.StatusBadRequest, "id is required")
			return
		}
	}

	for _, item := range items {
		s.deps.Queue.Enqueue(strings.TrimSpace(item.ID), item.Label)
	}
	writeJSON(w, http.StatusCreated, queueResponse{Entries: s.deps.Queue.Entries(), Draining: s.deps.Queue.Draining()})
}

func (s *Server) removeEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.deps.Queue.Remove(id) {
		httpErrorJSON(w, http.StatusNotFound, "not queued: "+id)
		return
	}
	s.hub.Publish(Event{Type: EventDeselect, ID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) drain(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Queue.Draining() {
		httpErrorJSON(w, http.StatusConflict, download.ErrDrainInProgress.Error())
		return
	}

	pending := s.deps.Queue.Len()
	go func() {
		if _, err := s.deps.Queue.Drain(s.deps.BaseContext); err != nil && !errors.Is(err, download.ErrDrainInProgress) {
			log.Printf("[API] Drain ended: %v", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"pending": pending})
}

func (s *Server) lastReport(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.deps.Queue.LastReport()
	if !ok {
		httpErrorJSON(w, http.StatusNotFound, "no drain has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resolver == nil {
		httpErrorJSON(w, http.StatusNotImplemented, "resolver not configured")
		return
	}
	item, err := s.deps.Resolver.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "item": item})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type configResponse struct {
	Bootstrap bool           `json:"bootstrap"`
	Values    map[string]any `json:"values"`
}

type backendOption struct {
	Kind model.BackendKind `json:"kind"`
	Name string            `json:"name"`
}

type backendsResponse struct {
	Active   model.BackendKind `json:"active"`
	Backends []backendOption  `json:"backends"`
}

func (s *Server) listBackends(w http.ResponseWriter, _ *http.Request) {
	names := s.deps.Settings.GetBackendOptions()
	resp := backendsResponse{Active: s.deps.Settings.GetBackend()}
	for _, kind := range model.BackendKinds() {
		resp.Backends = append(resp.Backends, backendOption{Kind: kind, Name: names[kind]})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listConfig(w http.ResponseWriter, _ *http.Request) {
	store := s.deps.Settings.Store()
	values := make(map[string]any)
	for _, key := range store.Keys() {
		values[key] = publicValue(key, store.Get(key))
	}
	writeJSON(w, http.StatusOK, configResponse{Bootstrap: store.InBootstrap(), Values: values})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, known := config.Defaults()[key]; !known {
		httpErrorJSON(w, http.StatusNotFound, "unknown setting: "+key)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": publicValue(key, s.deps.Settings.Store().Get(key))})
}

type putConfigRequest struct {
	Value any `json:"value"`
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, known := config.Defaults()[key]; !known {
		httpErrorJSON(w, http.StatusNotFound, "unknown setting: "+key)
		return
	}

	var req putConfigRequest
	if err := decodeBody(r, &req); err != nil {
		httpErrorJSON(w, http.StatusBadRequest, "invalid json body")
		return
	}

	err := s.deps.Settings.Apply(r.Context(), key, req.Value)
	switch {
	case err == nil:
	case config.IsPersistenceError(err):
		// Kept in memory for this process.
		writeJSON(w, http.StatusAccepted, map[string]any{"key": key, "persisted": false, "error": err.Error()})
		return
	default:
		httpErrorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "persisted": true})
}

func (s *Server) acknowledge(w http.ResponseWriter, r *http.Request) {
	changed, err := s.deps.Settings.Store().Acknowledge(r.Context())
	if err != nil {
		httpErrorJSON(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": changed})
}

type credentialsRequest struct {
	Cookie        string `json:"cookie"`
	Authorization string `json:"authorization"`
}

func (s *Server) setCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		httpErrorJSON(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.deps.Settings.SetCredentials(r.Context(), req.Cookie, req.Authorization); err != nil && !config.IsPersistenceError(err) {
		httpErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func publicValue(key string, value any) any {
	if config.SecretKeys[key] {
		if str, _ := value.(string); str == "" {
			return ""
		}
		return maskedValue
	}
	return value
}

func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpErrorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(msg)})
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
