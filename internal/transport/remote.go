// Package transport talks to the remote data store. The engine only sees
// the RemoteAPI interface; timeouts belong to the implementation.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/models"
)

// RemoteState is the authoritative copy of an entity as the server sees it.
type RemoteState struct {
	Payload   models.Payload
	UpdatedAt time.Time
}

type RemoteAPI interface {
	Create(ctx context.Context, entityType, entityID string, payload models.Payload) (models.Payload, error)
	Update(ctx context.Context, entityType, entityID string, payload models.Payload) (models.Payload, error)
	Delete(ctx context.Context, entityType, entityID string) error
	// Fetch returns ErrNotFound when the entity does not exist remotely.
	Fetch(ctx context.Context, entityType, entityID string) (*RemoteState, error)
}

// Router dispatches each call to the RemoteAPI registered for its entity
// type, falling back to a default when one is set.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]RemoteAPI
	fallback RemoteAPI
}

func NewRouter(fallback RemoteAPI) *Router {
	return &Router{
		routes:   make(map[string]RemoteAPI),
		fallback: fallback,
	}
}

func (r *Router) Handle(entityType string, api RemoteAPI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[entityType] = api
}

func (r *Router) route(op, entityType string) (RemoteAPI, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if api, ok := r.routes[entityType]; ok {
		return api, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, &PermanentError{Op: op, Message: "no remote API registered for entity type " + entityType}
}

func (r *Router) Create(ctx context.Context, entityType, entityID string, payload models.Payload) (models.Payload, error) {
	api, err := r.route("create", entityType)
	if err != nil {
		return nil, err
	}
	return api.Create(ctx, entityType, entityID, payload)
}

func (r *Router) Update(ctx context.Context, entityType, entityID string, payload models.Payload) (models.Payload, error) {
	api, err := r.route("update", entityType)
	if err != nil {
		return nil, err
	}
	return api.Update(ctx, entityType, entityID, payload)
}

func (r *Router) Delete(ctx context.Context, entityType, entityID string) error {
	api, err := r.route("delete", entityType)
	if err != nil {
		return err
	}
	return api.Delete(ctx, entityType, entityID)
}

func (r *Router) Fetch(ctx context.Context, entityType, entityID string) (*RemoteState, error) {
	api, err := r.route("fetch", entityType)
	if err != nil {
		return nil, err
	}
	return api.Fetch(ctx, entityType, entityID)
}
