// Package handler defines the provider call contract and the registry
// that maps (supplier, api_class) pairs onto concrete handlers.
package handler

import (
	"context"
	"sort"
	"sync"
)

// Cargo is the normalized result of one provider call. It is transient;
// only its data ends up in a manifest.
type Cargo struct {
	StatusCode string         `json:"status_code"`
	Data       map[string]any `json:"data"`
	Notes      string         `json:"notes"`
}

// Handler performs one provider call. params is the coupled parameter
// map for the call; key is the opaque credential payload from the
// resolved passport.
type Handler interface {
	Name() string
	Process(ctx context.Context, params map[string]any, key string) (*Cargo, error)
}

// handlerRegistry holds registered handlers keyed by
// "supplier:api_class".
var (
	handlerRegistry = make(map[string]Handler)
	registryMu      sync.RWMutex
)

// Register adds a handler for the (supplier, apiClass) pair.
func Register(supplier, apiClass string, h Handler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	handlerRegistry[supplier+":"+apiClass] = h
}

// Get retrieves the handler for the (supplier, apiClass) pair, or nil.
func Get(supplier, apiClass string) Handler {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return handlerRegistry[supplier+":"+apiClass]
}

// List returns all registered handler keys, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	keys := make([]string, 0, len(handlerRegistry))
	for key := range handlerRegistry {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
