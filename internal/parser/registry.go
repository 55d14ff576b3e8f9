// Package parser holds the extraction backends and the registry that maps a
// requested parser kind to the backend that actually runs.
package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iago/pdf-processor-back/internal/domain"
)

// Backend turns PDF bytes into an Extraction.
type Backend interface {
	Kind() domain.ParserKind
	Extract(ctx context.Context, document []byte, filename string) (domain.Extraction, error)
}

// Resolution says which backend serves a requested kind.
type Resolution struct {
	Requested domain.ParserKind
	Used      domain.ParserKind
	Backend   Backend
	Fallback  bool
}

type Registry struct {
	mu        sync.RWMutex
	backends  map[domain.ParserKind]Backend
	fallbacks map[domain.ParserKind]domain.ParserKind
}

func NewRegistry() *Registry {
	return &Registry{
		backends:  make(map[domain.ParserKind]Backend),
		fallbacks: make(map[domain.ParserKind]domain.ParserKind),
	}
}

func (r *Registry) Register(backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[backend.Kind()] = backend
}

// RegisterFallback routes kind to target whenever kind has no backend of its own.
func (r *Registry) RegisterFallback(kind, target domain.ParserKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[kind] = target
}

// Validate fails when some parser kind cannot be resolved to a backend.
func (r *Registry) Validate() error {
	var problems []error
	for _, kind := range domain.ParserKinds() {
		if _, err := r.Resolve(kind); err != nil {
			problems = append(problems, err)
		}
	}
	return errors.Join(problems...)
}

func (r *Registry) Resolve(kind domain.ParserKind) (Resolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current := kind
	visited := map[domain.ParserKind]bool{}
	for !visited[current] {
		visited[current] = true
		if backend, ok := r.backends[current]; ok {
			return Resolution{
				Requested: kind,
				Used:      current,
				Backend:   backend,
				Fallback:  current != kind,
			}, nil
		}
		next, ok := r.fallbacks[current]
		if !ok {
			break
		}
		current = next
	}
	return Resolution{}, fmt.Errorf("no backend registered for parser %s", kind)
}
