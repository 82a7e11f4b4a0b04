// Package inmem provides an in-memory implementation of sections.Store.
//
// It is intended for tests and local development. Production deployments
// should use a durable implementation (for example features/sections/mongo).
package inmem

import (
	"context"
	"errors"
	"sync"

	"goa.design/fable/runtime/scenario/sections"
)

type (
	// Store is an in-memory implementation of sections.Store.
	// It is safe for concurrent use.
	Store struct {
		mu     sync.RWMutex
		scopes map[string]*scope
	}

	scope struct {
		content map[string]string
		// order records section ids by first write so All is deterministic.
		order []string
	}
)

// New returns an empty Store.
func New() *Store {
	return &Store{scopes: make(map[string]*scope)}
}

// Get implements sections.Store.
func (s *Store) Get(_ context.Context, scopeID, sectionID string) (string, error) {
	if scopeID == "" {
		return "", errors.New("scope is required")
	}
	if sectionID == "" {
		return "", errors.New("section id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.scopes[scopeID]
	if !ok {
		return "", sections.ErrNotFound
	}
	content, ok := sc.content[sectionID]
	if !ok {
		return "", sections.ErrNotFound
	}
	return content, nil
}

// Set implements sections.Store. The first write to a section fixes its
// position in the scope's iteration order; subsequent writes overwrite the
// content in place.
func (s *Store) Set(_ context.Context, scopeID, sectionID, content string) error {
	if scopeID == "" {
		return errors.New("scope is required")
	}
	if sectionID == "" {
		return errors.New("section id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scopes[scopeID]
	if !ok {
		sc = &scope{content: make(map[string]string)}
		s.scopes[scopeID] = sc
	}
	if _, exists := sc.content[sectionID]; !exists {
		sc.order = append(sc.order, sectionID)
	}
	sc.content[sectionID] = content
	return nil
}

// All implements sections.Store.
func (s *Store) All(_ context.Context, scopeID string) ([]sections.Section, error) {
	if scopeID == "" {
		return nil, errors.New("scope is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.scopes[scopeID]
	if !ok {
		return nil, nil
	}
	out := make([]sections.Section, 0, len(sc.order))
	for _, id := range sc.order {
		out = append(out, sections.Section{ID: id, Content: sc.content[id]})
	}
	return out, nil
}
