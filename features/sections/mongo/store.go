// Package mongo wires the sections.Store interface to the MongoDB client.
package mongo

import (
	"context"
	"errors"

	clientsmongo "goa.design/fable/features/sections/mongo/clients/mongo"
	"goa.design/fable/runtime/scenario/sections"
)

// Options configures the Store wrapper.
type Options struct {
	Client clientsmongo.Client
}

// Store implements sections.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed section store using the provided client.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: opts.Client}, nil
}

// NewStoreFromMongo is a helper that instantiates the underlying client using the given options.
func NewStoreFromMongo(opts clientsmongo.Options) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(Options{Client: client})
}

// Get returns the content of the section, or sections.ErrNotFound.
func (s *Store) Get(ctx context.Context, scope, sectionID string) (string, error) {
	return s.client.Get(ctx, scope, sectionID)
}

// Set creates or overwrites the section.
func (s *Store) Set(ctx context.Context, scope, sectionID, content string) error {
	return s.client.Set(ctx, scope, sectionID, content)
}

// All returns every section in the scope in first-write order.
func (s *Store) All(ctx context.Context, scope string) ([]sections.Section, error) {
	return s.client.All(ctx, scope)
}
