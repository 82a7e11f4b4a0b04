// Package sections defines keyed storage for scenario content. A section is a
// named unit of document text ("setup", "developments", ...) scoped to a
// scene or similar namespace. Tool handlers write sections; the propagation
// engine reads them back to keep the document consistent after entity edits.
//
// The store keeps no history: the last write wins, and nothing in this core
// deletes sections (retention beyond the turn belongs to a persistence
// collaborator such as features/sections/mongo).
package sections

import (
	"context"
	"errors"
)

type (
	// Section is one named unit of scenario content within a scope.
	Section struct {
		// ID names the section within its scope (e.g. "setup").
		ID string `json:"section_id" bson:"section_id"`
		// Content is the current text of the section.
		Content string `json:"content" bson:"content"`
	}

	// Store is the section read/write contract shared by handlers and
	// propagators. Implementations must be safe for concurrent use even though
	// dispatch within a turn is strictly sequential: notification consumers and
	// other turns may read while a turn writes.
	Store interface {
		// Get returns the content of the section, or ErrNotFound when no write
		// has created it yet.
		Get(ctx context.Context, scope, sectionID string) (string, error)
		// Set creates the section on first write and overwrites it afterwards.
		Set(ctx context.Context, scope, sectionID, content string) error
		// All returns every section in the scope in first-write order. The order
		// is deterministic so propagation results are stable across calls.
		All(ctx context.Context, scope string) ([]Section, error)
	}
)

// ErrNotFound reports that no section exists for the requested scope and id.
var ErrNotFound = errors.New("sections: not found")
