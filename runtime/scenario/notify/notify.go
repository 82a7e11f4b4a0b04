// Package notify provides the pending-notification buffer shared by tool
// handlers within a turn. Handlers append side-channel notifications (a
// section changed, a revision hint was raised) while they run; after dispatch
// completes, the turn runner drains the buffer and forwards the entries to
// the transport layer.
//
// A Buffer is an explicit, owned object constructed per session or per turn
// and passed to handlers by reference. There is deliberately no package-level
// buffer: hidden process-wide state leaks notifications across turns and
// tests.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type (
	// Notification is one pending side-channel entry staged for delivery after
	// the turn completes.
	Notification struct {
		// ID uniquely identifies the notification. Assigned on append when empty.
		ID string `json:"id"`
		// Kind classifies the notification (e.g. KindSectionChanged).
		Kind string `json:"kind"`
		// Scope is the scene or namespace the notification concerns, when any.
		Scope string `json:"scope,omitempty"`
		// SectionID names the affected section, when any.
		SectionID string `json:"section_id,omitempty"`
		// Payload carries kind-specific data in a JSON-serializable form.
		Payload any `json:"payload,omitempty"`
		// CreatedAt records when the notification was appended (UTC).
		CreatedAt time.Time `json:"created_at"`
	}

	// Buffer accumulates notifications during a turn. Safe for concurrent use;
	// sequential dispatch makes concurrency unnecessary today, but the buffer
	// must not become the reason that invariant cannot be relaxed.
	Buffer struct {
		mu      sync.Mutex
		pending []Notification
	}
)

// Well-known notification kinds emitted by the built-in handlers.
const (
	// KindSectionChanged signals that a section's content was created or
	// overwritten during the turn.
	KindSectionChanged = "section_changed"
	// KindRevisionHint signals that a semantic change needs the generation
	// service to reconcile dependent sections on a later turn.
	KindRevisionHint = "revision_hint"
)

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append stages a notification for delivery. Empty IDs and zero timestamps
// are filled in.
func (b *Buffer) Append(n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	b.mu.Lock()
	b.pending = append(b.pending, n)
	b.mu.Unlock()
}

// DrainAll returns every pending notification in append order and empties the
// buffer. Draining an empty buffer returns nil.
func (b *Buffer) DrainAll() []Notification {
	b.mu.Lock()
	out := b.pending
	b.pending = nil
	b.mu.Unlock()
	return out
}

// Len reports the number of pending notifications.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
