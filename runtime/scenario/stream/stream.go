// Package stream delivers turn execution updates to clients. Stream events
// are client-facing: assistant text as it arrives, tool invocation progress,
// and the consistency notifications (section rewrites, revision hints)
// produced while handlers run.
//
// All event types implement the Event interface and embed Base. Sinks are
// responsible for marshaling events into their wire format (JSON over SSE,
// WebSockets, or a message bus like Pulse).
package stream

import (
	"context"
	"encoding/json"
	"time"
)

type (
	// Sink delivers streaming updates to clients over a transport (SSE,
	// WebSocket, Pulse). Implementations must be safe for concurrent use.
	Sink interface {
		// Send publishes an event. Implementations marshal the event into
		// their wire format and handle delivery. A Send error surfaces to the
		// turn runner, which logs and continues; streaming is best effort and
		// never fails the turn.
		Send(ctx context.Context, event Event) error

		// Close releases resources owned by the sink. Close is idempotent;
		// after it returns, subsequent Send calls must return errors. The
		// context bounds graceful shutdown.
		Close(ctx context.Context) error
	}

	// Event describes a streaming event delivered through a Sink. Concrete
	// types embed Base for the standard metadata. Sinks marshal generically
	// via Payload; consumers type-assert when they need structured access.
	//
	// Events are immutable after construction.
	Event interface {
		// Type returns the event type constant (e.g. EventToolEnd).
		Type() EventType

		// TurnID returns the identifier of the turn that produced this event.
		// All events within one turn share the same ID, letting clients that
		// multiplex several turns over a single sink group them.
		TurnID() string

		// Payload returns the event-specific data in a JSON-serializable
		// form.
		Payload() any
	}

	// Base provides a default implementation of Event. Field names are
	// abbreviated because Base fields are rarely accessed directly.
	Base struct {
		// T is the event type constant.
		T EventType
		// R is the turn identifier.
		R string
		// P is the JSON-serializable payload returned by Payload.
		P any
	}

	// AssistantReply streams incremental assistant text as the model produces
	// it. Clients concatenate Text from sequential events to reconstruct the
	// full message.
	AssistantReply struct {
		Base
		Text string
	}

	// ToolStart streams when the dispatcher begins a tool invocation.
	ToolStart struct {
		Base
		Data ToolStartPayload
	}

	// ToolStartPayload carries the metadata for a started tool invocation.
	ToolStartPayload struct {
		// ToolCallID identifies this invocation. Clients correlate the
		// eventual ToolEnd with the ToolStart through it.
		ToolCallID string `json:"tool_call_id"`
		// ToolName is the registered tool name.
		ToolName string `json:"tool_name"`
		// Input is the decoded tool input as sent by the model.
		Input json.RawMessage `json:"input,omitempty"`
	}

	// ToolEnd streams when a tool invocation completes, successfully or not.
	// Every ToolStart is followed by exactly one ToolEnd.
	ToolEnd struct {
		Base
		Data ToolEndPayload
	}

	// ToolEndPayload carries the result of a completed tool invocation.
	ToolEndPayload struct {
		ToolCallID string `json:"tool_call_id"`
		ToolName   string `json:"tool_name"`
		// Result is the tool's textual output, or the failure message when
		// IsError is true.
		Result string `json:"result"`
		// IsError reports whether the invocation failed (unknown tool,
		// handler error, invalid input). Failures are conversational: the
		// generation service sees them as ordinary tool results.
		IsError bool `json:"is_error"`
		// Duration is the wall-clock execution time of the handler.
		Duration time.Duration `json:"duration"`
	}

	// SectionChanged streams when deterministic propagation rewrote a
	// section. Clients use it to refresh displayed scenario text.
	SectionChanged struct {
		Base
		Data SectionChangedPayload
	}

	// SectionChangedPayload identifies a rewritten section and its new
	// content.
	SectionChangedPayload struct {
		Scope     string `json:"scope"`
		SectionID string `json:"section_id"`
		Content   string `json:"content"`
		// Replacements is the number of substitutions applied to this
		// section.
		Replacements int `json:"replacements,omitempty"`
	}

	// RevisionHint streams a semantic propagation hint: sections that mention
	// a changed entity and the suggested revision. The hint is advisory; the
	// generation service acts on it in a later turn.
	RevisionHint struct {
		Base
		Data RevisionHintPayload
	}

	// RevisionHintPayload carries the revision request for clients and the
	// generation service.
	RevisionHintPayload struct {
		Scope             string   `json:"scope"`
		EntityName        string   `json:"entity_name"`
		ChangeDescription string   `json:"change_description"`
		AffectedSections  []string `json:"affected_sections"`
		SuggestedAction   string   `json:"suggested_action"`
	}
)

// EventType enumerates stream payload flavors.
type EventType string

const (
	// EventAssistantReply streams incremental assistant message text.
	EventAssistantReply EventType = "assistant_reply"

	// EventToolStart streams when a tool invocation begins.
	EventToolStart EventType = "tool_start"

	// EventToolEnd streams when a tool invocation completes.
	EventToolEnd EventType = "tool_end"

	// EventSectionChanged streams a deterministic section rewrite.
	EventSectionChanged EventType = "section_changed"

	// EventRevisionHint streams a semantic revision hint.
	EventRevisionHint EventType = "revision_hint"
)

// Type implements Event.Type.
func (e Base) Type() EventType { return e.T }

// TurnID implements Event.TurnID.
func (e Base) TurnID() string { return e.R }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.P }
