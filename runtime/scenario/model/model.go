// Package model defines the provider-agnostic event feed consumed by the
// scenario pipeline. Provider adapters (features/model/anthropic,
// features/model/bedrock, features/model/openai) translate their native
// streaming frames into Event values; the Collector assembles those frames
// into completed tool calls that the dispatch registry can execute.
//
// The event model mirrors the wire: tool-call arguments arrive as partial
// JSON fragments that are only assembled and decoded once the close frame for
// the same invocation id is observed. Fragments for different invocation ids
// are buffered independently, so adapters whose transports interleave blocks
// still produce a well-formed sequence.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

type (
	// Streamer delivers incremental generation output. Successive calls to Recv
	// return Event values until io.EOF. Implementations must release any
	// underlying resources when Close is invoked.
	Streamer interface {
		// Recv returns the next event from the stream.
		Recv() (Event, error)
		// Close closes the stream.
		Close() error
		// Metadata returns provider-specific metadata for the stream. Typical keys
		// include identifiers such as "provider", "model" and request IDs. Callers
		// should treat contents as optional and provider-defined.
		Metadata() map[string]any
	}

	// Event represents one streaming frame emitted by the generation service.
	// The Type value indicates which payload fields are populated.
	//
	//   - "text":       Text carries an assistant prose delta.
	//   - "tool_start": ToolStart announces a new tool-use block (id + name).
	//   - "tool_delta": ToolDelta carries a partial JSON argument fragment.
	//   - "tool_stop":  ToolStop closes the argument stream for an invocation.
	//   - "usage":      Usage reports incremental token accounting.
	//   - "stop":       StopReason explains why the turn ended.
	Event struct {
		// Type is the frame kind. One of: "text", "tool_start", "tool_delta",
		// "tool_stop", "usage", or "stop".
		Type EventType
		// Text contains the prose delta when Type == "text".
		Text string
		// ToolStart is set when Type == "tool_start".
		ToolStart *ToolStart
		// ToolDelta is set when Type == "tool_delta".
		ToolDelta *ToolDelta
		// ToolStop is set when Type == "tool_stop".
		ToolStop *ToolStop
		// Usage reports incremental token usage when Type == "usage".
		Usage *TokenUsage
		// StopReason explains termination when Type == "stop". Values are
		// provider-specific and may be empty.
		StopReason string
	}

	// ToolStart announces that the service opened a tool-use block. Argument
	// fragments for the block follow as ToolDelta frames carrying the same ID.
	ToolStart struct {
		// ID uniquely identifies the invocation within the turn.
		ID string
		// Name is the tool the service wants to invoke.
		Name string
	}

	// ToolDelta carries a partial JSON fragment of an invocation's arguments.
	// Fragments must be concatenated in arrival order; the accumulated buffer
	// is only decoded once the matching ToolStop frame arrives.
	ToolDelta struct {
		// ID identifies the invocation this fragment belongs to.
		ID string
		// Delta is the raw partial JSON text. May be arbitrarily small.
		Delta string
	}

	// ToolStop closes the argument stream for an invocation.
	ToolStop struct {
		// ID identifies the invocation being closed.
		ID string
	}

	// ToolCall is a completed tool invocation assembled by the Collector.
	// Immutable once produced: exactly one ToolCall exists per tool-use block
	// closed by the service within a turn.
	ToolCall struct {
		// ID uniquely identifies the invocation within the turn.
		ID string
		// Name is the tool the service invoked.
		Name string
		// Input is the assembled argument document. Always non-nil; an empty
		// argument stream yields "{}". The bytes are not guaranteed to be valid
		// JSON when the service emitted malformed fragments; the dispatcher
		// converts decode failures into error results.
		Input json.RawMessage
	}

	// TokenUsage records prompt/completion token counts when reported by the
	// generation service. All fields are zero if the provider does not report
	// usage for the stream.
	TokenUsage struct {
		// InputTokens counts tokens consumed by the prompt and conversation history.
		InputTokens int
		// OutputTokens counts tokens produced in this turn.
		OutputTokens int
		// TotalTokens is the aggregate (InputTokens + OutputTokens) when available.
		TotalTokens int
	}
)

// EventType enumerates streaming frame kinds.
type EventType string

// Event type constants are the well-known frame kinds produced by provider
// adapters. These values populate Event.Type.
const (
	EventTypeText      EventType = "text"
	EventTypeToolStart EventType = "tool_start"
	EventTypeToolDelta EventType = "tool_delta"
	EventTypeToolStop  EventType = "tool_stop"
	EventTypeUsage     EventType = "usage"
	EventTypeStop      EventType = "stop"
)

// ErrIncompleteTurn reports that the underlying transport ended before the
// turn did: either no stop frame arrived or a tool-use block was still open.
// The condition is reported, never retried, by the parser; retry policy
// belongs to the caller. Use errors.Is to detect it.
var ErrIncompleteTurn = errors.New("model: stream ended before turn completed")

// Canceled reports whether err stems from context cancellation or deadline
// expiry, as opposed to a provider or transport failure.
func Canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
