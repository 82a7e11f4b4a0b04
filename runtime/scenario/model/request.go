package model

import (
	"context"
	"encoding/json"
	"errors"
)

type (
	// Client opens a streaming turn against a generation provider. Provider
	// adapters in features/model implement it; middlewares wrap it.
	Client interface {
		// Stream requests a turn and returns the event stream for it.
		Stream(ctx context.Context, req *TurnRequest) (Streamer, error)
	}

	// TurnRequest describes one model turn: the conversation so far, the
	// tools the model may call, and generation parameters. Provider adapters
	// translate it into their native request shape.
	TurnRequest struct {
		// Model is the provider model identifier. Adapters fall back to
		// their configured default when empty.
		Model string
		// System is the system prompt, when any.
		System string
		// MaxTokens caps the completion length. Adapters fall back to their
		// configured default when zero.
		MaxTokens int
		// Temperature overrides the adapter default when positive.
		Temperature float64
		// Messages is the conversation, oldest first.
		Messages []TurnMessage
		// Tools advertises the callable tools for this turn.
		Tools []ToolDef
	}

	// TurnMessage is one conversation entry. Assistant messages may carry
	// the tool calls the model made; user messages may carry the results
	// answering them.
	TurnMessage struct {
		Role string
		Text string
		// ToolCalls echoes previously collected invocations back to the
		// provider on assistant messages.
		ToolCalls []ToolCall
		// ToolResults answers earlier tool calls on user messages.
		ToolResults []ToolResultPart
	}

	// ToolResultPart is a serialized tool result handed back to the model as
	// part of the next turn.
	ToolResultPart struct {
		ToolCallID string
		Content    string
		IsError    bool
	}

	// ToolDef advertises one callable tool to the model.
	ToolDef struct {
		Name        string
		Description string
		// InputSchema is the JSON Schema for the tool's arguments.
		InputSchema json.RawMessage
	}
)

// Conversation roles used in TurnMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrRateLimited reports that the provider rejected a request for capacity
// reasons. Adapters and callers wrap provider 429-style failures with it so
// middlewares can react; see features/model/middleware.
var ErrRateLimited = errors.New("model: rate limited")
