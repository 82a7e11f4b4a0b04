// Package openai adapts the OpenAI Chat Completions API to the scenario
// model interfaces using github.com/openai/openai-go. Chat Completions
// returns tool calls whole rather than as incremental argument fragments, so
// the adapter requests a complete turn and replays it as an ordered frame
// sequence: downstream code consumes OpenAI turns through the exact same
// collector path as the streaming providers.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"goa.design/fable/runtime/scenario/model"
)

type (
	// ChatClient captures the subset of the openai-go client used by the
	// adapter. It is satisfied by client.Chat.Completions.
	ChatClient interface {
		New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	}

	// Options configures the OpenAI adapter.
	Options struct {
		// DefaultModel is the model identifier used when TurnRequest.Model
		// is empty. Required.
		DefaultModel string

		// MaxTokens sets the default completion cap when a request does not
		// specify MaxTokens.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float64
	}

	// Client produces model turns from OpenAI Chat Completions.
	Client struct {
		chat         ChatClient
		defaultModel string
		maxTok       int
		temp         float64
	}
)

// New builds an OpenAI-backed turn client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Stream requests a complete chat completion and replays it as model frames.
func (c *Client) Stream(ctx context.Context, req *model.TurnRequest) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	completion, err := c.chat.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return newReplayStreamer(completion)
}

func (c *Client) prepareRequest(req *model.TurnRequest) (*sdk.ChatCompletionNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, sdk.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		encoded, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, encoded...)
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params := &sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(maxTokens))
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	return params, nil
}

func encodeMessage(m model.TurnMessage) ([]sdk.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case model.RoleUser:
		out := make([]sdk.ChatCompletionMessageParamUnion, 0, 1+len(m.ToolResults))
		if m.Text != "" {
			out = append(out, sdk.UserMessage(m.Text))
		}
		// OpenAI expects tool results as dedicated tool-role messages.
		for _, res := range m.ToolResults {
			out = append(out, sdk.ToolMessage(res.Content, res.ToolCallID))
		}
		if len(out) == 0 {
			return nil, errors.New("openai: empty user message")
		}
		return out, nil
	case model.RoleAssistant:
		if len(m.ToolCalls) == 0 {
			return []sdk.ChatCompletionMessageParamUnion{sdk.AssistantMessage(m.Text)}, nil
		}
		assistant := sdk.ChatCompletionAssistantMessageParam{}
		if m.Text != "" {
			assistant.Content.OfString = sdk.String(m.Text)
		}
		for _, call := range m.ToolCalls {
			if call.Name == "" {
				return nil, errors.New("openai: tool call missing name")
			}
			assistant.ToolCalls = append(assistant.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
				ID: call.ID,
				Function: sdk.ChatCompletionMessageToolCallFunctionParam{
					Name:      call.Name,
					Arguments: string(call.Input),
				},
			})
		}
		return []sdk.ChatCompletionMessageParamUnion{{OfAssistant: &assistant}}, nil
	default:
		return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
	}
}

func encodeTools(defs []model.ToolDef) ([]sdk.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		if def.Description == "" {
			return nil, fmt.Errorf("openai: tool %q is missing description", def.Name)
		}
		fn := sdk.FunctionDefinitionParam{
			Name:        def.Name,
			Description: sdk.String(def.Description),
		}
		if len(def.InputSchema) > 0 {
			var params sdk.FunctionParameters
			if err := json.Unmarshal(def.InputSchema, &params); err != nil {
				return nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
			}
			fn.Parameters = params
		}
		tools = append(tools, sdk.ChatCompletionToolParam{Function: fn})
	}
	return tools, nil
}
