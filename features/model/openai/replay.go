package openai

import (
	"errors"
	"fmt"
	"io"
	"sync"

	sdk "github.com/openai/openai-go"

	"goa.design/fable/runtime/scenario/model"
)

// replayStreamer replays a completed chat completion as an ordered frame
// sequence: text, then one start/delta/stop triple per tool call, then usage
// and the stop frame. Recv is synchronous; there is no transport left to
// wait on.
type replayStreamer struct {
	mu     sync.Mutex
	frames []model.Event
	next   int
	closed bool

	metadata map[string]any
}

func newReplayStreamer(completion *sdk.ChatCompletion) (model.Streamer, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, errors.New("openai: completion has no choices")
	}
	choice := completion.Choices[0]

	var frames []model.Event
	if choice.Message.Content != "" {
		frames = append(frames, model.Event{Type: model.EventTypeText, Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		if call.ID == "" {
			return nil, errors.New("openai: tool call missing id")
		}
		if call.Function.Name == "" {
			return nil, fmt.Errorf("openai: tool call %q missing function name", call.ID)
		}
		frames = append(frames, model.Event{
			Type:      model.EventTypeToolStart,
			ToolStart: &model.ToolStart{ID: call.ID, Name: call.Function.Name},
		})
		if call.Function.Arguments != "" {
			frames = append(frames, model.Event{
				Type:      model.EventTypeToolDelta,
				ToolDelta: &model.ToolDelta{ID: call.ID, Delta: call.Function.Arguments},
			})
		}
		frames = append(frames, model.Event{
			Type:     model.EventTypeToolStop,
			ToolStop: &model.ToolStop{ID: call.ID},
		})
	}
	usage := model.TokenUsage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:  int(completion.Usage.TotalTokens),
	}
	frames = append(frames, model.Event{Type: model.EventTypeUsage, Usage: &usage})
	frames = append(frames, model.Event{Type: model.EventTypeStop, StopReason: string(choice.FinishReason)})

	return &replayStreamer{
		frames:   frames,
		metadata: map[string]any{"usage": usage, "completion_id": completion.ID},
	}, nil
}

func (s *replayStreamer) Recv() (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Event{}, errors.New("openai: streamer closed")
	}
	if s.next >= len(s.frames) {
		return model.Event{}, io.EOF
	}
	ev := s.frames[s.next]
	s.next++
	return ev, nil
}

func (s *replayStreamer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *replayStreamer) Metadata() map[string]any {
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}
