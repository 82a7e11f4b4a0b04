package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/fable/runtime/scenario/model"
)

// anthropicStreamer adapts an Anthropic Messages streaming stream to the
// model.Streamer interface. It emits raw frames; argument assembly is the
// collector's job.
type anthropicStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	events chan model.Event

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	as := &anthropicStreamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		events: make(chan model.Event, 32),
	}
	go as.run()
	return as
}

func (s *anthropicStreamer) Recv() (model.Event, error) {
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, nil
		}
		if err := s.err(); err != nil {
			return model.Event{}, err
		}
		return model.Event{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return model.Event{}, err
	}
}

func (s *anthropicStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *anthropicStreamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	if len(s.metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *anthropicStreamer) run() {
	defer close(s.events)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	processor := newEventProcessor(s.emit, s.recordUsage)

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			} else {
				s.setErr(nil)
			}
			return
		}
		event := s.stream.Current()
		if err := processor.Handle(event); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *anthropicStreamer) emit(ev model.Event) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.events <- ev:
		return nil
	}
}

func (s *anthropicStreamer) recordUsage(usage model.TokenUsage) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["usage"] = usage
	s.metaMu.Unlock()
}

func (s *anthropicStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *anthropicStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// eventProcessor converts Anthropic streaming events into model frames.
// Anthropic keys deltas by content block index; the processor translates
// indices back to invocation ids so downstream code never sees positional
// bookkeeping.
type eventProcessor struct {
	emit        func(model.Event) error
	recordUsage func(model.TokenUsage)

	// toolIDs maps content block index to tool invocation id for blocks
	// currently open.
	toolIDs map[int]string

	stopReason string
}

func newEventProcessor(emit func(model.Event) error, recordUsage func(model.TokenUsage)) *eventProcessor {
	return &eventProcessor{
		emit:        emit,
		recordUsage: recordUsage,
		toolIDs:     make(map[int]string),
	}
}

func (p *eventProcessor) Handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.toolIDs = make(map[int]string)
		p.stopReason = ""
		return nil
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if toolUse.ID == "" {
				return errors.New("anthropic stream: tool use block missing id")
			}
			if toolUse.Name == "" {
				return fmt.Errorf("anthropic stream: tool use block %q missing name", toolUse.ID)
			}
			p.toolIDs[idx] = toolUse.ID
			return p.emit(model.Event{
				Type:      model.EventTypeToolStart,
				ToolStart: &model.ToolStart{ID: toolUse.ID, Name: toolUse.Name},
			})
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return p.emit(model.Event{Type: model.EventTypeText, Text: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			id, ok := p.toolIDs[idx]
			if !ok {
				return fmt.Errorf("anthropic stream: tool JSON delta for unknown block %d", idx)
			}
			return p.emit(model.Event{
				Type:      model.EventTypeToolDelta,
				ToolDelta: &model.ToolDelta{ID: id, Delta: delta.PartialJSON},
			})
		default:
			return nil
		}
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		id, ok := p.toolIDs[idx]
		if !ok {
			// Text block closing; nothing to emit.
			return nil
		}
		delete(p.toolIDs, idx)
		return p.emit(model.Event{
			Type:     model.EventTypeToolStop,
			ToolStop: &model.ToolStop{ID: id},
		})
	case sdk.MessageDeltaEvent:
		p.stopReason = string(ev.Delta.StopReason)
		usage := model.TokenUsage{
			InputTokens:  int(ev.Usage.InputTokens),
			OutputTokens: int(ev.Usage.OutputTokens),
			TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
		}
		if p.recordUsage != nil {
			p.recordUsage(usage)
		}
		return p.emit(model.Event{Type: model.EventTypeUsage, Usage: &usage})
	case sdk.MessageStopEvent:
		ev2 := model.Event{Type: model.EventTypeStop, StopReason: p.stopReason}
		p.toolIDs = make(map[int]string)
		return p.emit(ev2)
	}
	return nil
}
