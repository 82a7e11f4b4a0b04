package bedrock

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/fable/runtime/scenario/model"
)

// bedrockStreamer adapts a Bedrock ConverseStream event stream to the
// model.Streamer interface. It emits raw frames; argument assembly happens in
// the collector.
type bedrockStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	events chan model.Event

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	bs := &bedrockStreamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		events: make(chan model.Event, 32),
	}
	go bs.run()
	return bs
}

func (s *bedrockStreamer) Recv() (model.Event, error) {
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

func (s *bedrockStreamer) Close() error {
	s.cancel()
	return s.stream.Close()
}

func (s *bedrockStreamer) Metadata() map[string]any {
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

func (s *bedrockStreamer) run() {
	defer close(s.events)
	defer func() { _ = s.stream.Close() }()

	processor := newFrameProcessor(s.emit, s.recordUsage)
	events := s.stream.Events()

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(err)
				} else if err := s.ctx.Err(); err != nil {
					s.setErr(err)
				} else {
					s.setErr(nil)
				}
				return
			}
			if err := processor.Handle(event); err != nil {
				s.setErr(err)
				return
			}
		}
	}
}

func (s *bedrockStreamer) emit(ev model.Event) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.events <- ev:
		return nil
	}
}

func (s *bedrockStreamer) recordUsage(usage model.TokenUsage) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["usage"] = usage
	s.metaMu.Unlock()
}

func (s *bedrockStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *bedrockStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// frameProcessor converts Bedrock streaming events into model frames.
// Bedrock keys deltas by content block index; the processor translates
// indices back to invocation ids.
type frameProcessor struct {
	emit        func(model.Event) error
	recordUsage func(model.TokenUsage)

	toolIDs map[int]string
}

func newFrameProcessor(emit func(model.Event) error, recordUsage func(model.TokenUsage)) *frameProcessor {
	return &frameProcessor{
		emit:        emit,
		recordUsage: recordUsage,
		toolIDs:     make(map[int]string),
	}
}

func (p *frameProcessor) Handle(event any) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		p.toolIDs = make(map[int]string)
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		if start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			if start.Value.ToolUseId == nil || *start.Value.ToolUseId == "" {
				return fmt.Errorf("bedrock stream: tool use block %d missing id", idx)
			}
			if start.Value.Name == nil || *start.Value.Name == "" {
				return fmt.Errorf("bedrock stream: tool use block %q missing name", *start.Value.ToolUseId)
			}
			id := *start.Value.ToolUseId
			p.toolIDs[idx] = id
			return p.emit(model.Event{
				Type:      model.EventTypeToolStart,
				ToolStart: &model.ToolStart{ID: id, Name: *start.Value.Name},
			})
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			return p.emit(model.Event{Type: model.EventTypeText, Text: delta.Value})
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if delta.Value.Input == nil || *delta.Value.Input == "" {
				return nil
			}
			id, ok := p.toolIDs[idx]
			if !ok {
				return fmt.Errorf("bedrock stream: tool delta for unknown block %d", idx)
			}
			return p.emit(model.Event{
				Type:      model.EventTypeToolDelta,
				ToolDelta: &model.ToolDelta{ID: id, Delta: *delta.Value.Input},
			})
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		id, ok := p.toolIDs[idx]
		if !ok {
			return nil
		}
		delete(p.toolIDs, idx)
		return p.emit(model.Event{
			Type:     model.EventTypeToolStop,
			ToolStop: &model.ToolStop{ID: id},
		})
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		out := model.Event{Type: model.EventTypeStop, StopReason: string(ev.Value.StopReason)}
		p.toolIDs = make(map[int]string)
		return p.emit(out)
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return nil
		}
		var in, out, tot int
		if t := ev.Value.Usage.InputTokens; t != nil {
			in = int(*t)
		}
		if t := ev.Value.Usage.OutputTokens; t != nil {
			out = int(*t)
		}
		if t := ev.Value.Usage.TotalTokens; t != nil {
			tot = int(*t)
		}
		usage := model.TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: tot}
		if p.recordUsage != nil {
			p.recordUsage(usage)
		}
		return p.emit(model.Event{Type: model.EventTypeUsage, Usage: &usage})
	}
	return nil
}

func contentIndex(idx *int32) (int, error) {
	if idx == nil {
		return 0, fmt.Errorf("bedrock stream: content block index missing")
	}
	return int(*idx), nil
}
