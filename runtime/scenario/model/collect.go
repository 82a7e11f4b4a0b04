package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type (
	// Transcript is the assembled output of one turn: the concatenated prose,
	// the completed tool calls in the order their blocks were closed, and the
	// final token usage. Transcript values are turn-scoped; callers hand the
	// tool calls to the dispatch registry and discard the rest after the turn.
	Transcript struct {
		// Text is the assistant prose, concatenated from text deltas in arrival order.
		Text string
		// ToolCalls lists the completed invocations in wire order.
		ToolCalls []ToolCall
		// Usage is the last usage report observed on the stream.
		Usage TokenUsage
		// StopReason is the termination reason from the stop frame, when present.
		StopReason string
	}

	// Collector consumes a Streamer and assembles a Transcript. It buffers
	// argument fragments keyed by invocation id — never by block index or
	// arrival position — so interleaved tool-use blocks assemble correctly
	// even though providers today serialize them.
	//
	// A Collector is single-use: construct one per turn.
	Collector struct {
		onText func(string) error

		buffers map[string]*argBuffer
		order   []string
	}

	// CollectorOption customizes a Collector.
	CollectorOption func(*Collector)

	argBuffer struct {
		name      string
		fragments []string
		closed    bool
	}
)

// WithTextFunc registers a callback invoked with each prose delta as it
// arrives, before the transcript is assembled. Use this to forward text to a
// client-facing sink while the turn is still streaming. A callback error
// aborts collection.
func WithTextFunc(fn func(delta string) error) CollectorOption {
	return func(c *Collector) {
		c.onText = fn
	}
}

// NewCollector returns a Collector ready to consume one turn.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		buffers: make(map[string]*argBuffer),
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

// Collect drains the streamer and assembles the turn transcript. It returns
// ErrIncompleteTurn (wrapped) when the transport ends before the stop frame
// arrives or while a tool-use block is still open; the partial transcript
// assembled so far is returned alongside the error so callers can inspect it.
// Transport and malformed-frame failures are returned verbatim.
//
// Collect does not close the streamer; the caller owns its lifecycle.
func (c *Collector) Collect(s Streamer) (*Transcript, error) {
	var (
		text    strings.Builder
		calls   []ToolCall
		usage   TokenUsage
		stopped bool
		reason  string
	)

	for !stopped {
		ev, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return c.partial(text.String(), calls, usage, reason), err
		}
		switch ev.Type {
		case EventTypeText:
			if ev.Text == "" {
				continue
			}
			if c.onText != nil {
				if cbErr := c.onText(ev.Text); cbErr != nil {
					return c.partial(text.String(), calls, usage, reason), cbErr
				}
			}
			text.WriteString(ev.Text)
		case EventTypeToolStart:
			if err := c.start(ev.ToolStart); err != nil {
				return c.partial(text.String(), calls, usage, reason), err
			}
		case EventTypeToolDelta:
			if err := c.append(ev.ToolDelta); err != nil {
				return c.partial(text.String(), calls, usage, reason), err
			}
		case EventTypeToolStop:
			call, err := c.finish(ev.ToolStop)
			if err != nil {
				return c.partial(text.String(), calls, usage, reason), err
			}
			calls = append(calls, call)
		case EventTypeUsage:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		case EventTypeStop:
			reason = ev.StopReason
			stopped = true
		}
	}

	out := c.partial(text.String(), calls, usage, reason)
	if !stopped {
		return out, fmt.Errorf("transport closed with %d open tool block(s): %w", c.openCount(), ErrIncompleteTurn)
	}
	if n := c.openCount(); n > 0 {
		return out, fmt.Errorf("turn stopped with %d unclosed tool block(s): %w", n, ErrIncompleteTurn)
	}
	return out, nil
}

func (c *Collector) partial(text string, calls []ToolCall, usage TokenUsage, reason string) *Transcript {
	return &Transcript{
		Text:       text,
		ToolCalls:  calls,
		Usage:      usage,
		StopReason: reason,
	}
}

func (c *Collector) start(ts *ToolStart) error {
	if ts == nil {
		return errors.New("model: tool start frame missing payload")
	}
	if ts.ID == "" {
		return errors.New("model: tool start frame missing invocation id")
	}
	if ts.Name == "" {
		return fmt.Errorf("model: tool start frame %q missing tool name", ts.ID)
	}
	if _, exists := c.buffers[ts.ID]; exists {
		return fmt.Errorf("model: duplicate tool start for invocation %q", ts.ID)
	}
	c.buffers[ts.ID] = &argBuffer{name: ts.Name}
	c.order = append(c.order, ts.ID)
	return nil
}

func (c *Collector) append(td *ToolDelta) error {
	if td == nil {
		return errors.New("model: tool delta frame missing payload")
	}
	buf, ok := c.buffers[td.ID]
	if !ok {
		return fmt.Errorf("model: tool delta for unknown invocation %q", td.ID)
	}
	if buf.closed {
		return fmt.Errorf("model: tool delta after close for invocation %q", td.ID)
	}
	if td.Delta != "" {
		buf.fragments = append(buf.fragments, td.Delta)
	}
	return nil
}

func (c *Collector) finish(ts *ToolStop) (ToolCall, error) {
	if ts == nil {
		return ToolCall{}, errors.New("model: tool stop frame missing payload")
	}
	buf, ok := c.buffers[ts.ID]
	if !ok {
		return ToolCall{}, fmt.Errorf("model: tool stop for unknown invocation %q", ts.ID)
	}
	if buf.closed {
		return ToolCall{}, fmt.Errorf("model: duplicate tool stop for invocation %q", ts.ID)
	}
	buf.closed = true
	return ToolCall{
		ID:    ts.ID,
		Name:  buf.name,
		Input: assembleInput(buf.fragments),
	}, nil
}

func (c *Collector) openCount() int {
	n := 0
	for _, id := range c.order {
		if buf := c.buffers[id]; buf != nil && !buf.closed {
			n++
		}
	}
	return n
}

// assembleInput joins the buffered fragments into the final argument
// document. An empty or blank buffer yields "{}" so downstream decoding
// always has a document to work with.
func assembleInput(fragments []string) json.RawMessage {
	if len(fragments) == 0 {
		return json.RawMessage("{}")
	}
	joined := strings.Join(fragments, "")
	if strings.TrimSpace(joined) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(joined)
}
