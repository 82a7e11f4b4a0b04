package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/fable/runtime/scenario/model"
	"goa.design/fable/runtime/scenario/notify"
	"goa.design/fable/runtime/scenario/propagate"
	"goa.design/fable/runtime/scenario/registry"
	"goa.design/fable/runtime/scenario/sections/inmem"
	"goa.design/fable/runtime/scenario/stream"
)

// scriptStreamer replays a fixed event sequence and then reports EOF.
type scriptStreamer struct {
	events []model.Event
	next   int
}

func (s *scriptStreamer) Recv() (model.Event, error) {
	if s.next >= len(s.events) {
		return model.Event{}, io.EOF
	}
	ev := s.events[s.next]
	s.next++
	return ev, nil
}

func (s *scriptStreamer) Close() error { return nil }

func (s *scriptStreamer) Metadata() map[string]any { return nil }

// memSink records every event it receives.
type memSink struct {
	mu     sync.Mutex
	events []stream.Event
	fail   bool
}

func (m *memSink) Send(_ context.Context, ev stream.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink unavailable")
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memSink) Close(context.Context) error { return nil }

func (m *memSink) all() []stream.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stream.Event(nil), m.events...)
}

func renameScript() []model.Event {
	// The rename arguments arrive split mid-token to exercise fragment
	// buffering.
	return []model.Event{
		{Type: model.EventTypeText, Text: "Updating the "},
		{Type: model.EventTypeText, Text: "scenario now."},
		{Type: model.EventTypeToolStart, ToolStart: &model.ToolStart{ID: "call-1", Name: "rename_character"}},
		{Type: model.EventTypeToolDelta, ToolDelta: &model.ToolDelta{ID: "call-1", Delta: `{"scope":"scene-1","old_na`}},
		{Type: model.EventTypeToolDelta, ToolDelta: &model.ToolDelta{ID: "call-1", Delta: `me":"Aldric","new_name":"Theron"}`}},
		{Type: model.EventTypeToolStop, ToolStop: &model.ToolStop{ID: "call-1"}},
		{Type: model.EventTypeUsage, Usage: &model.TokenUsage{InputTokens: 40, OutputTokens: 25, TotalTokens: 65}},
		{Type: model.EventTypeStop, StopReason: "tool_use"},
	}
}

// registerRenameHandler wires a handler that renames a character across the
// section store and stages one notification per rewritten section.
func registerRenameHandler(t *testing.T, reg *registry.Registry, store *inmem.Store, buf *notify.Buffer) {
	t.Helper()
	err := reg.Register("rename_character", func(ctx context.Context, input json.RawMessage) (string, error) {
		var args struct {
			Scope   string `json:"scope"`
			OldName string `json:"old_name"`
			NewName string `json:"new_name"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("decode input: %w", err)
		}
		res, err := propagate.Rename(ctx, store, args.Scope, args.OldName, args.NewName, "")
		if err != nil {
			return "", err
		}
		for _, u := range res.UpdatedSections {
			buf.Append(notify.Notification{
				Kind:      notify.KindSectionChanged,
				Scope:     args.Scope,
				SectionID: u.SectionID,
				Payload: stream.SectionChangedPayload{
					Scope:        args.Scope,
					SectionID:    u.SectionID,
					Content:      u.UpdatedContent,
					Replacements: u.ReplacementCount,
				},
			})
		}
		return fmt.Sprintf("renamed %s to %s (%d replacements)", args.OldName, args.NewName, res.TotalReplacements), nil
	})
	require.NoError(t, err)
}

func TestRunnerRenameTurn(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	require.NoError(t, store.Set(ctx, "scene-1", "intro", "Aldric enters the tavern."))
	require.NoError(t, store.Set(ctx, "scene-1", "duel", "Aldric's blade flashes twice at Aldric's foe."))

	buf := notify.NewBuffer()
	reg := registry.New()
	registerRenameHandler(t, reg, store, buf)

	sink := &memSink{}
	runner, err := New(reg, WithSink(sink), WithBuffer(buf))
	require.NoError(t, err)

	out, err := runner.Run(ctx, &scriptStreamer{events: renameScript()})
	require.NoError(t, err)

	assert.Equal(t, "Updating the scenario now.", out.Text)
	assert.False(t, out.Incomplete)
	assert.Equal(t, "tool_use", out.StopReason)
	assert.Equal(t, 65, out.Usage.TotalTokens)

	require.Len(t, out.Results, 1)
	assert.Equal(t, "call-1", out.Results[0].ToolCallID)
	assert.False(t, out.Results[0].IsError)
	assert.Contains(t, out.Results[0].Content, "3 replacements")

	require.Len(t, out.Events, 2)
	assert.Equal(t, registry.LifecycleStart, out.Events[0].Type)
	assert.Equal(t, registry.LifecycleEnd, out.Events[1].Type)

	// Both sections were rewritten and drained as notifications.
	require.Len(t, out.Notifications, 2)
	assert.Equal(t, notify.KindSectionChanged, out.Notifications[0].Kind)
	assert.Equal(t, "intro", out.Notifications[0].SectionID)
	assert.Equal(t, "duel", out.Notifications[1].SectionID)
	assert.Zero(t, buf.Len())

	got, err := store.Get(ctx, "scene-1", "duel")
	require.NoError(t, err)
	assert.Equal(t, "Theron's blade flashes twice at Theron's foe.", got)

	// Stream order: text deltas, then tool progress, then section updates.
	var types []stream.EventType
	for _, ev := range sink.all() {
		types = append(types, ev.Type())
	}
	assert.Equal(t, []stream.EventType{
		stream.EventAssistantReply,
		stream.EventAssistantReply,
		stream.EventToolStart,
		stream.EventToolEnd,
		stream.EventSectionChanged,
		stream.EventSectionChanged,
	}, types)

	for _, ev := range sink.all() {
		assert.Equal(t, out.TurnID, ev.TurnID())
	}
}

func TestRunnerIncompleteTurnSkipsDispatch(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	called := false
	require.NoError(t, reg.Register("rename_character", func(context.Context, json.RawMessage) (string, error) {
		called = true
		return "", nil
	}))

	runner, err := New(reg)
	require.NoError(t, err)

	// Stream dies while the tool block is still open.
	script := []model.Event{
		{Type: model.EventTypeText, Text: "Partial "},
		{Type: model.EventTypeToolStart, ToolStart: &model.ToolStart{ID: "call-1", Name: "rename_character"}},
		{Type: model.EventTypeToolDelta, ToolDelta: &model.ToolDelta{ID: "call-1", Delta: `{"old_na`}},
	}
	out, err := runner.Run(ctx, &scriptStreamer{events: script})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrIncompleteTurn)
	assert.True(t, out.Incomplete)
	assert.Equal(t, "Partial ", out.Text)
	assert.Empty(t, out.Results)
	assert.False(t, called, "incomplete turns must not dispatch")
}

func TestRunnerUnknownToolIsConversational(t *testing.T) {
	ctx := context.Background()
	runner, err := New(registry.New())
	require.NoError(t, err)

	script := []model.Event{
		{Type: model.EventTypeToolStart, ToolStart: &model.ToolStart{ID: "call-9", Name: "summon_dragon"}},
		{Type: model.EventTypeToolStop, ToolStop: &model.ToolStop{ID: "call-9"}},
		{Type: model.EventTypeStop, StopReason: "tool_use"},
	}
	out, err := runner.Run(ctx, &scriptStreamer{events: script})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].IsError)
	assert.Contains(t, out.Results[0].Content, `unknown tool "summon_dragon"`)
}

func TestRunnerSinkFailureDoesNotFailTurn(t *testing.T) {
	ctx := context.Background()
	runner, err := New(registry.New(), WithSink(&memSink{fail: true}))
	require.NoError(t, err)

	script := []model.Event{
		{Type: model.EventTypeText, Text: "Hello."},
		{Type: model.EventTypeStop, StopReason: "end_turn"},
	}
	out, err := runner.Run(ctx, &scriptStreamer{events: script})
	require.NoError(t, err)
	assert.Equal(t, "Hello.", out.Text)
}

func TestRunnerRequiresRegistry(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
