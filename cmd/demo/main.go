// Command demo runs one scripted scenario turn through the full pipeline:
// stream collection, tool dispatch, rename propagation and event fan-out.
// It needs no provider credentials; swap the scripted streamer for
// features/model/anthropic (or bedrock, openai) to drive it from a live model.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"goa.design/clue/log"

	"goa.design/fable/example"
	"goa.design/fable/runtime/scenario/model"
	"goa.design/fable/runtime/scenario/notify"
	"goa.design/fable/runtime/scenario/registry"
	"goa.design/fable/runtime/scenario/sections/inmem"
	"goa.design/fable/runtime/scenario/stream"
	"goa.design/fable/runtime/scenario/telemetry"
	"goa.design/fable/runtime/scenario/turn"
)

// scriptStreamer replays a fixed frame sequence, standing in for a provider
// adapter.
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

func (s *scriptStreamer) Close() error             { return nil }
func (s *scriptStreamer) Metadata() map[string]any { return map[string]any{"provider": "script"} }

// printSink writes every forwarded event to stdout.
type printSink struct{}

func (printSink) Send(_ context.Context, ev stream.Event) error {
	fmt.Printf("  event %-16s turn=%s\n", ev.Type(), ev.TurnID())
	return nil
}

func (printSink) Close(context.Context) error { return nil }

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	store := inmem.New()
	buffer := notify.NewBuffer()
	reg := registry.New(registry.WithLogger(telemetry.NewClueLogger()))
	if err := example.RegisterSceneTools(reg, store, buffer); err != nil {
		fail(ctx, err)
	}

	// Seed the scenario document.
	seed := []struct{ id, content string }{
		{"setup", "Aldric guards the gate of Emberfall."},
		{"developments", "Aldric's patrol uncovers tracks in the snow."},
		{"npcs", "Aldric, a grizzled veteran of the border wars."},
	}
	for _, s := range seed {
		if err := store.Set(ctx, "scene-1", s.id, s.content); err != nil {
			fail(ctx, err)
		}
	}

	runner, err := turn.New(reg,
		turn.WithSink(printSink{}),
		turn.WithBuffer(buffer),
		turn.WithLogger(telemetry.NewClueLogger()),
	)
	if err != nil {
		fail(ctx, err)
	}

	script := &scriptStreamer{events: []model.Event{
		{Type: model.EventTypeText, Text: "The captain takes a new name. "},
		{Type: model.EventTypeToolStart, ToolStart: &model.ToolStart{ID: "call-1", Name: example.ToolRenameCharacter}},
		{Type: model.EventTypeToolDelta, ToolDelta: &model.ToolDelta{ID: "call-1", Delta: `{"scope":"scene-1","old_na`}},
		{Type: model.EventTypeToolDelta, ToolDelta: &model.ToolDelta{ID: "call-1", Delta: `me":"Aldric","new_name":"Theron"}`}},
		{Type: model.EventTypeToolStop, ToolStop: &model.ToolStop{ID: "call-1"}},
		{Type: model.EventTypeUsage, Usage: &model.TokenUsage{InputTokens: 52, OutputTokens: 31, TotalTokens: 83}},
		{Type: model.EventTypeStop, StopReason: "tool_use"},
	}}

	fmt.Println("Running turn:")
	out, err := runner.Run(ctx, script)
	if err != nil {
		fail(ctx, err)
	}

	fmt.Println("\nAssistant:", out.Text)
	for _, res := range out.Results {
		fmt.Printf("Tool result (%s): %s\n", res.ToolCallID, res.Content)
	}
	fmt.Printf("Usage: %d tokens\n", out.Usage.TotalTokens)

	fmt.Println("\nScenario after the turn:")
	all, err := store.All(ctx, "scene-1")
	if err != nil {
		fail(ctx, err)
	}
	for _, s := range all {
		fmt.Printf("  [%s] %s\n", s.ID, s.Content)
	}
}

func fail(ctx context.Context, err error) {
	log.Error(ctx, err)
	os.Exit(1)
}
