package bedrock

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/fable/runtime/scenario/model"
)

func collectFrames(t *testing.T, events []any) []model.Event {
	t.Helper()
	var got []model.Event
	p := newFrameProcessor(func(ev model.Event) error {
		got = append(got, ev)
		return nil
	}, nil)
	for _, ev := range events {
		if err := p.Handle(ev); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	return got
}

func TestFrameProcessorToolUse(t *testing.T) {
	idx := int32(0)
	events := []any{
		&brtypes.ConverseStreamOutputMemberMessageStart{},
		&brtypes.ConverseStreamOutputMemberContentBlockStart{
			Value: brtypes.ContentBlockStartEvent{
				ContentBlockIndex: &idx,
				Start: &brtypes.ContentBlockStartMemberToolUse{
					Value: brtypes.ToolUseBlockStart{
						ToolUseId: aws.String("tooluse_1"),
						Name:      aws.String("rename_character"),
					},
				},
			},
		},
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{
			Value: brtypes.ContentBlockDeltaEvent{
				ContentBlockIndex: &idx,
				Delta: &brtypes.ContentBlockDeltaMemberToolUse{
					Value: brtypes.ToolUseBlockDelta{Input: aws.String(`{"old_name":"Ald`)},
				},
			},
		},
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{
			Value: brtypes.ContentBlockDeltaEvent{
				ContentBlockIndex: &idx,
				Delta: &brtypes.ContentBlockDeltaMemberToolUse{
					Value: brtypes.ToolUseBlockDelta{Input: aws.String(`ric"}`)},
				},
			},
		},
		&brtypes.ConverseStreamOutputMemberContentBlockStop{
			Value: brtypes.ContentBlockStopEvent{ContentBlockIndex: &idx},
		},
		&brtypes.ConverseStreamOutputMemberMessageStop{
			Value: brtypes.MessageStopEvent{StopReason: brtypes.StopReasonToolUse},
		},
	}

	got := collectFrames(t, events)
	want := []model.EventType{
		model.EventTypeToolStart,
		model.EventTypeToolDelta,
		model.EventTypeToolDelta,
		model.EventTypeToolStop,
		model.EventTypeStop,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(got))
	}
	for i, ev := range got {
		if ev.Type != want[i] {
			t.Fatalf("frame %d: expected %s, got %s", i, want[i], ev.Type)
		}
	}
	if got[0].ToolStart.ID != "tooluse_1" || got[0].ToolStart.Name != "rename_character" {
		t.Fatalf("unexpected tool start: %+v", got[0].ToolStart)
	}
	if got[1].ToolDelta.ID != "tooluse_1" {
		t.Fatalf("tool delta not keyed by id: %+v", got[1].ToolDelta)
	}
	if got[4].StopReason != string(brtypes.StopReasonToolUse) {
		t.Fatalf("unexpected stop reason %q", got[4].StopReason)
	}
}

func TestFrameProcessorTextAndUsage(t *testing.T) {
	idx := int32(0)
	in, out, tot := int32(7), int32(11), int32(18)
	events := []any{
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{
			Value: brtypes.ContentBlockDeltaEvent{
				ContentBlockIndex: &idx,
				Delta:             &brtypes.ContentBlockDeltaMemberText{Value: "The gates open."},
			},
		},
		&brtypes.ConverseStreamOutputMemberMessageStop{
			Value: brtypes.MessageStopEvent{StopReason: brtypes.StopReasonEndTurn},
		},
		&brtypes.ConverseStreamOutputMemberMetadata{
			Value: brtypes.ConverseStreamMetadataEvent{
				Usage: &brtypes.TokenUsage{InputTokens: &in, OutputTokens: &out, TotalTokens: &tot},
			},
		},
	}
	got := collectFrames(t, events)
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	if got[0].Type != model.EventTypeText || got[0].Text != "The gates open." {
		t.Fatalf("unexpected text frame: %+v", got[0])
	}
	if got[2].Type != model.EventTypeUsage || got[2].Usage.TotalTokens != 18 {
		t.Fatalf("unexpected usage frame: %+v", got[2])
	}
}

func TestFrameProcessorErrors(t *testing.T) {
	p := newFrameProcessor(func(model.Event) error { return nil }, nil)

	// Missing content index.
	err := p.Handle(&brtypes.ConverseStreamOutputMemberContentBlockDelta{
		Value: brtypes.ContentBlockDeltaEvent{
			Delta: &brtypes.ContentBlockDeltaMemberText{Value: "x"},
		},
	})
	if err == nil {
		t.Fatal("expected error for missing content block index")
	}

	// Tool delta for a block that never started.
	idx := int32(3)
	err = p.Handle(&brtypes.ConverseStreamOutputMemberContentBlockDelta{
		Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: &idx,
			Delta: &brtypes.ContentBlockDeltaMemberToolUse{
				Value: brtypes.ToolUseBlockDelta{Input: aws.String("{}")},
			},
		},
	})
	if err == nil {
		t.Fatal("expected error for delta on unknown block")
	}
}

func TestBuildInput(t *testing.T) {
	c := &Client{defaultModel: "anthropic.claude-sonnet-4-5", maxTok: 2048}

	input, err := c.buildInput(&model.TurnRequest{
		System: "You co-author adventure scenarios.",
		Messages: []model.TurnMessage{
			{Role: model.RoleUser, Text: "Rename Aldric to Theron."},
		},
		Tools: []model.ToolDef{
			{
				Name:        "rename_character",
				Description: "Rename a character across all scenario sections.",
				InputSchema: []byte(`{"type":"object"}`),
			},
		},
	})
	if err != nil {
		t.Fatalf("build input: %v", err)
	}
	if *input.ModelId != "anthropic.claude-sonnet-4-5" {
		t.Fatalf("unexpected model %q", *input.ModelId)
	}
	if len(input.System) != 1 {
		t.Fatalf("system prompt not encoded")
	}
	if input.ToolConfig == nil || len(input.ToolConfig.Tools) != 1 {
		t.Fatalf("tool config not encoded")
	}
	if input.InferenceConfig == nil || *input.InferenceConfig.MaxTokens != 2048 {
		t.Fatalf("inference config not applied: %+v", input.InferenceConfig)
	}

	if _, err := c.buildInput(&model.TurnRequest{}); err == nil {
		t.Fatal("expected error for empty messages")
	}
}
