package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/fable/features/stream/pulse/clients/pulse"
	"goa.design/fable/runtime/scenario/stream"
)

type fakeClient struct {
	stream    *fakeStream
	streamErr error

	names  []string
	closed bool
}

func (f *fakeClient) Stream(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
	f.names = append(f.names, name)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

func (f *fakeClient) Close(context.Context) error {
	f.closed = true
	return nil
}

type added struct {
	event   string
	payload []byte
}

type fakeStream struct {
	sink   *fakeSink
	addErr error

	adds []added
}

func (f *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	f.adds = append(f.adds, added{event: event, payload: payload})
	return "1-0", nil
}

func (f *fakeStream) NewSink(context.Context, string, ...streamopts.Sink) (clientspulse.Sink, error) {
	return f.sink, nil
}

func (f *fakeStream) Destroy(context.Context) error { return nil }

type fakeSink struct {
	events chan *streaming.Event

	acked []string
}

func (f *fakeSink) Subscribe() <-chan *streaming.Event { return f.events }

func (f *fakeSink) Ack(_ context.Context, evt *streaming.Event) error {
	f.acked = append(f.acked, evt.ID)
	return nil
}

func (f *fakeSink) Close(context.Context) {}

func TestSendPublishesEnvelope(t *testing.T) {
	str := &fakeStream{}
	cli := &fakeClient{stream: str}

	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)

	endPayload := stream.ToolEndPayload{
		ToolCallID: "call-1",
		ToolName:   "rename_character",
		Result:     `{"total_replacements":3}`,
	}
	err = sink.Send(context.Background(), stream.ToolEnd{
		Base: stream.Base{T: stream.EventToolEnd, R: "turn-123", P: endPayload},
		Data: endPayload,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"turn/turn-123"}, cli.names)
	require.Len(t, str.adds, 1)
	assert.Equal(t, string(stream.EventToolEnd), str.adds[0].event)

	var env envelope
	require.NoError(t, json.Unmarshal(str.adds[0].payload, &env))
	assert.Equal(t, "tool_end", env.Type)
	assert.Equal(t, "turn-123", env.TurnID)
	assert.False(t, env.Timestamp.IsZero())
	body, ok := env.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "rename_character", body["tool_name"])
}

func TestSendMissingTurnID(t *testing.T) {
	cli := &fakeClient{stream: &fakeStream{}}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)

	err = sink.Send(context.Background(), stream.AssistantReply{
		Base: stream.Base{T: stream.EventAssistantReply},
	})
	assert.Error(t, err)
	assert.Empty(t, cli.names)
}

func TestSendCustomStreamID(t *testing.T) {
	str := &fakeStream{}
	cli := &fakeClient{stream: str}

	sink, err := NewSink(Options{
		Client:   cli,
		StreamID: func(stream.Event) (string, error) { return "scenario/all", nil },
	})
	require.NoError(t, err)

	err = sink.Send(context.Background(), stream.AssistantReply{
		Base: stream.Base{T: stream.EventAssistantReply, R: "turn-1"},
		Text: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"scenario/all"}, cli.names)
}

func TestSendAddFailure(t *testing.T) {
	str := &fakeStream{addErr: errors.New("redis down")}
	cli := &fakeClient{stream: str}

	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)

	err = sink.Send(context.Background(), stream.AssistantReply{
		Base: stream.Base{T: stream.EventAssistantReply, R: "turn-1"},
	})
	assert.ErrorContains(t, err, "redis down")
}

func TestNewSinkRequiresClient(t *testing.T) {
	_, err := NewSink(Options{})
	assert.Error(t, err)
}

func TestCloseDelegatesToClient(t *testing.T) {
	cli := &fakeClient{stream: &fakeStream{}}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	assert.True(t, cli.closed)
}
