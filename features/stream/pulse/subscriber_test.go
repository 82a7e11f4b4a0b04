package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"goa.design/fable/runtime/scenario/stream"
)

func TestSubscribeEmitsEvents(t *testing.T) {
	ctx := context.Background()
	eventCh := make(chan *streaming.Event, 1)
	snk := &fakeSink{events: eventCh}
	str := &fakeStream{sink: snk}
	cli := &fakeClient{stream: str}

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, Buffer: 2})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(ctx, "turn/turn-123")
	require.NoError(t, err)
	defer cancel()
	require.Equal(t, []string{"turn/turn-123"}, cli.names)

	payload, _ := json.Marshal(map[string]any{
		"type":      "assistant_reply",
		"turn_id":   "turn-123",
		"timestamp": time.Now(),
		"payload":   map[string]string{"text": "hi"},
	})
	eventCh <- &streaming.Event{ID: "1-0", Payload: payload}
	close(eventCh)

	e := <-events
	require.Equal(t, stream.EventAssistantReply, e.Type())
	require.Equal(t, "turn-123", e.TurnID())
	body := make(map[string]string)
	require.NoError(t, json.Unmarshal(e.Payload().(json.RawMessage), &body))
	require.Equal(t, "hi", body["text"])
	require.Empty(t, errs)

	_, ok := <-events
	require.False(t, ok)
	require.Equal(t, []string{"1-0"}, snk.acked)
}

func TestSubscribeDecoderError(t *testing.T) {
	eventCh := make(chan *streaming.Event, 1)
	snk := &fakeSink{events: eventCh}
	str := &fakeStream{sink: snk}
	cli := &fakeClient{stream: str}

	sub, err := NewSubscriber(SubscriberOptions{
		Client: cli,
		Decoder: func([]byte) (stream.Event, error) {
			return nil, errors.New("decode error")
		},
	})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "turn/turn-1")
	require.NoError(t, err)
	defer cancel()
	eventCh <- &streaming.Event{Payload: []byte("{}")}
	close(eventCh)

	require.Empty(t, events)
	require.EqualError(t, <-errs, "pulse decode payload: decode error")
}

func TestSubscribeStreamError(t *testing.T) {
	cli := &fakeClient{streamErr: errors.New("no redis")}
	sub, err := NewSubscriber(SubscriberOptions{Client: cli})
	require.NoError(t, err)

	_, _, _, err = sub.Subscribe(context.Background(), "turn/turn-1")
	require.ErrorContains(t, err, "no redis")
}

func TestNewSubscriberRequiresClient(t *testing.T) {
	_, err := NewSubscriber(SubscriberOptions{})
	require.Error(t, err)
}

func TestTurnStreamsWiring(t *testing.T) {
	str := &fakeStream{sink: &fakeSink{events: make(chan *streaming.Event)}}
	cli := &fakeClient{stream: str}

	ts, err := NewTurnStreams(TurnStreamsOptions{Client: cli})
	require.NoError(t, err)
	require.NotNil(t, ts.Sink())

	sub, err := ts.NewSubscriber(SubscriberOptions{})
	require.NoError(t, err)
	require.NotNil(t, sub)

	require.NoError(t, ts.Close(context.Background()))
	require.True(t, cli.closed)
}
