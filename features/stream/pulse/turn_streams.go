package pulse

import (
	"context"
	"errors"

	clientspulse "goa.design/fable/features/stream/pulse/clients/pulse"
	"goa.design/fable/runtime/scenario/stream"
)

// TurnStreams wires a caller-provided Pulse client into the turn runner. It
// owns a publishing sink (passed to turn.WithSink) and can spawn subscribers
// that reuse the same client so services do not need to manage multiple Pulse
// connections.
type TurnStreams struct {
	sink   *Sink
	client clientspulse.Client
}

// TurnStreamsOptions configures the helper returned by NewTurnStreams.
type TurnStreamsOptions struct {
	// Client is the Pulse client used for both publishing and subscribing. It is
	// required and typically built via features/stream/pulse/clients/pulse.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing sink (stream ID derivation,
	// marshaling). Leave zero-valued for defaults.
	Sink Options
}

// NewTurnStreams constructs helpers for publishing turn events to Pulse and
// subscribing to the resulting streams. Callers pass the returned sink to
// turn.WithSink and keep the helper around to create subscribers (e.g., SSE
// fan-out) later on.
func NewTurnStreams(opts TurnStreamsOptions) (*TurnStreams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &TurnStreams{sink: sink, client: opts.Client}, nil
}

// Sink exposes the publishing sink so callers can pass it to the turn runner.
func (t *TurnStreams) Sink() stream.Sink {
	return t.sink
}

// NewSubscriber constructs a Pulse-backed subscriber that reuses the helper's
// client. This keeps stream publishing and consumption on the same Redis
// connection pool.
func (t *TurnStreams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = t.client
	return NewSubscriber(opts)
}

// Close shuts down the publishing sink (and therefore the underlying Pulse
// client). Call this during service shutdown after all subscribers have been
// canceled.
func (t *TurnStreams) Close(ctx context.Context) error {
	return t.sink.Close(ctx)
}
