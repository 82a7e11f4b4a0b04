// Package turn orchestrates one model turn end to end: it collects the
// provider stream into a transcript, dispatches the completed tool calls
// through the registry, and forwards progress plus the handlers' pending
// notifications to the configured stream sink.
//
// The runner is the integration point of the engine; the packages it
// composes (model, registry, notify, stream) remain independently usable.
package turn

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/fable/runtime/scenario/model"
	"goa.design/fable/runtime/scenario/notify"
	"goa.design/fable/runtime/scenario/registry"
	"goa.design/fable/runtime/scenario/stream"
	"goa.design/fable/runtime/scenario/telemetry"
)

type (
	// Outcome is the result of one turn.
	Outcome struct {
		// TurnID identifies the turn. All stream events emitted during the
		// turn carry it.
		TurnID string
		// Text is the assistant prose assembled from the stream.
		Text string
		// ToolCalls lists the completed invocations collected from the
		// stream, in wire order.
		ToolCalls []model.ToolCall
		// Results holds one entry per dispatched invocation, in order. Empty
		// when the turn was incomplete: an incomplete turn dispatches
		// nothing.
		Results []registry.Result
		// Events is the dispatch lifecycle trace, two entries per
		// invocation.
		Events []registry.LifecycleEvent
		// Notifications are the side-channel entries handlers staged during
		// dispatch, drained in append order.
		Notifications []notify.Notification
		// Usage is the final token usage reported by the stream.
		Usage model.TokenUsage
		// StopReason is the stream's termination reason, when reported.
		StopReason string
		// Incomplete reports that the stream ended before the turn
		// completed. The transcript fields above hold whatever was
		// assembled; nothing was dispatched.
		Incomplete bool
	}

	// Runner executes turns against a fixed registry, sink and notification
	// buffer. Safe for sequential reuse across turns; the buffer is drained
	// at the end of every run.
	Runner struct {
		registry *registry.Registry
		buffer   *notify.Buffer
		sink     stream.Sink
		logger   telemetry.Logger
		tracer   telemetry.Tracer
	}

	// Option configures a Runner.
	Option func(*Runner)
)

// WithSink configures the client-facing stream sink. Without one the runner
// still executes turns; progress events are simply not forwarded.
func WithSink(sink stream.Sink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithBuffer configures the notification buffer shared with the registered
// handlers. Without one the runner creates a private buffer, which is only
// useful when no handler appends notifications.
func WithBuffer(b *notify.Buffer) Option {
	return func(r *Runner) {
		if b != nil {
			r.buffer = b
		}
	}
}

// WithLogger configures the runner logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer configures the runner tracer.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// New constructs a Runner around the given registry.
func New(reg *registry.Registry, opts ...Option) (*Runner, error) {
	if reg == nil {
		return nil, errors.New("turn: registry is required")
	}
	r := &Runner{
		registry: reg,
		buffer:   notify.NewBuffer(),
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r, nil
}

// Run executes one turn: collect the stream, dispatch the tool calls,
// forward progress and notifications to the sink.
//
// Assistant text is forwarded to the sink as it arrives, before collection
// finishes. When the stream ends before the turn completes, Run returns the
// partial Outcome with Incomplete set together with an error wrapping
// model.ErrIncompleteTurn, and no tool call is dispatched. When ctx is
// canceled mid-dispatch, the Outcome carries the results produced so far and
// the context error is returned.
//
// Sink failures never fail the turn: Send errors are logged and delivery
// continues with the next event.
func (r *Runner) Run(ctx context.Context, s model.Streamer) (*Outcome, error) {
	turnID := uuid.NewString()
	out := &Outcome{TurnID: turnID}

	ctx, span := r.tracer.Start(ctx, "scenario.turn",
		trace.WithAttributes(attribute.String("turn.id", turnID)),
	)
	defer span.End()

	collector := model.NewCollector(model.WithTextFunc(func(delta string) error {
		r.send(ctx, stream.AssistantReply{
			Base: stream.Base{T: stream.EventAssistantReply, R: turnID, P: delta},
			Text: delta,
		})
		return nil
	}))

	transcript, err := collector.Collect(s)
	out.Text = transcript.Text
	out.ToolCalls = transcript.ToolCalls
	out.Usage = transcript.Usage
	out.StopReason = transcript.StopReason
	if err != nil {
		if errors.Is(err, model.ErrIncompleteTurn) {
			out.Incomplete = true
			r.logger.Warn(ctx, "turn incomplete, skipping dispatch", "turn_id", turnID, "err", err)
			span.SetStatus(codes.Error, "incomplete turn")
			return out, fmt.Errorf("turn %s: %w", turnID, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream collection failed")
		return out, fmt.Errorf("turn %s: collect stream: %w", turnID, err)
	}

	dispatched, dispatchErr := r.registry.Dispatch(ctx, transcript.ToolCalls)
	out.Results = dispatched.Results
	out.Events = dispatched.Events
	r.forwardLifecycle(ctx, turnID, dispatched.Events)

	out.Notifications = r.buffer.DrainAll()
	r.forwardNotifications(ctx, turnID, out.Notifications)

	if dispatchErr != nil {
		span.RecordError(dispatchErr)
		span.SetStatus(codes.Error, "dispatch interrupted")
		return out, fmt.Errorf("turn %s: dispatch: %w", turnID, dispatchErr)
	}
	span.SetStatus(codes.Ok, "ok")
	return out, nil
}

// forwardLifecycle converts the dispatch trace into client-facing tool
// progress events.
func (r *Runner) forwardLifecycle(ctx context.Context, turnID string, events []registry.LifecycleEvent) {
	for _, ev := range events {
		switch ev.Type {
		case registry.LifecycleStart:
			data := stream.ToolStartPayload{
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.ToolName,
				Input:      ev.Input,
			}
			r.send(ctx, stream.ToolStart{
				Base: stream.Base{T: stream.EventToolStart, R: turnID, P: data},
				Data: data,
			})
		case registry.LifecycleEnd:
			data := stream.ToolEndPayload{
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.ToolName,
				Result:     ev.Content,
				IsError:    ev.IsError,
				Duration:   ev.Duration,
			}
			r.send(ctx, stream.ToolEnd{
				Base: stream.Base{T: stream.EventToolEnd, R: turnID, P: data},
				Data: data,
			})
		}
	}
}

// forwardNotifications converts drained handler notifications into stream
// events. Notifications with unrecognized payload shapes stay in the Outcome
// but are not forwarded.
func (r *Runner) forwardNotifications(ctx context.Context, turnID string, notes []notify.Notification) {
	for _, n := range notes {
		switch data := n.Payload.(type) {
		case stream.SectionChangedPayload:
			r.send(ctx, stream.SectionChanged{
				Base: stream.Base{T: stream.EventSectionChanged, R: turnID, P: data},
				Data: data,
			})
		case stream.RevisionHintPayload:
			r.send(ctx, stream.RevisionHint{
				Base: stream.Base{T: stream.EventRevisionHint, R: turnID, P: data},
				Data: data,
			})
		default:
			r.logger.Debug(ctx, "notification payload not forwarded",
				"turn_id", turnID, "kind", n.Kind, "notification_id", n.ID)
		}
	}
}

// send forwards one event to the sink, if any. Failures are logged, never
// propagated.
func (r *Runner) send(ctx context.Context, ev stream.Event) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Send(ctx, ev); err != nil {
		r.logger.Error(ctx, "stream send failed", "event_type", string(ev.Type()), "err", err)
	}
}
