// Package registry implements the tool dispatch registry: named handler
// registrations plus strictly sequential dispatch of completed tool calls
// with per-invocation failure isolation.
//
// A Registry is an explicit instance, constructed per server process or per
// test. Multiple independent registries (one per adventure stage, for
// example) coexist without sharing state; there is no package-level registry
// and no global Clear footgun.
//
// Dispatch never runs handlers concurrently. Handlers mutate shared state
// (the section store, the notification buffer) and later invocations in the
// same turn may depend on earlier writes — a rename handler followed by a
// section writer reading the renamed text. A reimplementation that
// parallelizes dispatch must make those collaborators visibility-safe first.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/fable/runtime/scenario/model"
	"goa.design/fable/runtime/scenario/telemetry"
)

type (
	// Handler executes one tool invocation. The input is the raw argument
	// document assembled from the stream; handlers decode it themselves unless
	// a schema was registered, in which case the document has already been
	// validated. Returning an error marks the result as failed; the error never
	// escapes Dispatch. Expected, user-facing validation issues should be
	// returned as errors too — the service sees the message and adapts its next
	// turn.
	Handler func(ctx context.Context, input json.RawMessage) (string, error)

	// Result is the outcome of one invocation. Exactly one Result exists per
	// dispatched tool call, known or not, failed or not, in input order.
	Result struct {
		// ToolCallID identifies the invocation this result answers.
		ToolCallID string `json:"tool_call_id"`
		// Content is the handler output on success or the failure message on error.
		Content string `json:"content"`
		// IsError marks unknown-tool, validation and handler failures.
		IsError bool `json:"is_error"`
	}

	// LifecycleEvent traces the dispatch of one invocation. Every invocation
	// emits exactly two events, start then end, whether or not it succeeds.
	LifecycleEvent struct {
		// Type is LifecycleStart or LifecycleEnd.
		Type string `json:"type"`
		// ToolCallID identifies the invocation.
		ToolCallID string `json:"tool_call_id"`
		// ToolName is the requested tool, known or not.
		ToolName string `json:"tool_name"`
		// Input carries the raw argument document on start events.
		Input json.RawMessage `json:"input,omitempty"`
		// Content carries the result content on end events.
		Content string `json:"content,omitempty"`
		// IsError marks failed invocations on end events.
		IsError bool `json:"is_error,omitempty"`
		// Duration is the handler wall-clock time on end events.
		Duration time.Duration `json:"duration,omitempty"`
	}

	// DispatchResult bundles the per-invocation results with the lifecycle
	// trace. Both slices follow input order; Events holds two entries per
	// invocation.
	DispatchResult struct {
		Results []Result
		Events  []LifecycleEvent
	}

	// Registry holds named handler registrations and dispatches completed tool
	// calls. Safe for concurrent registration and dispatch, though invocations
	// within one Dispatch call always run sequentially.
	Registry struct {
		mu       sync.RWMutex
		handlers map[string]registration

		logger  telemetry.Logger
		tracer  telemetry.Tracer
		metrics telemetry.Metrics
	}

	registration struct {
		handler Handler
		schema  *jsonschema.Schema
	}

	// Option configures a Registry.
	Option func(*Registry)

	// RegisterOption configures a single registration.
	RegisterOption func(*registration)
)

// Lifecycle event types.
const (
	LifecycleStart = "start"
	LifecycleEnd   = "end"
)

// WithLogger configures the registry logger. When nil, the registry uses a
// noop logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer configures the registry tracer. When nil, the registry uses a
// noop tracer.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(r *Registry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithMetrics configures the registry metrics recorder. When nil, the
// registry discards metrics.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(r *Registry) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithInputSchema attaches a compiled JSON Schema to the registration. The
// dispatcher validates the assembled argument document against it before the
// handler runs, so the handler receives a narrowly shaped, pre-validated
// payload instead of performing ad hoc checks. Violations become error
// results, not handler invocations.
func WithInputSchema(schema *jsonschema.Schema) RegisterOption {
	return func(reg *registration) {
		reg.schema = schema
	}
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[string]registration),
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
		metrics:  telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Register associates a handler with a tool name, replacing any previous
// registration for the same name.
func (r *Registry) Register(name string, h Handler, opts ...RegisterOption) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is required", name)
	}
	reg := registration{handler: h}
	for _, o := range opts {
		if o != nil {
			o(&reg)
		}
	}
	r.mu.Lock()
	r.handlers[name] = reg
	r.mu.Unlock()
	return nil
}

// Unregister removes the handler registered under name, if any.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.handlers, name)
	r.mu.Unlock()
}

// Clear removes every registration. Intended for isolated runs that rebuild
// their handler set from scratch.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.handlers = make(map[string]registration)
	r.mu.Unlock()
}

// Names returns the registered tool names. Order is unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

// Dispatch executes the invocations strictly sequentially, in input order,
// awaiting each handler to completion before starting the next. Every
// invocation yields exactly one Result and two LifecycleEvents regardless of
// outcome: unknown tools, schema violations, handler errors and handler
// panics are all converted into error results and never abort the remaining
// invocations.
//
// When ctx is canceled between invocations, dispatch stops: results produced
// so far are returned together with the context error, and no further
// invocation starts. An in-flight handler is awaited, not interrupted.
func (r *Registry) Dispatch(ctx context.Context, calls []model.ToolCall) (*DispatchResult, error) {
	out := &DispatchResult{
		Results: make([]Result, 0, len(calls)),
		Events:  make([]LifecycleEvent, 0, 2*len(calls)),
	}
	if len(calls) == 0 {
		return out, nil
	}

	ctx, span := r.tracer.Start(ctx, "scenario.dispatch",
		trace.WithAttributes(attribute.Int("dispatch.tool_calls", len(calls))),
	)
	defer span.End()

	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch canceled")
			return out, err
		}

		out.Events = append(out.Events, LifecycleEvent{
			Type:       LifecycleStart,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Input:      call.Input,
		})

		start := time.Now()
		res := r.dispatchOne(ctx, call)
		elapsed := time.Since(start)
		r.metrics.RecordTimer("scenario_tool_duration", elapsed, "tool", call.Name)
		if res.IsError {
			r.metrics.IncCounter("scenario_tool_errors", 1, "tool", call.Name)
		}

		out.Results = append(out.Results, res)
		out.Events = append(out.Events, LifecycleEvent{
			Type:       LifecycleEnd,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    res.Content,
			IsError:    res.IsError,
			Duration:   elapsed,
		})
	}
	span.SetStatus(codes.Ok, "ok")
	return out, nil
}

// dispatchOne runs a single invocation and converts every failure mode into
// an error Result.
func (r *Registry) dispatchOne(ctx context.Context, call model.ToolCall) Result {
	r.mu.RLock()
	reg, ok := r.handlers[call.Name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn(ctx, "unknown tool requested", "tool", call.Name, "tool_call_id", call.ID)
		return Result{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("unknown tool %q", call.Name),
			IsError:    true,
		}
	}

	if reg.schema != nil {
		if err := validateInput(reg.schema, call.Input); err != nil {
			r.logger.Warn(ctx, "tool input rejected", "tool", call.Name, "tool_call_id", call.ID, "err", err)
			return Result{
				ToolCallID: call.ID,
				Content:    ToolErrorFromError(err).Error(),
				IsError:    true,
			}
		}
	}

	content, err := invoke(ctx, reg.handler, call.Input)
	if err != nil {
		r.logger.Error(ctx, "tool handler failed", "tool", call.Name, "tool_call_id", call.ID, "err", err)
		return Result{
			ToolCallID: call.ID,
			Content:    ToolErrorFromError(err).Error(),
			IsError:    true,
		}
	}
	return Result{ToolCallID: call.ID, Content: content}
}

// invoke runs the handler, converting panics into errors so one misbehaving
// handler cannot abort the turn.
func invoke(ctx context.Context, h Handler, input json.RawMessage) (content string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool handler panicked: %v", rec)
		}
	}()
	return h(ctx, input)
}

// validateInput decodes the argument document and checks it against the
// registered schema. Malformed JSON fails validation the same way a schema
// violation does.
func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(input))
	if err != nil {
		return fmt.Errorf("invalid tool input JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("tool input rejected by schema: %w", err)
	}
	return nil
}

// CompileInputSchema compiles a JSON Schema document for use with
// WithInputSchema. The schema is registered under an internal resource name;
// cross-document references are not supported.
func CompileInputSchema(raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse input schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool_input.json", doc); err != nil {
		return nil, fmt.Errorf("add input schema resource: %w", err)
	}
	schema, err := compiler.Compile("tool_input.json")
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	return schema, nil
}
