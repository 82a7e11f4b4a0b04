package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/fable/runtime/scenario/model"
)

func call(id, name, input string) model.ToolCall {
	return model.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}
}

func TestDispatchSequentialOrdering(t *testing.T) {
	ctx := context.Background()
	reg := New()

	// Handlers append to a shared log; sequential dispatch means entries
	// never interleave and follow input order.
	var log []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		require.NoError(t, reg.Register(name, func(context.Context, json.RawMessage) (string, error) {
			log = append(log, name+":begin")
			log = append(log, name+":end")
			return name, nil
		}))
	}

	out, err := reg.Dispatch(ctx, []model.ToolCall{
		call("1", "first", "{}"),
		call("2", "second", "{}"),
		call("3", "third", "{}"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"first:begin", "first:end",
		"second:begin", "second:end",
		"third:begin", "third:end",
	}, log)

	require.Len(t, out.Results, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{
		out.Results[0].ToolCallID, out.Results[1].ToolCallID, out.Results[2].ToolCallID,
	})
}

func TestDispatchLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	reg := New()
	require.NoError(t, reg.Register("ok", func(context.Context, json.RawMessage) (string, error) {
		return "done", nil
	}))

	out, err := reg.Dispatch(ctx, []model.ToolCall{
		call("1", "ok", "{}"),
		call("2", "missing", "{}"),
	})
	require.NoError(t, err)

	// Two events per invocation, failures included, in invocation order.
	require.Len(t, out.Events, 4)
	assert.Equal(t, LifecycleStart, out.Events[0].Type)
	assert.Equal(t, "1", out.Events[0].ToolCallID)
	assert.Equal(t, LifecycleEnd, out.Events[1].Type)
	assert.Equal(t, "done", out.Events[1].Content)
	assert.False(t, out.Events[1].IsError)
	assert.Equal(t, LifecycleStart, out.Events[2].Type)
	assert.Equal(t, "2", out.Events[2].ToolCallID)
	assert.Equal(t, LifecycleEnd, out.Events[3].Type)
	assert.True(t, out.Events[3].IsError)
}

func TestDispatchFailureIsolation(t *testing.T) {
	ctx := context.Background()
	reg := New()
	require.NoError(t, reg.Register("boom", func(context.Context, json.RawMessage) (string, error) {
		return "", errors.New("storage offline")
	}))
	require.NoError(t, reg.Register("panics", func(context.Context, json.RawMessage) (string, error) {
		panic("nil map write")
	}))
	require.NoError(t, reg.Register("ok", func(context.Context, json.RawMessage) (string, error) {
		return "fine", nil
	}))

	out, err := reg.Dispatch(ctx, []model.ToolCall{
		call("1", "boom", "{}"),
		call("2", "panics", "{}"),
		call("3", "unknown_tool", "{}"),
		call("4", "ok", "{}"),
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 4)

	assert.True(t, out.Results[0].IsError)
	assert.Contains(t, out.Results[0].Content, "storage offline")

	assert.True(t, out.Results[1].IsError)
	assert.Contains(t, out.Results[1].Content, "panicked")

	assert.True(t, out.Results[2].IsError)
	assert.Contains(t, out.Results[2].Content, `unknown tool "unknown_tool"`)

	assert.False(t, out.Results[3].IsError)
	assert.Equal(t, "fine", out.Results[3].Content)
}

func TestDispatchEmptyCalls(t *testing.T) {
	out, err := New().Dispatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Empty(t, out.Events)
}

func TestDispatchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := New()

	var invoked int
	require.NoError(t, reg.Register("step", func(context.Context, json.RawMessage) (string, error) {
		invoked++
		if invoked == 2 {
			cancel()
		}
		return fmt.Sprintf("step %d", invoked), nil
	}))

	out, err := reg.Dispatch(ctx, []model.ToolCall{
		call("1", "step", "{}"),
		call("2", "step", "{}"),
		call("3", "step", "{}"),
		call("4", "step", "{}"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The in-flight handler finished; nothing after the cancellation ran.
	assert.Equal(t, 2, invoked)
	assert.Len(t, out.Results, 2)
	assert.Len(t, out.Events, 4)
}

func TestDispatchSchemaValidation(t *testing.T) {
	ctx := context.Background()
	schema, err := CompileInputSchema([]byte(`{
		"type": "object",
		"required": ["section_id", "content"],
		"properties": {
			"section_id": {"type": "string", "minLength": 1},
			"content": {"type": "string"}
		}
	}`))
	require.NoError(t, err)

	reg := New()
	var handled bool
	require.NoError(t, reg.Register("update_section", func(_ context.Context, input json.RawMessage) (string, error) {
		handled = true
		var args struct {
			SectionID string `json:"section_id"`
		}
		require.NoError(t, json.Unmarshal(input, &args))
		return "updated " + args.SectionID, nil
	}, WithInputSchema(schema)))

	t.Run("valid input reaches the handler", func(t *testing.T) {
		handled = false
		out, err := reg.Dispatch(ctx, []model.ToolCall{
			call("1", "update_section", `{"section_id":"intro","content":"text"}`),
		})
		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, "updated intro", out.Results[0].Content)
	})

	t.Run("missing required field becomes an error result", func(t *testing.T) {
		handled = false
		out, err := reg.Dispatch(ctx, []model.ToolCall{
			call("1", "update_section", `{"content":"text"}`),
		})
		require.NoError(t, err)
		assert.False(t, handled, "handler must not run on invalid input")
		assert.True(t, out.Results[0].IsError)
	})

	t.Run("malformed JSON becomes an error result", func(t *testing.T) {
		handled = false
		out, err := reg.Dispatch(ctx, []model.ToolCall{
			call("1", "update_section", `{"section_id":`),
		})
		require.NoError(t, err)
		assert.False(t, handled)
		assert.True(t, out.Results[0].IsError)
	})
}

func TestRegisterValidation(t *testing.T) {
	reg := New()
	assert.Error(t, reg.Register("", func(context.Context, json.RawMessage) (string, error) { return "", nil }))
	assert.Error(t, reg.Register("x", nil))
}

func TestRegistryLifecycleManagement(t *testing.T) {
	reg := New()
	h := func(context.Context, json.RawMessage) (string, error) { return "", nil }
	require.NoError(t, reg.Register("a", h))
	require.NoError(t, reg.Register("b", h))
	assert.ElementsMatch(t, []string{"a", "b"}, reg.Names())

	reg.Unregister("a")
	assert.ElementsMatch(t, []string{"b"}, reg.Names())

	reg.Clear()
	assert.Empty(t, reg.Names())
}

func TestRegistriesAreIndependent(t *testing.T) {
	ctx := context.Background()
	one := New()
	two := New()
	require.NoError(t, one.Register("only_in_one", func(context.Context, json.RawMessage) (string, error) {
		return "hi", nil
	}))

	out, err := two.Dispatch(ctx, []model.ToolCall{call("1", "only_in_one", "{}")})
	require.NoError(t, err)
	assert.True(t, out.Results[0].IsError)

	one.Clear()
	assert.Empty(t, one.Names())
	assert.Empty(t, two.Names())
}
