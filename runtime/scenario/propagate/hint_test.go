package propagate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/fable/runtime/scenario/sections/inmem"
)

func TestBuildHint(t *testing.T) {
	ctx := context.Background()

	t.Run("collects sections mentioning the entity in store order", func(t *testing.T) {
		store := inmem.New()
		require.NoError(t, store.Set(ctx, "scene-1", "intro", "Theron enters the hall."))
		require.NoError(t, store.Set(ctx, "scene-1", "market", "Merchants haggle loudly."))
		require.NoError(t, store.Set(ctx, "scene-1", "duel", "Theron draws his blade."))

		change := EntityChange{
			EntityType: "npc",
			EntityID:   "npc-1",
			ChangeType: "motivation",
			OldValue:   "greed",
			NewValue:   "redemption",
		}
		h, err := BuildHint(ctx, store, "scene-1", change, "Theron")
		require.NoError(t, err)
		assert.Equal(t, "Theron", h.EntityName)
		require.Len(t, h.AffectedSections, 2)
		assert.Equal(t, "intro", h.AffectedSections[0].SectionID)
		assert.Equal(t, "Theron enters the hall.", h.AffectedSections[0].CurrentContent)
		assert.Equal(t, "duel", h.AffectedSections[1].SectionID)
		assert.Contains(t, h.ChangeDescription, "motivation")
		assert.Contains(t, h.ChangeDescription, `"greed"`)
		assert.Contains(t, h.ChangeDescription, `"redemption"`)
		assert.Equal(t, suggestedActions["motivation"], h.SuggestedAction)
	})

	t.Run("does not mutate the store", func(t *testing.T) {
		store := inmem.New()
		require.NoError(t, store.Set(ctx, "scene-1", "a", "Theron waits."))

		change := EntityChange{ChangeType: "voice", OldValue: "gruff", NewValue: "gentle"}
		_, err := BuildHint(ctx, store, "scene-1", change, "Theron")
		require.NoError(t, err)

		got, err := store.Get(ctx, "scene-1", "a")
		require.NoError(t, err)
		assert.Equal(t, "Theron waits.", got)
	})

	t.Run("word-boundary matching excludes partial names", func(t *testing.T) {
		store := inmem.New()
		require.NoError(t, store.Set(ctx, "scene-1", "a", "Theronson is a different man."))
		require.NoError(t, store.Set(ctx, "scene-1", "b", "Theron's shadow lingers."))

		change := EntityChange{ChangeType: "secret", OldValue: "spy", NewValue: "double agent"}
		h, err := BuildHint(ctx, store, "scene-1", change, "Theron")
		require.NoError(t, err)
		require.Len(t, h.AffectedSections, 1)
		assert.Equal(t, "b", h.AffectedSections[0].SectionID)
	})

	t.Run("combined change resolves action through its suffix", func(t *testing.T) {
		store := inmem.New()
		change := EntityChange{
			ChangeType: "rename_and_backstory",
			OldValue:   "Aldric",
			NewValue:   "Theron",
			AdditionalChanges: map[string]ValuePair{
				"backstory": {Old: "orphan", New: "exiled noble"},
			},
		}
		h, err := BuildHint(ctx, store, "scene-1", change, "Theron")
		require.NoError(t, err)
		assert.Equal(t, suggestedActions["backstory"], h.SuggestedAction)
		assert.Contains(t, h.ChangeDescription, `renamed to "Theron"`)
		assert.Contains(t, h.ChangeDescription, "backstory")
		assert.Contains(t, h.ChangeDescription, `"exiled noble"`)
	})

	t.Run("unrecognized change type falls back to generic action", func(t *testing.T) {
		store := inmem.New()
		change := EntityChange{ChangeType: "allegiance", OldValue: "crown", NewValue: "rebels"}
		h, err := BuildHint(ctx, store, "scene-1", change, "Theron")
		require.NoError(t, err)
		assert.Equal(t, genericSuggestedAction, h.SuggestedAction)
	})

	t.Run("empty entity name yields no affected sections", func(t *testing.T) {
		store := inmem.New()
		require.NoError(t, store.Set(ctx, "scene-1", "a", "Prose."))

		change := EntityChange{ChangeType: "motivation", OldValue: "greed", NewValue: "fear"}
		h, err := BuildHint(ctx, store, "scene-1", change, "")
		require.NoError(t, err)
		assert.Empty(t, h.AffectedSections)
	})
}
