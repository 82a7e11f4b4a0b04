// Package example wires a small scenario tool set against the turn pipeline:
// a section writer and a character rename with cross-section propagation. It
// is the reference wiring for services embedding the runtime.
package example

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"goa.design/fable/runtime/scenario/notify"
	"goa.design/fable/runtime/scenario/propagate"
	"goa.design/fable/runtime/scenario/registry"
	"goa.design/fable/runtime/scenario/sections"
	"goa.design/fable/runtime/scenario/stream"
)

// Tool names registered by RegisterSceneTools.
const (
	ToolUpdateSection   = "update_section"
	ToolRenameCharacter = "rename_character"
	ToolUpdateCharacter = "update_character"
)

var updateSectionSchema = []byte(`{
	"type": "object",
	"properties": {
		"scope":      {"type": "string", "minLength": 1},
		"section_id": {"type": "string", "minLength": 1},
		"content":    {"type": "string"}
	},
	"required": ["scope", "section_id", "content"]
}`)

var renameCharacterSchema = []byte(`{
	"type": "object",
	"properties": {
		"scope":    {"type": "string", "minLength": 1},
		"old_name": {"type": "string"},
		"new_name": {"type": "string"}
	},
	"required": ["scope", "old_name", "new_name"]
}`)

var updateCharacterSchema = []byte(`{
	"type": "object",
	"properties": {
		"scope":     {"type": "string", "minLength": 1},
		"name":      {"type": "string", "minLength": 1},
		"field":     {"type": "string", "minLength": 1},
		"old_value": {"type": "string"},
		"new_value": {"type": "string"}
	},
	"required": ["scope", "name", "field", "old_value", "new_value"]
}`)

type (
	updateSectionInput struct {
		Scope     string `json:"scope"`
		SectionID string `json:"section_id"`
		Content   string `json:"content"`
	}

	renameCharacterInput struct {
		Scope   string `json:"scope"`
		OldName string `json:"old_name"`
		NewName string `json:"new_name"`
	}

	updateCharacterInput struct {
		Scope    string `json:"scope"`
		Name     string `json:"name"`
		Field    string `json:"field"`
		OldValue string `json:"old_value"`
		NewValue string `json:"new_value"`
	}
)

// RegisterSceneTools registers the section writer and character rename
// handlers on the registry. Handlers write through the store and stage
// notifications on the buffer; the turn runner drains and forwards them after
// dispatch.
func RegisterSceneTools(reg *registry.Registry, store sections.Store, buffer *notify.Buffer) error {
	if reg == nil {
		return errors.New("registry is required")
	}
	if store == nil {
		return errors.New("store is required")
	}
	if buffer == nil {
		return errors.New("buffer is required")
	}

	updateSchema, err := registry.CompileInputSchema(updateSectionSchema)
	if err != nil {
		return err
	}
	renameSchema, err := registry.CompileInputSchema(renameCharacterSchema)
	if err != nil {
		return err
	}

	characterSchema, err := registry.CompileInputSchema(updateCharacterSchema)
	if err != nil {
		return err
	}

	if err := reg.Register(ToolUpdateSection, updateSectionHandler(store, buffer), registry.WithInputSchema(updateSchema)); err != nil {
		return err
	}
	if err := reg.Register(ToolRenameCharacter, renameCharacterHandler(store, buffer), registry.WithInputSchema(renameSchema)); err != nil {
		return err
	}
	return reg.Register(ToolUpdateCharacter, updateCharacterHandler(store, buffer), registry.WithInputSchema(characterSchema))
}

func updateSectionHandler(store sections.Store, buffer *notify.Buffer) registry.Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var in updateSectionInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("decode update_section input: %w", err)
		}
		if err := store.Set(ctx, in.Scope, in.SectionID, in.Content); err != nil {
			return "", fmt.Errorf("write section %s/%s: %w", in.Scope, in.SectionID, err)
		}
		buffer.Append(notify.Notification{
			Kind:      notify.KindSectionChanged,
			Scope:     in.Scope,
			SectionID: in.SectionID,
			Payload: stream.SectionChangedPayload{
				Scope:     in.Scope,
				SectionID: in.SectionID,
				Content:   in.Content,
			},
		})
		return fmt.Sprintf("section %q updated", in.SectionID), nil
	}
}

func renameCharacterHandler(store sections.Store, buffer *notify.Buffer) registry.Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var in renameCharacterInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("decode rename_character input: %w", err)
		}
		change := propagate.EntityChange{
			EntityType: "character",
			EntityID:   in.OldName,
			ChangeType: "rename",
			OldValue:   in.OldName,
			NewValue:   in.NewName,
		}
		switch propagate.Detect(change) {
		case propagate.TypeDeterministic, propagate.TypeBoth:
		default:
			return fmt.Sprintf("no change: %q already matches %q", in.OldName, in.NewName), nil
		}
		res, err := propagate.Rename(ctx, store, in.Scope, in.OldName, in.NewName, "")
		if err != nil {
			return "", fmt.Errorf("rename %q: %w", in.OldName, err)
		}
		for _, upd := range res.UpdatedSections {
			buffer.Append(notify.Notification{
				Kind:      notify.KindSectionChanged,
				Scope:     in.Scope,
				SectionID: upd.SectionID,
				Payload: stream.SectionChangedPayload{
					Scope:        in.Scope,
					SectionID:    upd.SectionID,
					Content:      upd.UpdatedContent,
					Replacements: upd.ReplacementCount,
				},
			})
		}
		return fmt.Sprintf("renamed %q to %q: %d replacements across %d sections",
			in.OldName, in.NewName, res.TotalReplacements, len(res.UpdatedSections)), nil
	}
}

func updateCharacterHandler(store sections.Store, buffer *notify.Buffer) registry.Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var in updateCharacterInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("decode update_character input: %w", err)
		}
		change := propagate.EntityChange{
			EntityType: "character",
			EntityID:   in.Name,
			ChangeType: in.Field,
			OldValue:   in.OldValue,
			NewValue:   in.NewValue,
		}
		switch propagate.Detect(change) {
		case propagate.TypeSemantic, propagate.TypeBoth:
		default:
			return fmt.Sprintf("field %q does not affect other sections", in.Field), nil
		}
		hint, err := propagate.BuildHint(ctx, store, in.Scope, change, in.Name)
		if err != nil {
			return "", fmt.Errorf("build revision hint for %q: %w", in.Name, err)
		}
		affected := make([]string, len(hint.AffectedSections))
		for i, s := range hint.AffectedSections {
			affected[i] = s.SectionID
		}
		buffer.Append(notify.Notification{
			Kind:  notify.KindRevisionHint,
			Scope: in.Scope,
			Payload: stream.RevisionHintPayload{
				Scope:             in.Scope,
				EntityName:        hint.EntityName,
				ChangeDescription: hint.ChangeDescription,
				AffectedSections:  affected,
				SuggestedAction:   hint.SuggestedAction,
			},
		})
		return fmt.Sprintf("%s of %q updated; %d sections may need revision",
			in.Field, in.Name, len(affected)), nil
	}
}
