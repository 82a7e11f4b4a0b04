package propagate

import (
	"context"
	"fmt"
	"strings"

	"goa.design/fable/runtime/scenario/sections"
)

type (
	// AffectedSection is a section that mentions the changed entity and may
	// need narrative revision.
	AffectedSection struct {
		SectionID      string `json:"section_id"`
		CurrentContent string `json:"current_content"`
	}

	// Hint is a structured request for narrative revision. It is advisory:
	// the engine never rewrites prose itself, the generation service decides
	// how to act on it.
	Hint struct {
		EntityName        string            `json:"entity_name"`
		ChangeDescription string            `json:"change_description"`
		AffectedSections  []AffectedSection `json:"affected_sections"`
		SuggestedAction   string            `json:"suggested_action"`
	}
)

// suggestedActions maps a change type to revision guidance for the
// generation service. Combined types resolve through their suffix.
var suggestedActions = map[string]string{
	"motivation":  "Revise this character's dialogue and behavior to reflect the new motivation.",
	"role":        "Adjust interactions with and framing of this character to match the new role.",
	"description": "Update physical descriptions of this character to match the new appearance.",
	"backstory":   "Revise foreshadowing and references to this character's history to fit the new backstory.",
	"voice":       "Adjust this character's speech patterns to match the new voice.",
	"secret":      "Update clues so the changed secret is neither leaked nor contradicted.",
}

const genericSuggestedAction = "Review the affected sections and update any prose that no longer fits the changed entity."

// BuildHint assembles the revision hint for a semantic change. It scans every
// section of the scope for whole-word occurrences of entityName, using the
// same literal boundary matching as Rename but read-only, and collects the
// matching sections in store order with their full current content. The store
// is never mutated. An empty entityName yields a hint with no affected
// sections rather than an error.
func BuildHint(ctx context.Context, store sections.Store, scope string, change EntityChange, entityName string) (*Hint, error) {
	h := &Hint{
		EntityName:        entityName,
		ChangeDescription: describeChange(change),
		SuggestedAction:   suggestedActionFor(change.ChangeType),
	}
	if entityName == "" {
		return h, nil
	}
	re, err := compileWordPattern(entityName)
	if err != nil {
		return nil, fmt.Errorf("propagate: compile pattern for %q: %w", entityName, err)
	}
	all, err := store.All(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("propagate: list sections for scope %q: %w", scope, err)
	}
	for _, sec := range all {
		if !re.MatchString(sec.Content) {
			continue
		}
		h.AffectedSections = append(h.AffectedSections, AffectedSection{
			SectionID:      sec.ID,
			CurrentContent: sec.Content,
		})
	}
	return h, nil
}

func includesRename(changeType string) bool {
	return changeType == "rename" || strings.HasPrefix(changeType, "rename_and_")
}

// suggestedActionFor resolves the guidance for a change type. The
// "rename_and_" prefix is stripped first so combined changes inherit the
// guidance of their semantic half.
func suggestedActionFor(changeType string) string {
	key := strings.TrimPrefix(changeType, "rename_and_")
	if action, ok := suggestedActions[key]; ok {
		return action
	}
	return genericSuggestedAction
}

// describeChange renders a human-readable summary of the change, including
// any bundled attribute edits.
func describeChange(change EntityChange) string {
	var b strings.Builder
	key := strings.TrimPrefix(change.ChangeType, "rename_and_")
	switch {
	case includesRename(change.ChangeType) && change.OldValue != change.NewValue:
		fmt.Fprintf(&b, "%s %q was renamed to %q", change.EntityType, change.OldValue, change.NewValue)
		if change.ChangeType != "rename" {
			fmt.Fprintf(&b, " and its %s changed", key)
		}
	default:
		fmt.Fprintf(&b, "%s %s changed from %q to %q", change.EntityType, key, change.OldValue, change.NewValue)
	}
	for attr, pair := range change.AdditionalChanges {
		fmt.Fprintf(&b, "; %s changed from %q to %q", attr, pair.Old, pair.New)
	}
	return b.String()
}
