// Package propagate keeps scenario sections consistent after a named entity
// changes. Pure renames are fixed mechanically by literal word-boundary
// substitution; deeper attribute changes (motivation, backstory, ...) produce
// a structured revision hint that the generation service resolves itself on a
// later turn. A table-driven classifier decides which strategy — or both, or
// neither — applies to an observed change.
package propagate

type (
	// ValuePair records the before/after values of one bundled attribute edit.
	ValuePair struct {
		Old string `json:"old"`
		New string `json:"new"`
	}

	// EntityChange describes one observed mutation to a named entity (a
	// character, faction, location, ...).
	EntityChange struct {
		// EntityType classifies the entity ("npc", "location", ...).
		EntityType string `json:"entity_type"`
		// EntityID identifies the entity within the scenario.
		EntityID string `json:"entity_id"`
		// ChangeType names the mutation ("rename", "motivation",
		// "rename_and_role", ...). Unrecognized values classify as no-ops,
		// not errors.
		ChangeType string `json:"change_type"`
		// OldValue and NewValue are the before/after values of the changed
		// attribute. For renames these are the old and new names.
		OldValue string `json:"old_value"`
		NewValue string `json:"new_value"`
		// AdditionalChanges carries attribute edits bundled with the primary
		// change, keyed by attribute name.
		AdditionalChanges map[string]ValuePair `json:"additional_changes,omitempty"`
	}
)

// Type is the propagation strategy derived from an EntityChange. Derived,
// never stored.
type Type string

const (
	// TypeDeterministic applies literal text substitution.
	TypeDeterministic Type = "deterministic"
	// TypeSemantic raises a revision hint for the generation service.
	TypeSemantic Type = "semantic"
	// TypeBoth applies substitution and raises a hint.
	TypeBoth Type = "both"
	// TypeNone propagates nothing.
	TypeNone Type = "none"
)

// Membership tables for Detect. New change types are added here, never in
// dispatch logic.
var (
	deterministicChangeTypes = map[string]struct{}{
		"rename": {},
	}

	semanticChangeTypes = map[string]struct{}{
		"motivation":   {},
		"role":         {},
		"description":  {},
		"backstory":    {},
		"voice":        {},
		"secret":       {},
		"goal":         {},
		"relationship": {},
	}

	combinedChangeTypes = map[string]struct{}{
		"rename_and_motivation":  {},
		"rename_and_role":        {},
		"rename_and_description": {},
		"rename_and_backstory":   {},
		"rename_and_voice":       {},
		"rename_and_secret":      {},
	}
)

// Detect maps an entity change to its propagation strategy. It is a pure,
// total function: equal inputs always yield equal outputs and no input is an
// error. Rules are evaluated in order, first match wins:
//
//  1. identical values with no bundled edits → TypeNone
//  2. combined change type (rename bundled with another edit) → TypeBoth
//  3. pure rename → TypeDeterministic
//  4. deep attribute change → TypeSemantic
//  5. anything else → TypeNone
func Detect(change EntityChange) Type {
	if change.OldValue == change.NewValue && len(change.AdditionalChanges) == 0 {
		return TypeNone
	}
	if _, ok := combinedChangeTypes[change.ChangeType]; ok {
		return TypeBoth
	}
	if _, ok := deterministicChangeTypes[change.ChangeType]; ok {
		return TypeDeterministic
	}
	if _, ok := semanticChangeTypes[change.ChangeType]; ok {
		return TypeSemantic
	}
	return TypeNone
}
