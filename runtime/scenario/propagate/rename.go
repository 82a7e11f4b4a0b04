package propagate

import (
	"context"
	"fmt"
	"regexp"

	"goa.design/fable/runtime/scenario/sections"
)

type (
	// SectionUpdate records the substitution outcome for one section.
	SectionUpdate struct {
		SectionID      string `json:"section_id"`
		UpdatedContent string `json:"updated_content"`
		// ReplacementCount is the number of occurrences replaced in this
		// section. Never zero: untouched sections are omitted entirely.
		ReplacementCount int `json:"replacement_count"`
	}

	// RenameResult is the outcome of one deterministic propagation pass.
	RenameResult struct {
		UpdatedSections []SectionUpdate `json:"updated_sections"`
		// TotalReplacements is the sum of the per-section counts.
		TotalReplacements int `json:"total_replacements"`
	}
)

// Rename replaces every whole-word occurrence of oldName with newName across
// all sections of the scope except excludeSectionID, the section the change
// originated from. Matching is literal (oldName is quoted, never interpreted
// as a pattern), bounded by word boundaries on both sides, and case
// sensitive: "Aldric" does not match "Aldricson" or "aldric", but does match
// the possessive stem in "Aldric's". Updated sections are written back to the
// store before returning.
//
// When oldName is empty or equals newName the pass is a no-op and the store
// is not touched.
func Rename(ctx context.Context, store sections.Store, scope, oldName, newName, excludeSectionID string) (*RenameResult, error) {
	res := &RenameResult{}
	if oldName == "" || oldName == newName {
		return res, nil
	}
	re, err := compileWordPattern(oldName)
	if err != nil {
		return nil, fmt.Errorf("propagate: compile pattern for %q: %w", oldName, err)
	}
	all, err := store.All(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("propagate: list sections for scope %q: %w", scope, err)
	}
	for _, sec := range all {
		if sec.ID == excludeSectionID {
			continue
		}
		n := len(re.FindAllStringIndex(sec.Content, -1))
		if n == 0 {
			continue
		}
		updated := re.ReplaceAllLiteralString(sec.Content, newName)
		if err := store.Set(ctx, scope, sec.ID, updated); err != nil {
			return nil, fmt.Errorf("propagate: write section %q: %w", sec.ID, err)
		}
		res.UpdatedSections = append(res.UpdatedSections, SectionUpdate{
			SectionID:        sec.ID,
			UpdatedContent:   updated,
			ReplacementCount: n,
		})
		res.TotalReplacements += n
	}
	return res, nil
}

// compileWordPattern builds the whole-word matcher for a literal name.
func compileWordPattern(name string) (*regexp.Regexp, error) {
	return regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
}
