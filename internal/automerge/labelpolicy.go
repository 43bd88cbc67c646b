package automerge

import (
	"errors"
	"fmt"
	"strings"
)

// MergeMethod is the GitHub merge method used to merge a pull request.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

// ParseMergeMethod converts a string to a MergeMethod.
func ParseMergeMethod(s string) (MergeMethod, error) {
	switch m := MergeMethod(strings.ToLower(s)); m {
	case MergeMethodMerge, MergeMethodSquash, MergeMethodRebase:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported merge method: %q", s)
	}
}

// LabelRule assigns a merge method to a pull request label.
type LabelRule struct {
	Label       string
	Method      MergeMethod
	Color       string
	Description string
}

// LabelPolicy is an ordered table of labels that trigger merging a pull
// request.
type LabelPolicy struct {
	rules []LabelRule
}

// NewLabelPolicy creates a policy from rules, the order of rules is kept.
// Label names must be unique and non-empty.
func NewLabelPolicy(rules ...LabelRule) (*LabelPolicy, error) {
	if len(rules) == 0 {
		return nil, errors.New("label policy must contain at least 1 rule")
	}

	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if r.Label == "" {
			return nil, errors.New("label name is empty")
		}

		if _, exists := seen[r.Label]; exists {
			return nil, fmt.Errorf("label %q is defined multiple times", r.Label)
		}
		seen[r.Label] = struct{}{}

		if _, err := ParseMergeMethod(string(r.Method)); err != nil {
			return nil, fmt.Errorf("label %q: %w", r.Label, err)
		}
	}

	return &LabelPolicy{rules: append([]LabelRule(nil), rules...)}, nil
}

// LabelResolution is the result of matching the labels of a pull request
// against the policy.
type LabelResolution struct {
	// Method is the merge method of the matching label, it is empty if
	// MatchCount is not 1.
	Method MergeMethod
	// Label is the matching label, it is empty if MatchCount is not 1.
	Label string
	// MatchCount is the number of policy labels that were found.
	MatchCount int
}

// Decided returns true if exactly one policy label matched.
func (r *LabelResolution) Decided() bool {
	return r.MatchCount == 1
}

// Resolve counts how many labels of the policy are contained in labels.
// If exactly one is found, its merge method is returned.
// Zero or multiple matches result in no decision. The table order is used
// for the iteration, the order of labels does not influence the result.
func (p *LabelPolicy) Resolve(labels []string) LabelResolution {
	var result LabelResolution

	present := toStrSet(labels)

	for _, r := range p.rules {
		if _, exists := present[r.Label]; !exists {
			continue
		}

		result.MatchCount++
		if result.MatchCount == 1 {
			result.Method = r.Method
			result.Label = r.Label
		}
	}

	if result.MatchCount != 1 {
		result.Method = ""
		result.Label = ""
	}

	return result
}

// Matching returns all labels that are part of the policy and contained in
// labels, in policy order.
func (p *LabelPolicy) Matching(labels []string) []string {
	var result []string

	present := toStrSet(labels)

	for _, r := range p.rules {
		if _, exists := present[r.Label]; exists {
			result = append(result, r.Label)
		}
	}

	return result
}

// Rules returns a copy of the policy table.
func (p *LabelPolicy) Rules() []LabelRule {
	return append([]LabelRule(nil), p.rules...)
}

func (p *LabelPolicy) String() string {
	var result strings.Builder

	for i, r := range p.rules {
		if i > 0 {
			result.WriteString(", ")
		}

		fmt.Fprintf(&result, "%s: %s", r.Label, r.Method)
	}

	return result.String()
}
