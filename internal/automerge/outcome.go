package automerge

import "fmt"

// Outcome is the result of evaluating a pull request.
type Outcome uint8

const (
	OutcomeUndefined Outcome = iota
	// OutcomeClosed means the pull request is closed or already merged.
	OutcomeClosed
	// OutcomeNoLabel means none of the policy labels is set.
	OutcomeNoLabel
	// OutcomeAmbiguousLabels means multiple policy labels are set.
	OutcomeAmbiguousLabels
	// OutcomeNotReady means the mergeable_state is not a ready state.
	OutcomeNotReady
	// OutcomeNotMergeable means GitHub reported the pull request as not
	// mergeable or has not computed it yet.
	OutcomeNotMergeable
	// OutcomeBlockedByReview means a reviewer requested changes.
	OutcomeBlockedByReview
	// OutcomeUnauthorized means the actor of a push has insufficient
	// permissions, the policy labels were removed.
	OutcomeUnauthorized
	// OutcomeMerged means the pull request was merged.
	OutcomeMerged
	// OutcomeMergeRejected means GitHub accepted the merge request but did
	// not merge the pull request.
	OutcomeMergeRejected
)

var outcomeStrings = [...]string{
	OutcomeUndefined:       "undefined",
	OutcomeClosed:          "closed",
	OutcomeNoLabel:         "no_label",
	OutcomeAmbiguousLabels: "ambiguous_labels",
	OutcomeNotReady:        "not_ready",
	OutcomeNotMergeable:    "not_mergeable",
	OutcomeBlockedByReview: "blocked_by_review",
	OutcomeUnauthorized:    "unauthorized",
	OutcomeMerged:          "merged",
	OutcomeMergeRejected:   "merge_rejected",
}

func (o Outcome) String() string {
	// it can not be <0 because it's type is uint8
	if int(o) > len(outcomeStrings)-1 {
		return fmt.Sprintf("unsupported Outcome value: %d", o)
	}

	return outcomeStrings[o]
}
