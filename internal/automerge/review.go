package automerge

import (
	"sort"

	"github.com/simplesurance/automerger/internal/githubclt"
)

// latestVotes returns per reviewer the state of their last review that is
// not a comment.
// reviews must be ordered by submission time.
func latestVotes(reviews []*githubclt.Review) map[string]githubclt.ReviewState {
	result := make(map[string]githubclt.ReviewState, len(reviews))

	for _, r := range reviews {
		if r.State == githubclt.ReviewStateCommented {
			continue
		}

		result[r.Reviewer] = r.State
	}

	return result
}

// IsBlocked returns true if the latest non-comment review of at least one
// reviewer requested changes.
// reviews must be ordered by submission time, as returned by
// githubclt.Client.ListReviews.
func IsBlocked(reviews []*githubclt.Review) bool {
	return len(changeRequesters(reviews)) > 0
}

func changeRequesters(reviews []*githubclt.Review) []string {
	var result []string

	for reviewer, state := range latestVotes(reviews) {
		if state == githubclt.ReviewStateChangesRequested {
			result = append(result, reviewer)
		}
	}

	sort.Strings(result)

	return result
}
