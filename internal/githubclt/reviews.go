package githubclt

import (
	"context"
	"time"

	"github.com/google/go-github/v59/github"
)

// ReviewState is the state of a pull request review.
type ReviewState string

const (
	ReviewStateApproved         ReviewState = "APPROVED"
	ReviewStateChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewStateCommented        ReviewState = "COMMENTED"
	ReviewStateDismissed        ReviewState = "DISMISSED"
	ReviewStatePending          ReviewState = "PENDING"
)

// Review is a submitted pull request review.
type Review struct {
	ID          int64
	Reviewer    string
	State       ReviewState
	SubmittedAt time.Time
}

const reviewsPerPage = 100

// ListReviews returns all reviews of a pull request in the order they were
// submitted.
func (clt *Client) ListReviews(ctx context.Context, owner, repo string, number int) ([]*Review, error) {
	var result []*Review

	opts := github.ListOptions{PerPage: reviewsPerPage, Page: 1}
	for {
		reviews, resp, err := clt.restClt.PullRequests.ListReviews(ctx, owner, repo, number, &opts)
		if err != nil {
			return nil, clt.wrapErr(OpListReviews, err)
		}

		for _, r := range reviews {
			result = append(result, &Review{
				ID:          r.GetID(),
				Reviewer:    r.GetUser().GetLogin(),
				State:       ReviewState(r.GetState()),
				SubmittedAt: r.GetSubmittedAt().Time,
			})
		}

		if resp.NextPage == 0 || len(reviews) == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}
