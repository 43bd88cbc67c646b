package automerge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/githubclt"
	"github.com/simplesurance/automerger/internal/logfields"
)

// PullRequest identifies a pull request that is evaluated for one webhook
// event.
// The state retrieved from GitHub is fetched at most once per PullRequest,
// a new PullRequest must be created for every event.
// A PullRequest must not be used concurrently.
type PullRequest struct {
	Owner      string
	Repository string
	Number     int
	// Actor is the login of the user that triggered the event.
	Actor string
	// EventLabels are the labels of the pull request reported in the
	// webhook payload. They are used when the current labels can not be
	// retrieved.
	EventLabels []string
	LogFields   []zap.Field

	clt      GithubClient
	snapshot *githubclt.PullRequestSnapshot
}

func NewPullRequest(clt GithubClient, owner, repo string, number int, actor string) (*PullRequest, error) {
	if clt == nil {
		return nil, errors.New("github client is nil")
	}

	if owner == "" {
		return nil, errors.New("repository owner is empty")
	}

	if repo == "" {
		return nil, errors.New("repository is empty")
	}

	if number <= 0 {
		return nil, fmt.Errorf("number is %d, must be >0", number)
	}

	return &PullRequest{
		Owner:      owner,
		Repository: repo,
		Number:     number,
		Actor:      actor,
		LogFields: []zap.Field{
			logfields.RepositoryOwner(owner),
			logfields.Repository(repo),
			logfields.PullRequest(number),
			logfields.Actor(actor),
		},
		clt: clt,
	}, nil
}

func (p *PullRequest) String() string {
	return fmt.Sprintf("%s/%s#%d", p.Owner, p.Repository, p.Number)
}

// Snapshot returns the state of the pull request.
// It is retrieved from GitHub on the first call, subsequent calls return the
// same result.
func (p *PullRequest) Snapshot(ctx context.Context) (*githubclt.PullRequestSnapshot, error) {
	if p.snapshot != nil {
		return p.snapshot, nil
	}

	snapshot, err := p.clt.PullRequest(ctx, p.Owner, p.Repository, p.Number)
	if err != nil {
		return nil, err
	}

	p.snapshot = snapshot

	return snapshot, nil
}

// Reviews returns all submitted reviews in submission order.
func (p *PullRequest) Reviews(ctx context.Context) ([]*githubclt.Review, error) {
	return p.clt.ListReviews(ctx, p.Owner, p.Repository, p.Number)
}

// RemoveLabel removes a label from the pull request.
func (p *PullRequest) RemoveLabel(ctx context.Context, label string) error {
	return p.clt.RemoveLabel(ctx, p.Owner, p.Repository, p.Number, label)
}

// ActorPermission returns the permission level of Actor in the repository.
func (p *PullRequest) ActorPermission(ctx context.Context) (string, error) {
	return p.clt.CollaboratorPermission(ctx, p.Owner, p.Repository, p.Actor)
}

// Merge merges the pull request.
// If the snapshot was retrieved before, GitHub is instructed to only merge
// when the head commit did not change in the meantime.
func (p *PullRequest) Merge(ctx context.Context, method MergeMethod) (*githubclt.MergeResult, error) {
	var expectedHeadSHA string
	if p.snapshot != nil {
		expectedHeadSHA = p.snapshot.HeadSHA
	}

	return p.clt.Merge(ctx, p.Owner, p.Repository, p.Number, string(method), expectedHeadSHA)
}
