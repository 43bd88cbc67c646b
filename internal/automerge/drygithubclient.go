package automerge

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/githubclt"
	"github.com/simplesurance/automerger/internal/logfields"
)

// DryGithubClient is a github-client that does not do any changes on github.
// All operations that could cause a change are simulated and always succeed.
// All other operations are forwarded to a wrapped GithubClient.
type DryGithubClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient, logger *zap.Logger) *DryGithubClient {
	return &DryGithubClient{
		clt:    clt,
		logger: logger.Named("dry_github_client"),
	}
}

func (c *DryGithubClient) PullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequestSnapshot, error) {
	return c.clt.PullRequest(ctx, owner, repo, number)
}

func (c *DryGithubClient) ListReviews(ctx context.Context, owner, repo string, number int) ([]*githubclt.Review, error) {
	return c.clt.ListReviews(ctx, owner, repo, number)
}

func (c *DryGithubClient) CollaboratorPermission(ctx context.Context, owner, repo, user string) (string, error) {
	return c.clt.CollaboratorPermission(ctx, owner, repo, user)
}

func (c *DryGithubClient) PullRequestsForCommit(ctx context.Context, owner, repo, sha string) ([]int, error) {
	return c.clt.PullRequestsForCommit(ctx, owner, repo, sha)
}

func (c *DryGithubClient) RemoveLabel(_ context.Context, owner, repo string, number int, label string) error {
	c.logger.Info(
		"simulated removing of github label, label is not removed on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(number),
		logfields.Label(label),
	)

	return nil
}

func (c *DryGithubClient) Merge(_ context.Context, owner, repo string, number int, method, _ string) (*githubclt.MergeResult, error) {
	c.logger.Info(
		"simulated merging of pull request, pull request is not merged on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(number),
		logfields.MergeMethod(method),
	)

	return &githubclt.MergeResult{Merged: true, Message: "dry-run"}, nil
}

func (c *DryGithubClient) CreateLabel(_ context.Context, owner, repo, name, _, _ string) (bool, error) {
	c.logger.Info(
		"simulated creating of github label, label is not created on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Label(name),
	)

	return true, nil
}
