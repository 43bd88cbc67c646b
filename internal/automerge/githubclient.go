package automerge

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/githubclt"
)

//go:generate mockgen -destination=mocks/githubclient.go -package=mocks . GithubClient

// GithubClient is the set of GitHub API operations used by the automerger.
type GithubClient interface {
	PullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequestSnapshot, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]*githubclt.Review, error)
	RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error
	Merge(ctx context.Context, owner, repo string, number int, method, expectedHeadSHA string) (*githubclt.MergeResult, error)
	CollaboratorPermission(ctx context.Context, owner, repo, user string) (string, error)
	CreateLabel(ctx context.Context, owner, repo, name, color, description string) (bool, error)
	PullRequestsForCommit(ctx context.Context, owner, repo, sha string) ([]int, error)
}

// ClientFactory returns a GithubClient that is authorized to act on
// repositories of a GitHub App installation.
type ClientFactory interface {
	ForInstallation(installationID int64) (GithubClient, error)
}

// ClientFactoryFunc is an adapter to use a function as ClientFactory.
type ClientFactoryFunc func(installationID int64) (GithubClient, error)

func (f ClientFactoryFunc) ForInstallation(installationID int64) (GithubClient, error) {
	return f(installationID)
}

// StaticClientFactory returns a ClientFactory that always returns clt.
func StaticClientFactory(clt GithubClient) ClientFactory {
	return ClientFactoryFunc(func(int64) (GithubClient, error) {
		return clt, nil
	})
}

// Retryer runs GithubClient operations repeatedly if they fail with a
// temporary error.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
}
