// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/automerger/internal/amerr"
	"github.com/simplesurance/automerger/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

// Operation names reported in amerr.RemoteAPIError.
const (
	OpGetPullRequest         = "get_pull_request"
	OpListReviews            = "list_reviews"
	OpRemoveLabel            = "remove_label"
	OpMerge                  = "merge"
	OpCollaboratorPermission = "get_collaborator_permission"
	OpCreateLabel            = "create_label"
	OpPullRequestsForCommit  = "pull_requests_for_commit"
)

// New returns a new github api client that authenticates with the given
// oauth API token.
func New(oauthAPItoken string) *Client {
	return newClient(newHTTPClient(oauthAPItoken))
}

func newClient(httpClient *http.Client) *Client {
	return &Client{
		restClt:    github.NewClient(httpClient),
		graphQLClt: githubv4.NewClient(httpClient),
		logger:     zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is an github API client.
// All errors caused by an API call wrap an *amerr.RemoteAPIError.
// Errors additionally wrap an *amerr.RetryableError when an operation can be
// retried, e.g. when the API ratelimit is exceeded.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

// Mergeable is the tri-state mergeable field of a pull request.
type Mergeable uint8

const (
	// MergeableUnknown is returned while GitHub computes the
	// mergeability in the background.
	MergeableUnknown Mergeable = iota
	MergeableTrue
	MergeableFalse
)

func (m Mergeable) String() string {
	switch m {
	case MergeableTrue:
		return "true"
	case MergeableFalse:
		return "false"
	default:
		return "unknown"
	}
}

// PullRequestSnapshot is the state of a pull request at the time it was
// retrieved.
type PullRequestSnapshot struct {
	Number         int
	State          string
	Merged         bool
	HeadSHA        string
	Mergeable      Mergeable
	MergeableState string
	// Labels contains the names of the labels in the order returned by
	// GitHub.
	Labels []string
}

// PullRequest retrieves the current state of a pull request.
func (clt *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*PullRequestSnapshot, error) {
	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, clt.wrapErr(OpGetPullRequest, err)
	}

	result := PullRequestSnapshot{
		Number:         pr.GetNumber(),
		State:          pr.GetState(),
		Merged:         pr.GetMerged(),
		HeadSHA:        pr.GetHead().GetSHA(),
		MergeableState: pr.GetMergeableState(),
		Labels:         make([]string, 0, len(pr.Labels)),
	}

	switch {
	case pr.Mergeable == nil:
		result.Mergeable = MergeableUnknown
	case *pr.Mergeable:
		result.Mergeable = MergeableTrue
	default:
		result.Mergeable = MergeableFalse
	}

	for _, l := range pr.Labels {
		result.Labels = append(result.Labels, l.GetName())
	}

	return &result, nil
}

// RemoveLabel removes a label from a Pull-Request or issue.
// If the issue or PR does not have the label, the operation succeeds.
func (clt *Client) RemoveLabel(ctx context.Context, owner, repo string, pullRequestOrIssueNumber int, label string) error {
	_, err := clt.restClt.Issues.RemoveLabelForIssue(
		ctx,
		owner,
		repo,
		pullRequestOrIssueNumber,
		label,
	)
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound {
			clt.logger.Debug("removing label returned a not found response, interpreting it as success",
				logfields.RepositoryOwner(owner),
				logfields.Repository(repo),
				logfields.PullRequest(pullRequestOrIssueNumber),
				logfields.Label(label),
				logfields.Event("github_remove_label_returned_not_found"),
				zap.Error(err),
			)

			return nil
		}

		return clt.wrapErr(OpRemoveLabel, err)
	}

	return nil
}

// MergeResult is the response of a merge request.
type MergeResult struct {
	Merged  bool
	SHA     string
	Message string
}

// Merge merges a pull request with the given merge method ("merge",
// "squash" or "rebase").
// If expectedHeadSHA is not empty, GitHub only merges the pull request when
// its head commit matches it.
func (clt *Client) Merge(ctx context.Context, owner, repo string, number int, method, expectedHeadSHA string) (*MergeResult, error) {
	res, _, err := clt.restClt.PullRequests.Merge(ctx, owner, repo, number, "", &github.PullRequestOptions{
		MergeMethod: method,
		SHA:         expectedHeadSHA,
	})
	if err != nil {
		return nil, clt.wrapErr(OpMerge, err)
	}

	return &MergeResult{
		Merged:  res.GetMerged(),
		SHA:     res.GetSHA(),
		Message: res.GetMessage(),
	}, nil
}

// CollaboratorPermission returns the permission level ("admin", "write",
// "read" or "none") of user in the repository.
func (clt *Client) CollaboratorPermission(ctx context.Context, owner, repo, user string) (string, error) {
	perm, _, err := clt.restClt.Repositories.GetPermissionLevel(ctx, owner, repo, user)
	if err != nil {
		return "", clt.wrapErr(OpCollaboratorPermission, err)
	}

	return perm.GetPermission(), nil
}

// CreateLabel creates a label in a repository.
// If a label with the name already exists, false and no error is returned.
func (clt *Client) CreateLabel(ctx context.Context, owner, repo, name, color, description string) (created bool, err error) {
	label := github.Label{Name: &name}
	if color != "" {
		label.Color = &color
	}
	if description != "" {
		label.Description = &description
	}

	_, _, err = clt.restClt.Issues.CreateLabel(ctx, owner, repo, &label)
	if err != nil {
		if isAlreadyExistsErr(err) {
			return false, nil
		}

		return false, clt.wrapErr(OpCreateLabel, err)
	}

	return true, nil
}

func isAlreadyExistsErr(err error) bool {
	var respErr *github.ErrorResponse
	if !errors.As(err, &respErr) {
		return false
	}

	if respErr.Response == nil || respErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}

	for _, e := range respErr.Errors {
		if e.Code == "already_exists" {
			return true
		}
	}

	return false
}

func (clt *Client) wrapErr(operation string, err error) error {
	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.String("operation", operation),
			zap.Int("github_api_rate_limit", rateLimitErr.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", rateLimitErr.Rate.Reset.Time),
		)

		return amerr.NewRetryableError(
			amerr.NewRemoteAPIError(operation, responseStatus(rateLimitErr.Response), err),
			rateLimitErr.Rate.Reset.Time,
		)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		apiErr := amerr.NewRemoteAPIError(operation, responseStatus(abuseErr.Response), err)
		if abuseErr.RetryAfter != nil {
			return amerr.NewRetryableError(apiErr, time.Now().Add(*abuseErr.RetryAfter))
		}

		return amerr.NewRetryableAnytimeError(apiErr)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		status := responseStatus(respErr.Response)
		apiErr := amerr.NewRemoteAPIError(operation, status, err)

		if status >= 500 && status < 600 {
			return amerr.NewRetryableAnytimeError(apiErr)
		}

		return apiErr
	}

	return amerr.NewRemoteAPIError(operation, 0, err)
}

func responseStatus(resp *http.Response) int {
	if resp == nil {
		return 0
	}

	return resp.StatusCode
}
