package githubclt

import (
	"context"
	"regexp"
	"strconv"

	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/amerr"
)

const associatedPRsLimit = 25

// PullRequestsForCommit returns the numbers of the open pull requests in the
// repository whose head commit is sha.
//
// GitHub does not populate the pull_requests field of check_suite events for
// pull requests from forks, this query is used instead.
func (clt *Client) PullRequestsForCommit(ctx context.Context, owner, repo, sha string) ([]int, error) {
	var q struct {
		Repository struct {
			Object struct {
				Commit struct {
					AssociatedPullRequests struct {
						Nodes []struct {
							Number     int
							HeadRefOid string
						}
					} `graphql:"associatedPullRequests(first: $first, states: [OPEN])"`
				} `graphql:"... on Commit"`
			} `graphql:"object(oid: $oid)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]any{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(repo),
		"oid":   githubv4.GitObjectID(sha),
		"first": githubv4.Int(associatedPRsLimit),
	}

	if err := clt.graphQLClt.Query(ctx, &q, vars); err != nil {
		return nil, clt.wrapGraphQLErr(OpPullRequestsForCommit, err)
	}

	var result []int
	for _, pr := range q.Repository.Object.Commit.AssociatedPullRequests.Nodes {
		// associatedPullRequests also contains PRs that contain the
		// commit but have a different head
		if pr.HeadRefOid != sha {
			continue
		}

		result = append(result, pr.Number)
	}

	return result, nil
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

// wrapGraphQLErr wraps err into an amerr.RemoteAPIError.
// The graphql library does not return typed errors, the status code is
// parsed from the error string.
func (clt *Client) wrapGraphQLErr(operation string, err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return amerr.NewRemoteAPIError(operation, 0, err)
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return amerr.NewRemoteAPIError(operation, 0, err)
	}

	apiErr := amerr.NewRemoteAPIError(operation, errcode, err)
	if errcode >= 500 && errcode < 600 {
		return amerr.NewRetryableAnytimeError(apiErr)
	}

	return apiErr
}
