package automerge

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/automerger/internal/amerr"
	"github.com/simplesurance/automerger/internal/automerge/mocks"
	"github.com/simplesurance/automerger/internal/githubclt"
	github_prov "github.com/simplesurance/automerger/internal/provider/github"
)

const installationID int64 = 42

type filterFunc func(context.Context, []byte) (bool, error)

func (f filterFunc) Match(ctx context.Context, payload []byte) (bool, error) {
	return f(ctx, payload)
}

func newTestDispatcher(t *testing.T, clt GithubClient, opts ...DispatcherOption) *Dispatcher {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	policy := newTestPolicy(t)
	clients := ClientFactoryFunc(func(id int64) (GithubClient, error) {
		if id == 0 {
			return nil, amerr.ErrMissingInstallation
		}

		assert.Equal(t, installationID, id)
		return clt, nil
	})

	return NewDispatcher(
		clients,
		NewAuthorizer(policy, defPermittedPermissions),
		NewOrchestrator(policy, defReadyStates),
		NewProvisioner(policy, directRetryer{}),
		opts...,
	)
}

func ghRepo() *github.Repository {
	return &github.Repository{
		Name:     github.String(repo),
		FullName: github.String(repoOwner + "/" + repo),
		Owner:    &github.User{Login: github.String(repoOwner)},
	}
}

func newPullRequestEvent(action string, number int, sender string, labels ...string) *github_prov.Event {
	ghLabels := make([]*github.Label, 0, len(labels))
	for _, l := range labels {
		ghLabels = append(ghLabels, &github.Label{Name: github.String(l)})
	}

	return &github_prov.Event{
		DeliveryID: "1",
		Type:       "pull_request",
		JSON:       []byte(`{}`),
		Event: &github.PullRequestEvent{
			Action:       github.String(action),
			Number:       github.Int(number),
			PullRequest:  &github.PullRequest{Number: github.Int(number), Labels: ghLabels},
			Repo:         ghRepo(),
			Sender:       &github.User{Login: github.String(sender)},
			Installation: &github.Installation{ID: github.Int64(installationID)},
		},
	}
}

func newCheckSuiteEvent(prNumbers ...int) *github_prov.Event {
	prs := make([]*github.PullRequest, 0, len(prNumbers))
	for _, nr := range prNumbers {
		prs = append(prs, &github.PullRequest{Number: github.Int(nr)})
	}

	return &github_prov.Event{
		DeliveryID: "2",
		Type:       "check_suite",
		JSON:       []byte(`{}`),
		Event: &github.CheckSuiteEvent{
			Action: github.String("completed"),
			CheckSuite: &github.CheckSuite{
				HeadSHA:      github.String(headSHA),
				PullRequests: prs,
			},
			Repo:         ghRepo(),
			Sender:       &github.User{Login: github.String("github-actions[bot]")},
			Installation: &github.Installation{ID: github.Int64(installationID)},
		},
	}
}

func TestLabeledEventMergesPullRequest(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	clt.EXPECT().CollaboratorPermission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	mockPullRequestCall(clt, cleanSnapshot(1, "auto-merge"))
	mockListReviewsCall(clt, 1, review("alice", githubclt.ReviewStateApproved))
	mockSuccessfulMergeCall(clt, 1, MergeMethodMerge).Times(1)

	err := d.HandleEvent(context.Background(), newPullRequestEvent("labeled", 1, "alice"))
	require.NoError(t, err)
}

func TestClosedEventIsIgnored(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	policy := newTestPolicy(t)
	d := NewDispatcher(
		ClientFactoryFunc(func(int64) (GithubClient, error) {
			t.Error("client was requested for closed event")
			return nil, errors.New("unexpected call")
		}),
		NewAuthorizer(policy, defPermittedPermissions),
		NewOrchestrator(policy, defReadyStates),
		NewProvisioner(policy, directRetryer{}),
	)

	err := d.HandleEvent(context.Background(), newPullRequestEvent("closed", 1, "alice"))
	require.NoError(t, err)
}

func TestSynchronizeByUnauthorizedActorRemovesLabels(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	mockPermissionCall(clt, "mallory", "read").Times(1)
	mockPullRequestCall(clt, cleanSnapshot(1, "auto-merge", "auto-squash")).Times(1)
	clt.EXPECT().RemoveLabel(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(1), gomock.Eq("auto-merge")).Return(nil).Times(1)
	clt.EXPECT().RemoveLabel(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(1), gomock.Eq("auto-squash")).Return(nil).Times(1)
	clt.EXPECT().ListReviews(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	clt.EXPECT().Merge(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	err := d.HandleEvent(context.Background(), newPullRequestEvent("synchronize", 1, "mallory"))
	require.NoError(t, err)
}

func TestSynchronizeRemovesEventLabelsWhenGithubIsUnavailable(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	lookupErr := amerr.NewRetryableAnytimeError(
		amerr.NewRemoteAPIError(githubclt.OpCollaboratorPermission, http.StatusBadGateway, errors.New("bad gateway")),
	)
	fetchErr := amerr.NewRetryableAnytimeError(
		amerr.NewRemoteAPIError(githubclt.OpGetPullRequest, http.StatusBadGateway, errors.New("bad gateway")),
	)

	clt.EXPECT().CollaboratorPermission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq("mallory")).Return("", lookupErr).Times(1)
	clt.EXPECT().PullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(1)).Return(nil, fetchErr).Times(1)
	clt.EXPECT().RemoveLabel(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(1), gomock.Eq("auto-merge")).Return(nil).Times(1)
	clt.EXPECT().ListReviews(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	clt.EXPECT().Merge(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	err := d.HandleEvent(context.Background(), newPullRequestEvent("synchronize", 1, "mallory", "documentation", "auto-merge"))
	require.ErrorIs(t, err, lookupErr)
	require.ErrorIs(t, err, fetchErr)
}

func TestSynchronizeByAuthorizedActorMerges(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	mockPermissionCall(clt, "alice", "write").Times(1)
	mockPullRequestCall(clt, cleanSnapshot(1, "auto-squash")).Times(1)
	mockListReviewsCall(clt, 1)
	mockSuccessfulMergeCall(clt, 1, MergeMethodSquash).Times(1)
	clt.EXPECT().RemoveLabel(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	err := d.HandleEvent(context.Background(), newPullRequestEvent("synchronize", 1, "alice"))
	require.NoError(t, err)
}

func TestReviewSubmittedEventMerges(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	mockPullRequestCall(clt, cleanSnapshot(3, "auto-rebase"))
	mockListReviewsCall(clt, 3, review("bob", githubclt.ReviewStateApproved))
	mockSuccessfulMergeCall(clt, 3, MergeMethodRebase).Times(1)

	err := d.HandleEvent(context.Background(), &github_prov.Event{
		Type: "pull_request_review",
		JSON: []byte(`{}`),
		Event: &github.PullRequestReviewEvent{
			Action:       github.String("submitted"),
			PullRequest:  &github.PullRequest{Number: github.Int(3)},
			Repo:         ghRepo(),
			Sender:       &github.User{Login: github.String("bob")},
			Installation: &github.Installation{ID: github.Int64(installationID)},
		},
	})
	require.NoError(t, err)
}

func TestCheckSuiteMergesOnlyUnblockedPullRequest(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	mockPullRequestCall(clt, cleanSnapshot(1, "auto-merge")).Times(1)
	mockListReviewsCall(clt, 1, review("alice", githubclt.ReviewStateApproved))
	mockSuccessfulMergeCall(clt, 1, MergeMethodMerge).Times(1)

	mockPullRequestCall(clt, cleanSnapshot(2, "auto-merge")).Times(1)
	mockListReviewsCall(clt, 2, review("bob", githubclt.ReviewStateChangesRequested))

	err := d.HandleEvent(context.Background(), newCheckSuiteEvent(1, 2, 1))
	require.NoError(t, err)
}

func TestCheckSuiteFailureDoesNotPreventOtherMerges(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt, WithCheckSuiteConcurrency(1))

	fetchErr := errors.New("server error")

	clt.EXPECT().PullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(1)).Return(nil, fetchErr)

	mockPullRequestCall(clt, cleanSnapshot(2, "auto-merge"))
	mockListReviewsCall(clt, 2)
	mockSuccessfulMergeCall(clt, 2, MergeMethodMerge).Times(1)

	err := d.HandleEvent(context.Background(), newCheckSuiteEvent(1, 2))
	require.ErrorIs(t, err, fetchErr)
}

func TestCheckSuiteWithoutPullRequestsResolvesThemByCommit(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	clt.EXPECT().
		PullRequestsForCommit(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Eq(headSHA)).
		Return([]int{5}, nil).
		Times(1)
	mockPullRequestCall(clt, cleanSnapshot(5, "auto-merge"))
	mockListReviewsCall(clt, 5)
	mockSuccessfulMergeCall(clt, 5, MergeMethodMerge).Times(1)

	err := d.HandleEvent(context.Background(), newCheckSuiteEvent())
	require.NoError(t, err)
}

func TestCheckSuiteWithoutOpenPullRequests(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	clt.EXPECT().PullRequestsForCommit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	clt.EXPECT().PullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	err := d.HandleEvent(context.Background(), newCheckSuiteEvent())
	require.NoError(t, err)
}

func TestInstallationCreatedProvisionsLabels(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	for _, rule := range newTestPolicy(t).Rules() {
		clt.EXPECT().
			CreateLabel(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq("repo1"), gomock.Eq(rule.Label), gomock.Any(), gomock.Any()).
			Return(true, nil).
			Times(1)
		clt.EXPECT().
			CreateLabel(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq("repo2"), gomock.Eq(rule.Label), gomock.Any(), gomock.Any()).
			Return(false, nil).
			Times(1)
	}

	err := d.HandleEvent(context.Background(), &github_prov.Event{
		Type: "installation",
		JSON: []byte(`{}`),
		Event: &github.InstallationEvent{
			Action: github.String("created"),
			Repositories: []*github.Repository{
				{Name: github.String("repo1"), FullName: github.String(repoOwner + "/repo1")},
				{Name: github.String("repo2")},
			},
			Installation: &github.Installation{
				ID:      github.Int64(installationID),
				Account: &github.User{Login: github.String(repoOwner)},
			},
		},
	})
	require.NoError(t, err)
}

func TestProvisioningOutlivesCanceledEventContext(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	ctx, cancelFn := context.WithCancel(context.Background())
	cancelFn()

	clt.EXPECT().
		CreateLabel(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _, _, _, _ string) (bool, error) {
			assert.NoError(t, ctx.Err())
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return true, nil
		}).
		Times(len(newTestPolicy(t).Rules()))

	err := d.HandleEvent(ctx, &github_prov.Event{
		Type: "installation_repositories",
		JSON: []byte(`{}`),
		Event: &github.InstallationRepositoriesEvent{
			Action:            github.String("added"),
			RepositoriesAdded: []*github.Repository{ghRepo()},
			Installation:      &github.Installation{ID: github.Int64(installationID)},
		},
	})
	require.NoError(t, err)
}

func TestInstallationRepositoriesAddedProvisionsLabels(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	clt.EXPECT().
		CreateLabel(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repo), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(true, nil).
		Times(len(newTestPolicy(t).Rules()))

	err := d.HandleEvent(context.Background(), &github_prov.Event{
		Type: "installation_repositories",
		JSON: []byte(`{}`),
		Event: &github.InstallationRepositoriesEvent{
			Action:            github.String("added"),
			RepositoriesAdded: []*github.Repository{ghRepo()},
			Installation:      &github.Installation{ID: github.Int64(installationID)},
		},
	})
	require.NoError(t, err)
}

func TestMissingInstallationIsAnError(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	ev := newPullRequestEvent("labeled", 1, "alice")
	ev.Event.(*github.PullRequestEvent).Installation = nil

	err := d.HandleEvent(context.Background(), ev)
	require.ErrorIs(t, err, amerr.ErrMissingInstallation)
}

func TestStaticClientFactoryIgnoresInstallation(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	policy := newTestPolicy(t)
	d := NewDispatcher(
		StaticClientFactory(clt),
		NewAuthorizer(policy, defPermittedPermissions),
		NewOrchestrator(policy, defReadyStates),
		NewProvisioner(policy, directRetryer{}),
	)

	mockPullRequestCall(clt, cleanSnapshot(1, "auto-merge"))
	mockListReviewsCall(clt, 1)
	mockSuccessfulMergeCall(clt, 1, MergeMethodMerge).Times(1)

	ev := newPullRequestEvent("labeled", 1, "alice")
	ev.Event.(*github.PullRequestEvent).Installation = nil

	err := d.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
}

func TestFilteredEventsAreIgnored(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))

	var filterPayload []byte
	d := newTestDispatcher(t, clt, WithEventFilter(filterFunc(func(_ context.Context, payload []byte) (bool, error) {
		filterPayload = payload
		return false, nil
	})))

	err := d.HandleEvent(context.Background(), newPullRequestEvent("labeled", 1, "alice"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), filterPayload)
}

func TestFilterErrorIsReturned(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))

	filterErr := errors.New("invalid query result")
	d := newTestDispatcher(t, clt, WithEventFilter(filterFunc(func(context.Context, []byte) (bool, error) {
		return false, filterErr
	})))

	err := d.HandleEvent(context.Background(), newPullRequestEvent("labeled", 1, "alice"))
	require.ErrorIs(t, err, filterErr)
}

func TestUnsupportedEventsAreIgnored(t *testing.T) {
	clt := mocks.NewMockGithubClient(gomock.NewController(t))
	d := newTestDispatcher(t, clt)

	err := d.HandleEvent(context.Background(), &github_prov.Event{
		Type:  "ping",
		JSON:  []byte(`{}`),
		Event: &github.PingEvent{Zen: github.String("zen")},
	})
	require.NoError(t, err)
}

func TestToRepositories(t *testing.T) {
	repos := toRepositories("fallback", []*github.Repository{
		{Name: github.String("a"), Owner: &github.User{Login: github.String("owner")}},
		{FullName: github.String("other/b")},
		{Name: github.String("c")},
		{},
	})

	assert.Equal(t, []Repository{
		{Owner: "owner", Name: "a"},
		{Owner: "other", Name: "b"},
		{Owner: "fallback", Name: "c"},
	}, repos)
}
