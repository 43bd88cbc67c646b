package automerge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/go-github/v59/github"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/logfields"
	github_prov "github.com/simplesurance/automerger/internal/provider/github"
	"github.com/simplesurance/automerger/internal/retry"
	"github.com/simplesurance/automerger/internal/routines"
)

const defCheckSuiteConcurrency = 4

const provisionTimeout = retry.DefTimeout

// EventFilter decides if a webhook event is processed.
type EventFilter interface {
	Match(ctx context.Context, payload []byte) (bool, error)
}

// Dispatcher processes github webhook events.
// It runs the merge evaluation for the pull requests that an event refers to
// and provisions labels when the GitHub App is installed.
type Dispatcher struct {
	clients      ClientFactory
	authorizer   *Authorizer
	orchestrator *Orchestrator
	provisioner  *Provisioner

	filter                EventFilter
	checkSuiteConcurrency int

	logger *zap.Logger
}

type DispatcherOption func(*Dispatcher)

// WithEventFilter configures the Dispatcher to ignore all events that do not
// match filter.
func WithEventFilter(filter EventFilter) DispatcherOption {
	return func(d *Dispatcher) {
		d.filter = filter
	}
}

// WithCheckSuiteConcurrency sets the max. number of pull requests that are
// evaluated in parallel for a check_suite event.
func WithCheckSuiteConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.checkSuiteConcurrency = n
	}
}

func NewDispatcher(
	clients ClientFactory,
	authorizer *Authorizer,
	orchestrator *Orchestrator,
	provisioner *Provisioner,
	opts ...DispatcherOption,
) *Dispatcher {
	d := Dispatcher{
		clients:               clients,
		authorizer:            authorizer,
		orchestrator:          orchestrator,
		provisioner:           provisioner,
		checkSuiteConcurrency: defCheckSuiteConcurrency,
		logger:                zap.L().Named(loggerName).Named("dispatcher"),
	}

	for _, o := range opts {
		o(&d)
	}

	return &d
}

// HandleEvent processes a webhook event.
// Events that do not require any action are ignored and nil is returned.
// An error is returned if processing failed, e.g. because a GitHub API call
// failed.
func (d *Dispatcher) HandleEvent(ctx context.Context, event *github_prov.Event) error {
	logger := d.logger.With(event.LogFields...)

	metrics.ProcessedEventsInc(event.Type)

	if d.filter != nil {
		match, err := d.filter.Match(ctx, event.JSON)
		if err != nil {
			return fmt.Errorf("evaluating event filter failed: %w", err)
		}

		if !match {
			logger.Debug("event does not match filter query, ignoring it", logEventEventFiltered)
			return nil
		}
	}

	var err error
	switch ev := event.Event.(type) {
	case *github.PullRequestEvent:
		err = d.onPullRequestEvent(ctx, logger, ev)

	case *github.PullRequestReviewEvent:
		err = d.onPullRequestReviewEvent(ctx, logger, ev)

	case *github.CheckSuiteEvent:
		err = d.onCheckSuiteEvent(ctx, logger, ev)

	case *github.InstallationEvent:
		err = d.onInstallationEvent(ctx, logger, ev)

	case *github.InstallationRepositoriesEvent:
		err = d.onInstallationRepositoriesEvent(ctx, logger, ev)

	default:
		logger.Debug("event ignored, event type is not supported", logEventEventIgnored)
		return nil
	}

	if err != nil {
		logger.Error(
			"processing event failed",
			logfields.Event("event_processing_failed"),
			zap.Error(err),
		)
	}

	return err
}

func (d *Dispatcher) onPullRequestEvent(ctx context.Context, logger *zap.Logger, ev *github.PullRequestEvent) error {
	var checkActor bool

	switch action := ev.GetAction(); action {
	case "opened", "reopened", "labeled", "unlabeled", "ready_for_review", "review_requested", "edited":

	case "synchronize":
		checkActor = true

	case "closed":
		logger.Debug("event ignored", logEventEventIgnored, logReasonPRClosed)
		return nil

	default:
		logger.Debug("event ignored, action is not relevant", logEventEventIgnored)
		return nil
	}

	clt, err := d.clients.ForInstallation(ev.GetInstallation().GetID())
	if err != nil {
		return err
	}

	pr, err := NewPullRequest(
		clt,
		ev.GetRepo().GetOwner().GetLogin(),
		ev.GetRepo().GetName(),
		ev.GetNumber(),
		ev.GetSender().GetLogin(),
	)
	if err != nil {
		return fmt.Errorf("incomplete pull request information in event: %w", err)
	}

	pr.EventLabels = labelNames(ev.GetPullRequest().Labels)

	return d.process(ctx, pr, checkActor)
}

func (d *Dispatcher) onPullRequestReviewEvent(ctx context.Context, logger *zap.Logger, ev *github.PullRequestReviewEvent) error {
	switch ev.GetAction() {
	case "submitted", "dismissed":

	default:
		logger.Debug("event ignored, action is not relevant", logEventEventIgnored)
		return nil
	}

	clt, err := d.clients.ForInstallation(ev.GetInstallation().GetID())
	if err != nil {
		return err
	}

	pr, err := NewPullRequest(
		clt,
		ev.GetRepo().GetOwner().GetLogin(),
		ev.GetRepo().GetName(),
		ev.GetPullRequest().GetNumber(),
		ev.GetSender().GetLogin(),
	)
	if err != nil {
		return fmt.Errorf("incomplete pull request information in event: %w", err)
	}

	return d.process(ctx, pr, false)
}

func (d *Dispatcher) onCheckSuiteEvent(ctx context.Context, logger *zap.Logger, ev *github.CheckSuiteEvent) error {
	if ev.GetAction() != "completed" {
		logger.Debug("event ignored, action is not relevant", logEventEventIgnored)
		return nil
	}

	owner := ev.GetRepo().GetOwner().GetLogin()
	repo := ev.GetRepo().GetName()
	headSHA := ev.GetCheckSuite().GetHeadSHA()

	clt, err := d.clients.ForInstallation(ev.GetInstallation().GetID())
	if err != nil {
		return err
	}

	prNumbers := checkSuitePRNumbers(ev.GetCheckSuite())
	if len(prNumbers) == 0 {
		if owner == "" || repo == "" || headSHA == "" {
			return errors.New("incomplete check suite information in event")
		}

		prNumbers, err = clt.PullRequestsForCommit(ctx, owner, repo, headSHA)
		if err != nil {
			return fmt.Errorf("retrieving pull requests for commit %s failed: %w", headSHA, err)
		}
	}

	if len(prNumbers) == 0 {
		logger.Debug(
			"event ignored, no open pull request references the commit",
			logEventEventIgnored,
			logfields.Commit(headSHA),
		)
		return nil
	}

	var errs error
	var errsMu sync.Mutex

	pool := routines.NewPool(min(d.checkSuiteConcurrency, len(prNumbers)))
	for _, nr := range prNumbers {
		nr := nr

		pool.Queue(func() {
			err := d.processCheckSuitePR(ctx, clt, owner, repo, nr, ev.GetSender().GetLogin())
			if err != nil {
				errsMu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("pull request #%d: %w", nr, err))
				errsMu.Unlock()
			}
		})
	}
	pool.Wait()

	return errs
}

func (d *Dispatcher) processCheckSuitePR(ctx context.Context, clt GithubClient, owner, repo string, number int, actor string) error {
	pr, err := NewPullRequest(clt, owner, repo, number, actor)
	if err != nil {
		return fmt.Errorf("incomplete pull request information in event: %w", err)
	}

	return d.process(ctx, pr, false)
}

// checkSuitePRNumbers returns the unique numbers of the pull requests
// referenced by cs, in the order they are listed.
func checkSuitePRNumbers(cs *github.CheckSuite) []int {
	var result []int
	seen := map[int]struct{}{}

	for _, pr := range cs.PullRequests {
		nr := pr.GetNumber()
		if nr <= 0 {
			continue
		}

		if _, exists := seen[nr]; exists {
			continue
		}
		seen[nr] = struct{}{}

		result = append(result, nr)
	}

	return result
}

func labelNames(labels []*github.Label) []string {
	result := make([]string, 0, len(labels))

	for _, l := range labels {
		result = append(result, l.GetName())
	}

	return result
}

// process evaluates the pull request. If checkActor is true, the
// permissions of the actor are checked first and the evaluation is skipped
// when the actor invalidated the merge intent.
func (d *Dispatcher) process(ctx context.Context, pr *PullRequest, checkActor bool) error {
	if checkActor {
		result, err := d.authorizer.Check(ctx, pr)
		if result == ActorInvalidated || err != nil {
			return err
		}
	}

	_, err := d.orchestrator.Evaluate(ctx, pr)
	return err
}

func (d *Dispatcher) onInstallationEvent(ctx context.Context, logger *zap.Logger, ev *github.InstallationEvent) error {
	if ev.GetAction() != "created" {
		logger.Debug("event ignored, action is not relevant", logEventEventIgnored)
		return nil
	}

	return d.provision(ctx, logger, ev.GetInstallation(), ev.Repositories)
}

func (d *Dispatcher) onInstallationRepositoriesEvent(ctx context.Context, logger *zap.Logger, ev *github.InstallationRepositoriesEvent) error {
	if ev.GetAction() != "added" {
		logger.Debug("event ignored, action is not relevant", logEventEventIgnored)
		return nil
	}

	return d.provision(ctx, logger, ev.GetInstallation(), ev.RepositoriesAdded)
}

func (d *Dispatcher) provision(ctx context.Context, logger *zap.Logger, inst *github.Installation, ghRepos []*github.Repository) error {
	clt, err := d.clients.ForInstallation(inst.GetID())
	if err != nil {
		return err
	}

	repos := toRepositories(inst.GetAccount().GetLogin(), ghRepos)
	if len(repos) == 0 {
		logger.Debug("event ignored, event does not contain repositories", logEventEventIgnored)
		return nil
	}

	// provisioning outlives the webhook request
	ctx, cancelFn := context.WithTimeout(context.WithoutCancel(ctx), provisionTimeout)
	defer cancelFn()

	d.provisioner.Provision(ctx, clt, repos)

	return nil
}

// toRepositories converts ghRepos to Repository values.
// The owner is taken from the full name of the repository, if it is missing
// defaultOwner is used.
func toRepositories(defaultOwner string, ghRepos []*github.Repository) []Repository {
	result := make([]Repository, 0, len(ghRepos))

	for _, r := range ghRepos {
		repo := Repository{
			Owner: r.GetOwner().GetLogin(),
			Name:  r.GetName(),
		}

		if owner, name, found := strings.Cut(r.GetFullName(), "/"); found {
			if repo.Owner == "" {
				repo.Owner = owner
			}

			if repo.Name == "" {
				repo.Name = name
			}
		}

		if repo.Owner == "" {
			repo.Owner = defaultOwner
		}

		if repo.Owner == "" || repo.Name == "" {
			continue
		}

		result = append(result, repo)
	}

	return result
}
