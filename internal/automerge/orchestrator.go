package automerge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/githubclt"
	"github.com/simplesurance/automerger/internal/logfields"
)

const loggerName = "automerger"

// Orchestrator decides if a pull request is merged and merges it.
type Orchestrator struct {
	policy      *LabelPolicy
	readyStates map[string]struct{}
	logger      *zap.Logger
}

// NewOrchestrator returns an Orchestrator that merges pull requests which
// have exactly one label of policy and whose mergeable_state is one of
// readyStates.
func NewOrchestrator(policy *LabelPolicy, readyStates []string) *Orchestrator {
	return &Orchestrator{
		policy:      policy,
		readyStates: toStrSet(readyStates),
		logger:      zap.L().Named(loggerName).Named("orchestrator"),
	}
}

// Evaluate runs the merge gates for pr in order and merges it when all
// pass:
//  1. the pull request is open,
//  2. exactly one policy label is set,
//  3. the mergeable_state is a ready state,
//  4. mergeable is true,
//  5. no reviewer requests changes.
//
// A failing gate is not an error, it is reported via the returned Outcome.
// Errors are returned when a GitHub API call failed, merging is not
// retried.
func (o *Orchestrator) Evaluate(ctx context.Context, pr *PullRequest) (Outcome, error) {
	logger := o.logger.With(pr.LogFields...)

	outcome, err := o.evaluate(ctx, logger, pr)
	if err != nil {
		return outcome, err
	}

	metrics.EvaluationsInc(outcome)

	return outcome, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, logger *zap.Logger, pr *PullRequest) (Outcome, error) {
	snapshot, err := pr.Snapshot(ctx)
	if err != nil {
		return OutcomeUndefined, fmt.Errorf("retrieving pull request failed: %w", err)
	}

	logger = logger.With(logfields.Commit(snapshot.HeadSHA))

	if snapshot.Merged || snapshot.State == "closed" {
		logger.Debug(
			"pull request is not open, skipping evaluation",
			logEventEvaluated,
			logReasonPRClosed,
			logFieldOutcome(OutcomeClosed),
		)

		return OutcomeClosed, nil
	}

	resolution := o.policy.Resolve(snapshot.Labels)
	switch {
	case resolution.MatchCount == 0:
		logger.Debug(
			"pull request has no merge label",
			logEventEvaluated,
			logFieldOutcome(OutcomeNoLabel),
		)

		return OutcomeNoLabel, nil

	case !resolution.Decided():
		logger.Info(
			"pull request has multiple merge labels, merge method is ambiguous",
			logEventEvaluated,
			logFieldOutcome(OutcomeAmbiguousLabels),
			zap.Strings("labels", o.policy.Matching(snapshot.Labels)),
		)

		return OutcomeAmbiguousLabels, nil
	}

	logger = logger.With(
		logfields.Label(resolution.Label),
		logfields.MergeMethod(string(resolution.Method)),
	)

	if _, exists := o.readyStates[snapshot.MergeableState]; !exists {
		logger.Info(
			"pull request is not ready for merge",
			logEventEvaluated,
			logFieldOutcome(OutcomeNotReady),
			zap.String("mergeable_state", snapshot.MergeableState),
		)

		return OutcomeNotReady, nil
	}

	if snapshot.Mergeable != githubclt.MergeableTrue {
		logger.Info(
			"pull request is not mergeable",
			logEventEvaluated,
			logFieldOutcome(OutcomeNotMergeable),
			zap.Stringer("mergeable", snapshot.Mergeable),
		)

		return OutcomeNotMergeable, nil
	}

	reviews, err := pr.Reviews(ctx)
	if err != nil {
		return OutcomeUndefined, fmt.Errorf("retrieving reviews failed: %w", err)
	}

	if IsBlocked(reviews) {
		logger.Info(
			"changes are requested by reviewers, pull request is not merged",
			logEventEvaluated,
			logFieldOutcome(OutcomeBlockedByReview),
			zap.Strings("reviewers", changeRequesters(reviews)),
		)

		return OutcomeBlockedByReview, nil
	}

	result, err := pr.Merge(ctx, resolution.Method)
	if err != nil {
		metrics.MergesInc(pr.Owner, pr.Repository, resolution.Method, resultLabelFailedVal)
		return OutcomeUndefined, fmt.Errorf("merging pull request failed: %w", err)
	}

	if !result.Merged {
		metrics.MergesInc(pr.Owner, pr.Repository, resolution.Method, resultLabelRejectedVal)
		logger.Warn(
			"github did not merge the pull request",
			logEventMergeRejected,
			logFieldOutcome(OutcomeMergeRejected),
			zap.String("github_message", result.Message),
		)

		return OutcomeMergeRejected, nil
	}

	metrics.MergesInc(pr.Owner, pr.Repository, resolution.Method, resultLabelMergedVal)
	logger.Info(
		"pull request merged",
		logEventMerged,
		logFieldOutcome(OutcomeMerged),
		zap.String("merge_commit", result.SHA),
	)

	return OutcomeMerged, nil
}
