package automerge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/logfields"
)

// AuthorizationResult is the decision of the Authorizer.
type AuthorizationResult uint8

const (
	AuthorizationUndefined AuthorizationResult = iota
	// ActorAuthorized means the actor is permitted to change the pull
	// request without invalidating the merge intent.
	ActorAuthorized
	// ActorInvalidated means the actor has insufficient permissions, the
	// merge labels were removed.
	ActorInvalidated
)

func (r AuthorizationResult) String() string {
	switch r {
	case ActorAuthorized:
		return "authorized"
	case ActorInvalidated:
		return "invalidated"
	default:
		return "undefined"
	}
}

// Authorizer checks if the actor that pushed commits to a pull request is
// allowed to do it while a merge label is set.
type Authorizer struct {
	policy    *LabelPolicy
	permitted map[string]struct{}
	logger    *zap.Logger
}

// NewAuthorizer returns an Authorizer that accepts actors having one of the
// permittedPermissions on the repository.
func NewAuthorizer(policy *LabelPolicy, permittedPermissions []string) *Authorizer {
	permitted := make(map[string]struct{}, len(permittedPermissions))
	for _, p := range permittedPermissions {
		permitted[strings.ToLower(p)] = struct{}{}
	}

	return &Authorizer{
		policy:    policy,
		permitted: permitted,
		logger:    zap.L().Named(loggerName).Named("authorizer"),
	}
}

func (a *Authorizer) isPermitted(permission string) bool {
	_, exists := a.permitted[strings.ToLower(permission)]
	return exists
}

// Check looks up the permission of pr.Actor.
// If it is insufficient or can not be determined, all labels of the policy
// that are set on the pull request are removed and ActorInvalidated is
// returned. If the current labels can not be retrieved, pr.EventLabels are
// removed instead. The removal of all labels is attempted, errors of the
// lookups and removals are combined and returned together with
// ActorInvalidated.
// An empty actor is treated as unauthorized.
func (a *Authorizer) Check(ctx context.Context, pr *PullRequest) (AuthorizationResult, error) {
	logger := a.logger.With(pr.LogFields...)

	var errs error
	var permission string

	if pr.Actor != "" {
		var err error

		permission, err = pr.ActorPermission(ctx)
		if err == nil && a.isPermitted(permission) {
			logger.Debug(
				"actor is authorized to push to the pull request",
				zap.String("permission", permission),
			)

			return ActorAuthorized, nil
		}

		if err != nil {
			logger.Warn(
				"retrieving permission of actor failed, treating actor as unauthorized",
				logEventPermissionLookupFailed,
				zap.Error(err),
			)

			errs = fmt.Errorf("retrieving permission of %q failed: %w", pr.Actor, err)
		}
	}

	labels, err := a.presentLabels(ctx, pr)
	if err != nil {
		logger.Warn(
			"retrieving pull request failed, removing merge labels from the webhook event",
			zap.Error(err),
		)

		errs = multierr.Append(errs, err)
	}

	if len(labels) == 0 {
		logger.Debug(
			"actor with insufficient permissions pushed to the pull request, no merge label is set",
			zap.String("permission", permission),
		)

		return ActorInvalidated, errs
	}

	logger.Info(
		"actor with insufficient permissions pushed to the pull request, removing merge labels",
		logEventUnauthorizedPush,
		zap.String("permission", permission),
		zap.Strings("labels", labels),
	)

	metrics.EvaluationsInc(OutcomeUnauthorized)

	for _, label := range labels {
		if err := pr.RemoveLabel(ctx, label); err != nil {
			logger.Error(
				"removing label failed",
				logEventRemovingLabelFailed,
				logfields.Label(label),
				zap.Error(err),
			)

			errs = multierr.Append(errs, fmt.Errorf("removing label %q failed: %w", label, err))
			continue
		}

		metrics.LabelRemovalsInc(pr.Owner, pr.Repository)
		logger.Info("label removed", logfields.Label(label))
	}

	return ActorInvalidated, errs
}

// presentLabels returns the policy labels that are set on the pull request.
// If the pull request can not be retrieved, the policy labels of
// pr.EventLabels are returned together with the error.
func (a *Authorizer) presentLabels(ctx context.Context, pr *PullRequest) ([]string, error) {
	snapshot, err := pr.Snapshot(ctx)
	if err != nil {
		return a.policy.Matching(pr.EventLabels), fmt.Errorf("retrieving pull request failed: %w", err)
	}

	return a.policy.Matching(snapshot.Labels), nil
}
