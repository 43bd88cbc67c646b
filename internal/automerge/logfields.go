package automerge

import (
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/logfields"
)

var (
	logEventEventIgnored           = logfields.Event("github_event_ignored")
	logEventEventFiltered          = logfields.Event("github_event_filtered")
	logEventEvaluated              = logfields.Event("pull_request_evaluated")
	logEventMerged                 = logfields.Event("pull_request_merged")
	logEventMergeRejected          = logfields.Event("pull_request_merge_rejected")
	logEventUnauthorizedPush       = logfields.Event("unauthorized_push")
	logEventPermissionLookupFailed = logfields.Event("github_permission_lookup_failed")
	logEventRemovingLabelFailed    = logfields.Event("github_removing_label_failed")
	logEventLabelCreated           = logfields.Event("github_label_created")
	logEventLabelExists            = logfields.Event("github_label_exists")
	logEventCreatingLabelFailed    = logfields.Event("github_creating_label_failed")
	logEventProvisioningAborted    = logfields.Event("label_provisioning_aborted")

	logReasonPRClosed = logFieldReason("pull_request_closed")
)

func logFieldReason(reason string) zap.Field {
	return zap.String("reason", reason)
}

func logFieldOutcome(o Outcome) zap.Field {
	return zap.Stringer("outcome", o)
}
