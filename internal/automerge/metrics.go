package automerge

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/logfields"
)

const metricNamespace = "automerger"

const (
	githubEventsMetricName  = "processed_github_events_total"
	evaluationsMetricName   = "evaluations_total"
	labelRemovalsMetricName = "label_removals_total"
	mergesMetricName        = "merges_total"
)

const (
	eventTypeLabel  = "event_type"
	outcomeLabel    = "outcome"
	repositoryLabel = "repository"
	methodLabel     = "method"
	resultLabel     = "result"
)

type resultLabelVal string

const (
	resultLabelMergedVal   resultLabelVal = "merged"
	resultLabelRejectedVal resultLabelVal = "rejected"
	resultLabelFailedVal   resultLabelVal = "failed"
)

type metricCollector struct {
	logger          *zap.Logger
	processedEvents *prometheus.CounterVec
	evaluations     *prometheus.CounterVec
	labelRemovals   *prometheus.CounterVec
	merges          *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		processedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      githubEventsMetricName,
				Help:      "count of processed github webhook events",
			},
			[]string{eventTypeLabel},
		),
		evaluations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      evaluationsMetricName,
				Help:      "count of pull request evaluations by outcome",
			},
			[]string{outcomeLabel},
		),
		labelRemovals: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      labelRemovalsMetricName,
				Help:      "count of merge labels removed because of unauthorized pushes",
			},
			[]string{repositoryLabel},
		),
		merges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      mergesMetricName,
				Help:      "count of merge requests sent to github",
			},
			[]string{repositoryLabel, methodLabel, resultLabel},
		),
	}
}

func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	m.logger.Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

func repositoryLabelVal(owner, repo string) string {
	return fmt.Sprintf("%s/%s", owner, repo)
}

func (m *metricCollector) ProcessedEventsInc(eventType string) {
	cnt, err := m.processedEvents.GetMetricWith(prometheus.Labels{eventTypeLabel: eventType})
	if err != nil {
		m.logGetMetricFailed(githubEventsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) EvaluationsInc(outcome Outcome) {
	cnt, err := m.evaluations.GetMetricWith(prometheus.Labels{outcomeLabel: outcome.String()})
	if err != nil {
		m.logGetMetricFailed(evaluationsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) LabelRemovalsInc(owner, repo string) {
	cnt, err := m.labelRemovals.GetMetricWith(prometheus.Labels{repositoryLabel: repositoryLabelVal(owner, repo)})
	if err != nil {
		m.logGetMetricFailed(labelRemovalsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) MergesInc(owner, repo string, method MergeMethod, result resultLabelVal) {
	cnt, err := m.merges.GetMetricWith(prometheus.Labels{
		repositoryLabel: repositoryLabelVal(owner, repo),
		methodLabel:     string(method),
		resultLabel:     string(result),
	})
	if err != nil {
		m.logGetMetricFailed(mergesMetricName, err)
		return
	}

	cnt.Inc()
}
