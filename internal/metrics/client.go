package metrics

import (
	"errors"

	"mls_chat/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// partialSuccess is implemented by commit errors that leave the commit
// merged.
type partialSuccess interface {
	PartialSuccess() bool
}

// ClientCollector records what the group coordinator does on one client.
type ClientCollector struct {
	commits             *prometheus.CounterVec
	dueCommits          prometheus.Counter
	keyPackagesUploaded prometheus.Counter
}

func NewClientCollector(reg prometheus.Registerer) *ClientCollector {
	factory := promauto.With(reg)
	return &ClientCollector{
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceMLS,
			Subsystem: subsystemClient,
			Name:      "commits_total",
			Help:      "commits executed, by intent and outcome",
		}, []string{LabelIntent, LabelOutcome}),
		dueCommits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceMLS,
			Subsystem: subsystemClient,
			Name:      "due_commits_fired_total",
			Help:      "pending proposal commits fired by the scheduler",
		}),
		keyPackagesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceMLS,
			Subsystem: subsystemClient,
			Name:      "key_packages_uploaded_total",
			Help:      "key packages generated and uploaded to the delivery service",
		}),
	}
}

func (c *ClientCollector) CommitExecuted(intent model.IntentKind, err error) {
	outcome := OutcomeSuccess
	var ps partialSuccess
	switch {
	case err == nil:
	case errors.As(err, &ps) && ps.PartialSuccess():
		outcome = OutcomePartial
	default:
		outcome = OutcomeFailure
	}
	c.commits.With(prometheus.Labels{LabelIntent: intent.String(), LabelOutcome: outcome}).Inc()
}

func (c *ClientCollector) DueCommitFired() {
	c.dueCommits.Inc()
}

func (c *ClientCollector) KeyPackagesUploaded(n int) {
	c.keyPackagesUploaded.Add(float64(n))
}
