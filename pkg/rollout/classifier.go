package rollout

import (
	"context"
	"fmt"
	"strings"

	"github.com/raycarroll/shipctl/pkg/models"
)

// FailureSignals are the keywords that mark a pod's events as failing.
var FailureSignals = []string{
	"failed",
	"error",
	"backoff",
	"not found",
	"forbidden",
	"denied",
	"exceeded",
	"unhealthy",
}

// SnapshotSource lists the pods of a target.
type SnapshotSource interface {
	Snapshot(ctx context.Context, target models.DeploymentTarget) (models.RolloutSnapshot, error)
}

// EventSource returns the rendered events of one pod.
type EventSource interface {
	PodEvents(ctx context.Context, namespace, pod string) (string, error)
}

// EventClassifier decides whether the newest pod of a tick's snapshot is
// failing. The snapshot is the one the tick rendered, so display and
// decision agree.
type EventClassifier interface {
	Classify(ctx context.Context, target models.DeploymentTarget, snap models.RolloutSnapshot) (models.EventVerdict, error)
}

// KeywordClassifier scans the newest pod's events for failure signals.
// Matching is case-insensitive substring search over the whole event text.
type KeywordClassifier struct {
	events  EventSource
	signals []string
}

// NewKeywordClassifier creates a classifier using FailureSignals.
func NewKeywordClassifier(events EventSource) *KeywordClassifier {
	return &KeywordClassifier{events: events, signals: FailureSignals}
}

// Classify implements EventClassifier. A snapshot without pods is Ok.
func (k *KeywordClassifier) Classify(ctx context.Context, target models.DeploymentTarget, snap models.RolloutSnapshot) (models.EventVerdict, error) {
	verdict := models.EventVerdict{Verdict: models.VerdictOk, Namespace: target.Namespace}

	newest, ok := snap.Newest()
	if !ok {
		return verdict, nil
	}
	verdict.PodName = newest.Name

	text, err := k.events.PodEvents(ctx, target.Namespace, newest.Name)
	if err != nil {
		return verdict, fmt.Errorf("events of %s: %w", newest.Name, err)
	}
	verdict.EventText = text
	verdict.Matched = MatchSignals(text, k.signals)
	if len(verdict.Matched) > 0 {
		verdict.Verdict = models.VerdictError
	}
	return verdict, nil
}

// MatchSignals returns the signals contained in text, ignoring case.
func MatchSignals(text string, signals []string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, s := range signals {
		if strings.Contains(lower, s) {
			matched = append(matched, s)
		}
	}
	return matched
}
