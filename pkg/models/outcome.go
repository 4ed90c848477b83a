package models

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the result of classifying a pod's events.
type Verdict string

const (
	VerdictOk    Verdict = "Ok"
	VerdictError Verdict = "Error"
)

// EventVerdict is the classification of the newest pod's events together
// with the evidence it was based on.
type EventVerdict struct {
	Verdict   Verdict
	PodName   string
	Namespace string
	EventText string
	Matched   []string // failure signals found in EventText
}

// IsError returns true if the verdict signals a failure.
func (v EventVerdict) IsError() bool {
	return v.Verdict == VerdictError
}

// OutcomeKind represents how a supervisor run ended.
type OutcomeKind string

const (
	OutcomeConverged OutcomeKind = "Converged"
	OutcomeErrored   OutcomeKind = "Errored"
	OutcomeTimedOut  OutcomeKind = "TimedOut"
)

// RolloutOutcome is the terminal result of a supervisor run.
type RolloutOutcome struct {
	Kind     OutcomeKind
	Verdict  *EventVerdict // set for OutcomeErrored
	Snapshot RolloutSnapshot
	Elapsed  time.Duration
}

// Converged creates a converged outcome.
func Converged(snap RolloutSnapshot, elapsed time.Duration) RolloutOutcome {
	return RolloutOutcome{Kind: OutcomeConverged, Snapshot: snap, Elapsed: elapsed}
}

// Errored creates an errored outcome carrying the verdict.
func Errored(verdict EventVerdict, snap RolloutSnapshot, elapsed time.Duration) RolloutOutcome {
	return RolloutOutcome{Kind: OutcomeErrored, Verdict: &verdict, Snapshot: snap, Elapsed: elapsed}
}

// TimedOut creates a timed out outcome.
func TimedOut(snap RolloutSnapshot, elapsed time.Duration) RolloutOutcome {
	return RolloutOutcome{Kind: OutcomeTimedOut, Snapshot: snap, Elapsed: elapsed}
}

// Succeeded returns true only for a converged rollout.
func (o RolloutOutcome) Succeeded() bool {
	return o.Kind == OutcomeConverged
}

// RecoveryAction is the choice made in the error recovery menu.
type RecoveryAction string

const (
	ActionRedeploy                 RecoveryAction = "redeploy"
	ActionResyncSecretsAndRedeploy RecoveryAction = "resync-secrets"
	ActionResyncConfigAndRedeploy  RecoveryAction = "resync-config"
	ActionAbort                    RecoveryAction = "abort"
)

// RecoveryActions lists every menu choice in display order.
var RecoveryActions = []RecoveryAction{
	ActionRedeploy,
	ActionResyncSecretsAndRedeploy,
	ActionResyncConfigAndRedeploy,
	ActionAbort,
}

// Label returns the menu label of the action.
func (a RecoveryAction) Label() string {
	switch a {
	case ActionRedeploy:
		return "Redeploy (restart rollout)"
	case ActionResyncSecretsAndRedeploy:
		return "Resync SecretProviderClass and redeploy"
	case ActionResyncConfigAndRedeploy:
		return "Resync ConfigMap and redeploy"
	case ActionAbort:
		return "Abort (inspect code/config manually)"
	default:
		return string(a)
	}
}

// ParseRecoveryAction parses an action name.
func ParseRecoveryAction(s string) (RecoveryAction, error) {
	for _, a := range RecoveryActions {
		if strings.EqualFold(strings.TrimSpace(s), string(a)) {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown recovery action %q", s)
}
