// Package recovery drives the operator-facing menu that runs after a
// rollout reports a failure. Choosing the action (Decider) is kept apart
// from performing it (Resolver), so scripted callers and tests need no
// terminal.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/raycarroll/shipctl/pkg/logger"
	"github.com/raycarroll/shipctl/pkg/models"
)

var (
	// ErrAborted is returned when the operator chose Abort.
	ErrAborted = errors.New("recovery aborted: inspect code and configuration manually")
	// ErrRecoveryLimit is returned when every allowed retry failed.
	ErrRecoveryLimit = errors.New("recovery limit reached")
)

// DefaultAdvisorTimeout bounds one advisor call.
const DefaultAdvisorTimeout = 30 * time.Second

var log = logger.WithPrefix("[recovery] ")

// Restarter issues a rollout restart.
type Restarter interface {
	Restart(ctx context.Context, target models.DeploymentTarget) error
}

// Supervisor watches a rollout until it ends.
type Supervisor interface {
	Supervise(ctx context.Context, target models.DeploymentTarget, timeout time.Duration) (models.RolloutOutcome, error)
}

// SecretSyncer regenerates and applies the secret provider manifest.
type SecretSyncer interface {
	SyncSecrets(ctx context.Context, target models.DeploymentTarget) error
}

// ConfigSyncer regenerates and applies the configmap manifest.
type ConfigSyncer interface {
	SyncConfig(ctx context.Context, target models.DeploymentTarget) error
}

// Advisor returns a free-text root-cause hint for a failing pod.
type Advisor interface {
	Advise(ctx context.Context, namespace, pod string) (string, error)
}

// Actions are the side effects a recovery can perform.
type Actions struct {
	Restarter  Restarter
	Supervisor Supervisor
	Secrets    SecretSyncer
	Config     ConfigSyncer
}

// Resolver performs the chosen recovery actions.
type Resolver struct {
	decider       Decider
	actions       Actions
	maxRecoveries int
	timeout       time.Duration
	advisor       Advisor
	adviseTimeout time.Duration
	out           io.Writer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAdvisor shows a diagnostic hint before each decision.
func WithAdvisor(a Advisor) Option {
	return func(r *Resolver) { r.advisor = a }
}

// WithAdvisorTimeout bounds each advisor call. Non-positive values keep
// DefaultAdvisorTimeout.
func WithAdvisorTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.adviseTimeout = d
		}
	}
}

// WithOutput sets where evidence is printed.
func WithOutput(w io.Writer) Option {
	return func(r *Resolver) { r.out = w }
}

// WithTimeout sets the timeout of every retried supervise call.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// NewResolver creates a resolver. maxRecoveries is the number of retries
// allowed per Resolve call; zero only shows the evidence.
func NewResolver(decider Decider, actions Actions, maxRecoveries int, opts ...Option) (*Resolver, error) {
	if decider == nil {
		return nil, errors.New("recovery: decider is required")
	}
	if actions.Restarter == nil || actions.Supervisor == nil {
		return nil, errors.New("recovery: restarter and supervisor are required")
	}
	if maxRecoveries < 0 {
		return nil, fmt.Errorf("recovery: max recoveries must not be negative, got %d", maxRecoveries)
	}

	r := &Resolver{
		decider:       decider,
		actions:       actions,
		maxRecoveries: maxRecoveries,
		adviseTimeout: DefaultAdvisorTimeout,
		out:           io.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve handles a failed rollout. It returns the outcome of the last
// retried rollout, or the errored outcome together with ErrAborted or
// ErrRecoveryLimit when no retry converged.
func (r *Resolver) Resolve(ctx context.Context, target models.DeploymentTarget, verdict models.EventVerdict) (models.RolloutOutcome, error) {
	outcome := models.Errored(verdict, models.RolloutSnapshot{}, 0)

	for attempt := 1; ; attempt++ {
		current := *outcome.Verdict
		r.present(ctx, current)

		if attempt > r.maxRecoveries {
			log.Warn("%s: giving up after %d recovery attempts", target, r.maxRecoveries)
			return outcome, ErrRecoveryLimit
		}

		action, err := r.decider.Decide(ctx, current, attempt)
		if err != nil {
			return outcome, err
		}
		log.Info("%s: attempt %d, action %s", target, attempt, action)
		if action == models.ActionAbort {
			return outcome, ErrAborted
		}

		next, err := r.perform(ctx, target, action)
		if err != nil {
			return outcome, err
		}
		if next.Kind != models.OutcomeErrored || next.Verdict == nil {
			return next, nil
		}
		outcome = next
	}
}

// perform runs one non-abort action: sync (if any), restart, supervise.
func (r *Resolver) perform(ctx context.Context, target models.DeploymentTarget, action models.RecoveryAction) (models.RolloutOutcome, error) {
	switch action {
	case models.ActionResyncSecretsAndRedeploy:
		if r.actions.Secrets == nil {
			return models.RolloutOutcome{}, errors.New("secret sync is not configured")
		}
		if err := r.actions.Secrets.SyncSecrets(ctx, target); err != nil {
			return models.RolloutOutcome{}, fmt.Errorf("resyncing secret provider class: %w", err)
		}
	case models.ActionResyncConfigAndRedeploy:
		if r.actions.Config == nil {
			return models.RolloutOutcome{}, errors.New("config sync is not configured")
		}
		if err := r.actions.Config.SyncConfig(ctx, target); err != nil {
			return models.RolloutOutcome{}, fmt.Errorf("resyncing configmap: %w", err)
		}
	case models.ActionRedeploy:
	default:
		return models.RolloutOutcome{}, fmt.Errorf("unsupported recovery action %q", action)
	}

	if err := r.actions.Restarter.Restart(ctx, target); err != nil {
		return models.RolloutOutcome{}, fmt.Errorf("restarting %s: %w", target, err)
	}
	return r.actions.Supervisor.Supervise(ctx, target, r.timeout)
}

func (r *Resolver) present(ctx context.Context, verdict models.EventVerdict) {
	fmt.Fprintln(r.out, FormatEvidence(verdict))

	if r.advisor == nil || verdict.PodName == "" {
		return
	}
	adviseCtx, cancel := context.WithTimeout(ctx, r.adviseTimeout)
	defer cancel()
	advice, err := r.advisor.Advise(adviseCtx, verdict.Namespace, verdict.PodName)
	if err != nil {
		log.Warn("diagnostic advisor failed: %v", err)
		return
	}
	if advice != "" {
		fmt.Fprintln(r.out, FormatAdvice(advice))
	}
}
