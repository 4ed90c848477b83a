package rollout

import (
	"context"
	"fmt"
	"io"
	"time"

	"k8s.io/utils/clock"

	"github.com/raycarroll/shipctl/pkg/logger"
	"github.com/raycarroll/shipctl/pkg/models"
	"github.com/raycarroll/shipctl/pkg/poll"
)

const (
	DefaultTimeout      = 300 * time.Second
	DefaultPollInterval = 5 * time.Second
	DefaultSettleDelay  = 3 * time.Second
)

var log = logger.WithPrefix("[rollout] ")

// Restarter issues a rollout restart of a deployment.
type Restarter interface {
	Restart(ctx context.Context, target models.DeploymentTarget) error
}

// Supervisor polls a deployment after a manifest apply until it converges,
// fails, or times out.
type Supervisor struct {
	pods       SnapshotSource
	classifier EventClassifier
	restarter  Restarter
	renderer   Renderer
	clock      clock.Clock
	interval   time.Duration
	settle     time.Duration
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithPollInterval sets the time between ticks.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSettleDelay sets the wait before the first tick. Zero disables it.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.settle = d
		}
	}
}

// WithRenderer sets where live status goes.
func WithRenderer(r Renderer) Option {
	return func(s *Supervisor) { s.renderer = r }
}

// NewSupervisor creates a supervisor. Status is discarded unless a
// renderer is configured.
func NewSupervisor(pods SnapshotSource, classifier EventClassifier, restarter Restarter, opts ...Option) *Supervisor {
	s := &Supervisor{
		pods:       pods,
		classifier: classifier,
		restarter:  restarter,
		renderer:   NewStatusRenderer(io.Discard),
		clock:      clock.RealClock{},
		interval:   DefaultPollInterval,
		settle:     DefaultSettleDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Supervise runs the poll loop for target. A non-positive timeout uses
// DefaultTimeout. The returned error is only set for invalid input or a
// cancelled context; rollout failures are reported through the outcome.
func (s *Supervisor) Supervise(ctx context.Context, target models.DeploymentTarget, timeout time.Duration) (models.RolloutOutcome, error) {
	if err := target.Validate(); err != nil {
		return models.RolloutOutcome{}, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tlog := log.With("target", target.String())
	start := s.clock.Now()
	if err := poll.Sleep(ctx, s.clock, s.settle); err != nil {
		return models.RolloutOutcome{}, err
	}

	var last models.RolloutSnapshot
	for tick := 1; ; tick++ {
		elapsed := s.clock.Since(start)
		snap, err := s.pods.Snapshot(ctx, target)
		s.renderer.Render(Tick{Number: tick, Target: target, Elapsed: elapsed, Snapshot: snap, Err: err})

		if err != nil {
			if ctx.Err() != nil {
				return models.RolloutOutcome{}, ctx.Err()
			}
			tlog.Warn("tick %d: pod query failed, treating as not ready: %v", tick, err)
		} else {
			last = snap
			if outcome, done := s.evaluate(ctx, tlog, tick, target, snap, elapsed); done {
				return outcome, nil
			}
		}

		if elapsed >= timeout {
			tlog.Warn("rollout did not converge within %s, issuing restart", timeout)
			s.nudge(ctx, target)
			return models.TimedOut(last, s.clock.Since(start)), nil
		}

		if err := poll.Sleep(ctx, s.clock, s.interval); err != nil {
			return models.RolloutOutcome{}, err
		}
	}
}

// evaluate classifies the newest pod for one tick. Converged snapshots need
// a clean verdict to finish; not-ready snapshots finish on an error verdict.
func (s *Supervisor) evaluate(ctx context.Context, tlog *logger.PrefixLogger, tick int, target models.DeploymentTarget, snap models.RolloutSnapshot, elapsed time.Duration) (models.RolloutOutcome, bool) {
	verdict, err := s.classifier.Classify(ctx, target, snap)
	if err != nil {
		tlog.Warn("tick %d: event query failed, no verdict this tick: %v", tick, err)
		return models.RolloutOutcome{}, false
	}

	if verdict.IsError() {
		tlog.Debug("tick %d: pod %s matched %v", tick, verdict.PodName, verdict.Matched)
		return models.Errored(verdict, snap, elapsed), true
	}
	if snap.Converged() {
		return models.Converged(snap, elapsed), true
	}
	return models.RolloutOutcome{}, false
}

// nudge is best effort; its failure never changes the outcome.
func (s *Supervisor) nudge(ctx context.Context, target models.DeploymentTarget) {
	if s.restarter == nil {
		return
	}
	if err := s.restarter.Restart(ctx, target); err != nil {
		log.Warn("restart after timeout failed: %v", err)
	}
}

// Summary describes an outcome in one line.
func Summary(o models.RolloutOutcome) string {
	switch o.Kind {
	case models.OutcomeConverged:
		return fmt.Sprintf("rollout converged: %d/%d pods ready after %s", o.Snapshot.ReadyCount, o.Snapshot.TotalCount, o.Elapsed.Round(time.Second))
	case models.OutcomeErrored:
		pod := ""
		if o.Verdict != nil {
			pod = o.Verdict.PodName
		}
		return fmt.Sprintf("rollout failed: pod %s reports errors after %s", pod, o.Elapsed.Round(time.Second))
	case models.OutcomeTimedOut:
		return fmt.Sprintf("rollout timed out after %s: %d/%d pods ready", o.Elapsed.Round(time.Second), o.Snapshot.ReadyCount, o.Snapshot.TotalCount)
	default:
		return "rollout state unknown"
	}
}
