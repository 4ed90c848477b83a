// Package deploy wires the pieces of one deploy run together: render,
// migrate, apply, restart, supervise, recover and record.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	batchv1 "k8s.io/api/batch/v1"

	"github.com/raycarroll/shipctl/pkg/config"
	"github.com/raycarroll/shipctl/pkg/logger"
	"github.com/raycarroll/shipctl/pkg/manifest"
	"github.com/raycarroll/shipctl/pkg/marker"
	"github.com/raycarroll/shipctl/pkg/migrate"
	"github.com/raycarroll/shipctl/pkg/models"
	"github.com/raycarroll/shipctl/pkg/rollout"
)

var (
	// ErrApplyFailed aborts the run before any supervision.
	ErrApplyFailed = errors.New("manifest apply failed")
	// ErrMigrationFailed aborts the run; the job is kept for postmortem.
	ErrMigrationFailed = errors.New("migration failed")
)

// Applier submits a directory of rendered manifests.
type Applier interface {
	ApplyDir(ctx context.Context, dir, namespace string) ([]string, error)
}

// Restarter issues a rollout restart.
type Restarter interface {
	Restart(ctx context.Context, target models.DeploymentTarget) error
}

// Migrator runs the migration job.
type Migrator interface {
	RunAndWait(ctx context.Context, job *batchv1.Job, timeout time.Duration) (models.JobResult, error)
	Cleanup(ctx context.Context, namespace, selector string) (int, error)
}

// Supervisor watches a rollout.
type Supervisor interface {
	Supervise(ctx context.Context, target models.DeploymentTarget, timeout time.Duration) (models.RolloutOutcome, error)
}

// Resolver handles a failed rollout.
type Resolver interface {
	Resolve(ctx context.Context, target models.DeploymentTarget, verdict models.EventVerdict) (models.RolloutOutcome, error)
}

// Deps are the collaborators of a Workflow. Migrator and Resolver are
// optional.
type Deps struct {
	Fs         afero.Fs
	Applier    Applier
	Restarter  Restarter
	Migrator   Migrator
	Supervisor Supervisor
	Resolver   Resolver
	Markers    *marker.Store
	Out        io.Writer
}

// Workflow is one deploy invocation.
type Workflow struct {
	cfg    *config.Context
	target models.DeploymentTarget
	deps   Deps
	runID  string
	log    *logger.PrefixLogger
}

// NewWorkflow creates a workflow for cfg.
func NewWorkflow(cfg *config.Context, deps Deps) (*Workflow, error) {
	if deps.Applier == nil || deps.Restarter == nil || deps.Supervisor == nil {
		return nil, errors.New("deploy: applier, restarter and supervisor are required")
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Markers == nil {
		deps.Markers = marker.NewStore(deps.Fs, cfg.ProjectDir)
	}

	target := cfg.Target()
	if err := target.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	return &Workflow{
		cfg:    cfg,
		target: target,
		deps:   deps,
		runID:  runID,
		log:    logger.WithPrefix("[deploy] ").With("run", runID[:8]).With("target", target.String()),
	}, nil
}

// RunID identifies this invocation in logs.
func (w *Workflow) RunID() string { return w.runID }

// Run executes the deploy. The outcome is meaningful whenever supervision
// started; err is set for fatal failures and unresolved recoveries.
func (w *Workflow) Run(ctx context.Context) (models.RolloutOutcome, error) {
	tag, err := w.imageTag()
	if err != nil {
		return models.RolloutOutcome{}, err
	}

	if w.cfg.Templates != "" {
		if err := w.render(tag); err != nil {
			return models.RolloutOutcome{}, fmt.Errorf("%w: %v", ErrApplyFailed, err)
		}
	}

	// The schema must be in place before any pod running the new code starts.
	if w.cfg.MigrationEnabled() {
		if err := w.migrate(ctx); err != nil {
			return models.RolloutOutcome{}, err
		}
	}

	if err := w.apply(ctx); err != nil {
		return models.RolloutOutcome{}, err
	}

	return w.Watch(ctx, tag)
}

// Watch supervises the rollout, runs recovery on failure and records the
// deployed tag on success.
func (w *Workflow) Watch(ctx context.Context, tag string) (models.RolloutOutcome, error) {
	outcome, err := w.deps.Supervisor.Supervise(ctx, w.target, w.cfg.Timeout)
	if err != nil {
		return outcome, err
	}

	if outcome.Kind == models.OutcomeErrored && outcome.Verdict != nil && w.deps.Resolver != nil {
		outcome, err = w.deps.Resolver.Resolve(ctx, w.target, *outcome.Verdict)
	}

	w.report(outcome)
	if outcome.Succeeded() && tag != "" {
		if werr := w.deps.Markers.Write(marker.LastDeployed, tag); werr != nil {
			w.log.Warn("could not record deployed tag: %v", werr)
		}
	}
	return outcome, err
}

func (w *Workflow) imageTag() (string, error) {
	if w.cfg.ImageTag != "" {
		return w.cfg.ImageTag, nil
	}
	return w.deps.Markers.Read(marker.LastBuilt)
}

func (w *Workflow) render(tag string) error {
	vars := map[string]string{}
	if w.cfg.EnvFile != "" {
		env, err := manifest.LoadEnvFile(w.deps.Fs, w.cfg.Path(w.cfg.EnvFile))
		if err != nil {
			w.log.Debug("no env file for rendering: %v", err)
		}
		for k, v := range env {
			vars[k] = v
		}
	}
	vars["SERVICE_NAME"] = w.target.ServiceName
	vars["NAMESPACE"] = w.target.Namespace
	vars["DEPLOYMENT_NAME"] = w.target.DeploymentName
	if tag != "" {
		vars["IMAGE_TAG"] = tag
	}

	written, err := manifest.Render(w.deps.Fs, w.cfg.Path(w.cfg.Templates), w.cfg.Path(w.cfg.Manifests), vars)
	if err != nil {
		return err
	}
	w.log.Info("rendered %d manifest(s)", len(written))
	return nil
}

func (w *Workflow) apply(ctx context.Context) error {
	refs, err := w.deps.Applier.ApplyDir(ctx, w.cfg.Path(w.cfg.Manifests), w.target.Namespace)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}
	w.log.Info("applied %d object(s)", len(refs))
	for _, r := range refs {
		fmt.Fprintf(w.deps.Out, "  %s configured\n", r)
	}

	// Restart unconditionally so unchanged manifests still pull the new image.
	if err := w.deps.Restarter.Restart(ctx, w.target); err != nil {
		return fmt.Errorf("%w: restarting %s: %v", ErrApplyFailed, w.target, err)
	}
	return nil
}

func (w *Workflow) migrate(ctx context.Context) error {
	if w.deps.Migrator == nil {
		return fmt.Errorf("%w: no migration runner configured", ErrMigrationFailed)
	}
	job, err := migrate.LoadJob(w.deps.Fs, w.cfg.Path(w.cfg.Migration.JobManifest), w.target.Namespace)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	res, err := w.deps.Migrator.RunAndWait(ctx, job, w.cfg.Migration.Timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	if res.Outcome != models.JobSucceeded {
		if res.Logs != "" {
			fmt.Fprintf(w.deps.Out, "%s\n%s\n", color.RedString("Migration job %s logs:", res.JobName), res.Logs)
		}
		return fmt.Errorf("%w: job %s %s (%s), left in place for inspection", ErrMigrationFailed, res.JobName, res.Outcome, res.Signal)
	}

	if _, err := w.deps.Migrator.Cleanup(ctx, job.Namespace, migrate.Selector); err != nil {
		w.log.Warn("migration cleanup failed: %v", err)
	}
	return nil
}

func (w *Workflow) report(outcome models.RolloutOutcome) {
	line := rollout.Summary(outcome)
	if outcome.Succeeded() {
		fmt.Fprintln(w.deps.Out, color.GreenString("✓ %s", line))
		return
	}
	fmt.Fprintln(w.deps.Out, color.RedString("✗ %s", line))
}

// ExitCode maps a run result to the process exit status.
func ExitCode(outcome models.RolloutOutcome, err error) int {
	if err == nil && outcome.Succeeded() {
		return 0
	}
	return 1
}
