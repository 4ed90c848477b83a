// Package migrate runs a one-shot database migration job and waits for it
// to finish, using the same synchronous polling shape as rollout
// supervision.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/clock"

	"github.com/raycarroll/shipctl/pkg/kube"
	"github.com/raycarroll/shipctl/pkg/logger"
	"github.com/raycarroll/shipctl/pkg/models"
	"github.com/raycarroll/shipctl/pkg/poll"
)

const (
	DefaultTimeout      = 600 * time.Second
	DefaultPollInterval = 2 * time.Second

	// MigrationLabel marks every job submitted by the runner.
	MigrationLabel = "shipctl.io/migration"
	// Selector matches every job submitted by the runner.
	Selector = MigrationLabel

	evidenceTailLines = 200
)

var log = logger.WithPrefix("[migrate] ")

// JobAPI is the cluster access the runner needs.
type JobAPI interface {
	CreateJob(ctx context.Context, job *batchv1.Job) (*batchv1.Job, error)
	GetJob(ctx context.Context, namespace, name string) (*batchv1.Job, error)
	DeleteJob(ctx context.Context, namespace, name string) error
	JobPod(ctx context.Context, namespace, jobName string) (*corev1.Pod, error)
	PodLogs(ctx context.Context, namespace, pod string, tail int64) (string, error)
	DeleteCompletedJobs(ctx context.Context, namespace, selector string) (int, error)
}

// Runner submits a migration job and polls it to completion.
type Runner struct {
	jobs     JobAPI
	clock    clock.Clock
	interval time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithPollInterval sets the time between job status checks.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewRunner creates a runner.
func NewRunner(jobs JobAPI, opts ...Option) *Runner {
	r := &Runner{jobs: jobs, clock: clock.RealClock{}, interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAndWait replaces any previous job of the same name, submits job and
// waits for the first terminal signal. Failed and timed out jobs are left
// in the cluster and their pod logs are returned as evidence. A
// non-positive timeout uses DefaultTimeout.
func (r *Runner) RunAndWait(ctx context.Context, job *batchv1.Job, timeout time.Duration) (models.JobResult, error) {
	if job == nil || job.Name == "" || job.Namespace == "" {
		return models.JobResult{}, errors.New("migration job needs a name and namespace")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	job = job.DeepCopy()
	if job.Labels == nil {
		job.Labels = map[string]string{}
	}
	job.Labels[MigrationLabel] = job.Name
	result := models.JobResult{JobName: job.Name}
	jlog := log.With("job", job.Namespace+"/"+job.Name)

	start := r.clock.Now()
	if err := r.replace(ctx, job, start, timeout); err != nil {
		return result, err
	}
	if _, err := r.jobs.CreateJob(ctx, job); err != nil {
		return result, err
	}
	jlog.Info("migration job submitted")

	for {
		current, err := r.jobs.GetJob(ctx, job.Namespace, job.Name)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			jlog.Warn("job query failed, retrying: %v", err)
		case current != nil:
			if outcome, signal, done := r.evaluate(ctx, current); done {
				result.Outcome, result.Signal = outcome, signal
				jlog.Info("migration job %s (%s)", outcome, signal)
				if outcome != models.JobSucceeded {
					result.Logs = r.collectLogs(ctx, job)
				}
				return result, nil
			}
		}

		if r.clock.Since(start) >= timeout {
			jlog.Warn("migration job did not finish within %s, leaving it in place", timeout)
			result.Outcome, result.Signal = models.JobTimedOut, models.SignalTimeout
			result.Logs = r.collectLogs(ctx, job)
			return result, nil
		}

		if err := poll.Sleep(ctx, r.clock, r.interval); err != nil {
			return result, err
		}
	}
}

// replace deletes a previous job of the same name and waits until the API
// server no longer returns it.
func (r *Runner) replace(ctx context.Context, job *batchv1.Job, start time.Time, timeout time.Duration) error {
	prev, err := r.jobs.GetJob(ctx, job.Namespace, job.Name)
	if err != nil {
		return err
	}
	if prev == nil {
		return nil
	}

	log.Info("deleting previous job %s/%s", job.Namespace, job.Name)
	if err := r.jobs.DeleteJob(ctx, job.Namespace, job.Name); err != nil {
		return err
	}
	for {
		prev, err := r.jobs.GetJob(ctx, job.Namespace, job.Name)
		if err != nil {
			return err
		}
		if prev == nil {
			return nil
		}
		if r.clock.Since(start) >= timeout {
			return fmt.Errorf("previous job %s/%s still terminating after %s", job.Namespace, job.Name, timeout)
		}
		if err := poll.Sleep(ctx, r.clock, r.interval); err != nil {
			return err
		}
	}
}

// evaluate checks job signals in priority order; the first match wins.
func (r *Runner) evaluate(ctx context.Context, job *batchv1.Job) (models.JobOutcome, models.JobSignal, bool) {
	if kube.JobConditionTrue(job, batchv1.JobComplete) {
		return models.JobSucceeded, models.SignalCompleteCondition, true
	}
	if kube.JobConditionTrue(job, batchv1.JobFailed) {
		return models.JobFailed, models.SignalFailedCondition, true
	}
	if job.Status.Succeeded > 0 {
		return models.JobSucceeded, models.SignalSucceededCount, true
	}

	pod, err := r.jobs.JobPod(ctx, job.Namespace, job.Name)
	if err != nil {
		log.Warn("job pod query failed: %v", err)
		return "", "", false
	}
	if pod == nil {
		return "", "", false
	}
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return models.JobSucceeded, models.SignalPodPhase, true
	case corev1.PodFailed:
		return models.JobFailed, models.SignalPodPhase, true
	}
	return "", "", false
}

func (r *Runner) collectLogs(ctx context.Context, job *batchv1.Job) string {
	pod, err := r.jobs.JobPod(ctx, job.Namespace, job.Name)
	if err != nil || pod == nil {
		return ""
	}
	logs, err := r.jobs.PodLogs(ctx, job.Namespace, pod.Name, evidenceTailLines)
	if err != nil {
		log.Warn("reading logs of %s: %v", pod.Name, err)
		return ""
	}
	return logs
}

// Cleanup deletes completed migration jobs matching selector. Callers run
// it only after a successful migration.
func (r *Runner) Cleanup(ctx context.Context, namespace, selector string) (int, error) {
	n, err := r.jobs.DeleteCompletedJobs(ctx, namespace, selector)
	if err != nil {
		return n, err
	}
	if n > 0 {
		log.Info("deleted %d completed migration job(s) in %s", n, namespace)
	}
	return n, nil
}
