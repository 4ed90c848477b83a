package migrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/raycarroll/shipctl/pkg/models"
	"github.com/raycarroll/shipctl/pkg/poll/polltest"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeJobs serves one scripted job status per GetJob call after creation.
type fakeJobs struct {
	existing  *batchv1.Job // returned before creation
	created   *batchv1.Job
	statuses  []batchv1.JobStatus
	podPhase  corev1.PodPhase
	logs      string
	getErrs   int
	polls     int
	deleted   []string
	cleanedUp int
}

func (f *fakeJobs) CreateJob(_ context.Context, job *batchv1.Job) (*batchv1.Job, error) {
	f.created = job.DeepCopy()
	return f.created, nil
}

func (f *fakeJobs) GetJob(_ context.Context, _, _ string) (*batchv1.Job, error) {
	if f.created == nil {
		return f.existing, nil
	}
	if f.getErrs > 0 {
		f.getErrs--
		return nil, errors.New("etcdserver: request timed out")
	}
	job := f.created.DeepCopy()
	if len(f.statuses) > 0 {
		i := f.polls
		if i >= len(f.statuses) {
			i = len(f.statuses) - 1
		}
		job.Status = f.statuses[i]
	}
	f.polls++
	return job, nil
}

func (f *fakeJobs) DeleteJob(_ context.Context, _, name string) error {
	f.deleted = append(f.deleted, name)
	f.existing = nil
	return nil
}

func (f *fakeJobs) JobPod(_ context.Context, _, jobName string) (*corev1.Pod, error) {
	if f.podPhase == "" {
		return nil, nil
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: jobName + "-x7k2p"},
		Status:     corev1.PodStatus{Phase: f.podPhase},
	}, nil
}

func (f *fakeJobs) PodLogs(_ context.Context, _, _ string, _ int64) (string, error) {
	return f.logs, nil
}

func (f *fakeJobs) DeleteCompletedJobs(context.Context, string, string) (int, error) {
	return f.cleanedUp, nil
}

func migrationJob() *batchv1.Job {
	return &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: "api-migrate", Namespace: "prod"}}
}

func condition(t batchv1.JobConditionType) batchv1.JobCondition {
	return batchv1.JobCondition{Type: t, Status: corev1.ConditionTrue}
}

func newTestRunner(t *testing.T, jobs *fakeJobs) (*Runner, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(t0)
	t.Cleanup(polltest.Drive(clk, time.Second))
	return NewRunner(jobs, WithClock(clk)), clk
}

func TestRunAndWait_CompleteConditionWinsOverFailedPod(t *testing.T) {
	jobs := &fakeJobs{
		statuses: []batchv1.JobStatus{{Conditions: []batchv1.JobCondition{condition(batchv1.JobComplete)}}},
		podPhase: corev1.PodFailed,
	}
	r, _ := newTestRunner(t, jobs)

	res, err := r.RunAndWait(context.Background(), migrationJob(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, res.Outcome)
	assert.Equal(t, models.SignalCompleteCondition, res.Signal)
	assert.Empty(t, res.Logs)
}

func TestRunAndWait_FailedConditionWinsOverSucceededCount(t *testing.T) {
	jobs := &fakeJobs{
		statuses: []batchv1.JobStatus{{
			Succeeded:  1,
			Conditions: []batchv1.JobCondition{condition(batchv1.JobFailed)},
		}},
		podPhase: corev1.PodFailed,
		logs:     "relation \"users\" already exists",
	}
	r, _ := newTestRunner(t, jobs)

	res, err := r.RunAndWait(context.Background(), migrationJob(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, res.Outcome)
	assert.Equal(t, models.SignalFailedCondition, res.Signal)
	assert.Contains(t, res.Logs, "already exists")
}

func TestRunAndWait_SucceededCounter(t *testing.T) {
	jobs := &fakeJobs{statuses: []batchv1.JobStatus{{Active: 1}, {Succeeded: 1}}}
	r, clk := newTestRunner(t, jobs)

	res, err := r.RunAndWait(context.Background(), migrationJob(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, res.Outcome)
	assert.Equal(t, models.SignalSucceededCount, res.Signal)
	assert.Equal(t, DefaultPollInterval, clk.Since(t0))
}

func TestRunAndWait_PodPhaseFallback(t *testing.T) {
	jobs := &fakeJobs{statuses: []batchv1.JobStatus{{Active: 1}}, podPhase: corev1.PodFailed, logs: "boom"}
	r, _ := newTestRunner(t, jobs)

	res, err := r.RunAndWait(context.Background(), migrationJob(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, res.Outcome)
	assert.Equal(t, models.SignalPodPhase, res.Signal)
	assert.Equal(t, "boom", res.Logs)
}

func TestRunAndWait_TimeoutLeavesJob(t *testing.T) {
	jobs := &fakeJobs{statuses: []batchv1.JobStatus{{Active: 1}}, podPhase: corev1.PodRunning, logs: "waiting for lock"}
	r, clk := newTestRunner(t, jobs)

	res, err := r.RunAndWait(context.Background(), migrationJob(), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.JobTimedOut, res.Outcome)
	assert.Equal(t, models.SignalTimeout, res.Signal)
	assert.Equal(t, "waiting for lock", res.Logs)
	assert.Empty(t, jobs.deleted)
	assert.Equal(t, 10*time.Second, clk.Since(t0))
}

func TestRunAndWait_ReplacesPreviousJob(t *testing.T) {
	jobs := &fakeJobs{
		existing: migrationJob(),
		statuses: []batchv1.JobStatus{{Succeeded: 1}},
	}
	r, _ := newTestRunner(t, jobs)

	res, err := r.RunAndWait(context.Background(), migrationJob(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"api-migrate"}, jobs.deleted)
	assert.Equal(t, models.JobSucceeded, res.Outcome)
	assert.Equal(t, "api-migrate", jobs.created.Labels[MigrationLabel])
}

func TestRunAndWait_TransientQueryErrors(t *testing.T) {
	jobs := &fakeJobs{getErrs: 2, statuses: []batchv1.JobStatus{{Conditions: []batchv1.JobCondition{condition(batchv1.JobComplete)}}}}
	r, clk := newTestRunner(t, jobs)

	res, err := r.RunAndWait(context.Background(), migrationJob(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, res.Outcome)
	assert.Equal(t, 2*DefaultPollInterval, clk.Since(t0))
}

func TestRunAndWait_InvalidJob(t *testing.T) {
	r, _ := newTestRunner(t, &fakeJobs{})
	_, err := r.RunAndWait(context.Background(), &batchv1.Job{}, time.Minute)
	assert.Error(t, err)
}

func TestCleanup(t *testing.T) {
	r, _ := newTestRunner(t, &fakeJobs{cleanedUp: 2})
	n, err := r.Cleanup(context.Background(), "prod", Selector)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoadJob(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "k8s/migrate.yaml", []byte(`apiVersion: batch/v1
kind: Job
metadata:
  name: api-migrate
spec:
  backoffLimit: 0
  template:
    spec:
      restartPolicy: Never
      containers:
        - name: migrate
          image: registry.example.com/api:1.4.2
          args: ["migrate", "up"]
`), 0o644))

	job, err := LoadJob(fs, "k8s/migrate.yaml", "prod")
	require.NoError(t, err)
	assert.Equal(t, "api-migrate", job.Name)
	assert.Equal(t, "prod", job.Namespace)
	require.NotNil(t, job.Spec.BackoffLimit)
	assert.EqualValues(t, 0, *job.Spec.BackoffLimit)
	assert.Equal(t, "registry.example.com/api:1.4.2", job.Spec.Template.Spec.Containers[0].Image)
}

func TestLoadJob_WrongKind(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "cm.yaml", []byte("apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: x\n"), 0o644))
	_, err := LoadJob(fs, "cm.yaml", "prod")
	assert.Error(t, err)

	_, err = LoadJob(fs, "missing.yaml", "prod")
	assert.Error(t, err)
}
