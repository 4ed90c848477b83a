package kube

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func testJob(name string, complete bool) *batchv1.Job {
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
			Labels:    map[string]string{"app.kubernetes.io/component": "migration"},
		},
	}
	if complete {
		job.Status.Conditions = []batchv1.JobCondition{
			{Type: batchv1.JobComplete, Status: corev1.ConditionTrue},
		}
	}
	return job
}

func TestGetJob_Missing(t *testing.T) {
	c, _ := newTestClient()
	job, err := c.GetJob(context.Background(), "default", "nope")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestCreateAndDeleteJob(t *testing.T) {
	c, _ := newTestClient()
	ctx := context.Background()

	_, err := c.CreateJob(ctx, testJob("migrate", false))
	require.NoError(t, err)

	job, err := c.GetJob(ctx, "default", "migrate")
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, c.DeleteJob(ctx, "default", "migrate"))
	require.NoError(t, c.DeleteJob(ctx, "default", "migrate"), "deleting twice is fine")

	job, err = c.GetJob(ctx, "default", "migrate")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobPod_Newest(t *testing.T) {
	pod := func(name string, created time.Time) *corev1.Pod {
		return &corev1.Pod{ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         "default",
			Labels:            map[string]string{JobNameLabel: "migrate"},
			CreationTimestamp: metav1.NewTime(created),
		}}
	}
	c, _ := newTestClient(pod("migrate-a", testNow.Add(-time.Minute)), pod("migrate-b", testNow))

	got, err := c.JobPod(context.Background(), "default", "migrate")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "migrate-b", got.Name)

	none, err := c.JobPod(context.Background(), "default", "other")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDeleteCompletedJobs(t *testing.T) {
	c, _ := newTestClient(testJob("done", true), testJob("running", false))
	ctx := context.Background()

	deleted, err := c.DeleteCompletedJobs(ctx, "default", "app.kubernetes.io/component=migration")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	running, err := c.GetJob(ctx, "default", "running")
	require.NoError(t, err)
	assert.NotNil(t, running)
}
