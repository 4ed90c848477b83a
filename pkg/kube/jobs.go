package kube

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// JobNameLabel is set by the job controller on every pod of a job.
const JobNameLabel = "job-name"

// CreateJob submits a job.
func (c *Client) CreateJob(ctx context.Context, job *batchv1.Job) (*batchv1.Job, error) {
	created, err := c.clientset.BatchV1().Jobs(job.Namespace).Create(ctx, job, metav1.CreateOptions{FieldManager: c.fieldManager})
	if err != nil {
		return nil, fmt.Errorf("creating job %s/%s: %w", job.Namespace, job.Name, err)
	}
	return created, nil
}

// GetJob returns a job by name. A missing job is reported as (nil, nil).
func (c *Client) GetJob(ctx context.Context, namespace, name string) (*batchv1.Job, error) {
	job, err := c.clientset.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s/%s: %w", namespace, name, err)
	}
	return job, nil
}

// DeleteJob removes a job and its pods (idempotent).
func (c *Client) DeleteJob(ctx context.Context, namespace, name string) error {
	policy := metav1.DeletePropagationBackground
	err := c.clientset.BatchV1().Jobs(namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting job %s/%s: %w", namespace, name, err)
	}
	return nil
}

// JobPod returns the most recently created pod of a job, or nil if the
// controller has not created one yet.
func (c *Client) JobPod(ctx context.Context, namespace, jobName string) (*corev1.Pod, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(labels.Set{JobNameLabel: jobName}).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("listing pods of job %s/%s: %w", namespace, jobName, err)
	}

	var newest *corev1.Pod
	for i := range pods.Items {
		p := &pods.Items[i]
		if newest == nil || p.CreationTimestamp.After(newest.CreationTimestamp.Time) {
			newest = p
		}
	}
	return newest, nil
}

// DeleteCompletedJobs deletes jobs matching selector whose Complete
// condition is true and returns how many were removed.
func (c *Client) DeleteCompletedJobs(ctx context.Context, namespace, selector string) (int, error) {
	jobs, err := c.clientset.BatchV1().Jobs(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return 0, fmt.Errorf("listing jobs %q in %s: %w", selector, namespace, err)
	}

	deleted := 0
	for _, job := range jobs.Items {
		if !JobConditionTrue(&job, batchv1.JobComplete) {
			continue
		}
		if err := c.DeleteJob(ctx, namespace, job.Name); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// JobConditionTrue reports whether the job carries the condition with
// status True.
func JobConditionTrue(job *batchv1.Job, condition batchv1.JobConditionType) bool {
	for _, c := range job.Status.Conditions {
		if c.Type == condition && c.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}
