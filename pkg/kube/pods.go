package kube

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/raycarroll/shipctl/pkg/models"
)

// Snapshot lists the pods of a deployment target and normalizes them.
// Pods that are already terminating are left out.
func (c *Client) Snapshot(ctx context.Context, target models.DeploymentTarget) (models.RolloutSnapshot, error) {
	pods, err := c.clientset.CoreV1().Pods(target.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: target.LabelSelector(),
	})
	if err != nil {
		return models.RolloutSnapshot{}, fmt.Errorf("listing pods for %s: %w", target, err)
	}

	now := c.clock.Now()
	observations := make([]models.PodObservation, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.DeletionTimestamp != nil {
			continue
		}
		observations = append(observations, observePod(pod, now))
	}

	return models.NewRolloutSnapshot(observations, now), nil
}

// observePod maps a Kubernetes pod to a poll-tick observation.
func observePod(pod *corev1.Pod, now time.Time) models.PodObservation {
	obs := models.PodObservation{
		Name:              pod.Name,
		TotalContainers:   len(pod.Spec.Containers),
		Phase:             podPhase(pod),
		NodeName:          pod.Spec.NodeName,
		CreationTimestamp: pod.CreationTimestamp.Time,
	}
	if !obs.CreationTimestamp.IsZero() {
		obs.Age = now.Sub(obs.CreationTimestamp)
	}

	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Ready {
			obs.ReadyContainers++
		}
		obs.RestartCount += cs.RestartCount
		if obs.Reason == "" {
			obs.Reason = containerReason(cs.State)
		}
	}
	if len(pod.Status.ContainerStatuses) > obs.TotalContainers {
		obs.TotalContainers = len(pod.Status.ContainerStatuses)
	}

	return obs
}

func containerReason(state corev1.ContainerState) string {
	switch {
	case state.Waiting != nil:
		return state.Waiting.Reason
	case state.Terminated != nil:
		return state.Terminated.Reason
	default:
		return ""
	}
}

// podPhase maps the Kubernetes phase, reporting ContainerCreating for
// pending pods whose containers are being created.
func podPhase(pod *corev1.Pod) models.PodPhase {
	switch pod.Status.Phase {
	case corev1.PodPending:
		statuses := append(append([]corev1.ContainerStatus{}, pod.Status.InitContainerStatuses...), pod.Status.ContainerStatuses...)
		for _, cs := range statuses {
			if cs.State.Waiting != nil && (cs.State.Waiting.Reason == "ContainerCreating" || cs.State.Waiting.Reason == "PodInitializing") {
				return models.PhaseContainerCreating
			}
		}
		return models.PhasePending
	case corev1.PodRunning:
		return models.PhaseRunning
	case corev1.PodSucceeded:
		return models.PhaseSucceeded
	case corev1.PodFailed:
		return models.PhaseFailed
	default:
		return models.PhaseUnknown
	}
}
