package models

import (
	"fmt"

	"k8s.io/apimachinery/pkg/labels"
)

// DeploymentTarget identifies the deployment a rollout run watches.
// It is resolved once per invocation and never changes afterwards.
type DeploymentTarget struct {
	ServiceName    string
	Namespace      string
	DeploymentName string
}

// NewDeploymentTarget creates a target. An empty deployment name falls back
// to the service name.
func NewDeploymentTarget(service, namespace, deployment string) DeploymentTarget {
	if deployment == "" {
		deployment = service
	}
	return DeploymentTarget{
		ServiceName:    service,
		Namespace:      namespace,
		DeploymentName: deployment,
	}
}

// Validate checks if the deployment target is usable.
func (dt DeploymentTarget) Validate() error {
	if dt.Namespace == "" {
		return ErrInvalidTarget("namespace is required")
	}
	if dt.DeploymentName == "" {
		return ErrInvalidTarget("deployment name is required")
	}
	return nil
}

// LabelSelector returns the selector matching the deployment's pods.
func (dt DeploymentTarget) LabelSelector() string {
	return labels.SelectorFromSet(labels.Set{"app": dt.DeploymentName}).String()
}

// String returns namespace/deployment.
func (dt DeploymentTarget) String() string {
	return fmt.Sprintf("%s/%s", dt.Namespace, dt.DeploymentName)
}

// ErrInvalidTarget is returned when a deployment target is invalid.
type ErrInvalidTarget string

func (e ErrInvalidTarget) Error() string {
	return "invalid deployment target: " + string(e)
}
