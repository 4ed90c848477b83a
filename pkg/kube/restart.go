package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/raycarroll/shipctl/pkg/models"
)

// RestartedAtAnnotation is the pod template annotation kubectl uses for
// rollout restarts.
const RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

// Restart triggers a rollout restart of the target deployment, forcing new
// pods (and image pulls) even when the spec did not change.
func (c *Client) Restart(ctx context.Context, target models.DeploymentTarget) error {
	patch := map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"annotations": map[string]string{
						RestartedAtAnnotation: c.clock.Now().Format(time.RFC3339Nano),
					},
				},
			},
		},
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshaling restart patch: %w", err)
	}

	_, err = c.clientset.AppsV1().Deployments(target.Namespace).Patch(
		ctx, target.DeploymentName, types.StrategicMergePatchType, data,
		metav1.PatchOptions{FieldManager: c.fieldManager},
	)
	if err != nil {
		return fmt.Errorf("restarting deployment %s: %w", target, err)
	}
	return nil
}
