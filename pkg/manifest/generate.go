package manifest

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/raycarroll/shipctl/pkg/models"
)

const (
	SecretProviderClassAPIVersion = "secrets-store.csi.x-k8s.io/v1"
	SecretProviderClassKind       = "SecretProviderClass"

	managedByLabel = "app.kubernetes.io/managed-by"
	managedBy      = "shipctl"
)

// KeyVault identifies the Azure Key Vault backing the secret provider.
type KeyVault struct {
	Name     string
	TenantID string
	ClientID string // workload identity client id
}

// ConfigMapName returns the configmap name of a service.
func ConfigMapName(target models.DeploymentTarget) string { return target.ServiceName + "-config" }

// SecretProviderClassName returns the secret provider class name of a service.
func SecretProviderClassName(target models.DeploymentTarget) string {
	return target.ServiceName + "-spc"
}

// SyncedSecretName returns the Kubernetes secret the provider syncs into.
func SyncedSecretName(target models.DeploymentTarget) string { return target.ServiceName + "-secrets" }

// VaultObjectName maps an env key to a Key Vault secret name, which only
// allows alphanumerics and dashes.
func VaultObjectName(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "-")
}

// ConfigMap builds the configmap holding the plain settings.
func ConfigMap(target models.DeploymentTarget, config map[string]string) (*unstructured.Unstructured, error) {
	cm := &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      ConfigMapName(target),
			Namespace: target.Namespace,
			Labels:    labelsFor(target),
		},
		Data: config,
	}

	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(cm)
	if err != nil {
		return nil, fmt.Errorf("converting configmap: %w", err)
	}
	u := &unstructured.Unstructured{Object: obj}
	unstructured.RemoveNestedField(u.Object, "metadata", "creationTimestamp")
	return u, nil
}

// SecretProviderClass builds the Azure Key Vault provider class for the
// secret keys and syncs them into SyncedSecretName.
func SecretProviderClass(target models.DeploymentTarget, secrets map[string]string, vault KeyVault) (*unstructured.Unstructured, error) {
	if vault.Name == "" || vault.TenantID == "" {
		return nil, errors.New("key vault name and tenant id are required")
	}
	keys := SortedKeys(secrets)
	if len(keys) == 0 {
		return nil, errors.New("no secret keys to sync")
	}

	objects, err := keyVaultObjects(keys)
	if err != nil {
		return nil, err
	}

	data := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		data = append(data, map[string]interface{}{
			"objectName": VaultObjectName(k),
			"key":        k,
		})
	}

	params := map[string]interface{}{
		"usePodIdentity": "false",
		"keyvaultName":   vault.Name,
		"tenantId":       vault.TenantID,
		"objects":        objects,
	}
	if vault.ClientID != "" {
		params["clientID"] = vault.ClientID
	}

	labels := map[string]interface{}{}
	for k, v := range labelsFor(target) {
		labels[k] = v
	}

	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": SecretProviderClassAPIVersion,
		"kind":       SecretProviderClassKind,
		"metadata": map[string]interface{}{
			"name":      SecretProviderClassName(target),
			"namespace": target.Namespace,
			"labels":    labels,
		},
		"spec": map[string]interface{}{
			"provider":   "azure",
			"parameters": params,
			"secretObjects": []interface{}{
				map[string]interface{}{
					"secretName": SyncedSecretName(target),
					"type":       "Opaque",
					"data":       data,
				},
			},
		},
	}}, nil
}

// keyVaultObjects renders the provider's "objects" parameter, a YAML
// document embedded as a string.
func keyVaultObjects(keys []string) (string, error) {
	type object struct {
		ObjectName string `yaml:"objectName"`
		ObjectType string `yaml:"objectType"`
	}

	var doc struct {
		Array []string `yaml:"array"`
	}
	for _, k := range keys {
		b, err := yaml.Marshal(object{ObjectName: VaultObjectName(k), ObjectType: "secret"})
		if err != nil {
			return "", err
		}
		doc.Array = append(doc.Array, string(b))
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding key vault objects: %w", err)
	}
	return string(out), nil
}

func labelsFor(target models.DeploymentTarget) map[string]string {
	return map[string]string{
		"app":          target.DeploymentName,
		managedByLabel: managedBy,
	}
}
