package kube

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const deploymentYAML = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: api
spec:
  replicas: 2
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: api-config
  namespace: staging
data:
  LOG_LEVEL: info
`

var (
	deploymentsGVR = schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}
	configMapsGVR  = schema.GroupVersionResource{Version: "v1", Resource: "configmaps"}
)

func TestManifestFiles_LexicalOrder(t *testing.T) {
	c, _ := newTestClient()
	fs := afero.NewMemMapFs()
	c.WithFs(fs)

	require.NoError(t, afero.WriteFile(fs, "k8s/20-service.yaml", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "k8s/10-deploy.yml", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "k8s/README.md", []byte("x"), 0o644))
	require.NoError(t, fs.MkdirAll("k8s/nested", 0o755))

	files, err := c.ManifestFiles("k8s")
	require.NoError(t, err)
	assert.Equal(t, []string{"k8s/10-deploy.yml", "k8s/20-service.yaml"}, files)
}

func TestManifestFiles_Kustomization(t *testing.T) {
	c, _ := newTestClient()
	fs := afero.NewMemMapFs()
	c.WithFs(fs)

	kust := "resources:\n  - service.yaml\n  - deployment.yaml\n"
	require.NoError(t, afero.WriteFile(fs, "k8s/kustomization.yaml", []byte(kust), 0o644))
	require.NoError(t, afero.WriteFile(fs, "k8s/deployment.yaml", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "k8s/service.yaml", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "k8s/unlisted.yaml", []byte("x"), 0o644))

	files, err := c.ManifestFiles("k8s")
	require.NoError(t, err)
	assert.Equal(t, []string{"k8s/service.yaml", "k8s/deployment.yaml"}, files)
}

func TestManifestFiles_EmptyDir(t *testing.T) {
	c, _ := newTestClient()
	fs := afero.NewMemMapFs()
	c.WithFs(fs)
	require.NoError(t, fs.MkdirAll("k8s", 0o755))

	_, err := c.ManifestFiles("k8s")
	assert.Error(t, err)
}

func TestDecodeManifests(t *testing.T) {
	objs, err := DecodeManifests([]byte(deploymentYAML + "---\n"))
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "Deployment", objs[0].GetKind())
	assert.Equal(t, "api-config", objs[1].GetName())

	_, err = DecodeManifests([]byte("apiVersion: v1\nkind: ConfigMap\n"))
	assert.Error(t, err, "objects without a name are rejected")

	_, err = DecodeManifests([]byte("kind: [unclosed"))
	assert.Error(t, err)
}

func TestApplyDir_CreateThenUpdate(t *testing.T) {
	c, _ := newTestClient()
	fs := afero.NewMemMapFs()
	c.WithFs(fs)
	require.NoError(t, afero.WriteFile(fs, "k8s/app.yaml", []byte(deploymentYAML), 0o644))

	ctx := context.Background()
	refs, err := c.ApplyDir(ctx, "k8s", "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"deployment/api", "configmap/api-config"}, refs)

	deploy, err := c.dynamic.Resource(deploymentsGVR).Namespace("default").Get(ctx, "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "default", deploy.GetNamespace())

	_, err = c.dynamic.Resource(configMapsGVR).Namespace("staging").Get(ctx, "api-config", metav1.GetOptions{})
	require.NoError(t, err, "explicit namespaces are kept")

	updated := `apiVersion: v1
kind: ConfigMap
metadata:
  name: api-config
  namespace: staging
data:
  LOG_LEVEL: debug
`
	require.NoError(t, afero.WriteFile(fs, "k8s/app.yaml", []byte(updated), 0o644))
	_, err = c.ApplyDir(ctx, "k8s", "default")
	require.NoError(t, err)

	cm, err := c.dynamic.Resource(configMapsGVR).Namespace("staging").Get(ctx, "api-config", metav1.GetOptions{})
	require.NoError(t, err)
	data, _, _ := unstructured.NestedString(cm.Object, "data", "LOG_LEVEL")
	assert.Equal(t, "debug", data)
}

func TestApplyDir_UnknownKindFails(t *testing.T) {
	c, _ := newTestClient()
	fs := afero.NewMemMapFs()
	c.WithFs(fs)
	manifest := "apiVersion: example.com/v1\nkind: Widget\nmetadata:\n  name: w\n"
	require.NoError(t, afero.WriteFile(fs, "k8s/widget.yaml", []byte(manifest), 0o644))

	refs, err := c.ApplyDir(context.Background(), "k8s", "default")
	assert.Error(t, err)
	assert.Empty(t, refs)
}
