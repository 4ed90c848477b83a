package manifest

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/raycarroll/shipctl/pkg/models"
)

var target = models.NewDeploymentTarget("api", "prod", "")

const envFile = `# api settings
PORT=8080
LOG_FORMAT=json
DATABASE_PASSWORD=hunter2
STRIPE_API_KEY="sk_live_abc"
SERVICEBUS_CONNECTION_STRING=Endpoint=sb://bus/;Key=xyz
`

func writeEnv(t *testing.T, fs afero.Fs) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, ".env", []byte(envFile), 0o600))
}

func TestLoadEnvFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeEnv(t, fs)

	env, err := LoadEnvFile(fs, ".env")
	require.NoError(t, err)
	assert.Equal(t, "8080", env["PORT"])
	assert.Equal(t, "sk_live_abc", env["STRIPE_API_KEY"])
	assert.Len(t, env, 5)

	_, err = LoadEnvFile(fs, "missing.env")
	assert.Error(t, err)
}

func TestSplitSecrets_SuffixHeuristic(t *testing.T) {
	env := map[string]string{
		"PORT":                         "8080",
		"DATABASE_PASSWORD":            "x",
		"STRIPE_API_KEY":               "x",
		"SERVICEBUS_CONNECTION_STRING": "x",
		"jwt_secret":                   "x",
		"KEYCLOAK_URL":                 "x",
	}
	config, secrets := SplitSecrets(env, nil)

	assert.Equal(t, []string{"KEYCLOAK_URL", "PORT"}, SortedKeys(config))
	assert.Equal(t, []string{"DATABASE_PASSWORD", "SERVICEBUS_CONNECTION_STRING", "STRIPE_API_KEY", "jwt_secret"}, SortedKeys(secrets))
}

func TestSplitSecrets_ExplicitKeys(t *testing.T) {
	env := map[string]string{"PORT": "8080", "DATABASE_PASSWORD": "x", "LICENSE": "abc"}
	config, secrets := SplitSecrets(env, []string{"LICENSE"})

	assert.Equal(t, []string{"DATABASE_PASSWORD", "PORT"}, SortedKeys(config))
	assert.Equal(t, []string{"LICENSE"}, SortedKeys(secrets))
}

func TestConfigMap(t *testing.T) {
	cm, err := ConfigMap(target, map[string]string{"PORT": "8080"})
	require.NoError(t, err)

	assert.Equal(t, "ConfigMap", cm.GetKind())
	assert.Equal(t, "api-config", cm.GetName())
	assert.Equal(t, "prod", cm.GetNamespace())
	port, found, err := unstructured.NestedString(cm.Object, "data", "PORT")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "8080", port)
}

func TestSecretProviderClass(t *testing.T) {
	spc, err := SecretProviderClass(target,
		map[string]string{"STRIPE_API_KEY": "x", "DATABASE_PASSWORD": "y"},
		KeyVault{Name: "kv-api-prod", TenantID: "tenant", ClientID: "client"})
	require.NoError(t, err)

	assert.Equal(t, SecretProviderClassAPIVersion, spc.GetAPIVersion())
	assert.Equal(t, "api-spc", spc.GetName())

	provider, _, _ := unstructured.NestedString(spc.Object, "spec", "provider")
	assert.Equal(t, "azure", provider)
	vaultName, _, _ := unstructured.NestedString(spc.Object, "spec", "parameters", "keyvaultName")
	assert.Equal(t, "kv-api-prod", vaultName)

	secretObjects, found, err := unstructured.NestedSlice(spc.Object, "spec", "secretObjects")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, secretObjects, 1)
	so := secretObjects[0].(map[string]interface{})
	assert.Equal(t, "api-secrets", so["secretName"])
	data := so["data"].([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, "database-password", data[0].(map[string]interface{})["objectName"])
	assert.Equal(t, "DATABASE_PASSWORD", data[0].(map[string]interface{})["key"])

	objects, _, _ := unstructured.NestedString(spc.Object, "spec", "parameters", "objects")
	var doc struct {
		Array []string `yaml:"array"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(objects), &doc))
	require.Len(t, doc.Array, 2)
	assert.Contains(t, doc.Array[1], "objectName: stripe-api-key")
	assert.Contains(t, doc.Array[1], "objectType: secret")
}

func TestSecretProviderClass_Validation(t *testing.T) {
	_, err := SecretProviderClass(target, map[string]string{"A_TOKEN": "x"}, KeyVault{})
	assert.Error(t, err)
	_, err = SecretProviderClass(target, nil, KeyVault{Name: "kv", TenantID: "t"})
	assert.Error(t, err)
}

func TestSubstitute(t *testing.T) {
	out, missing := Substitute("image: ${REGISTRY}/api:${IMAGE_TAG}\nreplicas: ${REPLICAS}\nliteral: $HOME", map[string]string{
		"REGISTRY":  "acr.example.io",
		"IMAGE_TAG": "1.4.2",
	})
	assert.Equal(t, "image: acr.example.io/api:1.4.2\nreplicas: ${REPLICAS}\nliteral: $HOME", out)
	assert.Equal(t, []string{"REPLICAS"}, missing)
}

func TestRender(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "k8s/templates/deployment.yaml", []byte("image: ${IMAGE}\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "k8s/templates/README.md", []byte("${NOPE}"), 0o644))

	written, err := Render(fs, "k8s/templates", "k8s/rendered", map[string]string{"IMAGE": "api:2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k8s/rendered/deployment.yaml"}, written)

	data, err := afero.ReadFile(fs, "k8s/rendered/deployment.yaml")
	require.NoError(t, err)
	assert.Equal(t, "image: api:2\n", string(data))

	_, err = Render(fs, "k8s/templates", "k8s/rendered", nil)
	assert.ErrorContains(t, err, "IMAGE")
}

type recordingApplier struct {
	objs []*unstructured.Unstructured
	err  error
}

func (r *recordingApplier) ApplyObjects(_ context.Context, _ string, objs []*unstructured.Unstructured) ([]string, error) {
	r.objs = append(r.objs, objs...)
	if r.err != nil {
		return nil, r.err
	}
	refs := make([]string, 0, len(objs))
	for _, o := range objs {
		refs = append(refs, o.GetKind()+"/"+o.GetName())
	}
	return refs, nil
}

func TestSyncer(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeEnv(t, fs)
	applier := &recordingApplier{}
	s := NewSyncer(fs, applier, SyncerConfig{
		EnvFile: ".env",
		Vault:   KeyVault{Name: "kv-api", TenantID: "tenant"},
		OutDir:  "k8s/rendered",
	})
	ctx := context.Background()

	require.NoError(t, s.SyncConfig(ctx, target))
	require.NoError(t, s.SyncSecrets(ctx, target))

	require.Len(t, applier.objs, 2)
	assert.Equal(t, "api-config", applier.objs[0].GetName())
	_, hasPassword, _ := unstructured.NestedString(applier.objs[0].Object, "data", "DATABASE_PASSWORD")
	assert.False(t, hasPassword)
	assert.Equal(t, "api-spc", applier.objs[1].GetName())

	exists, err := afero.Exists(fs, "k8s/rendered/api-spc.yaml")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSyncer_ApplyError(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeEnv(t, fs)
	s := NewSyncer(fs, &recordingApplier{err: errors.New("forbidden")}, SyncerConfig{EnvFile: ".env"})

	assert.ErrorContains(t, s.SyncConfig(context.Background(), target), "forbidden")
}
