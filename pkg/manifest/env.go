// Package manifest generates the cluster-side configuration of a service
// from its environment file: a ConfigMap for plain settings and a
// SecretProviderClass that mounts the secret settings from Azure Key Vault.
package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/subosito/gotenv"
)

// SecretSuffixes mark a key as secret when no explicit key list is set.
var SecretSuffixes = []string{"_SECRET", "_PASSWORD", "_TOKEN", "_KEY", "_CONNECTION_STRING"}

// LoadEnvFile parses a dotenv file.
func LoadEnvFile(fs afero.Fs, path string) (map[string]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening env file: %w", err)
	}
	defer f.Close()

	env, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing env file %s: %w", path, err)
	}
	return env, nil
}

// SplitSecrets separates secret keys from plain configuration. With an
// explicit keys list only those keys are secret; otherwise SecretSuffixes
// decide.
func SplitSecrets(env map[string]string, keys []string) (config, secrets map[string]string) {
	config = map[string]string{}
	secrets = map[string]string{}

	explicit := make(map[string]bool, len(keys))
	for _, k := range keys {
		explicit[strings.TrimSpace(k)] = true
	}

	for k, v := range env {
		if isSecret(k, explicit) {
			secrets[k] = v
		} else {
			config[k] = v
		}
	}
	return config, secrets
}

func isSecret(key string, explicit map[string]bool) bool {
	if len(explicit) > 0 {
		return explicit[key]
	}
	upper := strings.ToUpper(key)
	for _, s := range SecretSuffixes {
		if strings.HasSuffix(upper, s) {
			return true
		}
	}
	return false
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
