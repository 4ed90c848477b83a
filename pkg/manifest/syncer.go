package manifest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"github.com/raycarroll/shipctl/pkg/logger"
	"github.com/raycarroll/shipctl/pkg/models"
)

var log = logger.WithPrefix("[manifest] ")

// Applier submits objects to the cluster.
type Applier interface {
	ApplyObjects(ctx context.Context, namespace string, objs []*unstructured.Unstructured) ([]string, error)
}

// SyncerConfig configures a Syncer.
type SyncerConfig struct {
	EnvFile    string
	SecretKeys []string // explicit secret keys, empty uses SecretSuffixes
	Vault      KeyVault
	OutDir     string // when set, generated manifests are also written here
}

// Syncer regenerates the configmap or secret provider class from the env
// file and applies it.
type Syncer struct {
	fs      afero.Fs
	applier Applier
	cfg     SyncerConfig
}

// NewSyncer creates a syncer.
func NewSyncer(fs afero.Fs, applier Applier, cfg SyncerConfig) *Syncer {
	return &Syncer{fs: fs, applier: applier, cfg: cfg}
}

// SyncSecrets regenerates and applies the SecretProviderClass.
func (s *Syncer) SyncSecrets(ctx context.Context, target models.DeploymentTarget) error {
	_, secrets, err := s.split()
	if err != nil {
		return err
	}
	spc, err := SecretProviderClass(target, secrets, s.cfg.Vault)
	if err != nil {
		return fmt.Errorf("generating secret provider class: %w", err)
	}
	return s.apply(ctx, target, spc)
}

// SyncConfig regenerates and applies the ConfigMap.
func (s *Syncer) SyncConfig(ctx context.Context, target models.DeploymentTarget) error {
	config, _, err := s.split()
	if err != nil {
		return err
	}
	cm, err := ConfigMap(target, config)
	if err != nil {
		return err
	}
	return s.apply(ctx, target, cm)
}

func (s *Syncer) split() (map[string]string, map[string]string, error) {
	env, err := LoadEnvFile(s.fs, s.cfg.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	config, secrets := SplitSecrets(env, s.cfg.SecretKeys)
	return config, secrets, nil
}

func (s *Syncer) apply(ctx context.Context, target models.DeploymentTarget, obj *unstructured.Unstructured) error {
	if s.cfg.OutDir != "" {
		if err := s.write(obj); err != nil {
			return err
		}
	}

	refs, err := s.applier.ApplyObjects(ctx, target.Namespace, []*unstructured.Unstructured{obj})
	if err != nil {
		return err
	}
	log.Info("applied %v in %s", refs, target.Namespace)
	return nil
}

func (s *Syncer) write(obj *unstructured.Unstructured) error {
	data, err := yaml.Marshal(obj.Object)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", obj.GetName(), err)
	}
	if err := s.fs.MkdirAll(s.cfg.OutDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(s.cfg.OutDir, obj.GetName()+".yaml")
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
