package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/raycarroll/shipctl/pkg/advisor"
	"github.com/raycarroll/shipctl/pkg/config"
	"github.com/raycarroll/shipctl/pkg/deploy"
	"github.com/raycarroll/shipctl/pkg/kube"
	"github.com/raycarroll/shipctl/pkg/logger"
	"github.com/raycarroll/shipctl/pkg/manifest"
	"github.com/raycarroll/shipctl/pkg/marker"
	"github.com/raycarroll/shipctl/pkg/migrate"
	"github.com/raycarroll/shipctl/pkg/recovery"
	"github.com/raycarroll/shipctl/pkg/rollout"
)

var errSecretsNotConfigured = errors.New("secret sync needs secrets.keyvault_name and secrets.tenant_id")

// app holds the resolved context and clients of one command.
type app struct {
	cfg  *config.Context
	fs   afero.Fs
	kube *kube.Client
	out  io.Writer
}

func loadContext(v *viper.Viper) (*config.Context, error) {
	if err := config.ReadFile(v, v.GetString(config.KeyProjectDir)); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger.SetLevelFromString(cfg.LogLevel)
	return cfg, nil
}

func newApp(fs afero.Fs, v *viper.Viper) (*app, error) {
	cfg, err := loadContext(v)
	if err != nil {
		return nil, err
	}
	return connect(cfg, fs)
}

func connect(cfg *config.Context, fs afero.Fs) (*app, error) {
	client, err := kube.NewClient(kube.Config{
		Kubeconfig: cfg.Kubeconfig,
		Context:    cfg.KubeContext,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, fs: fs, kube: client.WithFs(fs), out: os.Stdout}, nil
}

func (a *app) markers() *marker.Store {
	return marker.NewStore(a.fs, a.cfg.ProjectDir)
}

func (a *app) supervisor() *rollout.Supervisor {
	return rollout.NewSupervisor(
		a.kube,
		rollout.NewKeywordClassifier(a.kube),
		a.kube,
		rollout.WithPollInterval(a.cfg.PollInterval),
		rollout.WithSettleDelay(a.cfg.SettleDelay),
		rollout.WithRenderer(rollout.NewStatusRenderer(a.out)),
	)
}

func (a *app) syncer() *manifest.Syncer {
	return manifest.NewSyncer(a.fs, a.kube, manifest.SyncerConfig{
		EnvFile:    a.cfg.Path(a.cfg.EnvFile),
		SecretKeys: a.cfg.Secrets.Keys,
		Vault: manifest.KeyVault{
			Name:     a.cfg.Secrets.KeyVaultName,
			TenantID: a.cfg.Secrets.TenantID,
			ClientID: a.cfg.Secrets.ClientID,
		},
		OutDir: a.cfg.Path(a.cfg.Manifests),
	})
}

func (a *app) migrator() *migrate.Runner {
	return migrate.NewRunner(a.kube, migrate.WithPollInterval(a.cfg.Migration.PollInterval))
}

func (a *app) decider() (recovery.Decider, error) {
	if !a.cfg.NonInteractive {
		return recovery.PromptDecider{}, nil
	}
	return recovery.ParsePolicy(a.cfg.AutoRecover)
}

func (a *app) resolver(sup recovery.Supervisor) (*recovery.Resolver, error) {
	decider, err := a.decider()
	if err != nil {
		return nil, err
	}

	syncer := a.syncer()
	opts := []recovery.Option{
		recovery.WithOutput(a.out),
		recovery.WithTimeout(a.cfg.Timeout),
		recovery.WithAdvisorTimeout(a.cfg.Advisor.Timeout),
	}
	if adv := a.advisor(); adv != nil {
		opts = append(opts, recovery.WithAdvisor(adv))
	}

	actions := recovery.Actions{
		Restarter:  a.kube,
		Supervisor: sup,
		Config:     syncer,
	}
	// No vault, no secrets resync.
	if a.cfg.SecretsEnabled() {
		actions.Secrets = syncer
	}
	return recovery.NewResolver(decider, actions, a.cfg.MaxRecoveries, opts...)
}

func (a *app) advisor() recovery.Advisor {
	if !a.cfg.Advisor.Enabled {
		return nil
	}
	adv, err := advisor.New(advisor.Config{
		APIKey:  a.cfg.Advisor.APIKey,
		Model:   a.cfg.Advisor.Model,
		BaseURL: a.cfg.Advisor.BaseURL,
	}, a.kube)
	if err != nil {
		logger.Warn("Diagnostic advisor disabled: %v", err)
		return nil
	}
	return adv
}

func (a *app) workflow() (*deploy.Workflow, error) {
	sup := a.supervisor()
	res, err := a.resolver(sup)
	if err != nil {
		return nil, fmt.Errorf("configuring recovery: %w", err)
	}

	deps := deploy.Deps{
		Fs:         a.fs,
		Applier:    a.kube,
		Restarter:  a.kube,
		Supervisor: sup,
		Resolver:   res,
		Markers:    a.markers(),
		Out:        a.out,
	}
	if a.cfg.MigrationEnabled() {
		deps.Migrator = a.migrator()
	}
	return deploy.NewWorkflow(a.cfg, deps)
}
