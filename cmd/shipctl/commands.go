package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raycarroll/shipctl/pkg/deploy"
	"github.com/raycarroll/shipctl/pkg/marker"
	"github.com/raycarroll/shipctl/pkg/migrate"
	"github.com/raycarroll/shipctl/pkg/models"
	"github.com/raycarroll/shipctl/pkg/rollout"
)

// pingTimeout bounds the reachability check of status before it falls back
// to the local record.
const pingTimeout = 5 * time.Second

func newDeployCmd(fs afero.Fs, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Apply manifests, run migrations and supervise the rollout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(fs, v)
			if err != nil {
				return err
			}
			w, err := a.workflow()
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Deploying %s (run %s)\n", color.CyanString(a.cfg.Target().String()), w.RunID()[:8])
			outcome, err := w.Run(cmd.Context())
			return finish(outcome, err)
		},
	}
}

func newWatchCmd(fs afero.Fs, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Supervise the current rollout without applying anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(fs, v)
			if err != nil {
				return err
			}
			w, err := a.workflow()
			if err != nil {
				return err
			}
			outcome, err := w.Watch(cmd.Context(), "")
			return finish(outcome, err)
		},
	}
}

func newMigrateCmd(fs afero.Fs, v *viper.Viper) *cobra.Command {
	var jobFile string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run the migration job and wait for it to finish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(fs, v)
			if err != nil {
				return err
			}
			if jobFile == "" {
				jobFile = a.cfg.Migration.JobManifest
			}
			if jobFile == "" {
				return fmt.Errorf("no migration job manifest: set migration.job_manifest or pass --job")
			}

			job, err := migrate.LoadJob(fs, a.cfg.Path(jobFile), a.cfg.Namespace)
			if err != nil {
				return err
			}
			runner := a.migrator()
			res, err := runner.RunAndWait(cmd.Context(), job, a.cfg.Migration.Timeout)
			if err != nil {
				return err
			}

			if res.Outcome != models.JobSucceeded {
				fmt.Fprintln(a.out, color.RedString("✗ migration job %s %s (%s)", res.JobName, res.Outcome, res.Signal))
				if res.Logs != "" {
					fmt.Fprintln(a.out, res.Logs)
				}
				return exitError{code: 1}
			}
			if _, err := runner.Cleanup(cmd.Context(), job.Namespace, migrate.Selector); err != nil {
				fmt.Fprintln(a.out, color.YellowString("cleanup failed: %v", err))
			}
			fmt.Fprintln(a.out, color.GreenString("✓ migration job %s succeeded", res.JobName))
			return nil
		},
	}
	cmd.Flags().StringVar(&jobFile, "job", "", "job manifest (defaults to migration.job_manifest)")
	return cmd
}

func newStatusCmd(fs afero.Fs, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the pods of the deployment and the last deployed tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadContext(v)
			if err != nil {
				return err
			}
			store := marker.NewStore(fs, cfg.ProjectDir)
			deployed, _ := store.Read(marker.LastDeployed)

			a, err := connect(cfg, fs)
			if err == nil {
				pingCtx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
				err = a.kube.Ping(pingCtx)
				cancel()
			}
			if err == nil {
				var snap models.RolloutSnapshot
				snap, err = a.kube.Snapshot(cmd.Context(), cfg.Target())
				if err == nil {
					rollout.NewStatusRenderer(a.out).Render(rollout.Tick{Target: cfg.Target(), Snapshot: snap})
					if deployed != "" {
						fmt.Fprintf(a.out, "last deployed tag: %s\n", deployed)
					}
					return nil
				}
			}

			fmt.Println(color.YellowString("cluster unavailable: %v", err))
			if deployed == "" {
				return fmt.Errorf("no local record of a deployed tag for %s", cfg.Service)
			}
			fmt.Printf("last deployed tag (local record): %s\n", deployed)
			return nil
		},
	}
}

func newSyncCmd(fs afero.Fs, v *viper.Viper) *cobra.Command {
	var restart bool
	cmd := &cobra.Command{
		Use:       "sync secrets|config",
		Short:     "Regenerate and apply the SecretProviderClass or ConfigMap",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"secrets", "config"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadContext(v)
			if err != nil {
				return err
			}
			if args[0] == "secrets" && !cfg.SecretsEnabled() {
				return errSecretsNotConfigured
			}
			a, err := connect(cfg, fs)
			if err != nil {
				return err
			}
			target := a.cfg.Target()
			syncer := a.syncer()

			switch args[0] {
			case "secrets":
				err = syncer.SyncSecrets(cmd.Context(), target)
			case "config":
				err = syncer.SyncConfig(cmd.Context(), target)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, color.GreenString("✓ %s synced for %s", args[0], target))

			if restart {
				return a.kube.Restart(cmd.Context(), target)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&restart, "restart", false, "restart the deployment after syncing")
	return cmd
}

// finish maps a run result to the command error. The workflow has already
// printed the outcome.
func finish(outcome models.RolloutOutcome, err error) error {
	if code := deploy.ExitCode(outcome, err); code != 0 {
		if err != nil {
			return err
		}
		return exitError{code: code}
	}
	return nil
}
