package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raycarroll/shipctl/pkg/config"
	"github.com/raycarroll/shipctl/pkg/logger"
)

// exitError carries a non-zero exit status without an extra message.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("Received interrupt, stopping...")
		cancel()
	}()

	fs := afero.NewOsFs()
	v := config.New(fs)
	root := newRootCmd(fs, v)

	err := root.ExecuteContext(ctx)
	var exit exitError
	switch {
	case err == nil:
		return
	case errors.As(err, &exit):
		os.Exit(exit.code)
	default:
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func newRootCmd(fs afero.Fs, v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "shipctl",
		Short:         "Apply Kubernetes manifests and supervise the rollout",
		Long:          `shipctl applies rendered manifests for a service, watches the deployment until every pod is ready, and offers a recovery menu when the rollout fails.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringP("service", "s", "", "service name")
	flags.StringP("namespace", "n", "default", "Kubernetes namespace")
	flags.String("deployment", "", "deployment name (defaults to the service name)")
	flags.String("project-dir", ".", "project directory")
	flags.String("manifests", "k8s/rendered", "directory of rendered manifests")
	flags.String("templates", "", "directory of manifest templates to render first")
	flags.String("env-file", ".env", "environment file")
	flags.String("kubeconfig", "", "path to kubeconfig")
	flags.String("context", "", "kubeconfig context")
	flags.Duration("timeout", 0, "rollout timeout (default 5m)")
	flags.Duration("poll-interval", 0, "rollout poll interval (default 5s)")
	flags.Duration("settle-delay", 0, "wait before the first poll (default 3s)")
	flags.Int("max-recoveries", 3, "recovery attempts before giving up")
	flags.Bool("non-interactive", false, "use the scripted recovery policy instead of prompting")
	flags.StringSlice("auto-recover", nil, "scripted recovery actions, e.g. redeploy,abort")
	flags.String("tag", "", "image tag being deployed")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	bindings := map[string]string{
		config.KeyService:        "service",
		config.KeyNamespace:      "namespace",
		config.KeyDeployment:     "deployment",
		config.KeyProjectDir:     "project-dir",
		config.KeyManifests:      "manifests",
		config.KeyTemplates:      "templates",
		config.KeyEnvFile:        "env-file",
		config.KeyKubeconfig:     "kubeconfig",
		config.KeyKubeContext:    "context",
		config.KeyMaxRecoveries:  "max-recoveries",
		config.KeyNonInteractive: "non-interactive",
		config.KeyAutoRecover:    "auto-recover",
		config.KeyImageTag:       "tag",
		config.KeyLogLevel:       "log-level",
	}
	for key, name := range bindings {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	// Zero durations mean "not set" so they never mask file or env values.
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		for key, name := range map[string]string{
			config.KeyTimeout:      "timeout",
			config.KeyPollInterval: "poll-interval",
			config.KeySettleDelay:  "settle-delay",
		} {
			if cmd.Flags().Changed(name) {
				d, _ := cmd.Flags().GetDuration(name)
				v.Set(key, d)
			}
		}
		return nil
	}

	root.AddCommand(
		newDeployCmd(fs, v),
		newWatchCmd(fs, v),
		newMigrateCmd(fs, v),
		newStatusCmd(fs, v),
		newSyncCmd(fs, v),
	)
	return root
}
