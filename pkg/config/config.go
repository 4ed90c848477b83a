// Package config resolves the immutable run context of one shipctl
// invocation from flags, SHIPCTL_* environment variables and .shipctl.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	k8svalidation "k8s.io/apimachinery/pkg/util/validation"

	"github.com/raycarroll/shipctl/pkg/models"
)

const (
	EnvPrefix      = "SHIPCTL"
	ConfigFileName = ".shipctl"
)

// Keys shared with the CLI flag bindings.
const (
	KeyService        = "service"
	KeyNamespace      = "namespace"
	KeyDeployment     = "deployment"
	KeyProjectDir     = "project_dir"
	KeyManifests      = "manifests"
	KeyTemplates      = "templates"
	KeyEnvFile        = "env_file"
	KeyKubeconfig     = "kubeconfig"
	KeyKubeContext    = "kube_context"
	KeyTimeout        = "timeout"
	KeyPollInterval   = "poll_interval"
	KeySettleDelay    = "settle_delay"
	KeyMaxRecoveries  = "max_recoveries"
	KeyNonInteractive = "non_interactive"
	KeyAutoRecover    = "auto_recover"
	KeyImageTag       = "image_tag"
	KeyLogLevel       = "log_level"
)

var validate = validator.New()

func init() {
	validate.RegisterValidation("dns_label", func(fl validator.FieldLevel) bool {
		return len(k8svalidation.IsDNS1123Label(fl.Field().String())) == 0
	})
}

// Context is the resolved configuration of a run.
type Context struct {
	Service        string        `mapstructure:"service" validate:"required,dns_label"`
	Namespace      string        `mapstructure:"namespace" validate:"required,dns_label"`
	Deployment     string        `mapstructure:"deployment" validate:"omitempty,dns_label"`
	ProjectDir     string        `mapstructure:"project_dir" validate:"required"`
	Manifests      string        `mapstructure:"manifests" validate:"required"`
	Templates      string        `mapstructure:"templates"`
	EnvFile        string        `mapstructure:"env_file"`
	Kubeconfig     string        `mapstructure:"kubeconfig"`
	KubeContext    string        `mapstructure:"kube_context"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	SettleDelay    time.Duration `mapstructure:"settle_delay" validate:"gte=0"`
	MaxRecoveries  int           `mapstructure:"max_recoveries" validate:"gte=0"`
	NonInteractive bool          `mapstructure:"non_interactive"`
	AutoRecover    []string      `mapstructure:"auto_recover" validate:"dive,oneof=redeploy resync-secrets resync-config abort"`
	ImageTag       string        `mapstructure:"image_tag"`
	LogLevel       string        `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`

	Migration Migration `mapstructure:"migration"`
	Secrets   Secrets   `mapstructure:"secrets"`
	Advisor   Advisor   `mapstructure:"advisor"`
}

// Migration configures the optional migration job.
type Migration struct {
	JobManifest  string        `mapstructure:"job_manifest"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

// Secrets configures the Key Vault backed secret provider class.
type Secrets struct {
	KeyVaultName string   `mapstructure:"keyvault_name"`
	TenantID     string   `mapstructure:"tenant_id"`
	ClientID     string   `mapstructure:"client_id"`
	Keys         []string `mapstructure:"keys"`
}

// Advisor configures the optional diagnostic advisor.
type Advisor struct {
	Enabled bool          `mapstructure:"enabled"`
	Model   string        `mapstructure:"model"`
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// New returns a viper instance with defaults and environment bindings.
// Files are read through fs.
func New(fs afero.Fs) *viper.Viper {
	v := viper.New()
	v.SetFs(fs)

	v.SetDefault(KeyNamespace, "default")
	v.SetDefault(KeyProjectDir, ".")
	v.SetDefault(KeyManifests, "k8s/rendered")
	v.SetDefault(KeyEnvFile, ".env")
	v.SetDefault(KeyTimeout, 300*time.Second)
	v.SetDefault(KeyPollInterval, 5*time.Second)
	v.SetDefault(KeySettleDelay, 3*time.Second)
	v.SetDefault(KeyMaxRecoveries, 3)
	v.SetDefault(KeyNonInteractive, false)
	v.SetDefault(KeyAutoRecover, []string{})
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault("migration.timeout", 600*time.Second)
	v.SetDefault("migration.poll_interval", 2*time.Second)
	v.SetDefault("secrets.keys", []string{})
	v.SetDefault("advisor.enabled", false)
	v.SetDefault("advisor.timeout", 30*time.Second)

	// Keys without a default must still be known for env overrides to reach
	// Unmarshal.
	for _, k := range []string{
		KeyService, KeyDeployment, KeyTemplates, KeyKubeContext, KeyImageTag,
		"migration.job_manifest",
		"secrets.keyvault_name", "secrets.tenant_id", "secrets.client_id",
		"advisor.model", "advisor.base_url",
	} {
		v.SetDefault(k, "")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("advisor.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv(KeyKubeconfig, EnvPrefix+"_KUBECONFIG", "KUBECONFIG")
	return v
}

// ReadFile loads .shipctl.yaml from projectDir, then $HOME. A missing file
// is not an error.
func ReadFile(v *viper.Viper, projectDir string) error {
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(projectDir)
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// Load decodes and validates the run context.
func Load(v *viper.Viper) (*Context, error) {
	var c Context
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if c.Deployment == "" {
		c.Deployment = c.Service
	}
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &c, nil
}

// Target returns the deployment this run watches.
func (c *Context) Target() models.DeploymentTarget {
	return models.NewDeploymentTarget(c.Service, c.Namespace, c.Deployment)
}

// Path resolves p against the project directory. Absolute paths are kept.
func (c *Context) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

// MigrationEnabled reports whether a migration job is configured.
func (c *Context) MigrationEnabled() bool {
	return c.Migration.JobManifest != ""
}

// SecretsEnabled reports whether Key Vault sync is configured.
func (c *Context) SecretsEnabled() bool {
	return c.Secrets.KeyVaultName != "" && c.Secrets.TenantID != ""
}
