package kube

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/clock"
)

// DefaultFieldManager is recorded as the field manager on every write.
const DefaultFieldManager = "shipctl"

// Client wraps the Kubernetes APIs used by a deploy run.
type Client struct {
	clientset    kubernetes.Interface
	dynamic      dynamic.Interface
	mapper       meta.RESTMapper
	fs           afero.Fs
	clock        clock.PassiveClock
	fieldManager string
}

// Config holds Kubernetes client configuration.
type Config struct {
	Kubeconfig string // empty uses the default loading rules
	Context    string
	Timeout    time.Duration
}

// NewClient creates a client from kubeconfig, falling back to the
// in-cluster config when no kubeconfig can be loaded.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	restCfg, err := restConfig(cfg)
	if err != nil {
		return nil, err
	}
	restCfg.Timeout = cfg.Timeout

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating Kubernetes client: %w", err)
	}

	dyn, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating dynamic client: %w", err)
	}

	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(clientset.Discovery()))

	return NewClientFromInterfaces(clientset, dyn, mapper), nil
}

func restConfig(cfg Config) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if cfg.Kubeconfig != "" {
		rules.ExplicitPath = cfg.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}

	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err == nil {
		return restCfg, nil
	}

	inCluster, inErr := rest.InClusterConfig()
	if inErr != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	return inCluster, nil
}

// NewClientFromInterfaces assembles a client from existing API clients.
func NewClientFromInterfaces(clientset kubernetes.Interface, dyn dynamic.Interface, mapper meta.RESTMapper) *Client {
	return &Client{
		clientset:    clientset,
		dynamic:      dyn,
		mapper:       mapper,
		fs:           afero.NewOsFs(),
		clock:        clock.RealClock{},
		fieldManager: DefaultFieldManager,
	}
}

// WithFs sets the filesystem manifests are read from.
func (c *Client) WithFs(fs afero.Fs) *Client {
	c.fs = fs
	return c
}

// WithClock sets the clock used for pod and event ages.
func (c *Client) WithClock(clk clock.PassiveClock) *Client {
	c.clock = clk
	return c
}

// Ping checks that the API server answers before ctx is done.
func (c *Client) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := c.clientset.Discovery().ServerVersion()
		done <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("API server unreachable: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("API server unreachable: %w", err)
		}
		return nil
	}
}
