package kube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/dynamic"
)

var kustomizationFiles = []string{"kustomization.yaml", "kustomization.yml", "Kustomization"}

// kustomization is the subset of a kustomization file used for aggregation.
type kustomization struct {
	Resources []string `yaml:"resources"`
}

// ManifestFiles returns the files to apply from dir. A kustomization file
// decides the set and order; otherwise every YAML or JSON file is used in
// lexical order.
func (c *Client) ManifestFiles(dir string) ([]string, error) {
	for _, name := range kustomizationFiles {
		p := filepath.Join(dir, name)
		ok, err := afero.Exists(c.fs, p)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", p, err)
		}
		if !ok {
			continue
		}

		data, err := afero.ReadFile(c.fs, p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		var k kustomization
		if err := yaml.Unmarshal(data, &k); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", p, err)
		}
		if len(k.Resources) == 0 {
			return nil, fmt.Errorf("%s lists no resources", p)
		}
		files := make([]string, 0, len(k.Resources))
		for _, r := range k.Resources {
			files = append(files, filepath.Join(dir, r))
		}
		return files, nil
	}

	entries, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("reading manifest dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no manifests found in %s", dir)
	}
	return files, nil
}

// DecodeManifests splits a (possibly multi-document) manifest into objects.
// List kinds are flattened into their items.
func DecodeManifests(data []byte) ([]*unstructured.Unstructured, error) {
	dec := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)
	var objs []*unstructured.Unstructured
	for {
		obj := &unstructured.Unstructured{}
		if err := dec.Decode(&obj.Object); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decoding manifest: %w", err)
		}
		if len(obj.Object) == 0 {
			continue
		}
		if obj.IsList() {
			list, err := obj.ToList()
			if err != nil {
				return nil, fmt.Errorf("decoding list %s: %w", obj.GetKind(), err)
			}
			for i := range list.Items {
				objs = append(objs, &list.Items[i])
			}
			continue
		}
		if obj.GetKind() == "" || obj.GetName() == "" {
			return nil, fmt.Errorf("manifest object is missing kind or metadata.name")
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// ApplyDir applies every manifest of dir into namespace. Objects without a
// namespace land in the given one.
func (c *Client) ApplyDir(ctx context.Context, dir, namespace string) ([]string, error) {
	files, err := c.ManifestFiles(dir)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, f := range files {
		data, err := afero.ReadFile(c.fs, f)
		if err != nil {
			return applied, fmt.Errorf("reading %s: %w", f, err)
		}
		objs, err := DecodeManifests(data)
		if err != nil {
			return applied, fmt.Errorf("%s: %w", f, err)
		}
		refs, err := c.ApplyObjects(ctx, namespace, objs)
		applied = append(applied, refs...)
		if err != nil {
			return applied, fmt.Errorf("%s: %w", f, err)
		}
	}
	return applied, nil
}

// ApplyObjects creates or updates each object in order and returns
// kind/name references of what was applied.
func (c *Client) ApplyObjects(ctx context.Context, namespace string, objs []*unstructured.Unstructured) ([]string, error) {
	refs := make([]string, 0, len(objs))
	for _, obj := range objs {
		if err := c.applyObject(ctx, namespace, obj); err != nil {
			return refs, err
		}
		refs = append(refs, fmt.Sprintf("%s/%s", strings.ToLower(obj.GetKind()), obj.GetName()))
	}
	return refs, nil
}

func (c *Client) applyObject(ctx context.Context, namespace string, obj *unstructured.Unstructured) error {
	gvk := obj.GroupVersionKind()
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return fmt.Errorf("resolving resource for %s: %w", gvk, err)
	}

	var ri dynamic.ResourceInterface
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		if obj.GetNamespace() == "" {
			obj.SetNamespace(namespace)
		}
		ri = c.dynamic.Resource(mapping.Resource).Namespace(obj.GetNamespace())
	} else {
		ri = c.dynamic.Resource(mapping.Resource)
	}

	existing, err := ri.Get(ctx, obj.GetName(), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := ri.Create(ctx, obj, metav1.CreateOptions{FieldManager: c.fieldManager}); err != nil {
			return fmt.Errorf("creating %s %s: %w", gvk.Kind, obj.GetName(), err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting %s %s: %w", gvk.Kind, obj.GetName(), err)
	}

	obj.SetResourceVersion(existing.GetResourceVersion())
	if _, err := ri.Update(ctx, obj, metav1.UpdateOptions{FieldManager: c.fieldManager}); err != nil {
		return fmt.Errorf("updating %s %s: %w", gvk.Kind, obj.GetName(), err)
	}
	return nil
}
