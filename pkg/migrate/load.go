package migrate

import (
	"fmt"

	"github.com/spf13/afero"
	batchv1 "k8s.io/api/batch/v1"
	"sigs.k8s.io/yaml"
)

// LoadJob reads a Job manifest. An empty namespace in the manifest is set
// to namespace.
func LoadJob(fs afero.Fs, path, namespace string) (*batchv1.Job, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading migration job %s: %w", path, err)
	}

	var job batchv1.Job
	if err := yaml.UnmarshalStrict(data, &job); err != nil {
		return nil, fmt.Errorf("decoding migration job %s: %w", path, err)
	}
	if job.Kind != "" && job.Kind != "Job" {
		return nil, fmt.Errorf("%s: expected kind Job, got %s", path, job.Kind)
	}
	if job.Name == "" {
		return nil, fmt.Errorf("%s: job has no metadata.name", path)
	}
	if job.Namespace == "" {
		job.Namespace = namespace
	}
	return &job, nil
}
