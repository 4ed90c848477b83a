package manifest

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render substitutes ${VAR} placeholders in every manifest of srcDir and
// writes the results to dstDir under the same names. An undefined variable
// fails the render rather than producing an empty value.
func Render(fs afero.Fs, srcDir, dstDir string, vars map[string]string) ([]string, error) {
	entries, err := afero.ReadDir(fs, srcDir)
	if err != nil {
		return nil, fmt.Errorf("reading templates: %w", err)
	}
	if err := fs.MkdirAll(dstDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dstDir, err)
	}

	var written []string
	for _, e := range entries {
		if e.IsDir() || !isManifest(e.Name()) {
			continue
		}
		src := filepath.Join(srcDir, e.Name())
		data, err := afero.ReadFile(fs, src)
		if err != nil {
			return written, err
		}

		out, missing := Substitute(string(data), vars)
		if len(missing) > 0 {
			return written, fmt.Errorf("%s: undefined variables %s", src, strings.Join(missing, ", "))
		}

		dst := filepath.Join(dstDir, e.Name())
		if err := afero.WriteFile(fs, dst, []byte(out), 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", dst, err)
		}
		written = append(written, dst)
	}
	return written, nil
}

// Substitute replaces ${VAR} placeholders and returns the names that had
// no value.
func Substitute(text string, vars map[string]string) (string, []string) {
	seen := map[string]bool{}
	out := placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			seen[name] = true
			return m
		}
		return v
	})

	missing := make([]string, 0, len(seen))
	for name := range seen {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return out, missing
}

func isManifest(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
