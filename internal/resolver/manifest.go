package resolver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// manifestFileName is the metadata file a package root carries alongside
// its root module, declaring the package's dependency specifiers.
// manifestFileNameYAML is tried when the JSON form is absent, for packages
// that prefer a hand-editable format.
const (
	manifestFileName     = "tangram.json"
	manifestFileNameYAML = "tangram.yaml"
)

// manifestDependency is the on-disk shape of one dependency entry, shared
// between the JSON and YAML manifest forms.
type manifestDependency struct {
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Registry string `json:"registry,omitempty" yaml:"registry,omitempty"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
}

// manifest is the on-disk shape of a package's metadata file.
type manifest struct {
	Dependencies []manifestDependency `json:"dependencies" yaml:"dependencies"`
}

// ManifestDependencySource reads a package's dependency specifiers from its
// tangram.json metadata file, falling back to tangram.yaml if the JSON form
// is absent. A missing manifest in both forms means zero dependencies, not
// an error — a leaf package need not declare the file at all.
type ManifestDependencySource struct{}

func (ManifestDependencySource) Dependencies(ctx context.Context, packagePath string) ([]Dependency, error) {
	m, err := readManifest(packagePath)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	out := make([]Dependency, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		switch {
		case d.Path != "":
			out = append(out, PathDependency(d.Path))
		case d.Registry != "":
			out = append(out, RegistryDependency(d.Registry, d.Version))
		default:
			return nil, tgerror.New(tgerror.KindInvalid, "resolver: manifest at %s: dependency entry has neither path nor registry", packagePath)
		}
	}
	return out, nil
}

// readManifest loads tangram.json if present, else tangram.yaml, else
// reports no manifest (nil, nil).
func readManifest(packagePath string) (*manifest, error) {
	raw, err := os.ReadFile(filepath.Join(packagePath, manifestFileName))
	if err == nil {
		var m manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, tgerror.WrapKind(tgerror.KindInvalid, err, "resolver: parse manifest at %s", packagePath)
		}
		return &m, nil
	}
	if !os.IsNotExist(err) {
		return nil, tgerror.WrapKind(tgerror.KindIO, err, "resolver: read manifest at %s", packagePath)
	}

	raw, err = os.ReadFile(filepath.Join(packagePath, manifestFileNameYAML))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, tgerror.WrapKind(tgerror.KindIO, err, "resolver: read yaml manifest at %s", packagePath)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, tgerror.WrapKind(tgerror.KindInvalid, err, "resolver: parse yaml manifest at %s", packagePath)
	}
	return &m, nil
}
