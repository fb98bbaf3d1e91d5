package module

import (
	"fmt"
	"os"
	"path/filepath"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/value"
	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk YAML description of a module the `run` CLI
// surface loads, one file per module: parse, validate, transform into the
// runtime's own Definition type.
type Manifest struct {
	Target      string            `yaml:"target"`
	Affinity    string            `yaml:"affinity"`
	InputShape  map[string]string `yaml:"input_shape"`
	OutputShape map[string]string `yaml:"output_shape"`
	ModuleID    string            `yaml:"module_id,omitempty"`
	Source      []ManifestSource  `yaml:"source,omitempty"`
}

// ManifestSource is one inline source-code entry, with its file content
// loaded from a path relative to the manifest.
type ManifestSource struct {
	Name        string `yaml:"name"`
	ContentType string `yaml:"content_type"`
	Path        string `yaml:"path"`
}

// LoadManifest reads and parses the manifest at path, resolving every
// Source entry's file relative to path's directory.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, modrunerrors.Internal(fmt.Sprintf("failed to read manifest %q", path), err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, modrunerrors.BadRequest(fmt.Sprintf("failed to parse manifest %q", path), nil)
	}

	dir := filepath.Dir(path)
	for i, src := range m.Source {
		if filepath.IsAbs(src.Path) {
			continue
		}
		m.Source[i].Path = filepath.Join(dir, src.Path)
	}
	return m, nil
}

// Definition transforms a parsed Manifest into a Definition, reading each
// inline source entry's bytes from disk. A manifest naming ModuleID instead
// of Source produces a signature-backed Definition with no file reads.
func (m Manifest) Definition() (Definition, error) {
	inputShape := make(ioshape.Shape, len(m.InputShape))
	for k, kindStr := range m.InputShape {
		inputShape[k] = parseKind(kindStr)
	}
	outputShape := make(ioshape.Shape, len(m.OutputShape))
	for k, kindStr := range m.OutputShape {
		outputShape[k] = parseKind(kindStr)
	}

	body, err := m.body()
	if err != nil {
		return Definition{}, err
	}

	def := Definition{
		Target:      Target(m.Target),
		Affinity:    Affinity(m.Affinity),
		InputShape:  inputShape,
		OutputShape: outputShape,
		Body:        body,
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func (m Manifest) body() (Body, error) {
	if m.ModuleID != "" {
		if err := ValidateHex(m.ModuleID); err != nil {
			return Body{}, err
		}
		id := ID(m.ModuleID)
		return Body{Signature: &id}, nil
	}

	entries := make([]SourceEntry, len(m.Source))
	for i, src := range m.Source {
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return Body{}, modrunerrors.Internal(fmt.Sprintf("failed to read source entry %q", src.Path), err)
		}
		entries[i] = SourceEntry{Name: src.Name, ContentType: src.ContentType, Bytes: data}
	}
	return Body{SourceCode: entries}, nil
}

func parseKind(s string) value.Kind {
	return value.Kind(s)
}
