package module

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifestResolvesSourcePathsRelativeToManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.js", "export function run() {}")
	manifestPath := writeFile(t, dir, "module.yaml", `
target: function
affinity: local_only
input_shape:
  name: string
output_shape:
  greeting: string
source:
  - name: main
    content_type: text/javascript
    path: main.js
`)

	m, err := LoadManifest(manifestPath)
	require.NoError(t, err)
	require.Len(t, m.Source, 1)
	assert.Equal(t, filepath.Join(dir, "main.js"), m.Source[0].Path)
}

func TestManifestDefinitionBuildsSourceBody(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.js", "export function run() {}")
	manifestPath := writeFile(t, dir, "module.yaml", `
target: function
affinity: local_only
input_shape:
  name: string
output_shape:
  greeting: string
source:
  - name: main
    content_type: text/javascript
    path: main.js
`)

	m, err := LoadManifest(manifestPath)
	require.NoError(t, err)

	def, err := m.Definition()
	require.NoError(t, err)
	assert.Equal(t, TargetFunction, def.Target)
	assert.Equal(t, AffinityLocalOnly, def.Affinity)
	assert.True(t, def.Body.IsSourceCode())
	require.Len(t, def.Body.SourceCode, 1)
	assert.Equal(t, "export function run() {}", string(def.Body.SourceCode[0].Bytes))
}

func TestManifestDefinitionBuildsSignatureBody(t *testing.T) {
	hash := "a3f1b2c4d5e6f708192a3b4c5d6e7f80a3f1b2c4d5e6f708192a3b4c5d6e7f80"
	m := Manifest{
		Target:      string(TargetFunction),
		Affinity:    string(AffinityLocalOnly),
		InputShape:  map[string]string{"name": "string"},
		OutputShape: map[string]string{"greeting": "string"},
		ModuleID:    hash,
	}

	def, err := m.Definition()
	require.NoError(t, err)
	assert.True(t, def.Body.IsSignature())
	assert.Equal(t, hash, def.Body.Signature.String())
}

func TestManifestDefinitionModuleIDTakesPrecedenceOverSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.js", "x")
	hash := "a3f1b2c4d5e6f708192a3b4c5d6e7f80a3f1b2c4d5e6f708192a3b4c5d6e7f80"
	m := Manifest{
		Target:      string(TargetFunction),
		Affinity:    string(AffinityLocalOnly),
		InputShape:  map[string]string{"name": "string"},
		OutputShape: map[string]string{"greeting": "string"},
		ModuleID:    hash,
		Source:      []ManifestSource{{Name: "main", ContentType: "text/javascript", Path: filepath.Join(dir, "main.js")}},
	}

	def, err := m.Definition()
	require.NoError(t, err)
	assert.True(t, def.Body.IsSignature())
	assert.Nil(t, def.Body.SourceCode)
}

func TestManifestDefinitionRejectsInvalidModuleIDHex(t *testing.T) {
	m := Manifest{
		Target:      string(TargetFunction),
		Affinity:    string(AffinityLocalOnly),
		InputShape:  map[string]string{"name": "string"},
		OutputShape: map[string]string{"greeting": "string"},
		ModuleID:    "not-a-valid-hash",
	}

	_, err := m.Definition()
	assert.Error(t, err)
}

func TestLoadManifestMissingFileFails(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
