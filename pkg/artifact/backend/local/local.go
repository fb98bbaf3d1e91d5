// Package local implements a local-filesystem artifact backend.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/architect-io/modrun/pkg/artifact"
)

func init() {
	artifact.Register("local", NewBackend)
}

// Backend stores artifacts as flat files under basePath, named by hash.
type Backend struct {
	basePath string
}

// NewBackend creates a local backend rooted at config["path"], defaulting
// to ~/.modrun/artifacts.
func NewBackend(config map[string]string) (artifact.Backend, error) {
	path := config["path"]
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".modrun", "artifacts")
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	return &Backend{basePath: path}, nil
}

func (b *Backend) Type() string { return "local" }

func (b *Backend) fullPath(key string) string {
	return filepath.Join(b.basePath, key)
}

func (b *Backend) Write(ctx context.Context, key string, data io.Reader) error {
	fullPath := b.fullPath(key)

	tempFile, err := os.CreateTemp(b.basePath, ".modrun-artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	_, err = io.Copy(tempFile, data)
	if closeErr := tempFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write artifact: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

func (b *Backend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, artifact.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return file, nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.fullPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
