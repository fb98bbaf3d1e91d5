package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/module"
)

// Store is the content-addressed artifact store: hash in, hash out. It
// wraps a Backend with the hashing and error-taxonomy logic common to every
// backend, so individual backends only implement raw byte storage.
type Store struct {
	backend Backend
}

// NewStore wraps backend in a Store.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Write stores data, returning its content hash. Calling Write twice with
// the same bytes returns the same hash and is safe to race.
func (s *Store) Write(ctx context.Context, data []byte) (string, error) {
	hash := module.ComputeArtifactHash(data)

	exists, err := s.backend.Exists(ctx, hash)
	if err != nil {
		return "", modrunerrors.Internal("failed to check artifact existence", err)
	}
	if exists {
		return hash, nil
	}

	if err := s.backend.Write(ctx, hash, bytes.NewReader(data)); err != nil {
		return "", modrunerrors.Internal("failed to write artifact", err)
	}
	return hash, nil
}

// Read retrieves the bytes stored under hash. Returns a ModuleNotFound
// error if no artifact with that hash has been written.
func (s *Store) Read(ctx context.Context, hash string) ([]byte, error) {
	if err := module.ValidateHex(hash); err != nil {
		return nil, err
	}

	rc, err := s.backend.Read(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, modrunerrors.ModuleNotFound(hash)
		}
		return nil, modrunerrors.Internal("failed to read artifact", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, modrunerrors.Internal("failed to read artifact body", err)
	}
	return data, nil
}

// Exists reports whether hash has a corresponding stored artifact.
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	exists, err := s.backend.Exists(ctx, hash)
	if err != nil {
		return false, modrunerrors.Internal("failed to check artifact existence", err)
	}
	return exists, nil
}
