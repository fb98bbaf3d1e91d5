// Package witprovider resolves the fixed target-to-WIT-file-set mapping
// the componentizer toolchain needs, checked out from a deployment-
// configured Git ref so WIT definitions can be updated without a redeploy.
package witprovider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/module"
)

// targetWITPaths is the fixed target -> WIT-file-set mapping, relative to
// the checked-out repository root.
var targetWITPaths = map[module.Target]string{
	module.TargetFunction:   "wit/function",
	module.TargetFunctionVM: "wit/function-vm",
}

// Provider checks out repoURL at ref into cacheDir once, and serves
// per-target WIT directories out of that checkout on every subsequent
// call.
type Provider struct {
	repoURL  string
	ref      string
	cacheDir string

	mu         sync.Mutex
	checkedOut bool
}

// NewProvider constructs a Provider. cacheDir is reused across builds: a
// second build for the same target skips the checkout entirely once
// EnsureCheckedOut has run once.
func NewProvider(repoURL, ref, cacheDir string) *Provider {
	return &Provider{repoURL: repoURL, ref: ref, cacheDir: cacheDir}
}

// EnsureCheckedOut clones repoURL into cacheDir if it is not already
// present, or fetches and checks out ref if it is. Safe to call before
// every build; a Provider checks out at most once, though a new Provider
// over an existing cache directory fetches and checks out ref again.
func (p *Provider) EnsureCheckedOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.checkedOut {
		return nil
	}

	if _, err := os.Stat(filepath.Join(p.cacheDir, ".git")); err == nil {
		repo, err := git.PlainOpen(p.cacheDir)
		if err != nil {
			return modrunerrors.Internal("failed to open wit cache repository", err)
		}
		remote, err := repo.Remote("origin")
		if err != nil {
			return modrunerrors.Internal("failed to resolve wit cache remote", err)
		}
		if err := remote.FetchContext(ctx, &git.FetchOptions{Force: true}); err != nil && err != git.NoErrAlreadyUpToDate {
			return modrunerrors.Internal("failed to fetch wit definitions", err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			return modrunerrors.Internal("failed to open wit cache worktree", err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.ReferenceName(p.ref), Force: true}); err != nil {
			if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(p.ref), Force: true}); err != nil {
				return modrunerrors.Internal(fmt.Sprintf("failed to checkout wit ref %q", p.ref), err)
			}
		}
	} else {
		if _, err := git.PlainCloneContext(ctx, p.cacheDir, false, &git.CloneOptions{
			URL:           p.repoURL,
			ReferenceName: plumbing.ReferenceName(p.ref),
		}); err != nil {
			return modrunerrors.Internal("failed to clone wit definitions", err)
		}
	}

	p.checkedOut = true
	return nil
}

// DirFor returns the checked-out directory containing target's WIT files.
// EnsureCheckedOut must have succeeded first.
func (p *Provider) DirFor(target module.Target) (string, error) {
	rel, ok := targetWITPaths[target]
	if !ok {
		return "", modrunerrors.InvalidModule(fmt.Sprintf("no wit definitions registered for target %q", target), nil)
	}
	return filepath.Join(p.cacheDir, rel), nil
}
