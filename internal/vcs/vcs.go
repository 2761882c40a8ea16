package vcs

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/JTan2231/vizier/internal/artifact"
	"github.com/JTan2231/vizier/internal/layout"
)

const gitTimeout = 10 * time.Second

// Collaborator is the scheduler's narrow view of git: the three calls the
// readiness oracle and tick driver are allowed to make. RepoRoot is the
// working tree the scheduler itself lives in, not any job's worktree.
type Collaborator struct {
	RepoRoot string
}

// New returns a Collaborator rooted at repoRoot.
func New(repoRoot string) *Collaborator {
	return &Collaborator{RepoRoot: repoRoot}
}

// BranchOID resolves the commit oid a branch currently points at. Returns
// ErrResolveHEAD wrapped with context when the branch does not exist.
func (c *Collaborator) BranchOID(ctx context.Context, branch string) (string, error) {
	out, err := c.git(ctx, "rev-parse", "--verify", branch)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrResolveHEAD, branch, err)
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch resolves the name of the branch HEAD currently points at,
// for commands (save) that pin against "whatever the operator is on" rather
// than a named target.
func (c *Collaborator) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.git(ctx, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolveHEAD, err)
	}
	return strings.TrimSpace(out), nil
}

// Exists reports whether the artifact an artifact.Handle names is present
// in the repository: a branch ref, a plan document blob on that branch, or
// a branch having advanced past its base with at least one commit.
func (c *Collaborator) Exists(ctx context.Context, h artifact.Handle) (bool, error) {
	switch h.Kind {
	case artifact.KindPlanBranch, artifact.KindTargetBranch:
		name := h.Branch
		if name == "" {
			name = h.Name
		}
		_, err := c.git(ctx, "rev-parse", "--verify", "refs/heads/"+name)
		return err == nil, nil
	case artifact.KindPlanDoc:
		path := filepath.Join(layout.RootDir, layout.PlansDir, h.Slug+".md")
		_, err := c.git(ctx, "cat-file", "-e", h.Branch+":"+path)
		return err == nil, nil
	case artifact.KindPlanCommits:
		out, err := c.git(ctx, "rev-list", "--count", "main.."+h.Branch)
		if err != nil {
			return false, nil
		}
		return strings.TrimSpace(out) != "0", nil
	case artifact.KindMergeSentinel, artifact.KindCommandPatch:
		return false, fmt.Errorf("vcs: %s is not a git-backed artifact", h.Kind)
	default:
		return false, fmt.Errorf("vcs: unknown artifact kind %q", h.Kind)
	}
}

// ExistsAll fans Exists out over a deduplicated set of handles concurrently,
// memoizing so a handle referenced by many jobs in the same tick is checked
// once. This is the one place in the scheduler where third-party
// concurrency primitives, rather than the oracle's own in-memory Facts, do
// the work of keeping a tick's wall-clock cost from scaling with queue
// depth.
func (c *Collaborator) ExistsAll(ctx context.Context, handles []artifact.Handle) (map[artifact.Handle]bool, error) {
	unique := make(map[artifact.Handle]struct{}, len(handles))
	for _, h := range handles {
		unique[h] = struct{}{}
	}

	results := make(map[artifact.Handle]bool, len(unique))

	p := pool.NewWithResults[handleResult]().WithContext(ctx).WithMaxGoroutines(8)
	for h := range unique {
		h := h
		p.Go(func(ctx context.Context) (handleResult, error) {
			exists, err := c.Exists(ctx, h)
			if err != nil {
				return handleResult{}, err
			}
			return handleResult{handle: h, exists: exists}, nil
		})
	}
	out, err := p.Wait()
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		results[r.handle] = r.exists
	}
	return results, nil
}

type handleResult struct {
	handle artifact.Handle
	exists bool
}

// CreateWorktree adds a disposable worktree under
// ".vizier/tmp-worktrees/<slug>-<rand>" for a job's command body to run in,
// retrying on path collision the way the teacher's CreateWorktree does.
func (c *Collaborator) CreateWorktree(ctx context.Context, slug, branch string) (path string, err error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		suffix, randErr := randomSuffix()
		if randErr != nil {
			return "", randErr
		}
		candidate := layout.TmpWorktreeDir(c.RepoRoot, slug, suffix)
		if _, statErr := os.Stat(candidate); statErr == nil {
			lastErr = fmt.Errorf("path exists: %s", candidate)
			continue
		}
		if _, err := c.git(ctx, "worktree", "add", candidate, branch); err != nil {
			lastErr = err
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %v", ErrWorktreeCollision, lastErr)
}

// RemoveWorktree removes a job's disposable worktree, refusing to touch
// anything outside ".vizier/tmp-worktrees" as a safety check against a
// caller passing the wrong path.
func (c *Collaborator) RemoveWorktree(ctx context.Context, path string) error {
	root := filepath.Join(c.RepoRoot, layout.RootDir, layout.TmpWorktreesDir)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return fmt.Errorf("vcs: refusing to remove worktree outside %s: %s", absRoot, absPath)
	}
	_, err = c.git(ctx, "worktree", "remove", "--force", path)
	return err
}

func (c *Collaborator) git(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.RepoRoot
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git %s: timed out: %w", strings.Join(args, " "), ctx.Err())
		}
		return "", fmt.Errorf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func randomSuffix() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
