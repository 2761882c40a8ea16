// Package vcs is the scheduler's opaque collaborator for the three git
// facts it is allowed to ask about: the oid a branch currently points at,
// whether a named artifact (branch, plan doc, commit range) exists, and
// removal of a job's disposable worktree. Everything else about git —
// cherry-pick, diff, push, the plan-document lifecycle — belongs to the
// command bodies that live outside the scheduler.
package vcs

import "errors"

var (
	// ErrNotGitRepo is returned when a command is run outside a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrResolveHEAD is returned when HEAD commit cannot be resolved.
	ErrResolveHEAD = errors.New("unable to resolve HEAD commit")

	// ErrWorktreeCollision is returned after repeated failed attempts to
	// create a unique worktree path.
	ErrWorktreeCollision = errors.New("failed to create unique worktree path after 3 attempts")
)
