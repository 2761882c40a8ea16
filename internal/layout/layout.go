// Package layout centralizes the repo-relative, bit-exact on-disk paths the
// scheduler reads and writes, so no other package hardcodes a path string.
package layout

import "path/filepath"

const (
	// RootDir is the scheduler's data directory, relative to the repo root.
	RootDir = ".vizier"

	// JobsDir holds one directory per job.
	JobsDir = "jobs"

	// TickLockFile is the advisory tick lock.
	TickLockFile = ".lock"

	// JobRecordFile is the atomic-write job record.
	JobRecordFile = "job.json"

	// StdoutLogFile is the append-only stdout capture.
	StdoutLogFile = "stdout.log"

	// StderrLogFile is the append-only stderr capture.
	StderrLogFile = "stderr.log"

	// InputPatchFile holds the save command's captured input patch.
	InputPatchFile = "input.patch"

	// PlansDir holds rendered implementation-plan documents.
	PlansDir = "implementation-plans"

	// TmpWorktreesDir holds VCS-collaborator-managed disposable worktrees.
	TmpWorktreesDir = "tmp-worktrees"

	// SessionsDir holds command-body session logs, referenced from records.
	SessionsDir = "sessions"

	// ConfigFileTOML is the default config snapshot input.
	ConfigFileTOML = "config.toml"

	// ConfigFileJSON is the alternate config snapshot input.
	ConfigFileJSON = "config.json"
)

// JobsRoot returns "<repoRoot>/.vizier/jobs".
func JobsRoot(repoRoot string) string {
	return filepath.Join(repoRoot, RootDir, JobsDir)
}

// JobDir returns "<repoRoot>/.vizier/jobs/<id>".
func JobDir(repoRoot, id string) string {
	return filepath.Join(JobsRoot(repoRoot), id)
}

// TickLockPath returns "<repoRoot>/.vizier/jobs/.lock".
func TickLockPath(repoRoot string) string {
	return filepath.Join(JobsRoot(repoRoot), TickLockFile)
}

// RecordPath returns "<repoRoot>/.vizier/jobs/<id>/job.json".
func RecordPath(repoRoot, id string) string {
	return filepath.Join(JobDir(repoRoot, id), JobRecordFile)
}

// StdoutPath returns "<repoRoot>/.vizier/jobs/<id>/stdout.log".
func StdoutPath(repoRoot, id string) string {
	return filepath.Join(JobDir(repoRoot, id), StdoutLogFile)
}

// StderrPath returns "<repoRoot>/.vizier/jobs/<id>/stderr.log".
func StderrPath(repoRoot, id string) string {
	return filepath.Join(JobDir(repoRoot, id), StderrLogFile)
}

// InputPatchPath returns "<repoRoot>/.vizier/jobs/<id>/input.patch".
func InputPatchPath(repoRoot, id string) string {
	return filepath.Join(JobDir(repoRoot, id), InputPatchFile)
}

// PlanDocPath returns "<repoRoot>/.vizier/implementation-plans/<slug>.md".
func PlanDocPath(repoRoot, slug string) string {
	return filepath.Join(repoRoot, RootDir, PlansDir, slug+".md")
}

// TmpWorktreeDir returns a worktree directory name rooted under
// ".vizier/tmp-worktrees/<slug>-<rand>".
func TmpWorktreeDir(repoRoot, slug, rand string) string {
	return filepath.Join(repoRoot, RootDir, TmpWorktreesDir, slug+"-"+rand)
}

// SessionDir returns "<repoRoot>/.vizier/sessions/<sessionID>".
func SessionDir(repoRoot, sessionID string) string {
	return filepath.Join(repoRoot, RootDir, SessionsDir, sessionID)
}
