package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "table", cfg.Output)
	require.False(t, cfg.Verbose)
	require.Equal(t, 7, cfg.GCRetentionDays)
	require.Equal(t, 5*time.Second, cfg.TickPollInterval)
	require.False(t, cfg.ApprovalRequiredByDefault)
}

func TestLoadWithNoConfigFileUsesDefaults(t *testing.T) {
	repo := t.TempDir()
	snap, err := Load(repo, "", false, false)
	require.NoError(t, err)
	require.Equal(t, "table", snap.Output)
	require.Equal(t, repo, snap.RepoRoot)
}

func TestLoadReadsProjectConfigFile(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".vizier"), 0700))
	contents := "output = \"json\"\ngc_retention_days = 30\n"
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".vizier", "config.toml"), []byte(contents), 0600))

	snap, err := Load(repo, "", false, false)
	require.NoError(t, err)
	require.Equal(t, "json", snap.Output)
	require.Equal(t, 30, snap.GCRetentionDays)
}

func TestLoadFlagOverridesFile(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".vizier"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".vizier", "config.toml"), []byte("output = \"json\"\n"), 0600))

	snap, err := Load(repo, "yaml", true, true)
	require.NoError(t, err)
	require.Equal(t, "yaml", snap.Output)
	require.True(t, snap.Verbose)
}
